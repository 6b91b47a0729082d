// ABOUTME: Gateway orchestrator that assembles the HTTP server and core services
// ABOUTME: Manages store, bot pool, ledger, router, and setup sweeper lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Jiouk/alfred-ai-agent/internal/botpool"
	"github.com/Jiouk/alfred-ai-agent/internal/config"
	"github.com/Jiouk/alfred-ai-agent/internal/conversation"
	"github.com/Jiouk/alfred-ai-agent/internal/dedupe"
	"github.com/Jiouk/alfred-ai-agent/internal/ledger"
	"github.com/Jiouk/alfred-ai-agent/internal/router"
	"github.com/Jiouk/alfred-ai-agent/internal/runtime"
	"github.com/Jiouk/alfred-ai-agent/internal/setup"
	"github.com/Jiouk/alfred-ai-agent/internal/store"
)

// Default operational limits applied when the config leaves them zero.
const (
	defaultDedupeTTL     = time.Hour
	defaultDedupeEntries = 100_000
	defaultSweepInterval = 10 * time.Minute
)

// Gateway assembles the orchestration core behind one HTTP server.
type Gateway struct {
	config     *config.Config
	store      store.Store
	pool       *botpool.Manager
	ledger     *ledger.Ledger
	router     *router.Router
	orch       *setup.Orchestrator
	window     *dedupe.Window
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates a store based on config.
func initStore(cfg *config.Config) (store.Store, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway with the given configuration and model runtime.
// The runtime is injected so tests can run against a scripted backend.
func New(cfg *config.Config, rt runtime.Runtime, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	cipher, err := botpool.NewCipher(cfg.Crypto.CredentialKey)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("initializing credential cipher: %w", err)
	}

	pool := botpool.NewManagerWithPolicy(s, cipher, logger, botpool.RegisterPolicy(cfg.Bots.RegisterPolicy))
	if err := pool.WarmStart(context.Background()); err != nil {
		s.Close()
		return nil, fmt.Errorf("warming bot pool: %w", err)
	}

	led := ledger.NewWithThreshold(s, logger, cfg.Credits.LowBalanceThreshold)
	registry := conversation.NewRegistry(s, logger)

	ttl := cfg.Dedupe.TTL
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	maxEntries := cfg.Dedupe.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultDedupeEntries
	}
	window := dedupe.NewWindow(ttl, maxEntries)

	orch := setup.New(s, pool, logger, setup.Options{
		MaxRetries:   cfg.Setup.MaxRetries,
		AbandonAfter: cfg.Setup.AbandonAfter,
	})

	rtr := router.New(pool, led, registry, window, orch, rt, s, logger, router.Options{
		TurnCost:        cfg.Credits.TurnCosts(),
		RuntimeAttempts: cfg.Runtime.Attempts,
	})

	gw := &Gateway{
		config: cfg,
		store:  s,
		pool:   pool,
		ledger: led,
		router: rtr,
		orch:   orch,
		window: window,
		logger: logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)
	gw.registerAPIRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler exposes the HTTP handler for in-process testing.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the HTTP server and the setup sweeper, blocking until the
// context is canceled. Returns nil on graceful shutdown or the first
// server error.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	go g.runSweeper(ctx)

	serverErr := g.waitForShutdownSignal(ctx, errCh)
	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// runSweeper periodically abandons setup sessions with no recent activity.
func (g *Gateway) runSweeper(ctx context.Context) {
	interval := g.config.Setup.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := g.orch.SweepStale(ctx)
			if err != nil {
				g.logger.Error("setup sweep failed", "error", err)
				continue
			}
			if swept > 0 {
				g.logger.Info("abandoned stale setup sessions", "count", swept)
			}
		}
	}
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.window.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.ListTenants(r.Context(), 1); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d bots)", g.pool.ActiveCount())
}
