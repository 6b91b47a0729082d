// ABOUTME: Top-level message router: inbound delivery in, outbound reply out
// ABOUTME: Resolves the bot, dedupes, serializes per conversation, bills, and invokes the runtime

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Jiouk/alfred-ai-agent/internal/botpool"
	"github.com/Jiouk/alfred-ai-agent/internal/conversation"
	"github.com/Jiouk/alfred-ai-agent/internal/dedupe"
	"github.com/Jiouk/alfred-ai-agent/internal/intent"
	"github.com/Jiouk/alfred-ai-agent/internal/ledger"
	"github.com/Jiouk/alfred-ai-agent/internal/runtime"
	"github.com/Jiouk/alfred-ai-agent/internal/setup"
	"github.com/Jiouk/alfred-ai-agent/internal/store"
)

// Fixed user-facing replies for billing and backend failures.
const (
	ReplyOutOfCredits       = "You're out of credits. Top up your account to keep chatting."
	ReplyRuntimeUnavailable = "I'm having trouble thinking right now. Please try again in a moment."
	ReplyRuntimeRejected    = "I can't help with that one. Is there something else I can do for you?"
)

// DefaultRuntimeAttempts is how many times a transient runtime failure is
// tried before the turn is given up and the debit compensated.
const DefaultRuntimeAttempts = 3

// Inbound is a normalized message delivery from a channel adapter.
type Inbound struct {
	Channel           store.Channel
	BotIdentity       string // external identity the provider delivered to
	ParticipantID     string // external sender identity
	Text              string
	ProviderMessageID string
	ReceivedAt        time.Time
}

// Outbound is the router's decision for one delivery. Dropped deliveries
// (unknown bot, duplicates) carry no reply and must be acknowledged
// silently by the adapter. Metadata carries advisory hints, such as a
// low-balance warning, for adapters that can surface them.
type Outbound struct {
	Reply    string
	Dropped  bool
	Metadata map[string]string
}

// Options tune router behavior. Zero values pick defaults.
type Options struct {
	// TurnCost maps a channel to its per-turn debit. Channels absent from
	// the map cost one unit.
	TurnCost map[store.Channel]int64
	// RuntimeAttempts bounds retries on transient runtime failures.
	RuntimeAttempts int
	// RetryInitialInterval seeds the exponential backoff between attempts.
	RetryInitialInterval time.Duration
}

// Router wires the pool, ledger, dedupe window, setup orchestrator, and
// runtime into the per-message pipeline.
type Router struct {
	pool     *botpool.Manager
	ledger   *ledger.Ledger
	registry *conversation.Registry
	window   *dedupe.Window
	orch     *setup.Orchestrator
	rt       runtime.Runtime
	store    store.Store
	locks    *conversation.KeyedLock
	logger   *slog.Logger
	costs    map[store.Channel]int64
	attempts int
	interval time.Duration
}

// New assembles a Router from its collaborators.
func New(
	pool *botpool.Manager,
	led *ledger.Ledger,
	registry *conversation.Registry,
	window *dedupe.Window,
	orch *setup.Orchestrator,
	rt runtime.Runtime,
	st store.Store,
	logger *slog.Logger,
	opts Options,
) *Router {
	if opts.RuntimeAttempts <= 0 {
		opts.RuntimeAttempts = DefaultRuntimeAttempts
	}
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = 500 * time.Millisecond
	}
	return &Router{
		pool:     pool,
		ledger:   led,
		registry: registry,
		window:   window,
		orch:     orch,
		rt:       rt,
		store:    st,
		locks:    conversation.NewKeyedLock(),
		logger:   logger.With("component", "router"),
		costs:    opts.TurnCost,
		attempts: opts.RuntimeAttempts,
		interval: opts.RetryInitialInterval,
	}
}

// Handle processes one inbound delivery end to end and returns the reply.
// Unknown bots and duplicate deliveries are dropped silently.
func (r *Router) Handle(ctx context.Context, in Inbound) (Outbound, error) {
	binding, err := r.pool.Resolve(in.Channel, in.BotIdentity)
	if err != nil {
		if errors.Is(err, botpool.ErrUnknownBot) {
			r.logger.Debug("dropping delivery for unknown bot",
				"channel", in.Channel,
				"identity", in.BotIdentity,
			)
			return Outbound{Dropped: true}, nil
		}
		return Outbound{}, fmt.Errorf("resolving bot: %w", err)
	}

	key := dedupe.DeliveryKey(binding.TenantID, in.Channel, in.ProviderMessageID)
	if r.window.Observe(key) {
		r.logger.Debug("dropping duplicate delivery",
			"tenant_id", binding.TenantID,
			"provider_message_id", in.ProviderMessageID,
		)
		return Outbound{Dropped: true}, nil
	}

	out, err := r.process(ctx, binding, in)
	if err != nil {
		// The turn failed, so the provider's redelivery must not be
		// swallowed as a duplicate.
		r.window.Forget(key)
		return Outbound{}, err
	}
	return out, nil
}

// process runs the deduplicated delivery through setup or agent handling.
func (r *Router) process(ctx context.Context, binding *botpool.Binding, in Inbound) (Outbound, error) {
	unlock := r.locks.Acquire(conversation.Key(binding.TenantID, in.Channel, in.ParticipantID))

	conv, err := r.registry.LoadOrCreate(ctx, binding.TenantID, in.Channel, in.ParticipantID)
	if err != nil {
		unlock()
		return Outbound{}, err
	}
	if err := r.registry.AppendUser(ctx, conv.ID, in.Text, in.ProviderMessageID, in.ReceivedAt); err != nil {
		unlock()
		return Outbound{}, err
	}

	// Setup traffic stays entirely inside the exclusive region: its state
	// transitions are the thing being serialized, and it never suspends
	// on the model backend.
	if conv.SetupSessionID != nil {
		defer unlock()
		return r.handleSetupTurn(ctx, conv, in.Text)
	}

	result := intent.Classify(in.Text, intent.Context{})
	if result.Intent == intent.IntentStartSetup && result.Confidence >= intent.StartSetupThreshold {
		defer unlock()
		reply, _, err := r.orch.Start(ctx, conv, in.Text)
		if err != nil {
			return Outbound{}, err
		}
		if err := r.registry.AppendAssistant(ctx, conv.ID, reply); err != nil {
			return Outbound{}, err
		}
		return Outbound{Reply: reply}, nil
	}

	// Normal traffic: snapshot what the runtime needs, then leave the
	// region before the (possibly slow) backend call.
	history, err := r.registry.History(ctx, conv.ID)
	if err != nil {
		unlock()
		return Outbound{}, err
	}
	bot, err := r.store.GetBot(ctx, binding.BotID)
	if err != nil {
		unlock()
		return Outbound{}, fmt.Errorf("loading bot: %w", err)
	}
	unlock()

	return r.agentTurn(ctx, binding.TenantID, conv, bot, history, in)
}

// handleSetupTurn advances the active setup session. Setup turns are free.
func (r *Router) handleSetupTurn(ctx context.Context, conv *store.Conversation, text string) (Outbound, error) {
	session, err := r.store.GetSetupSession(ctx, *conv.SetupSessionID)
	if err != nil {
		return Outbound{}, fmt.Errorf("loading setup session: %w", err)
	}
	reply, err := r.orch.HandleTurn(ctx, conv, session, text)
	if err != nil {
		return Outbound{}, err
	}
	if err := r.registry.AppendAssistant(ctx, conv.ID, reply); err != nil {
		return Outbound{}, err
	}
	return Outbound{Reply: reply}, nil
}

// agentTurn bills the turn and invokes the runtime. Runs outside the
// conversation's exclusive region; the region is re-acquired only to
// append the reply. When the debit leaves the balance low, the reply
// carries a top-up hint in its metadata.
func (r *Router) agentTurn(ctx context.Context, tenantID string, conv *store.Conversation, bot *store.BotInstance, history []*store.Message, in Inbound) (Outbound, error) {
	cost := r.turnCost(in.Channel)
	debitKey := in.ProviderMessageID

	debit, err := r.ledger.Debit(ctx, tenantID, cost, "agent_turn", debitKey)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredits) {
			return r.reply(ctx, conv, ReplyOutOfCredits, nil)
		}
		return Outbound{}, fmt.Errorf("debiting turn: %w", err)
	}

	var meta map[string]string
	if debit.LowBalance {
		meta = map[string]string{
			"low_balance": "true",
			"balance":     strconv.FormatInt(debit.Balance, 10),
		}
	}

	req := runtime.Request{
		SystemPrompt: bot.SystemPrompt,
		History:      historyTurns(history, in.Text),
		UserText:     in.Text,
	}

	text, err := r.generateWithRetry(ctx, req)
	if err != nil {
		if errors.Is(err, runtime.ErrRuntimeRejected) {
			// The model was invoked, so the debit stands.
			r.logger.Warn("runtime rejected turn", "tenant_id", tenantID, "conversation_id", conv.ID)
			return r.reply(ctx, conv, ReplyRuntimeRejected, meta)
		}
		// Transient failure exhausted its retries: give the credit back.
		r.logger.Warn("runtime unavailable, compensating debit",
			"tenant_id", tenantID,
			"conversation_id", conv.ID,
			"error", err,
		)
		if _, refundErr := r.ledger.Refund(ctx, tenantID, cost, "runtime_unavailable", debitKey); refundErr != nil {
			r.logger.Error("compensating credit failed", "tenant_id", tenantID, "error", refundErr)
		}
		return r.reply(ctx, conv, ReplyRuntimeUnavailable, nil)
	}

	return r.reply(ctx, conv, text, meta)
}

// reply appends the outbound text to history inside the conversation's
// exclusive region and returns it.
func (r *Router) reply(ctx context.Context, conv *store.Conversation, text string, meta map[string]string) (Outbound, error) {
	unlock := r.locks.Acquire(conversation.Key(conv.TenantID, conv.Channel, conv.ParticipantID))
	defer unlock()
	if err := r.registry.AppendAssistant(ctx, conv.ID, text); err != nil {
		return Outbound{}, err
	}
	return Outbound{Reply: text, Metadata: meta}, nil
}

// generateWithRetry invokes the runtime, retrying transient failures with
// exponential backoff. Rejections abort immediately.
func (r *Router) generateWithRetry(ctx context.Context, req runtime.Request) (string, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = r.interval
	policy := backoff.WithContext(
		backoff.WithMaxRetries(expo, uint64(r.attempts-1)),
		ctx,
	)

	var text string
	operation := func() error {
		var err error
		text, err = r.rt.Generate(ctx, req)
		if err != nil {
			if errors.Is(err, runtime.ErrRuntimeRejected) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return text, nil
}

func (r *Router) turnCost(channel store.Channel) int64 {
	if cost, ok := r.costs[channel]; ok && cost > 0 {
		return cost
	}
	return 1
}

// historyTurns converts stored messages into runtime turns, dropping the
// just-appended inbound message so it isn't replayed twice.
func historyTurns(history []*store.Message, currentText string) []runtime.Turn {
	if n := len(history); n > 0 && history[n-1].Role == store.RoleUser && history[n-1].Text == currentText {
		history = history[:n-1]
	}
	turns := make([]runtime.Turn, 0, len(history))
	for _, msg := range history {
		turns = append(turns, runtime.Turn{Role: msg.Role, Text: msg.Text})
	}
	return turns
}
