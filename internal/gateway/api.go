// ABOUTME: HTTP API handlers for inbound deliveries, tenants, bots, and credits
// ABOUTME: Channel adapters own payload parsing; this API speaks normalized JSON

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Jiouk/alfred-ai-agent/internal/botpool"
	"github.com/Jiouk/alfred-ai-agent/internal/ledger"
	"github.com/Jiouk/alfred-ai-agent/internal/router"
	"github.com/Jiouk/alfred-ai-agent/internal/store"
)

// InboundRequest is the JSON request body for POST /api/inbound.
type InboundRequest struct {
	Channel           string `json:"channel"`
	BotIdentity       string `json:"bot_identity"`
	ParticipantID     string `json:"participant_id"`
	Text              string `json:"text"`
	ProviderMessageID string `json:"provider_message_id"`
}

// InboundResponse is the JSON response for POST /api/inbound. Metadata
// carries advisory hints such as a low-balance warning.
type InboundResponse struct {
	Reply    string            `json:"reply"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CreateTenantRequest is the JSON request body for POST /api/tenants.
type CreateTenantRequest struct {
	DisplayName string `json:"display_name"`
}

// TenantResponse is the JSON response for tenant operations.
type TenantResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
	Balance     int64  `json:"balance"`
	CreatedAt   string `json:"created_at"`
}

// RegisterBotRequest is the JSON request body for POST /api/bots.
type RegisterBotRequest struct {
	TenantID     string `json:"tenant_id"`
	Channel      string `json:"channel"`
	Credential   string `json:"credential"`
	DisplayName  string `json:"display_name"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// BotResponse is the JSON response for bot operations.
type BotResponse struct {
	ID               string `json:"id"`
	TenantID         string `json:"tenant_id"`
	Channel          string `json:"channel"`
	ExternalIdentity string `json:"external_identity"`
	DisplayName      string `json:"display_name"`
	Status           string `json:"status"`
	CreatedAt        string `json:"created_at"`
}

// GrantCreditsRequest is the JSON request body for POST /api/credits/grant.
type GrantCreditsRequest struct {
	TenantID       string `json:"tenant_id"`
	Amount         int64  `json:"amount"`
	Reason         string `json:"reason,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// BalanceResponse is the JSON response for balance queries and grants.
type BalanceResponse struct {
	TenantID string `json:"tenant_id"`
	Balance  int64  `json:"balance"`
}

// TransactionResponse is one ledger entry in a transaction listing.
type TransactionResponse struct {
	ID             string `json:"id"`
	Delta          int64  `json:"delta"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
	CreatedAt      string `json:"created_at"`
}

// registerAPIRoutes registers the JSON API on the mux.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/inbound", g.handleInbound)
	mux.HandleFunc("/api/tenants", g.handleCreateTenant)
	mux.HandleFunc("/api/tenants/", g.handleTenantRoutes)
	mux.HandleFunc("/api/bots", g.handleRegisterBot)
	mux.HandleFunc("/api/bots/", g.handleBotByID)
	mux.HandleFunc("/api/credits/grant", g.handleGrantCredits)
}

// handleInbound handles POST /api/inbound.
// Adapters deliver one normalized message per call; the response carries the
// reply to relay back. Silent outcomes (unknown bot, duplicates) answer 204.
func (g *Gateway) handleInbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req InboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	channel, ok := store.ParseChannel(req.Channel)
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, "unknown channel")
		return
	}
	if req.BotIdentity == "" || req.ParticipantID == "" || req.ProviderMessageID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "bot_identity, participant_id, and provider_message_id are required")
		return
	}

	out, err := g.router.Handle(r.Context(), router.Inbound{
		Channel:           channel,
		BotIdentity:       req.BotIdentity,
		ParticipantID:     req.ParticipantID,
		Text:              req.Text,
		ProviderMessageID: req.ProviderMessageID,
		ReceivedAt:        time.Now().UTC(),
	})
	if err != nil {
		g.logger.Error("inbound handling failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if out.Dropped {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	g.sendJSON(w, http.StatusOK, InboundResponse{Reply: out.Reply, Metadata: out.Metadata})
}

// handleCreateTenant handles POST /api/tenants.
// New tenants receive the configured welcome grant exactly once.
func (g *Gateway) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "display_name is required")
		return
	}

	tenant := &store.Tenant{
		ID:          uuid.New().String(),
		DisplayName: strings.TrimSpace(req.DisplayName),
		Status:      store.TenantStatusActive,
		CreatedAt:   time.Now().UTC(),
	}
	if err := g.store.CreateTenant(r.Context(), tenant); err != nil {
		g.logger.Error("creating tenant failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	var balance int64
	if grant := g.config.Credits.WelcomeGrant; grant > 0 {
		entry, err := g.ledger.Credit(r.Context(), tenant.ID, grant, "welcome_grant", "welcome:"+tenant.ID)
		if err != nil {
			g.logger.Error("welcome grant failed", "tenant_id", tenant.ID, "error", err)
		} else {
			balance = entry.Delta
		}
	}

	g.logger.Info("tenant created", "tenant_id", tenant.ID, "display_name", tenant.DisplayName)
	g.sendJSON(w, http.StatusCreated, TenantResponse{
		ID:          tenant.ID,
		DisplayName: tenant.DisplayName,
		Status:      tenant.Status,
		Balance:     balance,
		CreatedAt:   tenant.CreatedAt.Format(time.RFC3339),
	})
}

// handleTenantRoutes dispatches GET /api/tenants/{id}/{bots|balance|transactions}.
func (g *Gateway) handleTenantRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/tenants/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	tenantID, resource := parts[0], parts[1]

	if _, err := g.store.GetTenant(r.Context(), tenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "tenant not found")
			return
		}
		g.logger.Error("loading tenant failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	switch resource {
	case "bots":
		g.listTenantBots(w, r, tenantID)
	case "balance":
		g.tenantBalance(w, r, tenantID)
	case "transactions":
		g.tenantTransactions(w, r, tenantID)
	default:
		http.NotFound(w, r)
	}
}

func (g *Gateway) listTenantBots(w http.ResponseWriter, r *http.Request, tenantID string) {
	bots, err := g.pool.ListBots(r.Context(), tenantID)
	if err != nil {
		g.logger.Error("listing bots failed", "tenant_id", tenantID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]BotResponse, 0, len(bots))
	for _, bot := range bots {
		response = append(response, botResponse(bot))
	}
	g.sendJSON(w, http.StatusOK, response)
}

func (g *Gateway) tenantBalance(w http.ResponseWriter, r *http.Request, tenantID string) {
	balance, err := g.ledger.Balance(r.Context(), tenantID)
	if err != nil {
		g.logger.Error("loading balance failed", "tenant_id", tenantID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, BalanceResponse{TenantID: tenantID, Balance: balance})
}

func (g *Gateway) tenantTransactions(w http.ResponseWriter, r *http.Request, tenantID string) {
	entries, err := g.ledger.Transactions(r.Context(), tenantID, 100)
	if err != nil {
		g.logger.Error("listing transactions failed", "tenant_id", tenantID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]TransactionResponse, 0, len(entries))
	for _, entry := range entries {
		response = append(response, TransactionResponse{
			ID:             entry.ID,
			Delta:          entry.Delta,
			Reason:         entry.Reason,
			IdempotencyKey: entry.IdempotencyKey,
			CreatedAt:      entry.CreatedAt.Format(time.RFC3339),
		})
	}
	g.sendJSON(w, http.StatusOK, response)
}

// handleRegisterBot handles POST /api/bots.
// Registering a second bot on an occupied (tenant, channel) pair supersedes
// the first, or answers 409 when the reject policy is configured.
func (g *Gateway) handleRegisterBot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req RegisterBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	channel, ok := store.ParseChannel(req.Channel)
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, "unknown channel")
		return
	}
	if req.TenantID == "" || req.Credential == "" {
		g.sendJSONError(w, http.StatusBadRequest, "tenant_id and credential are required")
		return
	}

	if _, err := g.store.GetTenant(r.Context(), req.TenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "tenant not found")
			return
		}
		g.logger.Error("loading tenant failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	bot, err := g.pool.Register(r.Context(), req.TenantID, channel, req.Credential, req.DisplayName, req.SystemPrompt)
	if err != nil {
		if errors.Is(err, botpool.ErrInvalidCredential) {
			g.sendJSONError(w, http.StatusBadRequest, "invalid credential for channel")
			return
		}
		if errors.Is(err, botpool.ErrDuplicateChannelBinding) {
			g.sendJSONError(w, http.StatusConflict, "tenant already has an active bot on this channel")
			return
		}
		g.logger.Error("registering bot failed", "tenant_id", req.TenantID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusCreated, botResponse(bot))
}

// handleBotByID handles DELETE /api/bots/{id}.
func (g *Gateway) handleBotByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	botID := strings.TrimPrefix(r.URL.Path, "/api/bots/")
	if botID == "" || strings.Contains(botID, "/") {
		http.NotFound(w, r)
		return
	}

	if err := g.pool.Revoke(r.Context(), botID); err != nil {
		if errors.Is(err, botpool.ErrBotNotFound) || errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "bot not found")
			return
		}
		g.logger.Error("revoking bot failed", "bot_id", botID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGrantCredits handles POST /api/credits/grant.
// Grants are idempotent on the caller-supplied key, so payment webhooks can
// safely retry.
func (g *Gateway) handleGrantCredits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req GrantCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TenantID == "" || req.IdempotencyKey == "" {
		g.sendJSONError(w, http.StatusBadRequest, "tenant_id and idempotency_key are required")
		return
	}

	if _, err := g.store.GetTenant(r.Context(), req.TenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "tenant not found")
			return
		}
		g.logger.Error("loading tenant failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "credit_grant"
	}

	if _, err := g.ledger.Credit(r.Context(), req.TenantID, req.Amount, reason, req.IdempotencyKey); err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			g.sendJSONError(w, http.StatusBadRequest, "amount must be positive")
			return
		}
		g.logger.Error("granting credits failed", "tenant_id", req.TenantID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	balance, err := g.ledger.Balance(r.Context(), req.TenantID)
	if err != nil {
		g.logger.Error("loading balance failed", "tenant_id", req.TenantID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, BalanceResponse{TenantID: req.TenantID, Balance: balance})
}

func botResponse(bot *store.BotInstance) BotResponse {
	return BotResponse{
		ID:               bot.ID,
		TenantID:         bot.TenantID,
		Channel:          string(bot.Channel),
		ExternalIdentity: bot.ExternalIdentity,
		DisplayName:      bot.DisplayName,
		Status:           bot.Status,
		CreatedAt:        bot.CreatedAt.Format(time.RFC3339),
	}
}

// sendJSON writes a JSON response with the given status code.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// sendJSONError writes a JSON error response with the given status code.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
