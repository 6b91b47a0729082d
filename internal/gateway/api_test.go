// ABOUTME: HTTP API tests for the gateway over an in-memory SQLite store
// ABOUTME: Covers tenant creation, bot registration, credits, and inbound traffic

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jiouk/alfred-ai-agent/internal/config"
	"github.com/Jiouk/alfred-ai-agent/internal/runtime"
)

const testCredentialKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

const testTelegramToken = "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw1"

func newTestGateway(t *testing.T) (*Gateway, *runtime.MockRuntime) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = ":memory:"
	cfg.Runtime.Model = "test-model"
	cfg.Credits.WelcomeGrant = 10
	cfg.Crypto.CredentialKey = testCredentialKey

	rt := runtime.NewMockRuntime("mock reply")
	gw, err := New(cfg, rt, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = gw.store.Close()
	})
	return gw, rt
}

func doJSON(t *testing.T, gw *Gateway, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func createTenant(t *testing.T, gw *Gateway, name string) TenantResponse {
	t.Helper()
	rec := doJSON(t, gw, http.MethodPost, "/api/tenants", CreateTenantRequest{DisplayName: name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[TenantResponse](t, rec)
}

func registerBot(t *testing.T, gw *Gateway, tenantID string) BotResponse {
	t.Helper()
	rec := doJSON(t, gw, http.MethodPost, "/api/bots", RegisterBotRequest{
		TenantID:     tenantID,
		Channel:      "telegram",
		Credential:   testTelegramToken,
		DisplayName:  "Sales Bot",
		SystemPrompt: "You are Sales Bot.",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[BotResponse](t, rec)
}

func TestHealth(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doJSON(t, gw, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, gw, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateTenant_WelcomeGrant(t *testing.T) {
	gw, _ := newTestGateway(t)

	tenant := createTenant(t, gw, "Acme")
	assert.NotEmpty(t, tenant.ID)
	assert.Equal(t, "active", tenant.Status)
	assert.Equal(t, int64(10), tenant.Balance)

	rec := doJSON(t, gw, http.MethodGet, "/api/tenants/"+tenant.ID+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decodeBody[BalanceResponse](t, rec)
	assert.Equal(t, int64(10), balance.Balance)
}

func TestCreateTenant_MissingName(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doJSON(t, gw, http.MethodPost, "/api/tenants", CreateTenantRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterBot(t *testing.T) {
	gw, _ := newTestGateway(t)
	tenant := createTenant(t, gw, "Acme")

	bot := registerBot(t, gw, tenant.ID)
	assert.Equal(t, "telegram", bot.Channel)
	assert.Equal(t, "bot123456789", bot.ExternalIdentity)
	assert.Equal(t, "active", bot.Status)

	rec := doJSON(t, gw, http.MethodGet, "/api/tenants/"+tenant.ID+"/bots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bots := decodeBody[[]BotResponse](t, rec)
	require.Len(t, bots, 1)
	assert.Equal(t, bot.ID, bots[0].ID)
}

func TestRegisterBot_InvalidCredential(t *testing.T) {
	gw, _ := newTestGateway(t)
	tenant := createTenant(t, gw, "Acme")

	rec := doJSON(t, gw, http.MethodPost, "/api/bots", RegisterBotRequest{
		TenantID:   tenant.ID,
		Channel:    "telegram",
		Credential: "not-a-token",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterBot_UnknownTenant(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doJSON(t, gw, http.MethodPost, "/api/bots", RegisterBotRequest{
		TenantID:   "no-such-tenant",
		Channel:    "telegram",
		Credential: testTelegramToken,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRevokeBot(t *testing.T) {
	gw, _ := newTestGateway(t)
	tenant := createTenant(t, gw, "Acme")
	bot := registerBot(t, gw, tenant.ID)

	rec := doJSON(t, gw, http.MethodDelete, "/api/bots/"+bot.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Traffic for the revoked identity is dropped silently.
	rec = doJSON(t, gw, http.MethodPost, "/api/inbound", InboundRequest{
		Channel:           "telegram",
		BotIdentity:       bot.ExternalIdentity,
		ParticipantID:     "user-1",
		Text:              "hello",
		ProviderMessageID: "pm-1",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRevokeBot_NotFound(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doJSON(t, gw, http.MethodDelete, "/api/bots/no-such-bot", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGrantCredits_Idempotent(t *testing.T) {
	gw, _ := newTestGateway(t)
	tenant := createTenant(t, gw, "Acme")

	grant := GrantCreditsRequest{
		TenantID:       tenant.ID,
		Amount:         50,
		IdempotencyKey: "invoice-1001",
	}

	rec := doJSON(t, gw, http.MethodPost, "/api/credits/grant", grant)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	balance := decodeBody[BalanceResponse](t, rec)
	assert.Equal(t, int64(60), balance.Balance)

	// Webhook retry with the same key does not double-credit.
	rec = doJSON(t, gw, http.MethodPost, "/api/credits/grant", grant)
	require.Equal(t, http.StatusOK, rec.Code)
	balance = decodeBody[BalanceResponse](t, rec)
	assert.Equal(t, int64(60), balance.Balance)
}

func TestGrantCredits_InvalidAmount(t *testing.T) {
	gw, _ := newTestGateway(t)
	tenant := createTenant(t, gw, "Acme")

	rec := doJSON(t, gw, http.MethodPost, "/api/credits/grant", GrantCreditsRequest{
		TenantID:       tenant.ID,
		Amount:         -5,
		IdempotencyKey: "invoice-1002",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInbound_NormalTurn(t *testing.T) {
	gw, rt := newTestGateway(t)
	tenant := createTenant(t, gw, "Acme")
	bot := registerBot(t, gw, tenant.ID)

	rec := doJSON(t, gw, http.MethodPost, "/api/inbound", InboundRequest{
		Channel:           "telegram",
		BotIdentity:       bot.ExternalIdentity,
		ParticipantID:     "user-1",
		Text:              "what are your opening hours?",
		ProviderMessageID: "pm-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[InboundResponse](t, rec)
	assert.Equal(t, "mock reply", resp.Reply)
	assert.Equal(t, 1, rt.CallCount())

	// The welcome grant sits under the low-balance threshold, so the
	// reply carries a top-up hint.
	assert.Equal(t, "true", resp.Metadata["low_balance"])
	assert.Equal(t, "9", resp.Metadata["balance"])

	// One credit debited.
	rec = doJSON(t, gw, http.MethodGet, "/api/tenants/"+tenant.ID+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decodeBody[BalanceResponse](t, rec)
	assert.Equal(t, int64(9), balance.Balance)
}

func TestInbound_DuplicateDelivery(t *testing.T) {
	gw, rt := newTestGateway(t)
	tenant := createTenant(t, gw, "Acme")
	bot := registerBot(t, gw, tenant.ID)

	in := InboundRequest{
		Channel:           "telegram",
		BotIdentity:       bot.ExternalIdentity,
		ParticipantID:     "user-1",
		Text:              "hello",
		ProviderMessageID: "pm-dup",
	}

	rec := doJSON(t, gw, http.MethodPost, "/api/inbound", in)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, gw, http.MethodPost, "/api/inbound", in)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, rt.CallCount())
}

func TestInbound_UnknownChannel(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doJSON(t, gw, http.MethodPost, "/api/inbound", InboundRequest{
		Channel:           "fax",
		BotIdentity:       "x",
		ParticipantID:     "user-1",
		ProviderMessageID: "pm-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransactions_Listing(t *testing.T) {
	gw, rt := newTestGateway(t)
	_ = rt
	tenant := createTenant(t, gw, "Acme")
	bot := registerBot(t, gw, tenant.ID)

	for i := 0; i < 3; i++ {
		rec := doJSON(t, gw, http.MethodPost, "/api/inbound", InboundRequest{
			Channel:           "telegram",
			BotIdentity:       bot.ExternalIdentity,
			ParticipantID:     "user-1",
			Text:              "how late are you open?",
			ProviderMessageID: fmt.Sprintf("pm-%d", i),
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, gw, http.MethodGet, "/api/tenants/"+tenant.ID+"/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]TransactionResponse](t, rec)
	require.Len(t, entries, 4) // welcome grant + 3 debits
	assert.Equal(t, int64(-1), entries[0].Delta)
	assert.Equal(t, "welcome_grant", entries[3].Reason)
}

func TestTenantRoutes_UnknownTenant(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doJSON(t, gw, http.MethodGet, "/api/tenants/no-such/balance", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
