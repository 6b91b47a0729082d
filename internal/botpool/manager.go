// ABOUTME: Manages the pool of tenant bot instances and their channel bindings
// ABOUTME: Central coordinator for inbound routing: (channel, identity) -> owning tenant

package botpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Jiouk/alfred-ai-agent/internal/store"
)

// ErrUnknownBot indicates no active bot is bound to the given channel identity.
var ErrUnknownBot = errors.New("no bot bound to channel identity")

// ErrBotNotFound indicates the specified bot instance was not found.
var ErrBotNotFound = errors.New("bot not found")

// ErrDuplicateChannelBinding indicates the tenant already has an active bot
// on the channel and the manager is configured to reject, not supersede.
var ErrDuplicateChannelBinding = errors.New("tenant already has an active bot on channel")

// RegisterPolicy controls what happens when a tenant registers a second bot
// on a channel where it already has an active one.
type RegisterPolicy string

const (
	// PolicySupersede revokes the tenant's existing bot and activates the new one.
	PolicySupersede RegisterPolicy = "supersede"
	// PolicyReject refuses the registration with ErrDuplicateChannelBinding.
	PolicyReject RegisterPolicy = "reject"
)

// Binding is the resolved owner of an inbound delivery.
type Binding struct {
	BotID    string
	TenantID string
	Channel  store.Channel
	Identity string
}

// Manager coordinates all registered bot instances and resolves inbound
// deliveries to the owning tenant. The in-memory index is rebuilt from the
// store on startup and kept consistent with it on every mutation.
type Manager struct {
	store  store.Store
	cipher *Cipher
	logger *slog.Logger
	policy RegisterPolicy

	mu    sync.RWMutex
	index map[string]*Binding // channel|identity -> binding
}

// NewManager creates a Manager backed by the given store and cipher,
// superseding on duplicate channel registrations.
func NewManager(st store.Store, cipher *Cipher, logger *slog.Logger) *Manager {
	return NewManagerWithPolicy(st, cipher, logger, PolicySupersede)
}

// NewManagerWithPolicy creates a Manager with an explicit duplicate-channel
// registration policy.
func NewManagerWithPolicy(st store.Store, cipher *Cipher, logger *slog.Logger, policy RegisterPolicy) *Manager {
	if policy == "" {
		policy = PolicySupersede
	}
	return &Manager{
		store:  st,
		cipher: cipher,
		logger: logger.With("component", "botpool"),
		policy: policy,
		index:  make(map[string]*Binding),
	}
}

func bindingKey(channel store.Channel, identity string) string {
	return string(channel) + "|" + identity
}

// WarmStart rebuilds the routing index from active bots in the store.
// Call once during startup before serving inbound traffic.
func (m *Manager) WarmStart(ctx context.Context) error {
	bots, err := m.store.ListActiveBots(ctx)
	if err != nil {
		return fmt.Errorf("listing active bots: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = make(map[string]*Binding, len(bots))
	for _, bot := range bots {
		m.index[bindingKey(bot.Channel, bot.ExternalIdentity)] = &Binding{
			BotID:    bot.ID,
			TenantID: bot.TenantID,
			Channel:  bot.Channel,
			Identity: bot.ExternalIdentity,
		}
	}

	m.logger.Info("bot pool warmed", "active_bots", len(bots))
	return nil
}

// Resolve maps an inbound delivery's channel identity to its binding.
// Returns ErrUnknownBot when no active bot owns the identity.
func (m *Manager) Resolve(channel store.Channel, identity string) (*Binding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	binding, ok := m.index[bindingKey(channel, identity)]
	if !ok {
		return nil, ErrUnknownBot
	}
	copied := *binding
	return &copied, nil
}

// Register validates and encrypts a credential, persists the bot instance,
// and activates its channel binding. At most one bot per (tenant, channel)
// stays active: an existing one is revoked under PolicySupersede or blocks
// the registration under PolicyReject. A bot held by another tenant on the
// same (channel, identity) is always superseded, since presenting the
// credential proves current ownership.
func (m *Manager) Register(ctx context.Context, tenantID string, channel store.Channel, credential, displayName, systemPrompt string) (*store.BotInstance, error) {
	identity, err := ValidateCredential(channel, credential)
	if err != nil {
		return nil, err
	}

	encrypted, err := m.cipher.Encrypt(credential)
	if err != nil {
		return nil, fmt.Errorf("encrypting credential: %w", err)
	}

	bot := &store.BotInstance{
		ID:               uuid.New().String(),
		TenantID:         tenantID,
		Channel:          channel,
		Credential:       encrypted,
		ExternalIdentity: identity,
		DisplayName:      displayName,
		SystemPrompt:     systemPrompt,
		Status:           store.BotStatusActive,
		CreatedAt:        time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.retireTenantChannelBotsLocked(ctx, tenantID, channel); err != nil {
		return nil, err
	}

	key := bindingKey(channel, identity)
	if prev, exists := m.index[key]; exists {
		// The credential proves current ownership, so the newer
		// registration wins and the stale binding is revoked.
		now := time.Now().UTC()
		if err := m.store.UpdateBotStatus(ctx, prev.BotID, store.BotStatusRevoked, &now); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("revoking superseded bot: %w", err)
		}
		m.logger.Info("superseded existing binding",
			"channel", channel,
			"identity", identity,
			"old_bot_id", prev.BotID,
			"old_tenant_id", prev.TenantID,
		)
	}

	if err := m.store.CreateBot(ctx, bot); err != nil {
		return nil, fmt.Errorf("persisting bot: %w", err)
	}

	m.index[key] = &Binding{
		BotID:    bot.ID,
		TenantID: tenantID,
		Channel:  channel,
		Identity: identity,
	}

	m.logger.Info("bot registered",
		"bot_id", bot.ID,
		"tenant_id", tenantID,
		"channel", channel,
		"identity", identity,
	)
	return bot, nil
}

// retireTenantChannelBotsLocked enforces one active bot per (tenant, channel):
// any existing active bot is revoked under PolicySupersede or fails the
// registration under PolicyReject. Caller must hold m.mu.
func (m *Manager) retireTenantChannelBotsLocked(ctx context.Context, tenantID string, channel store.Channel) error {
	bots, err := m.store.ListBotsByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("listing tenant bots: %w", err)
	}

	for _, prev := range bots {
		if prev.Channel != channel || prev.Status != store.BotStatusActive {
			continue
		}
		if m.policy == PolicyReject {
			return fmt.Errorf("%w: %s on %s", ErrDuplicateChannelBinding, tenantID, channel)
		}
		now := time.Now().UTC()
		if err := m.store.UpdateBotStatus(ctx, prev.ID, store.BotStatusRevoked, &now); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("revoking superseded bot: %w", err)
		}
		prevKey := bindingKey(prev.Channel, prev.ExternalIdentity)
		if binding, ok := m.index[prevKey]; ok && binding.BotID == prev.ID {
			delete(m.index, prevKey)
		}
		m.logger.Info("superseded tenant channel bot",
			"tenant_id", tenantID,
			"channel", channel,
			"old_bot_id", prev.ID,
		)
	}
	return nil
}

// Revoke deactivates a bot instance and removes its routing binding.
// Conversation history for the bot is retained.
func (m *Manager) Revoke(ctx context.Context, botID string) error {
	bot, err := m.store.GetBot(ctx, botID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrBotNotFound
		}
		return fmt.Errorf("loading bot: %w", err)
	}

	now := time.Now().UTC()
	if err := m.store.UpdateBotStatus(ctx, botID, store.BotStatusRevoked, &now); err != nil {
		return fmt.Errorf("revoking bot: %w", err)
	}

	m.mu.Lock()
	key := bindingKey(bot.Channel, bot.ExternalIdentity)
	if binding, ok := m.index[key]; ok && binding.BotID == botID {
		delete(m.index, key)
	}
	m.mu.Unlock()

	m.logger.Info("bot revoked", "bot_id", botID, "tenant_id", bot.TenantID, "channel", bot.Channel)
	return nil
}

// Credential decrypts and returns the plaintext credential for a bot.
// Used by channel adapters when they need to call the provider.
func (m *Manager) Credential(ctx context.Context, botID string) (string, error) {
	bot, err := m.store.GetBot(ctx, botID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrBotNotFound
		}
		return "", fmt.Errorf("loading bot: %w", err)
	}
	plaintext, err := m.cipher.Decrypt(bot.Credential)
	if err != nil {
		return "", fmt.Errorf("decrypting credential for bot %s: %w", botID, err)
	}
	return plaintext, nil
}

// ListBots returns all bot instances owned by a tenant, including revoked ones.
func (m *Manager) ListBots(ctx context.Context, tenantID string) ([]*store.BotInstance, error) {
	return m.store.ListBotsByTenant(ctx, tenantID)
}

// ActiveCount returns the number of live channel bindings.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index)
}
