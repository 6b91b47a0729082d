// ABOUTME: Store interface and data types for alfred-ai-agent persistence
// ABOUTME: Defines Tenant, BotInstance, Conversation, LedgerEntry, SetupSession and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when trying to create a conversation that already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrDuplicateLedgerEntry is returned when an idempotency key was already applied for a tenant
var ErrDuplicateLedgerEntry = errors.New("ledger entry already exists")

// Channel identifies a messaging channel kind.
type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelSMS      Channel = "sms"
	ChannelVoice    Channel = "voice"
	ChannelEmail    Channel = "email"
)

// ParseChannel validates a channel string. Returns false for unknown values.
func ParseChannel(s string) (Channel, bool) {
	switch Channel(s) {
	case ChannelTelegram, ChannelSMS, ChannelVoice, ChannelEmail:
		return Channel(s), true
	}
	return "", false
}

// TenantStatus values for Tenant.Status
const (
	TenantStatusActive    = "active"
	TenantStatusSuspended = "suspended"
)

// Tenant is a paying account owning bots, credits, and conversations.
// Balance is never stored on the tenant row: it is a projection over ledger entries.
type Tenant struct {
	ID          string
	DisplayName string
	Status      string
	CreatedAt   time.Time
}

// BotStatus values for BotInstance.Status
const (
	BotStatusPending = "pending"
	BotStatusActive  = "active"
	BotStatusRevoked = "revoked"
)

// BotInstance binds a tenant's credential to one channel.
// Credential holds the ciphertext; plaintext never touches the database.
type BotInstance struct {
	ID               string
	TenantID         string
	Channel          Channel
	Credential       string // encrypted, base64
	ExternalIdentity string // bot username / phone number / address as seen by the provider
	DisplayName      string
	SystemPrompt     string // compiled prompt; empty until setup completes
	Status           string
	CreatedAt        time.Time
	RevokedAt        *time.Time
}

// Conversation is the thread between one external participant and one bot instance.
// Keyed by (tenant, channel, participant). History is append-only.
type Conversation struct {
	ID             string
	TenantID       string
	Channel        Channel
	ParticipantID  string
	SetupSessionID *string // active setup session, nil when none
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Message roles within a conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in a conversation's history.
type Message struct {
	ID                string
	ConversationID    string
	Role              string
	Text              string
	ProviderMessageID string // empty for assistant replies
	CreatedAt         time.Time
}

// SetupState values for SetupSession.State
const (
	SetupStateBasics    = "basics"
	SetupStateChannel   = "channel"
	SetupStateConnect   = "connect"
	SetupStateComplete  = "complete"
	SetupStateAbandoned = "abandoned"
)

// SetupSession drives zero-dashboard configuration for one conversation.
// Fields holds the partially collected configuration as key/value pairs.
type SetupSession struct {
	ID             string
	ConversationID string
	State          string
	Fields         map[string]string
	Retries        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Terminal reports whether the session can no longer advance.
func (s *SetupSession) Terminal() bool {
	return s.State == SetupStateComplete || s.State == SetupStateAbandoned
}

// LedgerEntry is an immutable credit movement. Delta is positive for grants
// and negative for debits. (TenantID, IdempotencyKey) is unique.
type LedgerEntry struct {
	ID             string
	TenantID       string
	Delta          int64
	Reason         string
	IdempotencyKey string
	CreatedAt      time.Time
}

// Store defines the interface for orchestration core persistence
type Store interface {
	// Tenants
	CreateTenant(ctx context.Context, tenant *Tenant) error
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	ListTenants(ctx context.Context, limit int) ([]*Tenant, error)

	// Bot instances
	CreateBot(ctx context.Context, bot *BotInstance) error
	GetBot(ctx context.Context, id string) (*BotInstance, error)
	UpdateBotStatus(ctx context.Context, id, status string, revokedAt *time.Time) error
	ListBotsByTenant(ctx context.Context, tenantID string) ([]*BotInstance, error)
	ListActiveBots(ctx context.Context) ([]*BotInstance, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByKey(ctx context.Context, tenantID string, channel Channel, participantID string) (*Conversation, error)
	SetConversationSession(ctx context.Context, conversationID string, sessionID *string) error

	// Messages (append-only history)
	SaveMessage(ctx context.Context, msg *Message) error
	GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Setup sessions
	CreateSetupSession(ctx context.Context, session *SetupSession) error
	GetSetupSession(ctx context.Context, id string) (*SetupSession, error)
	UpdateSetupSession(ctx context.Context, session *SetupSession) error
	ListStaleSetupSessions(ctx context.Context, olderThan time.Time) ([]*SetupSession, error)

	// Ledger (append-only)
	AppendLedgerEntry(ctx context.Context, entry *LedgerEntry) error
	GetLedgerEntryByKey(ctx context.Context, tenantID, idempotencyKey string) (*LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, tenantID string, limit int) ([]*LedgerEntry, error)
	GetBalance(ctx context.Context, tenantID string) (int64, error)

	// Close releases any resources held by the store
	Close() error
}
