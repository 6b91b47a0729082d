// ABOUTME: In-memory implementation of the Store interface for tests
// ABOUTME: Mirrors SQLite semantics including uniqueness constraints and sentinel errors

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with plain maps guarded by a mutex.
// It exists for tests of higher layers that don't want a database file.
type MemoryStore struct {
	mu            sync.RWMutex
	tenants       map[string]*Tenant
	bots          map[string]*BotInstance
	conversations map[string]*Conversation
	convByKey     map[string]string // tenant|channel|participant -> conversation ID
	messages      map[string][]*Message
	sessions      map[string]*SetupSession
	ledger        map[string][]*LedgerEntry
	ledgerByKey   map[string]*LedgerEntry // tenant|idempotencyKey -> entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:       make(map[string]*Tenant),
		bots:          make(map[string]*BotInstance),
		conversations: make(map[string]*Conversation),
		convByKey:     make(map[string]string),
		messages:      make(map[string][]*Message),
		sessions:      make(map[string]*SetupSession),
		ledger:        make(map[string][]*LedgerEntry),
		ledgerByKey:   make(map[string]*LedgerEntry),
	}
}

func convKey(tenantID string, channel Channel, participantID string) string {
	return tenantID + "|" + string(channel) + "|" + participantID
}

func ledgerKey(tenantID, idempotencyKey string) string {
	return tenantID + "|" + idempotencyKey
}

func (m *MemoryStore) CreateTenant(_ context.Context, tenant *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *tenant
	m.tenants[tenant.ID] = &copied
	return nil
}

func (m *MemoryStore) GetTenant(_ context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tenant, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *tenant
	return &copied, nil
}

func (m *MemoryStore) ListTenants(_ context.Context, limit int) ([]*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tenants := make([]*Tenant, 0, len(m.tenants))
	for _, tenant := range m.tenants {
		copied := *tenant
		tenants = append(tenants, &copied)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].CreatedAt.Before(tenants[j].CreatedAt) })
	if limit > 0 && len(tenants) > limit {
		tenants = tenants[:limit]
	}
	return tenants, nil
}

func (m *MemoryStore) CreateBot(_ context.Context, bot *BotInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *bot
	m.bots[bot.ID] = &copied
	return nil
}

func (m *MemoryStore) GetBot(_ context.Context, id string) (*BotInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bot, ok := m.bots[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *bot
	return &copied, nil
}

func (m *MemoryStore) UpdateBotStatus(_ context.Context, id, status string, revokedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bot, ok := m.bots[id]
	if !ok {
		return ErrNotFound
	}
	bot.Status = status
	bot.RevokedAt = revokedAt
	return nil
}

func (m *MemoryStore) ListBotsByTenant(_ context.Context, tenantID string) ([]*BotInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var bots []*BotInstance
	for _, bot := range m.bots {
		if bot.TenantID == tenantID {
			copied := *bot
			bots = append(bots, &copied)
		}
	}
	sort.Slice(bots, func(i, j int) bool { return bots[i].CreatedAt.Before(bots[j].CreatedAt) })
	return bots, nil
}

func (m *MemoryStore) ListActiveBots(_ context.Context) ([]*BotInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var bots []*BotInstance
	for _, bot := range m.bots {
		if bot.Status == BotStatusActive {
			copied := *bot
			bots = append(bots, &copied)
		}
	}
	sort.Slice(bots, func(i, j int) bool { return bots[i].CreatedAt.Before(bots[j].CreatedAt) })
	return bots, nil
}

func (m *MemoryStore) CreateConversation(_ context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := convKey(conv.TenantID, conv.Channel, conv.ParticipantID)
	if _, exists := m.convByKey[key]; exists {
		return ErrDuplicateConversation
	}
	copied := *conv
	m.conversations[conv.ID] = &copied
	m.convByKey[key] = conv.ID
	return nil
}

func (m *MemoryStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

func (m *MemoryStore) GetConversationByKey(_ context.Context, tenantID string, channel Channel, participantID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.convByKey[convKey(tenantID, channel, participantID)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *m.conversations[id]
	return &copied, nil
}

func (m *MemoryStore) SetConversationSession(_ context.Context, conversationID string, sessionID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	conv.SetupSessionID = sessionID
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SaveMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &copied)
	return nil
}

func (m *MemoryStore) GetConversationMessages(_ context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*Message, len(msgs))
	for i, msg := range msgs {
		copied := *msg
		out[i] = &copied
	}
	return out, nil
}

func (m *MemoryStore) CreateSetupSession(_ context.Context, session *SetupSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = copySession(session)
	return nil
}

func (m *MemoryStore) GetSetupSession(_ context.Context, id string) (*SetupSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(session), nil
}

func (m *MemoryStore) UpdateSetupSession(_ context.Context, session *SetupSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	m.sessions[session.ID] = copySession(session)
	return nil
}

func (m *MemoryStore) ListStaleSetupSessions(_ context.Context, olderThan time.Time) ([]*SetupSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sessions []*SetupSession
	for _, session := range m.sessions {
		if !session.Terminal() && session.UpdatedAt.Before(olderThan) {
			sessions = append(sessions, copySession(session))
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].UpdatedAt.Before(sessions[j].UpdatedAt) })
	return sessions, nil
}

func copySession(session *SetupSession) *SetupSession {
	copied := *session
	copied.Fields = make(map[string]string, len(session.Fields))
	for k, v := range session.Fields {
		copied.Fields[k] = v
	}
	return &copied
}

func (m *MemoryStore) AppendLedgerEntry(_ context.Context, entry *LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ledgerKey(entry.TenantID, entry.IdempotencyKey)
	if _, exists := m.ledgerByKey[key]; exists {
		return ErrDuplicateLedgerEntry
	}
	copied := *entry
	m.ledger[entry.TenantID] = append(m.ledger[entry.TenantID], &copied)
	m.ledgerByKey[key] = &copied
	return nil
}

func (m *MemoryStore) GetLedgerEntryByKey(_ context.Context, tenantID, idempotencyKey string) (*LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.ledgerByKey[ledgerKey(tenantID, idempotencyKey)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *entry
	return &copied, nil
}

func (m *MemoryStore) ListLedgerEntries(_ context.Context, tenantID string, limit int) ([]*LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.ledger[tenantID]
	out := make([]*LedgerEntry, 0, len(entries))
	// Newest first, matching the SQLite implementation
	for i := len(entries) - 1; i >= 0; i-- {
		copied := *entries[i]
		out = append(out, &copied)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) GetBalance(_ context.Context, tenantID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var balance int64
	for _, entry := range m.ledger[tenantID] {
		balance += entry.Delta
	}
	return balance, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
