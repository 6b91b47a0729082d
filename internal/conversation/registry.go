// ABOUTME: Conversation lookup/creation and append-only history over the store
// ABOUTME: Record-first: inbound messages are persisted before any processing acts on them

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Jiouk/alfred-ai-agent/internal/store"
)

// Key builds the serialization key for one conversation.
func Key(tenantID string, channel store.Channel, participantID string) string {
	return tenantID + "|" + string(channel) + "|" + participantID
}

// Registry manages conversation records and their message history.
type Registry struct {
	store  store.Store
	logger *slog.Logger

	// HistoryLimit caps how many recent messages are replayed to the
	// model backend. Zero means no cap.
	HistoryLimit int
}

// NewRegistry creates a Registry over the given store.
func NewRegistry(st store.Store, logger *slog.Logger) *Registry {
	return &Registry{
		store:        st,
		logger:       logger.With("component", "conversation"),
		HistoryLimit: 40,
	}
}

// LoadOrCreate returns the conversation for (tenant, channel, participant),
// creating it on first contact. Safe under concurrent first messages: the
// loser of the creation race loads the winner's row.
func (r *Registry) LoadOrCreate(ctx context.Context, tenantID string, channel store.Channel, participantID string) (*store.Conversation, error) {
	conv, err := r.store.GetConversationByKey(ctx, tenantID, channel, participantID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	now := time.Now().UTC()
	conv = &store.Conversation{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		Channel:       channel,
		ParticipantID: participantID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.store.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrDuplicateConversation) {
			return r.store.GetConversationByKey(ctx, tenantID, channel, participantID)
		}
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	r.logger.Info("conversation created",
		"conversation_id", conv.ID,
		"tenant_id", tenantID,
		"channel", channel,
	)
	return conv, nil
}

// AppendUser records an inbound message in the conversation's history.
// receivedAt is the provider's delivery time; a zero value falls back to now.
func (r *Registry) AppendUser(ctx context.Context, conversationID, text, providerMessageID string, receivedAt time.Time) error {
	return r.append(ctx, conversationID, store.RoleUser, text, providerMessageID, receivedAt)
}

// AppendAssistant records an outbound reply in the conversation's history.
func (r *Registry) AppendAssistant(ctx context.Context, conversationID, text string) error {
	return r.append(ctx, conversationID, store.RoleAssistant, text, "", time.Time{})
}

func (r *Registry) append(ctx context.Context, conversationID, role, text, providerMessageID string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	msg := &store.Message{
		ID:                uuid.New().String(),
		ConversationID:    conversationID,
		Role:              role,
		Text:              text,
		ProviderMessageID: providerMessageID,
		CreatedAt:         at.UTC(),
	}
	if err := r.store.SaveMessage(ctx, msg); err != nil {
		return fmt.Errorf("appending %s message: %w", role, err)
	}
	return nil
}

// History returns the conversation's recent messages, oldest first,
// capped at HistoryLimit.
func (r *Registry) History(ctx context.Context, conversationID string) ([]*store.Message, error) {
	return r.store.GetConversationMessages(ctx, conversationID, r.HistoryLimit)
}
