// ABOUTME: State machine driving zero-dashboard bot configuration over chat
// ABOUTME: Basics -> Channel -> Connect -> Complete, with cancel, retry, and inactivity handling

package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Jiouk/alfred-ai-agent/internal/botpool"
	"github.com/Jiouk/alfred-ai-agent/internal/intent"
	"github.com/Jiouk/alfred-ai-agent/internal/promptspec"
	"github.com/Jiouk/alfred-ai-agent/internal/store"
)

// DefaultMaxRetries is how many consecutive unparseable turns a session
// tolerates before it is abandoned.
const DefaultMaxRetries = 5

// DefaultAbandonAfter is the inactivity window after which a non-terminal
// session is abandoned by the sweeper.
const DefaultAbandonAfter = 24 * time.Hour

// cancelWords terminate a session from any non-terminal state.
var cancelWords = map[string]bool{"cancel": true, "stop": true, "exit": true}

var allowedPurposes = map[string]bool{
	"sales": true, "support": true, "booking": true, "assistant": true,
}

var allowedPersonalities = map[string]bool{
	"professional": true, "friendly": true, "witty": true, "concise": true,
}

// Orchestrator advances setup sessions one inbound message at a time.
// Callers must hold the conversation's exclusive region while invoking it;
// the orchestrator itself does no locking.
type Orchestrator struct {
	store        store.Store
	pool         *botpool.Manager
	logger       *slog.Logger
	maxRetries   int
	abandonAfter time.Duration
}

// Options tune retry and inactivity limits. Zero values pick the defaults.
type Options struct {
	MaxRetries   int
	AbandonAfter time.Duration
}

// New creates an Orchestrator over the given store and bot pool.
func New(st store.Store, pool *botpool.Manager, logger *slog.Logger, opts Options) *Orchestrator {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.AbandonAfter <= 0 {
		opts.AbandonAfter = DefaultAbandonAfter
	}
	return &Orchestrator{
		store:        st,
		pool:         pool,
		logger:       logger.With("component", "setup"),
		maxRetries:   opts.MaxRetries,
		abandonAfter: opts.AbandonAfter,
	}
}

// Start opens a new setup session for the conversation and returns the
// opening prompt. The first message may already carry field values, so it
// is fed through the same turn handling as later messages.
func (o *Orchestrator) Start(ctx context.Context, conv *store.Conversation, text string) (string, *store.SetupSession, error) {
	now := time.Now().UTC()
	session := &store.SetupSession{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		State:          store.SetupStateBasics,
		Fields:         make(map[string]string),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.store.CreateSetupSession(ctx, session); err != nil {
		return "", nil, fmt.Errorf("creating setup session: %w", err)
	}
	if err := o.store.SetConversationSession(ctx, conv.ID, &session.ID); err != nil {
		return "", nil, fmt.Errorf("attaching setup session: %w", err)
	}
	conv.SetupSessionID = &session.ID

	o.logger.Info("setup session started",
		"session_id", session.ID,
		"conversation_id", conv.ID,
		"tenant_id", conv.TenantID,
	)

	// Harvest whatever the opening message already provides.
	absorbBasics(session, intent.Extract(text))
	reply := o.advance(session)
	if err := o.persist(ctx, conv, session); err != nil {
		return "", nil, err
	}
	return reply, session, nil
}

// HandleTurn applies one inbound message to an active session and returns
// the reply. The session and conversation are persisted before returning.
func (o *Orchestrator) HandleTurn(ctx context.Context, conv *store.Conversation, session *store.SetupSession, text string) (string, error) {
	if session.Terminal() {
		return "", fmt.Errorf("setup session %s is terminal", session.ID)
	}

	// Staleness is enforced lazily here as well as by the sweeper, so a
	// session idle past the window never absorbs another message.
	if time.Since(session.UpdatedAt) > o.abandonAfter {
		session.State = store.SetupStateAbandoned
		if err := o.persist(ctx, conv, session); err != nil {
			return "", err
		}
		o.logger.Info("setup abandoned after inactivity", "session_id", session.ID)
		return "It's been a while, so I've paused setup. Say 'setup' whenever you want to start over.", nil
	}

	if cancelWords[strings.ToLower(strings.TrimSpace(text))] {
		session.State = store.SetupStateAbandoned
		if err := o.persist(ctx, conv, session); err != nil {
			return "", err
		}
		o.logger.Info("setup cancelled", "session_id", session.ID)
		return "Setup cancelled. You can start again anytime by saying 'setup'.", nil
	}

	var reply string
	switch session.State {
	case store.SetupStateBasics:
		reply = o.handleBasics(session, text)
	case store.SetupStateChannel:
		reply = o.handleChannel(session, text)
	case store.SetupStateConnect:
		var err error
		reply, err = o.handleConnect(ctx, conv, session, text)
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unexpected setup state %q", session.State)
	}

	if session.Retries >= o.maxRetries && !session.Terminal() {
		session.State = store.SetupStateAbandoned
		reply = "I couldn't follow that, so I've paused setup for now. Say 'setup' whenever you want to start over."
		o.logger.Info("setup abandoned after retries", "session_id", session.ID, "retries", session.Retries)
	}

	if err := o.persist(ctx, conv, session); err != nil {
		return "", err
	}
	return reply, nil
}

// handleBasics collects name, purpose, and personality.
func (o *Orchestrator) handleBasics(session *store.SetupSession, text string) string {
	fields := intent.Extract(text)
	progressed := absorbBasics(session, fields)

	// A bare reply to a single-field prompt is taken as that field's value.
	if !progressed {
		progressed = absorbDirect(session, text)
	}

	if progressed {
		session.Retries = 0
	} else {
		session.Retries++
	}
	return o.advance(session)
}

// handleChannel collects the channel choice.
func (o *Orchestrator) handleChannel(session *store.SetupSession, text string) string {
	fields := intent.Extract(text)
	if extraction, ok := fields[intent.FieldChannel]; ok && !extraction.Ambiguous {
		if _, valid := store.ParseChannel(extraction.Value); valid {
			session.Fields[intent.FieldChannel] = extraction.Value
			session.Retries = 0
			return o.advance(session)
		}
	}
	if extraction, ok := fields[intent.FieldChannel]; ok && extraction.Ambiguous {
		session.Retries++
		return "I caught more than one channel there. Pick just one: telegram, sms, voice, or email."
	}

	// Accept the raw reply when it names a channel directly.
	if channel, ok := store.ParseChannel(strings.ToLower(strings.TrimSpace(text))); ok {
		session.Fields[intent.FieldChannel] = string(channel)
		session.Retries = 0
		return o.advance(session)
	}

	session.Retries++
	return promptChannel
}

// handleConnect validates the credential, registers the bot, and completes
// the session. A syntactically invalid credential re-prompts without
// consuming a retry.
func (o *Orchestrator) handleConnect(ctx context.Context, conv *store.Conversation, session *store.SetupSession, text string) (string, error) {
	channel := store.Channel(session.Fields[intent.FieldChannel])
	credential := strings.TrimSpace(text)

	if _, err := botpool.ValidateCredential(channel, credential); err != nil {
		return credentialErrorReply(channel), nil
	}

	cfg, err := promptspec.Compile(session.Fields)
	if err != nil {
		// The state machine guarantees Basics completed first, so this
		// is an internal contract violation.
		o.logger.Error("prompt compilation failed on complete session",
			"session_id", session.ID, "error", err)
		return "", fmt.Errorf("compiling prompt config: %w", err)
	}

	bot, err := o.pool.Register(ctx, conv.TenantID, channel, credential, cfg.Name, cfg.SystemPrompt)
	if err != nil {
		if errors.Is(err, botpool.ErrInvalidCredential) {
			return credentialErrorReply(channel), nil
		}
		return "", fmt.Errorf("registering bot: %w", err)
	}

	session.State = store.SetupStateComplete
	o.logger.Info("setup complete",
		"session_id", session.ID,
		"tenant_id", conv.TenantID,
		"bot_id", bot.ID,
		"channel", channel,
	)
	return fmt.Sprintf(
		"✅ %s is live on %s! Your account ID is %s. Message your bot there to try it out.",
		cfg.Name, channel, conv.TenantID,
	), nil
}

// advance moves the session forward through any states whose required
// fields are already filled and returns the prompt for the next gap.
func (o *Orchestrator) advance(session *store.SetupSession) string {
	if session.State == store.SetupStateBasics && basicsComplete(session) {
		session.State = store.SetupStateChannel
	}
	if session.State == store.SetupStateChannel && session.Fields[intent.FieldChannel] != "" {
		session.State = store.SetupStateConnect
	}

	switch session.State {
	case store.SetupStateBasics:
		return promptBasics(session)
	case store.SetupStateChannel:
		return promptChannel
	case store.SetupStateConnect:
		return promptConnect(store.Channel(session.Fields[intent.FieldChannel]))
	}
	return ""
}

// persist writes the session and, for terminal sessions, detaches it from
// the conversation so later turns fall back to normal traffic.
func (o *Orchestrator) persist(ctx context.Context, conv *store.Conversation, session *store.SetupSession) error {
	session.UpdatedAt = time.Now().UTC()
	if err := o.store.UpdateSetupSession(ctx, session); err != nil {
		return fmt.Errorf("persisting setup session: %w", err)
	}
	if session.Terminal() && conv.SetupSessionID != nil {
		if err := o.store.SetConversationSession(ctx, conv.ID, nil); err != nil {
			return fmt.Errorf("detaching setup session: %w", err)
		}
		conv.SetupSessionID = nil
	}
	return nil
}

// SweepStale abandons non-terminal sessions idle past the inactivity limit
// and detaches them from their conversations. Returns the number swept.
func (o *Orchestrator) SweepStale(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-o.abandonAfter)
	sessions, err := o.store.ListStaleSetupSessions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing stale sessions: %w", err)
	}

	swept := 0
	for _, session := range sessions {
		session.State = store.SetupStateAbandoned
		session.UpdatedAt = time.Now().UTC()
		if err := o.store.UpdateSetupSession(ctx, session); err != nil {
			o.logger.Warn("failed to abandon stale session", "session_id", session.ID, "error", err)
			continue
		}
		if err := o.store.SetConversationSession(ctx, session.ConversationID, nil); err != nil && !errors.Is(err, store.ErrNotFound) {
			o.logger.Warn("failed to detach stale session", "session_id", session.ID, "error", err)
		}
		swept++
	}

	if swept > 0 {
		o.logger.Info("abandoned stale setup sessions", "count", swept)
	}
	return swept, nil
}

func basicsComplete(session *store.SetupSession) bool {
	return session.Fields[intent.FieldName] != "" &&
		session.Fields[intent.FieldPurpose] != "" &&
		session.Fields[intent.FieldPersonality] != ""
}

// absorbBasics copies valid extracted values into the session's fields.
// Explicit corrections overwrite already-set fields.
func absorbBasics(session *store.SetupSession, fields intent.FieldSet) bool {
	progressed := false
	if extraction, ok := fields[intent.FieldName]; ok && !extraction.Ambiguous && extraction.Value != "" {
		session.Fields[intent.FieldName] = extraction.Value
		progressed = true
	}
	if extraction, ok := fields[intent.FieldPurpose]; ok && allowedPurposes[extraction.Value] {
		session.Fields[intent.FieldPurpose] = extraction.Value
		progressed = true
	}
	if extraction, ok := fields[intent.FieldPersonality]; ok && !extraction.Ambiguous && allowedPersonalities[extraction.Value] {
		session.Fields[intent.FieldPersonality] = extraction.Value
		progressed = true
	}
	return progressed
}

// absorbDirect treats short free text as the answer to the current prompt
// when the extractor found nothing. Only the name accepts arbitrary text.
func absorbDirect(session *store.SetupSession, text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || len(trimmed) > 40 {
		return false
	}
	lower := strings.ToLower(trimmed)
	if allowedPurposes[lower] {
		session.Fields[intent.FieldPurpose] = lower
		return true
	}
	if allowedPersonalities[lower] {
		session.Fields[intent.FieldPersonality] = lower
		return true
	}
	if session.Fields[intent.FieldName] == "" && strings.ContainsFunc(trimmed, isLetter) {
		session.Fields[intent.FieldName] = trimmed
		return true
	}
	return false
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

const promptChannel = "Which channel should your bot live on: telegram, sms, voice, or email?"

func promptBasics(session *store.SetupSession) string {
	switch {
	case session.Fields[intent.FieldName] == "":
		return "Let's set up your bot! First, what should it be called?"
	case session.Fields[intent.FieldPurpose] == "":
		return "What's the bot for: sales, support, booking, or assistant?"
	default:
		return "What personality should it have: professional, friendly, witty, or concise?"
	}
}

func promptConnect(channel store.Channel) string {
	switch channel {
	case store.ChannelTelegram:
		return "Almost done! Paste the bot token you got from @BotFather."
	case store.ChannelSMS, store.ChannelVoice:
		return "Almost done! Send your provider credential as SID:token:+number."
	case store.ChannelEmail:
		return "Almost done! Send the mailbox credential as address:app-password."
	}
	return "Almost done! Send the credential for your chosen channel."
}

func credentialErrorReply(channel store.Channel) string {
	switch channel {
	case store.ChannelTelegram:
		return "That token doesn't look right. It should look like 123456789:AA... straight from @BotFather. Try again?"
	case store.ChannelSMS, store.ChannelVoice:
		return "That credential doesn't look right. Send it as SID:token:+number. Try again?"
	case store.ChannelEmail:
		return "That credential doesn't look right. Send it as address:app-password. Try again?"
	}
	return "That credential doesn't look right. Try again?"
}
