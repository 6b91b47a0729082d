// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides tenant/bot/conversation/ledger persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tenants (
			id           TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			status       TEXT NOT NULL,
			created_at   TEXT NOT NULL,

			CHECK (status IN ('active', 'suspended'))
		);

		CREATE TABLE IF NOT EXISTS bot_instances (
			id                TEXT PRIMARY KEY,
			tenant_id         TEXT NOT NULL,
			channel           TEXT NOT NULL,
			credential        TEXT NOT NULL,
			external_identity TEXT NOT NULL,
			display_name      TEXT NOT NULL,
			system_prompt     TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL,
			created_at        TEXT NOT NULL,
			revoked_at        TEXT,

			FOREIGN KEY (tenant_id) REFERENCES tenants(id),
			CHECK (channel IN ('telegram', 'sms', 'voice', 'email')),
			CHECK (status IN ('pending', 'active', 'revoked'))
		);

		CREATE INDEX IF NOT EXISTS idx_bots_tenant ON bot_instances(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_bots_channel_identity
			ON bot_instances(channel, external_identity);

		CREATE TABLE IF NOT EXISTS conversations (
			id               TEXT PRIMARY KEY,
			tenant_id        TEXT NOT NULL,
			channel          TEXT NOT NULL,
			participant_id   TEXT NOT NULL,
			setup_session_id TEXT,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,

			FOREIGN KEY (tenant_id) REFERENCES tenants(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_key
			ON conversations(tenant_id, channel, participant_id);

		CREATE TABLE IF NOT EXISTS messages (
			id                  TEXT PRIMARY KEY,
			conversation_id     TEXT NOT NULL,
			role                TEXT NOT NULL,
			text                TEXT NOT NULL,
			provider_message_id TEXT,
			created_at          TEXT NOT NULL,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			CHECK (role IN ('user', 'assistant'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS setup_sessions (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			state           TEXT NOT NULL,
			fields_json     TEXT NOT NULL,
			retries         INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			CHECK (state IN ('basics', 'channel', 'connect', 'complete', 'abandoned'))
		);

		CREATE INDEX IF NOT EXISTS idx_setup_sessions_state
			ON setup_sessions(state, updated_at);

		CREATE TABLE IF NOT EXISTS ledger_entries (
			id              TEXT PRIMARY KEY,
			tenant_id       TEXT NOT NULL,
			delta           INTEGER NOT NULL,
			reason          TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			created_at      TEXT NOT NULL,

			FOREIGN KEY (tenant_id) REFERENCES tenants(id),
			UNIQUE (tenant_id, idempotency_key)
		);

		CREATE INDEX IF NOT EXISTS idx_ledger_tenant
			ON ledger_entries(tenant_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// isConstraintViolation checks if an error is a SQLite constraint violation.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString converts an empty string to nil for nullable columns.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateTenant inserts a new tenant record.
func (s *SQLiteStore) CreateTenant(ctx context.Context, tenant *Tenant) error {
	query := `
		INSERT INTO tenants (id, display_name, status, created_at)
		VALUES (?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		tenant.ID,
		tenant.DisplayName,
		tenant.Status,
		tenant.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting tenant: %w", err)
	}

	s.logger.Debug("created tenant", "tenant_id", tenant.ID, "name", tenant.DisplayName)
	return nil
}

// GetTenant retrieves a tenant by ID.
// Returns ErrNotFound if the tenant doesn't exist.
func (s *SQLiteStore) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	query := `
		SELECT id, display_name, status, created_at
		FROM tenants
		WHERE id = ?
	`

	var tenant Tenant
	var createdAt string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&tenant.ID,
		&tenant.DisplayName,
		&tenant.Status,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tenant: %w", err)
	}

	tenant.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &tenant, nil
}

// ListTenants returns tenants ordered by creation time.
// If limit is 0 or negative, all tenants are returned.
func (s *SQLiteStore) ListTenants(ctx context.Context, limit int) ([]*Tenant, error) {
	query := `
		SELECT id, display_name, status, created_at
		FROM tenants
		ORDER BY created_at ASC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tenants []*Tenant
	for rows.Next() {
		var tenant Tenant
		var createdAt string
		if err := rows.Scan(&tenant.ID, &tenant.DisplayName, &tenant.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning tenant row: %w", err)
		}
		tenant.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		tenants = append(tenants, &tenant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tenant rows: %w", err)
	}
	return tenants, nil
}

// CreateBot inserts a new bot instance record.
func (s *SQLiteStore) CreateBot(ctx context.Context, bot *BotInstance) error {
	query := `
		INSERT INTO bot_instances (
			id, tenant_id, channel, credential, external_identity,
			display_name, system_prompt, status, created_at, revoked_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var revokedAt any
	if bot.RevokedAt != nil {
		revokedAt = bot.RevokedAt.UTC().Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx, query,
		bot.ID,
		bot.TenantID,
		string(bot.Channel),
		bot.Credential,
		bot.ExternalIdentity,
		bot.DisplayName,
		bot.SystemPrompt,
		bot.Status,
		bot.CreatedAt.UTC().Format(time.RFC3339),
		revokedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting bot: %w", err)
	}

	s.logger.Debug("created bot",
		"bot_id", bot.ID,
		"tenant_id", bot.TenantID,
		"channel", bot.Channel,
		"status", bot.Status,
	)
	return nil
}

// GetBot retrieves a bot instance by ID.
// Returns ErrNotFound if the bot doesn't exist.
func (s *SQLiteStore) GetBot(ctx context.Context, id string) (*BotInstance, error) {
	query := `
		SELECT id, tenant_id, channel, credential, external_identity,
		       display_name, system_prompt, status, created_at, revoked_at
		FROM bot_instances
		WHERE id = ?
	`
	row := s.db.QueryRowContext(ctx, query, id)
	bot, err := scanBot(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return bot, err
}

// UpdateBotStatus changes a bot's lifecycle status.
// Returns ErrNotFound if the bot doesn't exist.
func (s *SQLiteStore) UpdateBotStatus(ctx context.Context, id, status string, revokedAt *time.Time) error {
	query := `UPDATE bot_instances SET status = ?, revoked_at = ? WHERE id = ?`

	var revoked any
	if revokedAt != nil {
		revoked = revokedAt.UTC().Format(time.RFC3339)
	}

	result, err := s.db.ExecContext(ctx, query, status, revoked, id)
	if err != nil {
		return fmt.Errorf("updating bot status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated bot status", "bot_id", id, "status", status)
	return nil
}

// ListBotsByTenant returns all bot instances for a tenant, including revoked
// ones (they are retained for audit).
func (s *SQLiteStore) ListBotsByTenant(ctx context.Context, tenantID string) ([]*BotInstance, error) {
	query := `
		SELECT id, tenant_id, channel, credential, external_identity,
		       display_name, system_prompt, status, created_at, revoked_at
		FROM bot_instances
		WHERE tenant_id = ?
		ORDER BY created_at ASC
	`
	return s.queryBots(ctx, query, tenantID)
}

// ListActiveBots returns every active bot instance across all tenants.
// Used to warm the pool manager's resolution index at startup.
func (s *SQLiteStore) ListActiveBots(ctx context.Context) ([]*BotInstance, error) {
	query := `
		SELECT id, tenant_id, channel, credential, external_identity,
		       display_name, system_prompt, status, created_at, revoked_at
		FROM bot_instances
		WHERE status = 'active'
		ORDER BY created_at ASC
	`
	return s.queryBots(ctx, query)
}

func (s *SQLiteStore) queryBots(ctx context.Context, query string, args ...any) ([]*BotInstance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying bots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bots []*BotInstance
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, bot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bot rows: %w", err)
	}
	return bots, nil
}

// scanner abstracts sql.Row and sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanBot(row scanner) (*BotInstance, error) {
	var bot BotInstance
	var channel, createdAt string
	var revokedAt sql.NullString

	err := row.Scan(
		&bot.ID,
		&bot.TenantID,
		&channel,
		&bot.Credential,
		&bot.ExternalIdentity,
		&bot.DisplayName,
		&bot.SystemPrompt,
		&bot.Status,
		&createdAt,
		&revokedAt,
	)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("scanning bot row: %w", err)
	}

	bot.Channel = Channel(channel)
	bot.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if revokedAt.Valid {
		parsed, err := time.Parse(time.RFC3339, revokedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing revoked_at: %w", err)
		}
		bot.RevokedAt = &parsed
	}
	return &bot, nil
}

// CreateConversation inserts a new conversation record.
// Returns ErrDuplicateConversation if the (tenant, channel, participant) key exists.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (
			id, tenant_id, channel, participant_id, setup_session_id, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	var sessionID any
	if conv.SetupSessionID != nil {
		sessionID = *conv.SetupSessionID
	}

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.TenantID,
		string(conv.Channel),
		conv.ParticipantID,
		sessionID,
		conv.CreatedAt.UTC().Format(time.RFC3339),
		conv.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation",
		"conversation_id", conv.ID,
		"tenant_id", conv.TenantID,
		"channel", conv.Channel,
	)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, tenant_id, channel, participant_id, setup_session_id, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`
	return s.queryConversation(ctx, query, id)
}

// GetConversationByKey retrieves a conversation by its natural key.
// Returns ErrNotFound if no conversation matches.
func (s *SQLiteStore) GetConversationByKey(ctx context.Context, tenantID string, channel Channel, participantID string) (*Conversation, error) {
	query := `
		SELECT id, tenant_id, channel, participant_id, setup_session_id, created_at, updated_at
		FROM conversations
		WHERE tenant_id = ? AND channel = ? AND participant_id = ?
	`
	return s.queryConversation(ctx, query, tenantID, string(channel), participantID)
}

func (s *SQLiteStore) queryConversation(ctx context.Context, query string, args ...any) (*Conversation, error) {
	var conv Conversation
	var channel, createdAt, updatedAt string
	var sessionID sql.NullString

	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&conv.ID,
		&conv.TenantID,
		&channel,
		&conv.ParticipantID,
		&sessionID,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.Channel = Channel(channel)
	if sessionID.Valid {
		conv.SetupSessionID = &sessionID.String
	}
	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conv, nil
}

// SetConversationSession points a conversation at its active setup session,
// or clears the pointer when sessionID is nil.
func (s *SQLiteStore) SetConversationSession(ctx context.Context, conversationID string, sessionID *string) error {
	query := `UPDATE conversations SET setup_session_id = ?, updated_at = ? WHERE id = ?`

	var sid any
	if sessionID != nil {
		sid = *sessionID
	}

	result, err := s.db.ExecContext(ctx, query, sid, time.Now().UTC().Format(time.RFC3339), conversationID)
	if err != nil {
		return fmt.Errorf("updating conversation session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveMessage appends a message to a conversation's history.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, role, text, provider_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Role,
		msg.Text,
		nullString(msg.ProviderMessageID),
		msg.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"role", msg.Role,
	)
	return nil
}

// GetConversationMessages retrieves the most recent `limit` messages for a
// conversation, returned in chronological order (oldest first).
// If limit is 0 or negative, all messages are returned.
func (s *SQLiteStore) GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	var query string
	var args []any

	if limit > 0 {
		// Get the N most recent messages, but return them in chronological order
		query = `
			SELECT id, conversation_id, role, text, provider_message_id, created_at
			FROM (
				SELECT id, conversation_id, role, text, provider_message_id, created_at
				FROM messages
				WHERE conversation_id = ?
				ORDER BY created_at DESC, id DESC
				LIMIT ?
			)
			ORDER BY created_at ASC, id ASC
		`
		args = []any{conversationID, limit}
	} else {
		query = `
			SELECT id, conversation_id, role, text, provider_message_id, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at ASC, id ASC
		`
		args = []any{conversationID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var providerID sql.NullString
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Text, &providerID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		if providerID.Valid {
			msg.ProviderMessageID = providerID.String
		}
		msg.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// CreateSetupSession inserts a new setup session record.
func (s *SQLiteStore) CreateSetupSession(ctx context.Context, session *SetupSession) error {
	fieldsJSON, err := json.Marshal(session.Fields)
	if err != nil {
		return fmt.Errorf("marshaling fields: %w", err)
	}

	query := `
		INSERT INTO setup_sessions (id, conversation_id, state, fields_json, retries, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		session.ID,
		session.ConversationID,
		session.State,
		string(fieldsJSON),
		session.Retries,
		session.CreatedAt.UTC().Format(time.RFC3339),
		session.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting setup session: %w", err)
	}

	s.logger.Debug("created setup session",
		"session_id", session.ID,
		"conversation_id", session.ConversationID,
		"state", session.State,
	)
	return nil
}

// GetSetupSession retrieves a setup session by ID.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSetupSession(ctx context.Context, id string) (*SetupSession, error) {
	query := `
		SELECT id, conversation_id, state, fields_json, retries, created_at, updated_at
		FROM setup_sessions
		WHERE id = ?
	`
	row := s.db.QueryRowContext(ctx, query, id)
	session, err := scanSetupSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return session, err
}

// UpdateSetupSession persists the session's state, fields, and retry count.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) UpdateSetupSession(ctx context.Context, session *SetupSession) error {
	fieldsJSON, err := json.Marshal(session.Fields)
	if err != nil {
		return fmt.Errorf("marshaling fields: %w", err)
	}

	query := `
		UPDATE setup_sessions
		SET state = ?, fields_json = ?, retries = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		session.State,
		string(fieldsJSON),
		session.Retries,
		session.UpdatedAt.UTC().Format(time.RFC3339),
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("updating setup session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStaleSetupSessions returns non-terminal sessions not updated since olderThan.
// Used by the background sweeper to abandon timed-out sessions.
func (s *SQLiteStore) ListStaleSetupSessions(ctx context.Context, olderThan time.Time) ([]*SetupSession, error) {
	query := `
		SELECT id, conversation_id, state, fields_json, retries, created_at, updated_at
		FROM setup_sessions
		WHERE state NOT IN ('complete', 'abandoned') AND updated_at < ?
		ORDER BY updated_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, olderThan.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("querying stale sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*SetupSession
	for rows.Next() {
		session, err := scanSetupSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

func scanSetupSession(row scanner) (*SetupSession, error) {
	var session SetupSession
	var fieldsJSON, createdAt, updatedAt string

	err := row.Scan(
		&session.ID,
		&session.ConversationID,
		&session.State,
		&fieldsJSON,
		&session.Retries,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("scanning setup session row: %w", err)
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &session.Fields); err != nil {
		return nil, fmt.Errorf("unmarshaling fields: %w", err)
	}
	if session.Fields == nil {
		session.Fields = make(map[string]string)
	}
	session.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	session.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &session, nil
}

// AppendLedgerEntry inserts an immutable ledger entry.
// Returns ErrDuplicateLedgerEntry if the (tenant, idempotency key) pair exists.
func (s *SQLiteStore) AppendLedgerEntry(ctx context.Context, entry *LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (id, tenant_id, delta, reason, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.TenantID,
		entry.Delta,
		entry.Reason,
		entry.IdempotencyKey,
		entry.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateLedgerEntry
		}
		return fmt.Errorf("inserting ledger entry: %w", err)
	}

	s.logger.Debug("appended ledger entry",
		"entry_id", entry.ID,
		"tenant_id", entry.TenantID,
		"delta", entry.Delta,
		"reason", entry.Reason,
	)
	return nil
}

// GetLedgerEntryByKey retrieves a ledger entry by its idempotency key.
// Returns ErrNotFound if no entry matches.
func (s *SQLiteStore) GetLedgerEntryByKey(ctx context.Context, tenantID, idempotencyKey string) (*LedgerEntry, error) {
	query := `
		SELECT id, tenant_id, delta, reason, idempotency_key, created_at
		FROM ledger_entries
		WHERE tenant_id = ? AND idempotency_key = ?
	`

	var entry LedgerEntry
	var createdAt string
	err := s.db.QueryRowContext(ctx, query, tenantID, idempotencyKey).Scan(
		&entry.ID,
		&entry.TenantID,
		&entry.Delta,
		&entry.Reason,
		&entry.IdempotencyKey,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying ledger entry: %w", err)
	}

	entry.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &entry, nil
}

// ListLedgerEntries returns the most recent ledger entries for a tenant,
// newest first. If limit is 0 or negative, all entries are returned.
func (s *SQLiteStore) ListLedgerEntries(ctx context.Context, tenantID string, limit int) ([]*LedgerEntry, error) {
	query := `
		SELECT id, tenant_id, delta, reason, idempotency_key, created_at
		FROM ledger_entries
		WHERE tenant_id = ?
		ORDER BY created_at DESC, id DESC
	`
	args := []any{tenantID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ledger entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*LedgerEntry
	for rows.Next() {
		var entry LedgerEntry
		var createdAt string
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.Delta, &entry.Reason, &entry.IdempotencyKey, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning ledger row: %w", err)
		}
		entry.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ledger rows: %w", err)
	}
	return entries, nil
}

// GetBalance returns the sum of all ledger deltas for a tenant.
// A tenant with no entries has balance zero.
func (s *SQLiteStore) GetBalance(ctx context.Context, tenantID string) (int64, error) {
	query := `SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE tenant_id = ?`

	var balance int64
	if err := s.db.QueryRowContext(ctx, query, tenantID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("querying balance: %w", err)
	}
	return balance, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
