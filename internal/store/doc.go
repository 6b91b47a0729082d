// Package store provides persistent storage for the orchestration core using SQLite.
//
// # Data Models
//
//   - Tenant: paying account; its balance is a projection over ledger entries
//   - BotInstance: a tenant's credential binding to one channel (credential
//     is stored encrypted)
//   - Conversation: thread keyed by (tenant, channel, participant)
//   - Message: append-only conversation history (user/assistant)
//   - SetupSession: state-machine instance for zero-dashboard configuration
//   - LedgerEntry: immutable credit movement with an idempotency key
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateConversation: Conversation key already exists
//   - ErrDuplicateLedgerEntry: Idempotency key already applied
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMemoryStore() for unit tests of higher layers, or
// NewSQLiteStore(":memory:") for integration tests with real SQLite.
package store
