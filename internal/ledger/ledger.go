// ABOUTME: Credit ledger with idempotent debits and grants over the append-only store
// ABOUTME: Per-tenant locking guarantees the balance never goes negative

package ledger

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

// ErrInsufficientCredits indicates a debit would drive the balance negative.
// Debits are rejected whole, never partially applied.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrInvalidAmount indicates a zero or negative amount was passed.
var ErrInvalidAmount = errors.New("amount must be positive")

// DefaultLowBalanceThreshold is the balance at or below which a debit is
// flagged as low, absent a configured threshold.
const DefaultLowBalanceThreshold = 50

// DebitResult reports an applied (or replayed) debit together with the
// resulting balance, so callers can warn the tenant before credits run out.
type DebitResult struct {
	Entry      *store.LedgerEntry
	Balance    int64
	LowBalance bool
}

// Ledger applies credit movements for tenants. All mutations go through
// the store's unique (tenant, idempotency key) constraint, so replays of
// the same operation are absorbed rather than double-applied.
type Ledger struct {
	store      store.Store
	logger     *slog.Logger
	lowBalance int64

	mu      sync.Mutex
	tenants map[string]*sync.Mutex
}

// New creates a Ledger backed by the given store, using the default
// low-balance threshold.
func New(st store.Store, logger *slog.Logger) *Ledger {
	return NewWithThreshold(st, logger, DefaultLowBalanceThreshold)
}

// NewWithThreshold creates a Ledger with an explicit low-balance threshold.
// A non-positive threshold falls back to the default.
func NewWithThreshold(st store.Store, logger *slog.Logger, threshold int64) *Ledger {
	if threshold <= 0 {
		threshold = DefaultLowBalanceThreshold
	}
	return &Ledger{
		store:      st,
		logger:     logger.With("component", "ledger"),
		lowBalance: threshold,
		tenants:    make(map[string]*sync.Mutex),
	}
}

// tenantLock returns the mutex serializing movements for one tenant.
func (l *Ledger) tenantLock(tenantID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.tenants[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		l.tenants[tenantID] = lock
	}
	return lock
}

// Debit removes amount credits from a tenant. The idempotency key makes
// retries safe: a key that was already applied returns the original entry
// with no further effect. Returns ErrInsufficientCredits when the balance
// cannot cover the full amount.
func (l *Ledger) Debit(ctx context.Context, tenantID string, amount int64, reason, idempotencyKey string) (*DebitResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	lock := l.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	if existing, err := l.store.GetLedgerEntryByKey(ctx, tenantID, idempotencyKey); err == nil {
		return l.debitResult(ctx, tenantID, existing)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking idempotency key: %w", err)
	}

	balance, err := l.store.GetBalance(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("reading balance: %w", err)
	}
	if balance < amount {
		l.logger.Warn("debit rejected",
			"tenant_id", tenantID,
			"amount", amount,
			"balance", balance,
			"reason", reason,
		)
		return nil, ErrInsufficientCredits
	}

	entry := &store.LedgerEntry{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		Delta:          -amount,
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}
	if err := l.store.AppendLedgerEntry(ctx, entry); err != nil {
		if errors.Is(err, store.ErrDuplicateLedgerEntry) {
			// Lost a race with another writer holding the same key.
			existing, getErr := l.store.GetLedgerEntryByKey(ctx, tenantID, idempotencyKey)
			if getErr != nil {
				return nil, fmt.Errorf("loading racing debit: %w", getErr)
			}
			return l.debitResult(ctx, tenantID, existing)
		}
		return nil, fmt.Errorf("appending debit: %w", err)
	}

	remaining := balance - amount
	if remaining <= l.lowBalance {
		l.logger.Warn("tenant balance low", "tenant_id", tenantID, "balance", remaining)
	}
	l.logger.Debug("debit applied", "tenant_id", tenantID, "amount", amount, "balance", remaining, "reason", reason)
	return &DebitResult{Entry: entry, Balance: remaining, LowBalance: remaining <= l.lowBalance}, nil
}

// debitResult wraps an already-applied entry with the current balance.
func (l *Ledger) debitResult(ctx context.Context, tenantID string, entry *store.LedgerEntry) (*DebitResult, error) {
	balance, err := l.store.GetBalance(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("reading balance: %w", err)
	}
	return &DebitResult{Entry: entry, Balance: balance, LowBalance: balance <= l.lowBalance}, nil
}

// Credit adds amount credits to a tenant. Idempotent under the same key.
// Used for purchases, welcome grants, and compensating refunds.
func (l *Ledger) Credit(ctx context.Context, tenantID string, amount int64, reason, idempotencyKey string) (*store.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	lock := l.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	if existing, err := l.store.GetLedgerEntryByKey(ctx, tenantID, idempotencyKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking idempotency key: %w", err)
	}

	entry := &store.LedgerEntry{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		Delta:          amount,
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}
	if err := l.store.AppendLedgerEntry(ctx, entry); err != nil {
		if errors.Is(err, store.ErrDuplicateLedgerEntry) {
			return l.store.GetLedgerEntryByKey(ctx, tenantID, idempotencyKey)
		}
		return nil, fmt.Errorf("appending credit: %w", err)
	}

	l.logger.Debug("credit applied", "tenant_id", tenantID, "amount", amount, "reason", reason)
	return entry, nil
}

// Refund issues a compensating credit for a previously applied debit.
// The refund key is derived from the debit key, so a debit can be
// compensated at most once.
func (l *Ledger) Refund(ctx context.Context, tenantID string, amount int64, reason, debitKey string) (*store.LedgerEntry, error) {
	return l.Credit(ctx, tenantID, amount, reason, "refund:"+debitKey)
}

// Balance returns the tenant's current balance as the sum over ledger entries.
func (l *Ledger) Balance(ctx context.Context, tenantID string) (int64, error) {
	return l.store.GetBalance(ctx, tenantID)
}

// Transactions returns the tenant's most recent ledger entries, newest first.
func (l *Ledger) Transactions(ctx context.Context, tenantID string, limit int) ([]*store.LedgerEntry, error) {
	return l.store.ListLedgerEntries(ctx, tenantID, limit)
}
