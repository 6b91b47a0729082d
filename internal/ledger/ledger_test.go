// ABOUTME: Tests for the credit ledger
// ABOUTME: Covers idempotent debits and credits, rejection on insufficient balance, and refunds

package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jiouk/alfred-ai-agent/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	return New(st, slog.Default()), st
}

func TestLedger_CreditAndBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Credit(ctx, "tenant-1", 100, "purchase", "checkout-1")
	require.NoError(t, err)

	balance, err := l.Balance(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestLedger_CreditIdempotent(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	first, err := l.Credit(ctx, "tenant-1", 100, "purchase", "checkout-1")
	require.NoError(t, err)

	second, err := l.Credit(ctx, "tenant-1", 100, "purchase", "checkout-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	balance, err := l.Balance(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestLedger_DebitIdempotent(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Credit(ctx, "tenant-1", 10, "grant", "grant-1")
	require.NoError(t, err)

	first, err := l.Debit(ctx, "tenant-1", 3, "turn", "msg-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), first.Balance)

	// Re-delivery of the same message must not double-charge.
	second, err := l.Debit(ctx, "tenant-1", 3, "turn", "msg-1")
	require.NoError(t, err)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	assert.Equal(t, int64(7), second.Balance)

	balance, err := l.Balance(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), balance)
}

func TestLedger_DebitReportsLowBalance(t *testing.T) {
	st := store.NewMemoryStore()
	l := NewWithThreshold(st, slog.Default(), 5)
	ctx := context.Background()

	_, err := l.Credit(ctx, "tenant-1", 10, "grant", "grant-1")
	require.NoError(t, err)

	res, err := l.Debit(ctx, "tenant-1", 4, "turn", "msg-1")
	require.NoError(t, err)
	assert.False(t, res.LowBalance)
	assert.Equal(t, int64(6), res.Balance)

	// Crossing the threshold flips the flag.
	res, err = l.Debit(ctx, "tenant-1", 1, "turn", "msg-2")
	require.NoError(t, err)
	assert.True(t, res.LowBalance)
	assert.Equal(t, int64(5), res.Balance)

	// A replayed debit reports the current balance, flag included.
	res, err = l.Debit(ctx, "tenant-1", 1, "turn", "msg-2")
	require.NoError(t, err)
	assert.True(t, res.LowBalance)
	assert.Equal(t, int64(5), res.Balance)
}

func TestLedger_ThresholdDefaulting(t *testing.T) {
	st := store.NewMemoryStore()
	l := NewWithThreshold(st, slog.Default(), 0)
	assert.Equal(t, int64(DefaultLowBalanceThreshold), l.lowBalance)
}

func TestLedger_DebitInsufficient(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Credit(ctx, "tenant-1", 2, "grant", "grant-1")
	require.NoError(t, err)

	// A debit that exceeds the balance is rejected whole, not clamped.
	_, err = l.Debit(ctx, "tenant-1", 3, "turn", "msg-1")
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	balance, err := l.Balance(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance)
}

func TestLedger_DebitZeroBalance(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Debit(context.Background(), "tenant-1", 1, "turn", "msg-1")
	assert.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestLedger_InvalidAmounts(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Debit(ctx, "tenant-1", 0, "turn", "msg-1")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = l.Debit(ctx, "tenant-1", -5, "turn", "msg-2")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = l.Credit(ctx, "tenant-1", 0, "grant", "grant-1")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLedger_RefundCompensatesOnce(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Credit(ctx, "tenant-1", 10, "grant", "grant-1")
	require.NoError(t, err)
	_, err = l.Debit(ctx, "tenant-1", 4, "turn", "msg-1")
	require.NoError(t, err)

	_, err = l.Refund(ctx, "tenant-1", 4, "runtime failure", "msg-1")
	require.NoError(t, err)

	// A second refund for the same debit is absorbed.
	_, err = l.Refund(ctx, "tenant-1", 4, "runtime failure", "msg-1")
	require.NoError(t, err)

	balance, err := l.Balance(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

func TestLedger_ConcurrentDebitsNeverOverspend(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Credit(ctx, "tenant-1", 10, "grant", "grant-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Debit(ctx, "tenant-1", 1, "turn", fmt.Sprintf("msg-%d", i))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var applied, rejected int
	for err := range results {
		if err == nil {
			applied++
		} else {
			require.ErrorIs(t, err, ErrInsufficientCredits)
			rejected++
		}
	}
	assert.Equal(t, 10, applied)
	assert.Equal(t, 10, rejected)

	balance, err := l.Balance(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestLedger_Transactions(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Credit(ctx, "tenant-1", 50, "grant", "grant-1")
	require.NoError(t, err)
	_, err = l.Debit(ctx, "tenant-1", 1, "turn", "msg-1")
	require.NoError(t, err)

	entries, err := l.Transactions(ctx, "tenant-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(-1), entries[0].Delta)
	assert.Equal(t, int64(50), entries[1].Delta)
}
