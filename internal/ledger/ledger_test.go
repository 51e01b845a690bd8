package ledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"balance-service/internal/errors"
	"balance-service/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(t *testing.T) (*Ledger, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	return New(mem, "balances.json", testLogger()), mem
}

func TestGetBalanceUnknownSubjectIsZero(t *testing.T) {
	l, mem := newTestLedger(t)

	balance, err := l.GetBalance(context.Background(), "123")
	require.NoError(t, err)
	assert.Zero(t, balance)

	// Reading alone never persists the lazily-created account.
	assert.Zero(t, mem.Writes())
}

func TestApplyAdjustmentCreditAndDebit(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	balance, err := l.ApplyAdjustment(ctx, "123", 10000, "deposit")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), balance)

	balance, err = l.ApplyAdjustment(ctx, "123", -4000, "withdraw")
	require.NoError(t, err)
	assert.Equal(t, int64(6000), balance)

	stored, err := l.GetBalance(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, int64(6000), stored)
}

func TestApplyAdjustmentInsufficientFundsWritesNothing(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ApplyAdjustment(ctx, "123", 500, "deposit")
	require.NoError(t, err)
	writesBefore := mem.Writes()

	_, err = l.ApplyAdjustment(ctx, "123", -501, "overdraw")
	require.Error(t, err)
	assert.Equal(t, errors.InsufficientFunds, errors.Code(err))
	assert.Contains(t, err.Error(), "short 1")

	assert.Equal(t, writesBefore, mem.Writes(), "rejected debit must not reach the store")

	balance, err := l.GetBalance(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
}

func TestApplyAdjustmentRetriesOnConflict(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ApplyAdjustment(ctx, "123", 1000, "deposit")
	require.NoError(t, err)

	mem.ForceConflicts("balances.json", 2)
	balance, err := l.ApplyAdjustment(ctx, "123", -300, "withdraw")
	require.NoError(t, err)
	assert.Equal(t, int64(700), balance)
}

func TestApplyAdjustmentSurfacesConflictAfterExhaustion(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ApplyAdjustment(ctx, "123", 1000, "deposit")
	require.NoError(t, err)

	mem.ForceConflicts("balances.json", casAttempts)
	_, err = l.ApplyAdjustment(ctx, "123", -300, "withdraw")
	require.Error(t, err)
	assert.Equal(t, errors.StoreConflict, errors.Code(err))
}

func TestApplySplitDebitsAndCreditsFromOneSnapshot(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ApplyAdjustment(ctx, "buyer", 5000, "deposit")
	require.NoError(t, err)
	writesBefore := mem.Writes()

	newDebit, newCredit, err := l.ApplySplit(ctx, "buyer", 5000, "owner", 2500, "premium")
	require.NoError(t, err)
	assert.Equal(t, int64(0), newDebit)
	assert.Equal(t, int64(2500), newCredit)

	// Debit and credit land in a single store write.
	assert.Equal(t, writesBefore+1, mem.Writes())

	// The split is not a closed transfer: 2500 is consumed by the platform.
	buyerBalance, _ := l.GetBalance(ctx, "buyer")
	ownerBalance, _ := l.GetBalance(ctx, "owner")
	assert.Equal(t, int64(2500), buyerBalance+ownerBalance)
}

func TestApplySplitSkipsCreditForSelfOrAbsentOwner(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ApplyAdjustment(ctx, "buyer", 12000, "deposit")
	require.NoError(t, err)

	newDebit, newCredit, err := l.ApplySplit(ctx, "buyer", 5000, "buyer", 2500, "self")
	require.NoError(t, err)
	assert.Equal(t, int64(7000), newDebit)
	assert.Zero(t, newCredit)

	newDebit, newCredit, err = l.ApplySplit(ctx, "buyer", 5000, "", 2500, "no owner")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), newDebit)
	assert.Zero(t, newCredit)
}

func TestApplySplitInsufficientFunds(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ApplyAdjustment(ctx, "buyer", 3000, "deposit")
	require.NoError(t, err)

	_, _, err = l.ApplySplit(ctx, "buyer", 5000, "owner", 2500, "premium")
	require.Error(t, err)
	assert.Equal(t, errors.InsufficientFunds, errors.Code(err))
	assert.Contains(t, err.Error(), "short 2000")

	ownerBalance, _ := l.GetBalance(ctx, "owner")
	assert.Zero(t, ownerBalance)
}

// Two concurrent debits that are individually covered but not jointly must
// end with exactly one success: the CAS loser re-reads and re-validates
// funds against the fresh snapshot.
func TestConcurrentDebitsAtMostOneSuccess(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ApplyAdjustment(ctx, "123", 700, "deposit")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = l.ApplyAdjustment(ctx, "123", -500, "withdraw")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		} else {
			assert.Equal(t, errors.InsufficientFunds, errors.Code(err))
		}
	}
	assert.Equal(t, 1, successes)

	balance, err := l.GetBalance(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, int64(200), balance)
	assert.GreaterOrEqual(t, balance, int64(0))
}

func TestBalancesStayNonNegativeAcrossSequences(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	deltas := []int64{500, -200, -400, 1000, -900, -100, -1}
	for _, delta := range deltas {
		l.ApplyAdjustment(ctx, "123", delta, "step")

		balance, err := l.GetBalance(ctx, "123")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, balance, int64(0))
	}
}

func TestCorruptBalanceDocumentRejected(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, mem.Write(ctx, "balances.json", []byte("not json"), "", "corrupt"))

	l := New(mem, "balances.json", testLogger())
	_, err := l.GetBalance(ctx, "123")
	require.Error(t, err)
	assert.Equal(t, errors.InternalError, errors.Code(err))
}
