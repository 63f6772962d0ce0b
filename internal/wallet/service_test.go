package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() (*Service, *MemoryStore) {
	store := NewMemoryStore()
	return NewService(store, nil), store
}

func TestService_RejectsInvalidArgs(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Debit(ctx, "", 100, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = svc.Debit(ctx, "org", 0, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = svc.Credit(ctx, "org", -5, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = svc.GetBalance(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestService_GetBalanceCreatesWalletLazily(t *testing.T) {
	svc, _ := newTestService()
	bal, err := svc.GetBalance(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.BalanceMinor)
	assert.False(t, bal.IsFrozen)
}

func TestService_DebitWithoutWalletIsNotFound(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Debit(context.Background(), "org-1", 100, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_CreditThenDebit(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	res, err := svc.Credit(ctx, "org-1", 1000, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.BalanceAfter)
	assert.Equal(t, KindCredit, res.Transaction.Kind)

	res, err = svc.Debit(ctx, "org-1", 300, "send-1")
	require.NoError(t, err)
	assert.Equal(t, int64(700), res.BalanceAfter)
	assert.Equal(t, int64(-300), res.Transaction.AmountMinor)

	_, err = svc.Debit(ctx, "org-1", 701, "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	bal, err := svc.GetBalance(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(700), bal.BalanceMinor)
}

func TestService_CreditIsIdempotentByReference(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Credit(ctx, "org-1", 500, "PAY-123")
	require.NoError(t, err)
	second, err := svc.Credit(ctx, "org-1", 500, "PAY-123")
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, int64(500), second.BalanceAfter)

	txns, err := svc.ListTransactions(ctx, "org-1", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestService_SameReferenceDifferentKindIsNotDuplicate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, "org-1", 500, "ref")
	require.NoError(t, err)
	res, err := svc.Debit(ctx, "org-1", 200, "ref")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, int64(300), res.BalanceAfter)
}

func TestService_FrozenWalletRejectsDebitButAcceptsCredit(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, "org-1", 1000, "")
	require.NoError(t, err)
	bal, err := svc.Freeze(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, bal.IsFrozen)

	_, err = svc.Debit(ctx, "org-1", 1, "")
	assert.ErrorIs(t, err, ErrFrozen)

	res, err := svc.Credit(ctx, "org-1", 50, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1050), res.BalanceAfter)

	bal, err = svc.Unfreeze(ctx, "org-1")
	require.NoError(t, err)
	assert.False(t, bal.IsFrozen)

	_, err = svc.Debit(ctx, "org-1", 1, "")
	assert.NoError(t, err)
}

func TestService_FreezeIsIdempotent(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		bal, err := svc.Freeze(ctx, "org-1")
		require.NoError(t, err)
		assert.True(t, bal.IsFrozen)
	}
}

func TestService_NegativeBalanceHaltsDebits(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	store.Seed(Wallet{OrganizationID: "org-1", BalanceMinor: -10})

	_, err := svc.Debit(ctx, "org-1", 1, "")
	assert.ErrorIs(t, err, ErrLedgerCorrupted)

	// A credit that makes the balance positive is applied.
	_, err = svc.Credit(ctx, "org-1", 100, "")
	require.NoError(t, err)
	_, err = svc.Debit(ctx, "org-1", 1, "")
	assert.NoError(t, err)
}

func TestService_ConcurrentDebitsAreLinearizable(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, "org-1", 100000, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Debit(ctx, "org-1", 30000, "")
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 1, insufficient)

	bal, err := svc.GetBalance(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), bal.BalanceMinor)
}

func TestService_BalanceNeverNegativeUnderMixedLoad(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	_, err := svc.Credit(ctx, "org-1", 500, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.Debit(ctx, "org-1", 70, "")
		}()
		go func() {
			defer wg.Done()
			_, _ = svc.Credit(ctx, "org-1", 10, "")
		}()
	}
	wg.Wait()

	w, err := store.Get(ctx, "org-1", false)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, w.BalanceMinor, int64(0))

	txns, err := svc.ListTransactions(ctx, "org-1", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	var sum int64
	for _, tx := range txns {
		sum += tx.AmountMinor
	}
	assert.Equal(t, w.BalanceMinor, sum)
}
