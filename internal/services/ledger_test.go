package service

import (
	"sync"
	"testing"

	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_CreditDebit(t *testing.T) {
	f := newFixture(t)
	f.member(t, 1, "0")

	t.Run("credit records before and after", func(t *testing.T) {
		entry, err := f.ledger.Credit(f.ctx, 1, dec("50"), models.KindRecharge, "topup", "r-1")
		require.NoError(t, err)
		assert.True(t, entry.BalanceBefore.Equal(dec("0")))
		assert.True(t, entry.BalanceAfter.Equal(dec("50")))
		assert.Equal(t, "r-1", entry.RelatedOrderID)
		assert.NotEmpty(t, entry.ID)
	})

	t.Run("debit is negative and tracks spending", func(t *testing.T) {
		entry, err := f.ledger.Debit(f.ctx, 1, dec("20"), models.KindPurchase, "buy", "o-1")
		require.NoError(t, err)
		assert.True(t, entry.Amount.Equal(dec("-20")))
		assert.True(t, entry.BalanceAfter.Equal(dec("30")))

		u, err := f.db.Users().GetByID(f.ctx, 1)
		require.NoError(t, err)
		assert.True(t, u.TotalSpent.Equal(dec("20")))
	})

	t.Run("non-positive amounts", func(t *testing.T) {
		_, err := f.ledger.Credit(f.ctx, 1, dec("0"), models.KindAdmin, "x", "")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
		_, err = f.ledger.Debit(f.ctx, 1, dec("-5"), models.KindAdmin, "x", "")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
	})

	t.Run("no partial debit", func(t *testing.T) {
		_, err := f.ledger.Debit(f.ctx, 1, dec("30.01"), models.KindPurchase, "buy", "")
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)
		assert.True(t, f.balance(t, 1).Equal(dec("30")))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := f.ledger.Credit(f.ctx, 99, dec("1"), models.KindAdmin, "x", "")
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
	})

	f.requireBalanced(t, 1)
}

func TestLedger_InvalidatesBalanceCache(t *testing.T) {
	f := newFixture(t)
	f.member(t, 1, "10")

	_, err := f.members.GetBalance(f.ctx, 1)
	require.NoError(t, err)
	require.True(t, f.cache.Has(balanceCacheKey(1)))

	_, err = f.ledger.Credit(f.ctx, 1, dec("5"), models.KindAdmin, "bonus", "")
	require.NoError(t, err)
	assert.False(t, f.cache.Has(balanceCacheKey(1)))

	got, err := f.members.GetBalance(f.ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("15")))
}

func TestLedger_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	f.member(t, 1, "100")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Debit(f.ctx, 1, dec("10"), models.KindPurchase, "buy", "")
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, success)
	assert.True(t, f.balance(t, 1).IsZero())
	f.requireBalanced(t, 1)

	history, err := f.ledger.History(f.ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, history, 11)
}
