package memory

import (
	"context"

	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/shopspring/decimal"
)

type TransactionRepository struct {
	db *DB
}

func (r *TransactionRepository) Append(_ context.Context, entry *models.BalanceTransaction, spentDelta decimal.Decimal) error {
	if entry == nil {
		return pkgerrors.ErrNilTransaction
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	u, ok := r.db.users[entry.UserID]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	after := u.Balance.Add(entry.Amount)
	if after.IsNegative() {
		return pkgerrors.ErrInsufficientFunds
	}

	entry.BalanceBefore = u.Balance
	entry.BalanceAfter = after
	u.Balance = after
	u.TotalSpent = u.TotalSpent.Add(spentDelta)
	r.db.transactions = append(r.db.transactions, *entry)
	return nil
}

// ListByUser returns the newest entries first.
func (r *TransactionRepository) ListByUser(_ context.Context, userID int64, limit int) ([]models.BalanceTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var out []models.BalanceTransaction
	for i := len(r.db.transactions) - 1; i >= 0; i-- {
		if r.db.transactions[i].UserID != userID {
			continue
		}
		out = append(out, r.db.transactions[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *TransactionRepository) SumByUser(_ context.Context, userID int64) (decimal.Decimal, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	sum := decimal.Zero
	for _, tx := range r.db.transactions {
		if tx.UserID == userID {
			sum = sum.Add(tx.Amount)
		}
	}
	return sum, nil
}
