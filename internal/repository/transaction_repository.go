package repository

import (
	"context"

	"github.com/honeynil/ShopLedgerService/internal/models"
	"github.com/shopspring/decimal"
)

type TransactionRepository interface {
	// Append atomically applies entry.Amount to the user's balance and stores
	// the entry with BalanceBefore/BalanceAfter filled in. spentDelta is added
	// to the user's total_spent in the same transaction. A resulting negative
	// balance is refused with ErrInsufficientFunds.
	Append(ctx context.Context, entry *models.BalanceTransaction, spentDelta decimal.Decimal) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.BalanceTransaction, error)
	SumByUser(ctx context.Context, userID int64) (decimal.Decimal, error)
}
