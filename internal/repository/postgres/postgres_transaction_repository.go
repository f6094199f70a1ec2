package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/ShopLedgerService/internal/infrastructure/observability"
	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const transactionTracer = "transaction-repository"

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Append locks the user row, applies the entry amount and inserts the entry in
// a single database transaction.
func (r *TransactionRepository) Append(ctx context.Context, entry *models.BalanceTransaction, spentDelta decimal.Decimal) (err error) {
	if entry == nil {
		slog.Error("failed to append transaction", "method", "Append", "error", pkgerrors.ErrNilTransaction)
		return pkgerrors.ErrNilTransaction
	}
	if !entry.Kind.Valid() {
		slog.Error("invalid transaction kind", "method", "Append", "kind", entry.Kind)
		return pkgerrors.ErrInvalidTransactionKind
	}

	ctx, done := observability.StartCall(ctx, transactionTracer, "AppendTransaction",
		attribute.Int64("user_id", entry.UserID),
		attribute.String("kind", string(entry.Kind)),
		attribute.String("amount", entry.Amount.String()),
	)
	defer func() { done(err) }()

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Append", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	var balance decimal.Decimal
	err = dbTx.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, entry.UserID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		err = rollback(dbTx, "Append", pkgerrors.ErrUserNotFound)
		return err
	}
	if err != nil {
		err = rollback(dbTx, "Append", fmt.Errorf("failed to lock balance: %w", err))
		return err
	}

	after := balance.Add(entry.Amount)
	if after.IsNegative() {
		err = rollback(dbTx, "Append", pkgerrors.ErrInsufficientFunds)
		return err
	}

	_, err = dbTx.ExecContext(ctx,
		`UPDATE users SET balance = $1, total_spent = total_spent + $2 WHERE id = $3`,
		after, spentDelta, entry.UserID,
	)
	if err != nil {
		err = rollback(dbTx, "Append", fmt.Errorf("failed to update balance: %w", err))
		return err
	}

	query := `INSERT INTO balance_transactions (id, user_id, amount, balance_before, balance_after, kind, reason, related_order_id) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`
	err = dbTx.QueryRowContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.Amount,
		balance,
		after,
		entry.Kind,
		entry.Reason,
		nullString(entry.RelatedOrderID),
	).Scan(&entry.CreatedAt)
	if err != nil {
		slog.Error("failed to insert transaction", "method", "Append", "user_id", entry.UserID, "kind", entry.Kind, "error", err)
		err = rollback(dbTx, "Append", fmt.Errorf("failed to insert transaction: %w", err))
		return err
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Append", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	entry.BalanceBefore = balance
	entry.BalanceAfter = after
	slog.Info("balance transaction appended", "method", "Append", "id", entry.ID, "user_id", entry.UserID, "kind", entry.Kind, "amount", entry.Amount.String(), "balance_after", after.String())
	return nil
}

func (r *TransactionRepository) ListByUser(ctx context.Context, userID int64, limit int) (_ []models.BalanceTransaction, err error) {
	ctx, done := observability.StartCall(ctx, transactionTracer, "ListTransactionsByUser", attribute.Int64("user_id", userID))
	defer func() { done(err) }()

	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, user_id, amount, balance_before, balance_after, kind, reason, related_order_id, created_at FROM balance_transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		slog.Error("failed to list transactions", "method", "ListByUser", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []models.BalanceTransaction
	for rows.Next() {
		var (
			tx      models.BalanceTransaction
			related sql.NullString
		)
		if err = rows.Scan(&tx.ID, &tx.UserID, &tx.Amount, &tx.BalanceBefore, &tx.BalanceAfter, &tx.Kind, &tx.Reason, &related, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.RelatedOrderID = related.String
		out = append(out, tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return out, nil
}

func (r *TransactionRepository) SumByUser(ctx context.Context, userID int64) (_ decimal.Decimal, err error) {
	ctx, done := observability.StartCall(ctx, transactionTracer, "SumTransactionsByUser", attribute.Int64("user_id", userID))
	defer func() { done(err) }()

	var sum decimal.Decimal
	err = r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM balance_transactions WHERE user_id = $1`, userID).Scan(&sum)
	if err != nil {
		slog.Error("failed to sum transactions", "method", "SumByUser", "user_id", userID, "error", err)
		return decimal.Zero, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sum, nil
}
