package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/ShopLedgerService/internal/infrastructure/observability"
	"github.com/honeynil/ShopLedgerService/internal/infrastructure/redis"
	"github.com/honeynil/ShopLedgerService/internal/locker"
	"github.com/honeynil/ShopLedgerService/internal/models"
	"github.com/honeynil/ShopLedgerService/internal/repository"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Ledger owns every balance mutation. Each entry records the balance before
// and after, so the balance always equals the sum of the user's entries.
type Ledger struct {
	users        repository.UserRepository
	transactions repository.TransactionRepository
	locks        locker.Locker
	cache        redis.RedisClient
	now          func() time.Time
}

func NewLedger(users repository.UserRepository, transactions repository.TransactionRepository, locks locker.Locker, cache redis.RedisClient) *Ledger {
	return &Ledger{
		users:        users,
		transactions: transactions,
		locks:        locks,
		cache:        cache,
		now:          time.Now,
	}
}

func (l *Ledger) Credit(ctx context.Context, userID int64, amount decimal.Decimal, kind models.TransactionKind, reason, relatedOrderID string) (*models.BalanceTransaction, error) {
	return l.locked(ctx, "Credit", userID, amount, kind, reason, relatedOrderID)
}

func (l *Ledger) Debit(ctx context.Context, userID int64, amount decimal.Decimal, kind models.TransactionKind, reason, relatedOrderID string) (*models.BalanceTransaction, error) {
	return l.locked(ctx, "Debit", userID, amount.Neg(), kind, reason, relatedOrderID)
}

func (l *Ledger) locked(ctx context.Context, op string, userID int64, signed decimal.Decimal, kind models.TransactionKind, reason, relatedOrderID string) (*models.BalanceTransaction, error) {
	tracer := otel.Tracer("ledger")
	ctx, span := tracer.Start(ctx, op)
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.String("kind", string(kind)))
	defer span.End()

	if (op == "Credit" && !signed.IsPositive()) || (op == "Debit" && !signed.IsNegative()) {
		span.SetStatus(codes.Error, "invalid amount")
		return nil, pkgerrors.ErrInvalidAmount
	}

	unlock, err := l.locks.Lock(ctx, userLockKey(userID))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer unlock()

	entry, err := l.apply(ctx, userID, signed, kind, reason, relatedOrderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return entry, nil
}

// apply appends a signed entry. The caller must hold the user lock.
func (l *Ledger) apply(ctx context.Context, userID int64, signed decimal.Decimal, kind models.TransactionKind, reason, relatedOrderID string) (*models.BalanceTransaction, error) {
	entry := &models.BalanceTransaction{
		ID:             uuid.NewString(),
		UserID:         userID,
		Amount:         signed,
		Kind:           kind,
		Reason:         reason,
		RelatedOrderID: relatedOrderID,
		CreatedAt:      l.now(),
	}
	spent := decimal.Zero
	if signed.IsNegative() {
		spent = signed.Neg()
	}

	if err := l.transactions.Append(ctx, entry, spent); err != nil {
		observability.LedgerEntries.WithLabelValues(string(kind), "error").Inc()
		if errors.Is(err, pkgerrors.ErrInsufficientFunds) || errors.Is(err, pkgerrors.ErrUserNotFound) {
			slog.Warn("ledger entry refused", "user_id", userID, "kind", kind, "amount", signed.String(), "error", err)
			return nil, err
		}
		slog.Error("failed to append ledger entry", "user_id", userID, "kind", kind, "error", err)
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	observability.LedgerEntries.WithLabelValues(string(kind), "success").Inc()

	l.invalidate(ctx, userID)
	slog.Info("ledger entry applied",
		"user_id", userID,
		"kind", kind,
		"amount", signed.String(),
		"balance_after", entry.BalanceAfter.String(),
		"related_order_id", relatedOrderID)
	return entry, nil
}

func (l *Ledger) invalidate(ctx context.Context, userID int64) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Del(ctx, balanceCacheKey(userID)); err != nil {
		slog.Warn("failed to invalidate balance cache", "user_id", userID, "error", err)
	}
}

func (l *Ledger) History(ctx context.Context, userID int64, limit int) ([]models.BalanceTransaction, error) {
	return l.transactions.ListByUser(ctx, userID, limit)
}

// Audit returns the stored balance and the sum of the user's entries. They
// are equal unless something wrote the balance outside the ledger.
func (l *Ledger) Audit(ctx context.Context, userID int64) (balance, sum decimal.Decimal, err error) {
	user, err := l.users.GetByID(ctx, userID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	sum, err = l.transactions.SumByUser(ctx, userID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if !user.Balance.Equal(sum) {
		slog.Error("ledger audit mismatch", "user_id", userID, "balance", user.Balance.String(), "sum", sum.String())
	}
	return user.Balance, sum, nil
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
