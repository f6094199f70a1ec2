package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/infrastructure/observability"
	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const rechargeTracer = "recharge-repository"

const rechargeColumns = `id, user_id, amount, bonus_amount, payment_method, payment_order_id, status, activity_id, created_at, paid_at, expires_at`

type RechargeRepository struct {
	db *sql.DB
}

func NewRechargeRepository(db *sql.DB) *RechargeRepository {
	return &RechargeRepository{db: db}
}

func (r *RechargeRepository) Create(ctx context.Context, rec *models.RechargeRecord) (err error) {
	if rec == nil {
		return pkgerrors.ErrInvalidInput
	}
	ctx, done := observability.StartCall(ctx, rechargeTracer, "CreateRecharge",
		attribute.String("recharge_id", rec.ID),
		attribute.Int64("user_id", rec.UserID),
	)
	defer func() { done(err) }()

	query := `INSERT INTO recharge_records (id, user_id, amount, bonus_amount, payment_method, payment_order_id, status, activity_id, created_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID,
		rec.UserID,
		rec.Amount,
		rec.BonusAmount,
		rec.PaymentMethod,
		nullString(rec.PaymentOrderID),
		rec.Status,
		nullInt64(rec.ActivityID),
		rec.CreatedAt,
		rec.ExpiresAt,
	)
	if err != nil {
		slog.Error("failed to create recharge record", "method", "Create", "recharge_id", rec.ID, "error", err)
		return fmt.Errorf("failed to create recharge record: %w", err)
	}

	slog.Info("recharge record created", "method", "Create", "recharge_id", rec.ID, "user_id", rec.UserID, "amount", rec.Amount.String())
	return nil
}

func (r *RechargeRepository) GetByID(ctx context.Context, id string) (_ *models.RechargeRecord, err error) {
	ctx, done := observability.StartCall(ctx, rechargeTracer, "GetRechargeByID", attribute.String("recharge_id", id))
	defer func() { done(err) }()

	rows, err := r.db.QueryContext(ctx, `SELECT `+rechargeColumns+` FROM recharge_records WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get recharge record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to get recharge record: %w", err)
		}
		err = pkgerrors.ErrRecordNotFound
		return nil, err
	}
	rec, err := scanRecharge(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan recharge record: %w", err)
	}
	return rec, nil
}

func (r *RechargeRepository) SetPaymentOrderID(ctx context.Context, id, paymentOrderID string) (err error) {
	ctx, done := observability.StartCall(ctx, rechargeTracer, "SetRechargePaymentOrderID", attribute.String("recharge_id", id))
	defer func() { done(err) }()

	res, err := r.db.ExecContext(ctx, `UPDATE recharge_records SET payment_order_id = $1 WHERE id = $2`, paymentOrderID, id)
	if err != nil {
		return fmt.Errorf("failed to set payment order id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = pkgerrors.ErrRecordNotFound
		return err
	}
	return nil
}

func (r *RechargeRepository) MarkPaid(ctx context.Context, id, paymentOrderID string, paidAt time.Time) (err error) {
	ctx, done := observability.StartCall(ctx, rechargeTracer, "MarkRechargePaid", attribute.String("recharge_id", id))
	defer func() { done(err) }()

	query := `UPDATE recharge_records SET status = 'paid', paid_at = $1, payment_order_id = COALESCE($2, payment_order_id) WHERE id = $3 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, paidAt, nullString(paymentOrderID), id)
	if err != nil {
		slog.Error("failed to mark recharge paid", "method", "MarkPaid", "recharge_id", id, "error", err)
		return fmt.Errorf("failed to mark recharge paid: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

func (r *RechargeRepository) UpdateStatus(ctx context.Context, id string, status models.RechargeStatus) (err error) {
	ctx, done := observability.StartCall(ctx, rechargeTracer, "UpdateRechargeStatus",
		attribute.String("recharge_id", id),
		attribute.String("status", string(status)),
	)
	defer func() { done(err) }()

	res, err := r.db.ExecContext(ctx, `UPDATE recharge_records SET status = $1 WHERE id = $2 AND status = 'pending'`, status, id)
	if err != nil {
		slog.Error("failed to update recharge status", "method", "UpdateStatus", "recharge_id", id, "error", err)
		return fmt.Errorf("failed to update recharge status: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

func (r *RechargeRepository) Revert(ctx context.Context, id, paymentOrderID string) (err error) {
	ctx, done := observability.StartCall(ctx, rechargeTracer, "RevertRecharge", attribute.String("recharge_id", id))
	defer func() { done(err) }()

	query := `UPDATE recharge_records SET status = 'pending', paid_at = NULL, payment_order_id = $1 WHERE id = $2 AND status = 'paid'`
	_, err = r.db.ExecContext(ctx, query, nullString(paymentOrderID), id)
	if err != nil {
		slog.Error("failed to revert recharge", "method", "Revert", "recharge_id", id, "error", err)
		return fmt.Errorf("failed to revert recharge: %w", err)
	}
	slog.Warn("recharge reverted to pending", "method", "Revert", "recharge_id", id)
	return nil
}

// checkTransition tells a lost compare-and-set from a missing row.
func (r *RechargeRepository) checkTransition(ctx context.Context, res sql.Result, id string) error {
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM recharge_records WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check recharge record: %w", err)
	}
	if !exists {
		return pkgerrors.ErrRecordNotFound
	}
	return pkgerrors.ErrAlreadySettled
}

func (r *RechargeRepository) ListPendingExpired(ctx context.Context, now time.Time, limit int) (_ []models.RechargeRecord, err error) {
	ctx, done := observability.StartCall(ctx, rechargeTracer, "ListPendingExpiredRecharges")
	defer func() { done(err) }()

	query := `SELECT ` + rechargeColumns + ` FROM recharge_records WHERE status = 'pending' AND expires_at < $1 ORDER BY expires_at LIMIT $2`
	return r.list(ctx, query, now, limitOrDefault(limit))
}

func (r *RechargeRepository) ListByUser(ctx context.Context, userID int64, limit int) (_ []models.RechargeRecord, err error) {
	ctx, done := observability.StartCall(ctx, rechargeTracer, "ListRechargesByUser", attribute.Int64("user_id", userID))
	defer func() { done(err) }()

	query := `SELECT ` + rechargeColumns + ` FROM recharge_records WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	return r.list(ctx, query, userID, limitOrDefault(limit))
}

func (r *RechargeRepository) list(ctx context.Context, query string, args ...any) ([]models.RechargeRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("failed to list recharge records", "error", err)
		return nil, fmt.Errorf("failed to list recharge records: %w", err)
	}
	defer rows.Close()

	var out []models.RechargeRecord
	for rows.Next() {
		rec, err := scanRecharge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recharge record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanRecharge(rows *sql.Rows) (*models.RechargeRecord, error) {
	var (
		rec        models.RechargeRecord
		paymentRef sql.NullString
		activityID sql.NullInt64
		paidAt     sql.NullTime
	)
	err := rows.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Amount,
		&rec.BonusAmount,
		&rec.PaymentMethod,
		&paymentRef,
		&rec.Status,
		&activityID,
		&rec.CreatedAt,
		&paidAt,
		&rec.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	rec.PaymentOrderID = paymentRef.String
	rec.ActivityID = int64Ptr(activityID)
	rec.PaidAt = timePtr(paidAt)
	return &rec, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
