package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/infrastructure/observability"
	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const orderTracer = "order-repository"

const orderColumns = `id, user_id, items, original_amount, discount_amount, total_amount, payment_method, payment_order_id, status, created_at, completed_at, expires_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, o *models.Order) (err error) {
	if o == nil {
		return pkgerrors.ErrInvalidInput
	}
	ctx, done := observability.StartCall(ctx, orderTracer, "CreateOrder",
		attribute.String("order_id", o.ID),
		attribute.Int64("user_id", o.UserID),
	)
	defer func() { done(err) }()

	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("failed to encode order items: %w", err)
	}

	query := `INSERT INTO orders (id, user_id, items, original_amount, discount_amount, total_amount, payment_method, payment_order_id, status, created_at, completed_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	var completedAt sql.NullTime
	if o.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *o.CompletedAt, Valid: true}
	}
	_, err = r.db.ExecContext(ctx, query,
		o.ID,
		o.UserID,
		items,
		o.OriginalAmount,
		o.DiscountAmount,
		o.TotalAmount,
		o.PaymentMethod,
		nullString(o.PaymentOrderID),
		o.Status,
		o.CreatedAt,
		completedAt,
		o.ExpiresAt,
	)
	if err != nil {
		slog.Error("failed to create order", "method", "Create", "order_id", o.ID, "error", err)
		return fmt.Errorf("failed to create order: %w", err)
	}

	slog.Info("order created", "method", "Create", "order_id", o.ID, "user_id", o.UserID, "status", o.Status, "total", o.TotalAmount.String())
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (_ *models.Order, err error) {
	ctx, done := observability.StartCall(ctx, orderTracer, "GetOrderByID", attribute.String("order_id", id))
	defer func() { done(err) }()

	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to get order: %w", err)
		}
		err = pkgerrors.ErrRecordNotFound
		return nil, err
	}
	o, err := scanOrder(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) SetPaymentOrderID(ctx context.Context, id, paymentOrderID string) (err error) {
	ctx, done := observability.StartCall(ctx, orderTracer, "SetOrderPaymentOrderID", attribute.String("order_id", id))
	defer func() { done(err) }()

	res, err := r.db.ExecContext(ctx, `UPDATE orders SET payment_order_id = $1 WHERE id = $2`, paymentOrderID, id)
	if err != nil {
		return fmt.Errorf("failed to set payment order id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = pkgerrors.ErrRecordNotFound
		return err
	}
	return nil
}

func (r *OrderRepository) MarkCompleted(ctx context.Context, id, paymentOrderID string, completedAt time.Time) (err error) {
	ctx, done := observability.StartCall(ctx, orderTracer, "MarkOrderCompleted", attribute.String("order_id", id))
	defer func() { done(err) }()

	query := `UPDATE orders SET status = 'completed', completed_at = $1, payment_order_id = COALESCE($2, payment_order_id) WHERE id = $3 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, completedAt, nullString(paymentOrderID), id)
	if err != nil {
		slog.Error("failed to complete order", "method", "MarkCompleted", "order_id", id, "error", err)
		return fmt.Errorf("failed to complete order: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

func (r *OrderRepository) MarkFailed(ctx context.Context, id string) (err error) {
	ctx, done := observability.StartCall(ctx, orderTracer, "MarkOrderFailed", attribute.String("order_id", id))
	defer func() { done(err) }()

	res, err := r.db.ExecContext(ctx, `UPDATE orders SET status = 'failed' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		slog.Error("failed to fail order", "method", "MarkFailed", "order_id", id, "error", err)
		return fmt.Errorf("failed to fail order: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

func (r *OrderRepository) checkTransition(ctx context.Context, res sql.Result, id string) error {
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check order: %w", err)
	}
	if !exists {
		return pkgerrors.ErrRecordNotFound
	}
	return pkgerrors.ErrAlreadySettled
}

func (r *OrderRepository) ListPendingExpired(ctx context.Context, now time.Time, limit int) (_ []models.Order, err error) {
	ctx, done := observability.StartCall(ctx, orderTracer, "ListPendingExpiredOrders")
	defer func() { done(err) }()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = 'pending' AND expires_at < $1 ORDER BY expires_at LIMIT $2`
	return r.list(ctx, query, now, limitOrDefault(limit))
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID int64, limit int) (_ []models.Order, err error) {
	ctx, done := observability.StartCall(ctx, orderTracer, "ListOrdersByUser", attribute.Int64("user_id", userID))
	defer func() { done(err) }()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	return r.list(ctx, query, userID, limitOrDefault(limit))
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("failed to list orders", "error", err)
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func scanOrder(rows *sql.Rows) (*models.Order, error) {
	var (
		o           models.Order
		items       []byte
		paymentRef  sql.NullString
		completedAt sql.NullTime
	)
	err := rows.Scan(
		&o.ID,
		&o.UserID,
		&items,
		&o.OriginalAmount,
		&o.DiscountAmount,
		&o.TotalAmount,
		&o.PaymentMethod,
		&paymentRef,
		&o.Status,
		&o.CreatedAt,
		&completedAt,
		&o.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("failed to decode order items: %w", err)
	}
	o.PaymentOrderID = paymentRef.String
	o.CompletedAt = timePtr(completedAt)
	return &o, nil
}
