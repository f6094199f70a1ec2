package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
)

type OrderRepository struct {
	db *DB
}

func (r *OrderRepository) Create(_ context.Context, order *models.Order) error {
	if order == nil || order.ID == "" {
		return pkgerrors.ErrInvalidInput
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.orders[order.ID]; ok {
		return pkgerrors.ErrInvalidInput
	}
	r.db.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *OrderRepository) GetByID(_ context.Context, id string) (*models.Order, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	o, ok := r.db.orders[id]
	if !ok {
		return nil, pkgerrors.ErrRecordNotFound
	}
	return cloneOrder(o), nil
}

func (r *OrderRepository) SetPaymentOrderID(_ context.Context, id, paymentOrderID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	o, ok := r.db.orders[id]
	if !ok {
		return pkgerrors.ErrRecordNotFound
	}
	o.PaymentOrderID = paymentOrderID
	return nil
}

func (r *OrderRepository) MarkCompleted(_ context.Context, id, paymentOrderID string, completedAt time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	o, err := r.pending(id)
	if err != nil {
		return err
	}
	o.Status = models.OrderCompleted
	o.CompletedAt = &completedAt
	if paymentOrderID != "" {
		o.PaymentOrderID = paymentOrderID
	}
	return nil
}

func (r *OrderRepository) MarkFailed(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	o, err := r.pending(id)
	if err != nil {
		return err
	}
	o.Status = models.OrderFailed
	return nil
}

func (r *OrderRepository) pending(id string) (*models.Order, error) {
	o, ok := r.db.orders[id]
	if !ok {
		return nil, pkgerrors.ErrRecordNotFound
	}
	if o.Status != models.OrderPending {
		return nil, pkgerrors.ErrAlreadySettled
	}
	return o, nil
}

func (r *OrderRepository) ListPendingExpired(_ context.Context, now time.Time, limit int) ([]models.Order, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var out []models.Order
	for _, o := range r.db.orders {
		if o.IsExpired(now) {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OrderRepository) ListByUser(_ context.Context, userID int64, limit int) ([]models.Order, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var out []models.Order
	for _, o := range r.db.orders {
		if o.UserID == userID {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneOrder(o *models.Order) *models.Order {
	out := *o
	out.Items = slices.Clone(o.Items)
	return &out
}
