package memory

import (
	"context"
	"sort"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
)

type RechargeRepository struct {
	db *DB
}

func (r *RechargeRepository) Create(_ context.Context, record *models.RechargeRecord) error {
	if record == nil || record.ID == "" {
		return pkgerrors.ErrInvalidInput
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.recharges[record.ID]; ok {
		return pkgerrors.ErrInvalidInput
	}
	stored := *record
	r.db.recharges[record.ID] = &stored
	return nil
}

func (r *RechargeRepository) GetByID(_ context.Context, id string) (*models.RechargeRecord, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	rec, ok := r.db.recharges[id]
	if !ok {
		return nil, pkgerrors.ErrRecordNotFound
	}
	out := *rec
	return &out, nil
}

func (r *RechargeRepository) SetPaymentOrderID(_ context.Context, id, paymentOrderID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	rec, ok := r.db.recharges[id]
	if !ok {
		return pkgerrors.ErrRecordNotFound
	}
	rec.PaymentOrderID = paymentOrderID
	return nil
}

func (r *RechargeRepository) MarkPaid(_ context.Context, id, paymentOrderID string, paidAt time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	rec, err := r.pending(id)
	if err != nil {
		return err
	}
	rec.Status = models.RechargePaid
	rec.PaidAt = &paidAt
	if paymentOrderID != "" {
		rec.PaymentOrderID = paymentOrderID
	}
	return nil
}

func (r *RechargeRepository) UpdateStatus(_ context.Context, id string, status models.RechargeStatus) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	rec, err := r.pending(id)
	if err != nil {
		return err
	}
	rec.Status = status
	return nil
}

func (r *RechargeRepository) Revert(_ context.Context, id, paymentOrderID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	rec, ok := r.db.recharges[id]
	if !ok {
		return pkgerrors.ErrRecordNotFound
	}
	if rec.Status != models.RechargePaid {
		return nil
	}
	rec.Status = models.RechargePending
	rec.PaidAt = nil
	rec.PaymentOrderID = paymentOrderID
	return nil
}

func (r *RechargeRepository) pending(id string) (*models.RechargeRecord, error) {
	rec, ok := r.db.recharges[id]
	if !ok {
		return nil, pkgerrors.ErrRecordNotFound
	}
	if rec.Status != models.RechargePending {
		return nil, pkgerrors.ErrAlreadySettled
	}
	return rec, nil
}

func (r *RechargeRepository) ListPendingExpired(_ context.Context, now time.Time, limit int) ([]models.RechargeRecord, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var out []models.RechargeRecord
	for _, rec := range r.db.recharges {
		if rec.IsExpired(now) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *RechargeRepository) ListByUser(_ context.Context, userID int64, limit int) ([]models.RechargeRecord, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var out []models.RechargeRecord
	for _, rec := range r.db.recharges {
		if rec.UserID == userID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
