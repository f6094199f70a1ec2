package memory

import (
	"context"
	"slices"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
)

type ActivityRepository struct {
	db *DB
}

func (r *ActivityRepository) Create(_ context.Context, activity *models.RechargeActivity) error {
	if activity == nil {
		return pkgerrors.ErrInvalidInput
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	r.db.nextActivity++
	activity.ID = r.db.nextActivity
	stored := *activity
	r.db.activities[activity.ID] = &stored
	return nil
}

func (r *ActivityRepository) GetByID(_ context.Context, id int64) (*models.RechargeActivity, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	a, ok := r.db.activities[id]
	if !ok {
		return nil, pkgerrors.ErrActivityNotFound
	}
	out := *a
	return &out, nil
}

func (r *ActivityRepository) ListActive(_ context.Context, now time.Time) ([]models.RechargeActivity, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var out []models.RechargeActivity
	for _, a := range r.db.activities {
		if a.IsActive && !now.Before(a.StartTime) && !now.After(a.EndTime) {
			out = append(out, *a)
		}
	}
	slices.SortFunc(out, func(a, b models.RechargeActivity) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

func (r *ActivityRepository) CountUsage(_ context.Context, activityID, userID int64) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	return len(r.db.usage[usageKey{activityID, userID}]), nil
}

func (r *ActivityRepository) RecordParticipation(_ context.Context, activityID, userID int64, rechargeID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	a, ok := r.db.activities[activityID]
	if !ok {
		return pkgerrors.ErrActivityNotFound
	}
	key := usageKey{activityID, userID}
	if slices.Contains(r.db.usage[key], rechargeID) {
		return nil
	}
	r.db.usage[key] = append(r.db.usage[key], rechargeID)
	a.CurrentParticipants++
	return nil
}
