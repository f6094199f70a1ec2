package memory

import (
	"context"

	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/shopspring/decimal"
)

type UserRepository struct {
	db *DB
}

func (r *UserRepository) Create(_ context.Context, user *models.User) error {
	if user == nil {
		return pkgerrors.ErrNilUser
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.users[user.ID]; ok {
		return pkgerrors.ErrUserAlreadyExists
	}
	for _, u := range r.db.users {
		if user.ReferralCode != "" && u.ReferralCode == user.ReferralCode {
			return pkgerrors.ErrUserAlreadyExists
		}
	}
	stored := *user
	r.db.users[user.ID] = &stored
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id int64) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	u, ok := r.db.users[id]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	out := *u
	return &out, nil
}

func (r *UserRepository) GetByReferralCode(_ context.Context, code string) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, u := range r.db.users {
		if u.ReferralCode == code {
			out := *u
			return &out, nil
		}
	}
	return nil, pkgerrors.ErrUserNotFound
}

func (r *UserRepository) UpdateMembership(_ context.Context, userID int64, rechargedDelta decimal.Decimal, level models.MemberLevel) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	u, ok := r.db.users[userID]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	u.TotalRecharged = u.TotalRecharged.Add(rechargedDelta)
	u.Level = level
	return nil
}
