package repository

import (
	"context"

	"github.com/honeynil/ShopLedgerService/internal/models"
	"github.com/shopspring/decimal"
)

type UserRepository interface {
	// Create inserts a new member; ErrUserAlreadyExists when the id is taken.
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByReferralCode(ctx context.Context, code string) (*models.User, error)
	// UpdateMembership adds rechargedDelta to total_recharged and stores level.
	UpdateMembership(ctx context.Context, userID int64, rechargedDelta decimal.Decimal, level models.MemberLevel) error
}
