package repository

import (
	"context"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/models"
)

type ActivityRepository interface {
	Create(ctx context.Context, activity *models.RechargeActivity) error
	GetByID(ctx context.Context, id int64) (*models.RechargeActivity, error)
	// ListActive returns switched-on activities whose window contains now,
	// ordered by id.
	ListActive(ctx context.Context, now time.Time) ([]models.RechargeActivity, error)
	CountUsage(ctx context.Context, activityID, userID int64) (int, error)
	RecordParticipation(ctx context.Context, activityID, userID int64, rechargeID string) error
}
