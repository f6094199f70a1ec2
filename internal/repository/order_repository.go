package repository

import (
	"context"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/models"
)

type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	SetPaymentOrderID(ctx context.Context, id, paymentOrderID string) error
	// MarkCompleted and MarkFailed move a pending order to a terminal state;
	// ErrAlreadySettled otherwise.
	MarkCompleted(ctx context.Context, id, paymentOrderID string, completedAt time.Time) error
	MarkFailed(ctx context.Context, id string) error
	ListPendingExpired(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.Order, error)
}
