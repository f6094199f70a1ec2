package repository

import (
	"context"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/models"
)

type RechargeRepository interface {
	Create(ctx context.Context, record *models.RechargeRecord) error
	GetByID(ctx context.Context, id string) (*models.RechargeRecord, error)
	SetPaymentOrderID(ctx context.Context, id, paymentOrderID string) error
	// MarkPaid moves a pending record to paid; ErrAlreadySettled otherwise.
	MarkPaid(ctx context.Context, id, paymentOrderID string, paidAt time.Time) error
	// UpdateStatus moves a pending record to status; ErrAlreadySettled otherwise.
	UpdateStatus(ctx context.Context, id string, status models.RechargeStatus) error
	// Revert undoes MarkPaid after a failed settlement: the record is pending
	// again and carries paymentOrderID, its reference from before MarkPaid.
	Revert(ctx context.Context, id, paymentOrderID string) error
	ListPendingExpired(ctx context.Context, now time.Time, limit int) ([]models.RechargeRecord, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.RechargeRecord, error)
}
