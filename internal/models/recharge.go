package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RechargeStatus string

const (
	RechargePending RechargeStatus = "pending"
	RechargePaid    RechargeStatus = "paid"
	RechargeFailed  RechargeStatus = "failed"
	RechargeExpired RechargeStatus = "expired"
)

type RechargeRecord struct {
	ID             string          `json:"id"`
	UserID         int64           `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	BonusAmount    decimal.Decimal `json:"bonus_amount"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	PaymentOrderID string          `json:"payment_order_id,omitempty"`
	Status         RechargeStatus  `json:"status"`
	ActivityID     *int64          `json:"activity_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// IsExpired reports whether a pending record is past its expiry.
func (r *RechargeRecord) IsExpired(now time.Time) bool {
	return r.Status == RechargePending && now.After(r.ExpiresAt)
}

// Credit is the total amount the ledger receives when the record is paid.
func (r *RechargeRecord) Credit() decimal.Decimal {
	return r.Amount.Add(r.BonusAmount)
}
