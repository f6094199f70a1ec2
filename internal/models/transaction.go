package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceTransaction is an immutable ledger entry.
type BalanceTransaction struct {
	ID             string          `json:"id"`
	UserID         int64           `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	BalanceBefore  decimal.Decimal `json:"balance_before"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	Kind           TransactionKind `json:"kind"`
	Reason         string          `json:"reason"`
	RelatedOrderID string          `json:"related_order_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type TransactionKind string

const (
	KindRecharge      TransactionKind = "recharge"
	KindPurchase      TransactionKind = "purchase"
	KindRefund        TransactionKind = "refund"
	KindReferralBonus TransactionKind = "referral_bonus"
	KindAdmin         TransactionKind = "admin"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case KindRecharge, KindPurchase, KindRefund, KindReferralBonus, KindAdmin:
		return true
	}
	return false
}
