package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID             int64           `json:"id"`
	Username       string          `json:"username"`
	DisplayName    string          `json:"display_name"`
	Balance        decimal.Decimal `json:"balance"`
	Level          MemberLevel     `json:"level"`
	TotalRecharged decimal.Decimal `json:"total_recharged"`
	TotalSpent     decimal.Decimal `json:"total_spent"`
	ReferrerID     *int64          `json:"referrer_id,omitempty"`
	ReferralCode   string          `json:"referral_code"`
	CreatedAt      time.Time       `json:"created_at"`
}
