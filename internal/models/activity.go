package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ActivityType string

const (
	ActivityBonus     ActivityType = "bonus"
	ActivityDiscount  ActivityType = "discount"
	ActivityFirstTime ActivityType = "first_time"
)

func (t ActivityType) Valid() bool {
	switch t {
	case ActivityBonus, ActivityDiscount, ActivityFirstTime:
		return true
	}
	return false
}

// RechargeActivity is a time-bounded promotion granting bonus value on recharge.
type RechargeActivity struct {
	ID                  int64               `json:"id"`
	Name                string              `json:"name"`
	Description         string              `json:"description"`
	Type                ActivityType        `json:"type"`
	MinAmount           decimal.Decimal     `json:"min_amount"`
	MaxAmount           decimal.NullDecimal `json:"max_amount"`
	BonusRate           decimal.Decimal     `json:"bonus_rate"`
	DiscountRate        decimal.Decimal     `json:"discount_rate"`
	FixedBonus          decimal.Decimal     `json:"fixed_bonus"`
	StartTime           time.Time           `json:"start_time"`
	EndTime             time.Time           `json:"end_time"`
	IsActive            bool                `json:"is_active"`
	MaxParticipants     *int                `json:"max_participants,omitempty"`
	CurrentParticipants int                 `json:"current_participants"`
	PerUserLimit        int                 `json:"per_user_limit"`
	LevelRequirement    MemberLevel         `json:"level_requirement,omitempty"`
}

// Running reports whether the activity is switched on, inside its window and
// still has capacity.
func (a *RechargeActivity) Running(now time.Time) bool {
	if !a.IsActive || now.Before(a.StartTime) || now.After(a.EndTime) {
		return false
	}
	return a.MaxParticipants == nil || a.CurrentParticipants < *a.MaxParticipants
}

// EffectiveAmount caps amount at MaxAmount when one is set.
func (a *RechargeActivity) EffectiveAmount(amount decimal.Decimal) decimal.Decimal {
	if a.MaxAmount.Valid && amount.GreaterThan(a.MaxAmount.Decimal) {
		return a.MaxAmount.Decimal
	}
	return amount
}

// Bonus computes the bonus granted for amount, ignoring eligibility.
func (a *RechargeActivity) Bonus(amount decimal.Decimal) decimal.Decimal {
	effective := a.EffectiveAmount(amount)
	var bonus decimal.Decimal
	switch a.Type {
	case ActivityBonus, ActivityFirstTime:
		bonus = effective.Mul(a.BonusRate).Add(a.FixedBonus)
	case ActivityDiscount:
		bonus = effective.Mul(a.DiscountRate)
	default:
		return decimal.Zero
	}
	return bonus.Round(2)
}
