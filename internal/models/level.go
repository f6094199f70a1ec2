package models

import "github.com/shopspring/decimal"

// MemberLevel is a membership tier. Tiers are ordered; compare them with Rank
// or AtLeast, never with the underlying string.
type MemberLevel string

const (
	LevelBronze   MemberLevel = "bronze"
	LevelSilver   MemberLevel = "silver"
	LevelGold     MemberLevel = "gold"
	LevelPlatinum MemberLevel = "platinum"
	LevelDiamond  MemberLevel = "diamond"
	LevelSupreme  MemberLevel = "supreme"
)

var levelOrder = []MemberLevel{
	LevelBronze,
	LevelSilver,
	LevelGold,
	LevelPlatinum,
	LevelDiamond,
	LevelSupreme,
}

// levelThresholds holds the minimum total recharged for each tier, indexed by rank.
var levelThresholds = []decimal.Decimal{
	decimal.Zero,
	decimal.NewFromInt(500),
	decimal.NewFromInt(2000),
	decimal.NewFromInt(5000),
	decimal.NewFromInt(10000),
	decimal.NewFromInt(30000),
}

type LevelBenefits struct {
	Level         MemberLevel     `json:"level"`
	Discount      decimal.Decimal `json:"discount"`
	RechargeBonus decimal.Decimal `json:"recharge_bonus"`
}

var levelBenefits = map[MemberLevel]LevelBenefits{
	LevelBronze:   {Level: LevelBronze, Discount: decimal.Zero, RechargeBonus: decimal.Zero},
	LevelSilver:   {Level: LevelSilver, Discount: decimal.RequireFromString("0.05"), RechargeBonus: decimal.RequireFromString("0.02")},
	LevelGold:     {Level: LevelGold, Discount: decimal.RequireFromString("0.10"), RechargeBonus: decimal.RequireFromString("0.05")},
	LevelPlatinum: {Level: LevelPlatinum, Discount: decimal.RequireFromString("0.15"), RechargeBonus: decimal.RequireFromString("0.08")},
	LevelDiamond:  {Level: LevelDiamond, Discount: decimal.RequireFromString("0.20"), RechargeBonus: decimal.RequireFromString("0.10")},
	LevelSupreme:  {Level: LevelSupreme, Discount: decimal.RequireFromString("0.25"), RechargeBonus: decimal.RequireFromString("0.15")},
}

// Rank returns the position of the level in the tier order, or -1 for an unknown level.
func (l MemberLevel) Rank() int {
	for i, v := range levelOrder {
		if v == l {
			return i
		}
	}
	return -1
}

func (l MemberLevel) Valid() bool {
	return l.Rank() >= 0
}

// AtLeast reports whether l is the same tier as other or above it.
func (l MemberLevel) AtLeast(other MemberLevel) bool {
	return l.Rank() >= other.Rank()
}

// Benefits returns the tier benefits; unknown levels get bronze benefits.
func (l MemberLevel) Benefits() LevelBenefits {
	if b, ok := levelBenefits[l]; ok {
		return b
	}
	return levelBenefits[LevelBronze]
}

// LevelForRecharged returns the tier earned by the given total recharged amount.
func LevelForRecharged(total decimal.Decimal) MemberLevel {
	level := LevelBronze
	for i, threshold := range levelThresholds {
		if total.GreaterThanOrEqual(threshold) {
			level = levelOrder[i]
		}
	}
	return level
}

// NextLevel returns the level a user with current level and total recharged
// should hold. Levels never go down.
func NextLevel(current MemberLevel, total decimal.Decimal) MemberLevel {
	earned := LevelForRecharged(total)
	if current.Valid() && current.AtLeast(earned) {
		return current
	}
	return earned
}

// NextThreshold returns the tier after l and the total recharged it needs.
// ok is false at the top tier.
func (l MemberLevel) NextThreshold() (next MemberLevel, threshold decimal.Decimal, ok bool) {
	r := l.Rank()
	if r < 0 || r+1 >= len(levelOrder) {
		return "", decimal.Zero, false
	}
	return levelOrder[r+1], levelThresholds[r+1], true
}
