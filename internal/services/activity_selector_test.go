package service

import (
	"testing"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) activity(t *testing.T, a models.RechargeActivity) int64 {
	t.Helper()
	now := f.clock.Now()
	if a.Name == "" {
		a.Name = "promo"
	}
	if a.StartTime.IsZero() {
		a.StartTime = now.Add(-time.Hour)
	}
	if a.EndTime.IsZero() {
		a.EndTime = now.Add(24 * time.Hour)
	}
	a.IsActive = true
	require.NoError(t, f.selector.CreateActivity(f.ctx, &a))
	return a.ID
}

func TestActivitySelector_SelectBest(t *testing.T) {
	f := newFixture(t)
	user := f.member(t, 1, "0")

	first := f.activity(t, models.RechargeActivity{
		Type:         models.ActivityFirstTime,
		MinAmount:    dec("50"),
		MaxAmount:    decimal.NewNullDecimal(dec("500")),
		BonusRate:    dec("1"),
		PerUserLimit: 1,
	})
	f.activity(t, models.RechargeActivity{
		Type:      models.ActivityBonus,
		MinAmount: dec("100"),
		BonusRate: dec("0.10"),
	})

	t.Run("largest bonus wins", func(t *testing.T) {
		a, bonus, err := f.selector.SelectBest(f.ctx, user, dec("100"))
		require.NoError(t, err)
		require.NotNil(t, a)
		assert.Equal(t, first, a.ID)
		assert.True(t, bonus.Equal(dec("100")))
	})

	t.Run("max amount caps the bonus", func(t *testing.T) {
		_, bonus, err := f.selector.SelectBest(f.ctx, user, dec("800"))
		require.NoError(t, err)
		assert.True(t, bonus.Equal(dec("500")))
	})

	t.Run("below every minimum", func(t *testing.T) {
		a, bonus, err := f.selector.SelectBest(f.ctx, user, dec("10"))
		require.NoError(t, err)
		assert.Nil(t, a)
		assert.True(t, bonus.IsZero())
	})

	t.Run("first time excluded after a recharge", func(t *testing.T) {
		returning := *user
		returning.TotalRecharged = dec("100")
		a, bonus, err := f.selector.SelectBest(f.ctx, &returning, dec("100"))
		require.NoError(t, err)
		require.NotNil(t, a)
		assert.Equal(t, models.ActivityBonus, a.Type)
		assert.True(t, bonus.Equal(dec("10")))
	})

	t.Run("nil user gets nothing", func(t *testing.T) {
		a, _, err := f.selector.SelectBest(f.ctx, nil, dec("100"))
		require.NoError(t, err)
		assert.Nil(t, a)
	})
}

func TestActivitySelector_TiesGoToSmallestID(t *testing.T) {
	f := newFixture(t)
	user := f.member(t, 1, "0")

	lower := f.activity(t, models.RechargeActivity{Type: models.ActivityBonus, BonusRate: dec("0.05")})
	f.activity(t, models.RechargeActivity{Type: models.ActivityBonus, FixedBonus: dec("5")})

	for i := 0; i < 20; i++ {
		a, bonus, err := f.selector.SelectBest(f.ctx, user, dec("100"))
		require.NoError(t, err)
		require.NotNil(t, a)
		assert.Equal(t, lower, a.ID)
		assert.True(t, bonus.Equal(dec("5")))
	}
}

func TestActivitySelector_Eligibility(t *testing.T) {
	f := newFixture(t)
	user := f.member(t, 1, "0")
	limit := 0

	goldOnly := f.activity(t, models.RechargeActivity{Type: models.ActivityBonus, BonusRate: dec("0.5"), LevelRequirement: models.LevelGold})
	f.activity(t, models.RechargeActivity{Type: models.ActivityBonus, BonusRate: dec("0.4"), MaxParticipants: &limit})
	f.activity(t, models.RechargeActivity{
		Type:      models.ActivityBonus,
		BonusRate: dec("0.3"),
		StartTime: f.clock.Now().Add(time.Hour),
		EndTime:   f.clock.Now().Add(2 * time.Hour),
	})
	capped := f.activity(t, models.RechargeActivity{Type: models.ActivityBonus, BonusRate: dec("0.2"), PerUserLimit: 1})
	fallback := f.activity(t, models.RechargeActivity{Type: models.ActivityDiscount, DiscountRate: dec("0.1")})

	a, _, err := f.selector.SelectBest(f.ctx, user, dec("100"))
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, capped, a.ID)

	require.NoError(t, f.db.Activities().RecordParticipation(f.ctx, capped, user.ID, "r-1"))
	a, bonus, err := f.selector.SelectBest(f.ctx, user, dec("100"))
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, fallback, a.ID)
	assert.True(t, bonus.Equal(dec("10")))

	gold := *user
	gold.Level = models.LevelDiamond
	a, _, err = f.selector.SelectBest(f.ctx, &gold, dec("100"))
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, goldOnly, a.ID)

	applicable, err := f.selector.Applicable(f.ctx, &gold, dec("100"))
	require.NoError(t, err)
	assert.Len(t, applicable, 2)
}

func TestActivitySelector_CreateActivity(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	tests := []struct {
		name     string
		activity models.RechargeActivity
	}{
		{"missing name", models.RechargeActivity{Type: models.ActivityBonus, StartTime: now, EndTime: now.Add(time.Hour)}},
		{"bad type", models.RechargeActivity{Name: "x", Type: "cashback", StartTime: now, EndTime: now.Add(time.Hour)}},
		{"inverted window", models.RechargeActivity{Name: "x", Type: models.ActivityBonus, StartTime: now, EndTime: now.Add(-time.Hour)}},
		{"negative rate", models.RechargeActivity{Name: "x", Type: models.ActivityBonus, BonusRate: dec("-1"), StartTime: now, EndTime: now.Add(time.Hour)}},
		{"bad level", models.RechargeActivity{Name: "x", Type: models.ActivityBonus, LevelRequirement: "mythic", StartTime: now, EndTime: now.Add(time.Hour)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.selector.CreateActivity(f.ctx, &tt.activity)
			assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
		})
	}
}

func TestActivitySelector_SeedDefaults(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.selector.SeedDefaults(f.ctx))
	require.NoError(t, f.selector.SeedDefaults(f.ctx))

	active, err := f.selector.ListActive(f.ctx)
	require.NoError(t, err)
	assert.Len(t, active, 3)
}
