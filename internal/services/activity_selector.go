package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/models"
	"github.com/honeynil/ShopLedgerService/internal/repository"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// ActivitySelector picks the recharge promotion worth the most to a user.
type ActivitySelector struct {
	activities repository.ActivityRepository
	now        func() time.Time
}

func NewActivitySelector(activities repository.ActivityRepository) *ActivitySelector {
	return &ActivitySelector{activities: activities, now: time.Now}
}

// SelectBest returns the eligible activity with the strictly largest bonus,
// the smallest id winning ties. It returns nil when no activity grants a
// positive bonus.
func (s *ActivitySelector) SelectBest(ctx context.Context, user *models.User, amount decimal.Decimal) (*models.RechargeActivity, decimal.Decimal, error) {
	tracer := otel.Tracer("activity-selector")
	ctx, span := tracer.Start(ctx, "SelectBest")
	defer span.End()

	eligible, err := s.Applicable(ctx, user, amount)
	if err != nil {
		return nil, decimal.Zero, err
	}

	var (
		best      *models.RechargeActivity
		bestBonus = decimal.Zero
	)
	for i := range eligible {
		bonus := eligible[i].Bonus(amount)
		if bonus.GreaterThan(bestBonus) {
			best, bestBonus = &eligible[i], bonus
		}
	}
	if best == nil {
		return nil, decimal.Zero, nil
	}

	span.SetAttributes(attribute.Int64("activity_id", best.ID), attribute.String("bonus", bestBonus.String()))
	return best, bestBonus, nil
}

// Applicable lists every activity the user may use for amount, ordered by id.
func (s *ActivitySelector) Applicable(ctx context.Context, user *models.User, amount decimal.Decimal) ([]models.RechargeActivity, error) {
	if user == nil {
		return nil, nil
	}
	now := s.now()
	active, err := s.activities.ListActive(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}

	var out []models.RechargeActivity
	for _, a := range active {
		ok, err := s.eligible(ctx, &a, user, amount, now)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *ActivitySelector) eligible(ctx context.Context, a *models.RechargeActivity, user *models.User, amount decimal.Decimal, now time.Time) (bool, error) {
	if !a.Running(now) {
		return false, nil
	}
	if amount.LessThan(a.MinAmount) {
		return false, nil
	}
	if a.LevelRequirement != "" && !user.Level.AtLeast(a.LevelRequirement) {
		return false, nil
	}
	if a.Type == models.ActivityFirstTime && !user.TotalRecharged.IsZero() {
		return false, nil
	}
	if a.PerUserLimit > 0 {
		used, err := s.activities.CountUsage(ctx, a.ID, user.ID)
		if err != nil {
			return false, fmt.Errorf("failed to count activity usage: %w", err)
		}
		if used >= a.PerUserLimit {
			return false, nil
		}
	}
	return true, nil
}

func (s *ActivitySelector) ListActive(ctx context.Context) ([]models.RechargeActivity, error) {
	return s.activities.ListActive(ctx, s.now())
}

// CreateActivity validates and stores a new activity.
func (s *ActivitySelector) CreateActivity(ctx context.Context, a *models.RechargeActivity) error {
	switch {
	case a == nil || a.Name == "":
		return fmt.Errorf("%w: name is required", pkgerrors.ErrInvalidInput)
	case !a.Type.Valid():
		return fmt.Errorf("%w: unknown activity type %q", pkgerrors.ErrInvalidInput, a.Type)
	case !a.EndTime.After(a.StartTime):
		return fmt.Errorf("%w: end_time must be after start_time", pkgerrors.ErrInvalidInput)
	case a.MinAmount.IsNegative() || a.BonusRate.IsNegative() || a.DiscountRate.IsNegative() || a.FixedBonus.IsNegative():
		return fmt.Errorf("%w: negative amounts", pkgerrors.ErrInvalidInput)
	case a.LevelRequirement != "" && !a.LevelRequirement.Valid():
		return fmt.Errorf("%w: unknown level %q", pkgerrors.ErrInvalidInput, a.LevelRequirement)
	}
	if err := s.activities.Create(ctx, a); err != nil {
		return err
	}
	slog.Info("recharge activity created", "activity_id", a.ID, "name", a.Name, "type", a.Type)
	return nil
}

// SeedDefaults installs the stock promotions when no activity is running.
func (s *ActivitySelector) SeedDefaults(ctx context.Context) error {
	active, err := s.ListActive(ctx)
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return nil
	}
	for _, a := range DefaultActivities(s.now()) {
		if err := s.CreateActivity(ctx, &a); err != nil {
			return err
		}
	}
	return nil
}

func DefaultActivities(now time.Time) []models.RechargeActivity {
	day := 24 * time.Hour
	return []models.RechargeActivity{
		{
			Name:         "First recharge",
			Description:  "100% bonus on the first recharge",
			Type:         models.ActivityFirstTime,
			MinAmount:    decimal.NewFromInt(50),
			MaxAmount:    decimal.NewNullDecimal(decimal.NewFromInt(500)),
			BonusRate:    decimal.NewFromInt(1),
			StartTime:    now,
			EndTime:      now.Add(365 * day),
			IsActive:     true,
			PerUserLimit: 1,
		},
		{
			Name:         "Recharge bonus",
			Description:  "10% extra on recharges of 100 or more",
			Type:         models.ActivityBonus,
			MinAmount:    decimal.NewFromInt(100),
			BonusRate:    decimal.RequireFromString("0.10"),
			StartTime:    now,
			EndTime:      now.Add(30 * day),
			IsActive:     true,
			PerUserLimit: 10,
		},
		{
			Name:             "Gold member discount",
			Description:      "5% back for gold members and above",
			Type:             models.ActivityDiscount,
			MinAmount:        decimal.NewFromInt(200),
			DiscountRate:     decimal.RequireFromString("0.05"),
			StartTime:        now,
			EndTime:          now.Add(60 * day),
			IsActive:         true,
			LevelRequirement: models.LevelGold,
		},
	}
}
