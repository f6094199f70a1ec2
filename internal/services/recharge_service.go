package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/ShopLedgerService/internal/gateway"
	"github.com/honeynil/ShopLedgerService/internal/infrastructure/observability"
	"github.com/honeynil/ShopLedgerService/internal/locker"
	"github.com/honeynil/ShopLedgerService/internal/models"
	"github.com/honeynil/ShopLedgerService/internal/repository"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type RechargeConfig struct {
	Window    time.Duration
	MinAmount decimal.Decimal
}

type RechargeCheckout struct {
	Record *models.RechargeRecord `json:"record"`
	Intent *gateway.PaymentIntent `json:"intent"`
}

type RechargeService struct {
	users      repository.UserRepository
	recharges  repository.RechargeRepository
	activities repository.ActivityRepository
	selector   *ActivitySelector
	ledger     *Ledger
	registry   *gateway.Registry
	locks      locker.Locker
	publisher  Publisher
	cfg        RechargeConfig
	now        func() time.Time
}

func NewRechargeService(
	users repository.UserRepository,
	recharges repository.RechargeRepository,
	activities repository.ActivityRepository,
	selector *ActivitySelector,
	ledger *Ledger,
	registry *gateway.Registry,
	locks locker.Locker,
	publisher Publisher,
	cfg RechargeConfig,
) *RechargeService {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	return &RechargeService{
		users:      users,
		recharges:  recharges,
		activities: activities,
		selector:   selector,
		ledger:     ledger,
		registry:   registry,
		locks:      locks,
		publisher:  publisher,
		cfg:        cfg,
		now:        time.Now,
	}
}

// CreateRechargeOrder stores a pending recharge with its bonus frozen.
func (s *RechargeService) CreateRechargeOrder(ctx context.Context, userID int64, amount decimal.Decimal, method models.PaymentMethod) (*models.RechargeRecord, error) {
	tracer := otel.Tracer("recharge-service")
	ctx, span := tracer.Start(ctx, "CreateRechargeOrder")
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.String("method", string(method)))
	defer span.End()

	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, pkgerrors.ErrUserNotFound) {
		span.SetStatus(codes.Error, "not a member")
		return nil, pkgerrors.ErrNotAMember
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if !amount.IsPositive() || amount.LessThan(s.cfg.MinAmount) {
		span.SetStatus(codes.Error, "invalid amount")
		return nil, pkgerrors.ErrInvalidAmount
	}
	if !s.registry.Supports(method) {
		span.SetStatus(codes.Error, "unsupported method")
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrUnsupportedPaymentMethod, method)
	}

	activity, bonus, err := s.selector.SelectBest(ctx, user, amount)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	now := s.now()
	rec := &models.RechargeRecord{
		ID:            uuid.NewString(),
		UserID:        userID,
		Amount:        amount,
		BonusAmount:   bonus,
		PaymentMethod: method,
		Status:        models.RechargePending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.Window),
	}
	if activity != nil {
		id := activity.ID
		rec.ActivityID = &id
	}

	if err := s.recharges.Create(ctx, rec); err != nil {
		span.RecordError(err)
		slog.Error("failed to create recharge record", "user_id", userID, "error", err)
		return nil, err
	}

	slog.Info("recharge order created",
		"recharge_id", rec.ID,
		"user_id", userID,
		"amount", amount.String(),
		"bonus", bonus.String(),
		"method", method)
	return rec, nil
}

// Checkout creates the recharge and opens its payment intent. A gateway
// failure marks the record failed.
func (s *RechargeService) Checkout(ctx context.Context, userID int64, amount decimal.Decimal, method models.PaymentMethod) (*RechargeCheckout, error) {
	rec, err := s.CreateRechargeOrder(ctx, userID, amount, method)
	if err != nil {
		return nil, err
	}

	route, err := s.registry.Resolve(method)
	if err != nil {
		return nil, err
	}
	intent, err := route.Gateway.CreateOrder(ctx, gateway.CreateRequest{
		Kind:        string(KindRechargeRecord),
		OrderID:     rec.ID,
		Amount:      amount,
		Currency:    route.Currency,
		Description: "recharge",
		Timeout:     s.cfg.Window,
	})
	if err != nil {
		slog.Error("failed to open recharge payment", "recharge_id", rec.ID, "gateway", route.Gateway.Name(), "error", err)
		if failErr := s.FailRecharge(ctx, rec.ID); failErr != nil {
			slog.Error("failed to fail recharge after gateway error", "recharge_id", rec.ID, "error", failErr)
		}
		return nil, err
	}

	if intent.PaymentOrderID != "" {
		if err := s.recharges.SetPaymentOrderID(ctx, rec.ID, intent.PaymentOrderID); err != nil {
			slog.Error("failed to store payment order id", "recharge_id", rec.ID, "error", err)
		}
		rec.PaymentOrderID = intent.PaymentOrderID
	}
	return &RechargeCheckout{Record: rec, Intent: intent}, nil
}

// SettleRecharge credits a paid recharge exactly once.
func (s *RechargeService) SettleRecharge(ctx context.Context, recordID, externalRef string) (*models.RechargeRecord, error) {
	tracer := otel.Tracer("recharge-service")
	ctx, span := tracer.Start(ctx, "SettleRecharge")
	span.SetAttributes(attribute.String("recharge_id", recordID))
	defer span.End()

	rec, err := s.recharges.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := s.settleable(ctx, rec); err != nil {
		return nil, err
	}

	unlockRecord, err := s.locks.Lock(ctx, rechargeLockKey(recordID))
	if err != nil {
		return nil, err
	}
	defer unlockRecord()

	// re-read under the lock; a concurrent settle may have won
	rec, err = s.recharges.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := s.settleable(ctx, rec); err != nil {
		return nil, err
	}

	unlockUser, err := s.locks.Lock(ctx, userLockKey(rec.UserID))
	if err != nil {
		return nil, err
	}
	defer unlockUser()

	paidAt := s.now()
	if err := s.recharges.MarkPaid(ctx, recordID, externalRef, paidAt); err != nil {
		observability.Settlements.WithLabelValues("recharge", "lost_race").Inc()
		return nil, err
	}

	reason := fmt.Sprintf("recharge %s via %s", rec.Amount.StringFixed(2), rec.PaymentMethod)
	if _, err := s.ledger.apply(ctx, rec.UserID, rec.Credit(), models.KindRecharge, reason, rec.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credit failed")
		if revertErr := s.recharges.Revert(ctx, recordID, rec.PaymentOrderID); revertErr != nil {
			slog.Error("failed to revert recharge after credit failure", "recharge_id", recordID, "error", revertErr)
		}
		observability.Settlements.WithLabelValues("recharge", "error").Inc()
		return nil, err
	}

	s.updateMembership(ctx, rec)

	if rec.ActivityID != nil {
		if err := s.activities.RecordParticipation(ctx, *rec.ActivityID, rec.UserID, rec.ID); err != nil {
			slog.Error("failed to record activity participation", "recharge_id", rec.ID, "activity_id", *rec.ActivityID, "error", err)
		}
	}

	rec.Status = models.RechargePaid
	rec.PaidAt = &paidAt
	if externalRef != "" {
		rec.PaymentOrderID = externalRef
	}
	observability.Settlements.WithLabelValues("recharge", "paid").Inc()
	publish(ctx, s.publisher, TopicRecharges, Event{
		Type:       "recharge_paid",
		RecordID:   rec.ID,
		UserID:     rec.UserID,
		Status:     string(rec.Status),
		Amount:     rec.Credit().String(),
		OccurredAt: paidAt,
	})

	slog.Info("recharge settled",
		"recharge_id", rec.ID,
		"user_id", rec.UserID,
		"amount", rec.Amount.String(),
		"bonus", rec.BonusAmount.String(),
		"external_ref", externalRef)
	return rec, nil
}

// settleable rejects records that are no longer pending, lazily expiring an
// overdue one.
func (s *RechargeService) settleable(ctx context.Context, rec *models.RechargeRecord) error {
	if rec.Status != models.RechargePending {
		return pkgerrors.ErrAlreadySettled
	}
	if rec.IsExpired(s.now()) {
		if err := s.recharges.UpdateStatus(ctx, rec.ID, models.RechargeExpired); err != nil && !errors.Is(err, pkgerrors.ErrAlreadySettled) {
			slog.Error("failed to expire overdue recharge", "recharge_id", rec.ID, "error", err)
		} else if err == nil {
			observability.Settlements.WithLabelValues("recharge", "expired").Inc()
			slog.Info("overdue recharge expired on settle", "recharge_id", rec.ID)
		}
		return pkgerrors.ErrAlreadySettled
	}
	return nil
}

// updateMembership bumps total recharged and the level. The credit is already
// committed, so failures are logged and not returned.
func (s *RechargeService) updateMembership(ctx context.Context, rec *models.RechargeRecord) {
	user, err := s.users.GetByID(ctx, rec.UserID)
	if err != nil {
		slog.Error("failed to load user for membership update", "user_id", rec.UserID, "error", err)
		return
	}
	level := models.NextLevel(user.Level, user.TotalRecharged.Add(rec.Amount))
	if err := s.users.UpdateMembership(ctx, rec.UserID, rec.Amount, level); err != nil {
		slog.Error("failed to update membership", "user_id", rec.UserID, "error", err)
		return
	}
	if level != user.Level {
		slog.Info("member level raised", "user_id", rec.UserID, "from", user.Level, "to", level)
	}
}

// ExpireRecharge expires a pending recharge past its window. It reports
// whether the record changed.
func (s *RechargeService) ExpireRecharge(ctx context.Context, recordID string) (bool, error) {
	return s.transition(ctx, recordID, models.RechargeExpired, false)
}

// FailRecharge marks a pending recharge failed.
func (s *RechargeService) FailRecharge(ctx context.Context, recordID string) error {
	_, err := s.transition(ctx, recordID, models.RechargeFailed, true)
	return err
}

// forceExpire expires a pending recharge regardless of its window, used when
// the gateway itself reports the payment expired.
func (s *RechargeService) forceExpire(ctx context.Context, recordID string) (bool, error) {
	return s.transition(ctx, recordID, models.RechargeExpired, true)
}

func (s *RechargeService) transition(ctx context.Context, recordID string, status models.RechargeStatus, force bool) (bool, error) {
	unlock, err := s.locks.Lock(ctx, rechargeLockKey(recordID))
	if err != nil {
		return false, err
	}
	defer unlock()

	rec, err := s.recharges.GetByID(ctx, recordID)
	if err != nil {
		return false, err
	}
	if rec.Status != models.RechargePending {
		return false, pkgerrors.ErrAlreadySettled
	}
	if !force && !rec.IsExpired(s.now()) {
		return false, nil
	}
	if err := s.recharges.UpdateStatus(ctx, recordID, status); err != nil {
		return false, err
	}

	observability.Settlements.WithLabelValues("recharge", string(status)).Inc()
	publish(ctx, s.publisher, TopicRecharges, Event{
		Type:       "recharge_" + string(status),
		RecordID:   rec.ID,
		UserID:     rec.UserID,
		Status:     string(status),
		OccurredAt: s.now(),
	})
	slog.Info("recharge closed", "recharge_id", recordID, "status", status)
	return true, nil
}

func (s *RechargeService) Get(ctx context.Context, recordID string) (*models.RechargeRecord, error) {
	return s.recharges.GetByID(ctx, recordID)
}

func (s *RechargeService) History(ctx context.Context, userID int64, limit int) ([]models.RechargeRecord, error) {
	return s.recharges.ListByUser(ctx, userID, limit)
}

func (s *RechargeService) Methods() []models.PaymentMethod {
	return s.registry.Methods()
}
