package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/ShopLedgerService/internal/infrastructure/redis"
	"github.com/honeynil/ShopLedgerService/internal/models"
	"github.com/honeynil/ShopLedgerService/internal/repository"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type RegisterRequest struct {
	UserID       int64  `json:"user_id"`
	Username     string `json:"username"`
	DisplayName  string `json:"display_name"`
	ReferralCode string `json:"referral_code,omitempty"`
}

type Profile struct {
	User          *models.User         `json:"user"`
	Benefits      models.LevelBenefits `json:"benefits"`
	NextLevel     models.MemberLevel   `json:"next_level,omitempty"`
	NextThreshold *decimal.Decimal     `json:"next_threshold,omitempty"`
	Remaining     *decimal.Decimal     `json:"remaining,omitempty"`
}

type MemberService struct {
	users         repository.UserRepository
	ledger        *Ledger
	cache         redis.RedisClient
	cacheTTL      time.Duration
	referralBonus decimal.Decimal
}

func NewMemberService(users repository.UserRepository, ledger *Ledger, cache redis.RedisClient, cacheTTL time.Duration, referralBonus decimal.Decimal) *MemberService {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &MemberService{
		users:         users,
		ledger:        ledger,
		cache:         cache,
		cacheTTL:      cacheTTL,
		referralBonus: referralBonus,
	}
}

// Register creates a member or returns the existing one unchanged.
func (s *MemberService) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	tracer := otel.Tracer("member-service")
	ctx, span := tracer.Start(ctx, "Register")
	span.SetAttributes(attribute.Int64("user_id", req.UserID))
	defer span.End()

	if req.UserID <= 0 {
		span.SetStatus(codes.Error, "invalid user id")
		return nil, fmt.Errorf("%w: user_id is required", pkgerrors.ErrInvalidInput)
	}

	existing, err := s.users.GetByID(ctx, req.UserID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pkgerrors.ErrUserNotFound) {
		span.RecordError(err)
		return nil, err
	}

	referrer := s.resolveReferrer(ctx, req)

	code, err := s.newReferralCode(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	user := &models.User{
		ID:             req.UserID,
		Username:       req.Username,
		DisplayName:    req.DisplayName,
		Balance:        decimal.Zero,
		Level:          models.LevelBronze,
		TotalRecharged: decimal.Zero,
		TotalSpent:     decimal.Zero,
		ReferralCode:   code,
	}
	if referrer != nil {
		id := referrer.ID
		user.ReferrerID = &id
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, pkgerrors.ErrUserAlreadyExists) {
			// lost a race with a concurrent registration
			return s.users.GetByID(ctx, req.UserID)
		}
		span.RecordError(err)
		slog.Error("failed to register member", "user_id", req.UserID, "error", err)
		return nil, err
	}

	if referrer != nil && s.referralBonus.IsPositive() {
		reason := fmt.Sprintf("referral of user %d", user.ID)
		if _, err := s.ledger.Credit(ctx, referrer.ID, s.referralBonus, models.KindReferralBonus, reason, ""); err != nil {
			slog.Error("failed to credit referral bonus", "referrer_id", referrer.ID, "user_id", user.ID, "error", err)
		}
	}

	slog.Info("member registered", "user_id", user.ID, "username", user.Username, "referred", referrer != nil)
	return user, nil
}

func (s *MemberService) resolveReferrer(ctx context.Context, req RegisterRequest) *models.User {
	code := strings.TrimSpace(req.ReferralCode)
	if code == "" {
		return nil
	}
	referrer, err := s.users.GetByReferralCode(ctx, strings.ToUpper(code))
	if err != nil {
		if !errors.Is(err, pkgerrors.ErrUserNotFound) {
			slog.Warn("failed to resolve referral code", "code", code, "error", err)
		}
		return nil
	}
	if referrer.ID == req.UserID {
		return nil
	}
	return referrer
}

func (s *MemberService) newReferralCode(ctx context.Context) (string, error) {
	for range 5 {
		code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
		_, err := s.users.GetByReferralCode(ctx, code)
		if errors.Is(err, pkgerrors.ErrUserNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("failed to allocate referral code")
}

func (s *MemberService) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, pkgerrors.ErrUserNotFound) {
		return nil, pkgerrors.ErrNotAMember
	}
	return user, err
}

func (s *MemberService) Profile(ctx context.Context, userID int64) (*Profile, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := &Profile{User: user, Benefits: user.Level.Benefits()}
	if next, threshold, ok := user.Level.NextThreshold(); ok {
		remaining := decimal.Max(threshold.Sub(user.TotalRecharged), decimal.Zero)
		p.NextLevel = next
		p.NextThreshold = &threshold
		p.Remaining = &remaining
	}
	return p, nil
}

// GetBalance serves the balance from cache when possible. The ledger drops
// the cached value on every entry.
func (s *MemberService) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	key := balanceCacheKey(userID)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key); err == nil {
			if d, err := decimal.NewFromString(cached); err == nil {
				return d, nil
			}
		} else if !errors.Is(err, redis.ErrKeyNotFound) {
			slog.Warn("balance cache read failed", "user_id", userID, "error", err)
		}
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, user.Balance.String(), s.cacheTTL); err != nil {
			slog.Warn("balance cache write failed", "user_id", userID, "error", err)
		}
	}
	return user.Balance, nil
}

func (s *MemberService) History(ctx context.Context, userID int64, limit int) ([]models.BalanceTransaction, error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, userID, limit)
}

// AdjustBalance is the operator correction path. A positive amount credits,
// a negative one debits.
func (s *MemberService) AdjustBalance(ctx context.Context, userID int64, amount decimal.Decimal, reason string) (*models.BalanceTransaction, error) {
	if amount.IsZero() {
		return nil, pkgerrors.ErrInvalidAmount
	}
	if strings.TrimSpace(reason) == "" {
		reason = "manual adjustment"
	}
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	if amount.IsPositive() {
		return s.ledger.Credit(ctx, userID, amount, models.KindAdmin, reason, "")
	}
	return s.ledger.Debit(ctx, userID, amount.Neg(), models.KindAdmin, reason, "")
}
