package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/ShopLedgerService/internal/infrastructure/observability"
	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const userTracer = "user-repository"

const userColumns = `id, username, display_name, balance, level, total_recharged, total_spent, referrer_id, referral_code, created_at`

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (err error) {
	if user == nil {
		return pkgerrors.ErrNilUser
	}
	ctx, done := observability.StartCall(ctx, userTracer, "CreateUser", attribute.Int64("user_id", user.ID))
	defer func() { done(err) }()

	query := `
	INSERT INTO users (id, username, display_name, balance, level, total_recharged, total_spent, referrer_id, referral_code)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING created_at
	`
	err = r.db.QueryRowContext(ctx, query,
		user.ID,
		user.Username,
		user.DisplayName,
		user.Balance,
		user.Level,
		user.TotalRecharged,
		user.TotalSpent,
		nullInt64(user.ReferrerID),
		user.ReferralCode,
	).Scan(&user.CreatedAt)
	if isUniqueViolation(err) {
		err = pkgerrors.ErrUserAlreadyExists
		return err
	}
	if err != nil {
		slog.Error("failed to create user", "method", "Create", "user_id", user.ID, "error", err)
		return fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user created", "method", "Create", "user_id", user.ID)
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (_ *models.User, err error) {
	ctx, done := observability.StartCall(ctx, userTracer, "GetUserByID", attribute.Int64("user_id", id))
	defer func() { done(err) }()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrUserNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get user by id", "method", "GetByID", "user_id", id, "error", err)
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, nil
}

func (r *UserRepository) GetByReferralCode(ctx context.Context, code string) (_ *models.User, err error) {
	if code == "" {
		return nil, pkgerrors.ErrInvalidInput
	}
	ctx, done := observability.StartCall(ctx, userTracer, "GetUserByReferralCode")
	defer func() { done(err) }()

	query := `SELECT ` + userColumns + ` FROM users WHERE referral_code = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, code))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = pkgerrors.ErrUserNotFound
		return nil, err
	case err != nil:
		slog.Error("failed to get user by referral code", "method", "GetByReferralCode", "error", err)
		return nil, fmt.Errorf("failed to get user by referral code: %w", err)
	}
	return user, nil
}

func (r *UserRepository) UpdateMembership(ctx context.Context, userID int64, rechargedDelta decimal.Decimal, level models.MemberLevel) (err error) {
	ctx, done := observability.StartCall(ctx, userTracer, "UpdateMembership",
		attribute.Int64("user_id", userID),
		attribute.String("level", string(level)),
	)
	defer func() { done(err) }()

	query := `UPDATE users SET total_recharged = total_recharged + $1, level = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, rechargedDelta, level, userID)
	if err != nil {
		slog.Error("failed to update membership", "method", "UpdateMembership", "user_id", userID, "error", err)
		return fmt.Errorf("failed to update membership: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = pkgerrors.ErrUserNotFound
		return err
	}

	slog.Info("membership updated", "method", "UpdateMembership", "user_id", userID, "level", level, "recharged_delta", rechargedDelta.String())
	return nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var (
		user     models.User
		referrer sql.NullInt64
	)
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&user.Balance,
		&user.Level,
		&user.TotalRecharged,
		&user.TotalSpent,
		&referrer,
		&user.ReferralCode,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.ReferrerID = int64Ptr(referrer)
	return &user, nil
}
