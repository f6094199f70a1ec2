package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/infrastructure/observability"
	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const activityTracer = "activity-repository"

const activityColumns = `id, name, description, type, min_amount, max_amount, bonus_rate, discount_rate, fixed_bonus, start_time, end_time, is_active, max_participants, current_participants, per_user_limit, level_requirement`

type ActivityRepository struct {
	db *sql.DB
}

func NewActivityRepository(db *sql.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

func (r *ActivityRepository) Create(ctx context.Context, a *models.RechargeActivity) (err error) {
	if a == nil {
		return pkgerrors.ErrInvalidInput
	}
	ctx, done := observability.StartCall(ctx, activityTracer, "CreateActivity", attribute.String("type", string(a.Type)))
	defer func() { done(err) }()

	var maxParticipants sql.NullInt64
	if a.MaxParticipants != nil {
		maxParticipants = sql.NullInt64{Int64: int64(*a.MaxParticipants), Valid: true}
	}

	query := `
	INSERT INTO recharge_activities (name, description, type, min_amount, max_amount, bonus_rate, discount_rate, fixed_bonus, start_time, end_time, is_active, max_participants, per_user_limit, level_requirement)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	RETURNING id
	`
	err = r.db.QueryRowContext(ctx, query,
		a.Name,
		a.Description,
		a.Type,
		a.MinAmount,
		a.MaxAmount,
		a.BonusRate,
		a.DiscountRate,
		a.FixedBonus,
		a.StartTime,
		a.EndTime,
		a.IsActive,
		maxParticipants,
		a.PerUserLimit,
		nullString(string(a.LevelRequirement)),
	).Scan(&a.ID)
	if err != nil {
		slog.Error("failed to create activity", "method", "Create", "name", a.Name, "error", err)
		return fmt.Errorf("failed to create activity: %w", err)
	}

	slog.Info("recharge activity created", "method", "Create", "activity_id", a.ID, "type", a.Type)
	return nil
}

func (r *ActivityRepository) GetByID(ctx context.Context, id int64) (_ *models.RechargeActivity, err error) {
	ctx, done := observability.StartCall(ctx, activityTracer, "GetActivityByID", attribute.Int64("activity_id", id))
	defer func() { done(err) }()

	rows, err := r.db.QueryContext(ctx, `SELECT `+activityColumns+` FROM recharge_activities WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to get activity: %w", err)
		}
		err = pkgerrors.ErrActivityNotFound
		return nil, err
	}
	a, err := scanActivity(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan activity: %w", err)
	}
	return a, nil
}

func (r *ActivityRepository) ListActive(ctx context.Context, now time.Time) (_ []models.RechargeActivity, err error) {
	ctx, done := observability.StartCall(ctx, activityTracer, "ListActiveActivities")
	defer func() { done(err) }()

	query := `SELECT ` + activityColumns + ` FROM recharge_activities WHERE is_active AND start_time <= $1 AND end_time >= $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		slog.Error("failed to list active activities", "method", "ListActive", "error", err)
		return nil, fmt.Errorf("failed to list active activities: %w", err)
	}
	defer rows.Close()

	var out []models.RechargeActivity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *ActivityRepository) CountUsage(ctx context.Context, activityID, userID int64) (_ int, err error) {
	ctx, done := observability.StartCall(ctx, activityTracer, "CountActivityUsage",
		attribute.Int64("activity_id", activityID),
		attribute.Int64("user_id", userID),
	)
	defer func() { done(err) }()

	var n int
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activity_participations WHERE activity_id = $1 AND user_id = $2`,
		activityID, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count activity usage: %w", err)
	}
	return n, nil
}

// RecordParticipation is idempotent per recharge id.
func (r *ActivityRepository) RecordParticipation(ctx context.Context, activityID, userID int64, rechargeID string) (err error) {
	ctx, done := observability.StartCall(ctx, activityTracer, "RecordParticipation",
		attribute.Int64("activity_id", activityID),
		attribute.String("recharge_id", rechargeID),
	)
	defer func() { done(err) }()

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	res, err := dbTx.ExecContext(ctx,
		`INSERT INTO activity_participations (activity_id, user_id, recharge_id) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		activityID, userID, rechargeID,
	)
	if err != nil {
		err = rollback(dbTx, "RecordParticipation", fmt.Errorf("failed to record participation: %w", err))
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		_, err = dbTx.ExecContext(ctx,
			`UPDATE recharge_activities SET current_participants = current_participants + 1 WHERE id = $1`,
			activityID,
		)
		if err != nil {
			err = rollback(dbTx, "RecordParticipation", fmt.Errorf("failed to bump participants: %w", err))
			return err
		}
	}

	if err = dbTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func scanActivity(rows *sql.Rows) (*models.RechargeActivity, error) {
	var (
		a               models.RechargeActivity
		maxParticipants sql.NullInt64
		level           sql.NullString
	)
	err := rows.Scan(
		&a.ID,
		&a.Name,
		&a.Description,
		&a.Type,
		&a.MinAmount,
		&a.MaxAmount,
		&a.BonusRate,
		&a.DiscountRate,
		&a.FixedBonus,
		&a.StartTime,
		&a.EndTime,
		&a.IsActive,
		&maxParticipants,
		&a.CurrentParticipants,
		&a.PerUserLimit,
		&level,
	)
	if err != nil {
		return nil, err
	}
	if maxParticipants.Valid {
		n := int(maxParticipants.Int64)
		a.MaxParticipants = &n
	}
	a.LevelRequirement = models.MemberLevel(level.String)
	return &a, nil
}
