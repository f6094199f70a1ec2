package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/honeynil/ShopLedgerService/internal/models"
	"github.com/honeynil/ShopLedgerService/internal/repository/postgres"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var userRowColumns = []string{"id", "username", "display_name", "balance", "level", "total_recharged", "total_spent", "referrer_id", "referral_code", "created_at"}

func TestUserRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := postgres.NewUserRepository(db)
	ctx := context.Background()

	t.Run("NilUser", func(t *testing.T) {
		err := repo.Create(ctx, nil)
		assert.ErrorIs(t, err, pkgerrors.ErrNilUser)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UserAlreadyExists", func(t *testing.T) {
		user := &models.User{ID: 42, Username: "alice", Level: models.LevelBronze, ReferralCode: "abcd1234"}
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
			WillReturnError(&pq.Error{Code: "23505"})

		err := repo.Create(ctx, user)
		assert.ErrorIs(t, err, pkgerrors.ErrUserAlreadyExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Success", func(t *testing.T) {
		user := &models.User{ID: 42, Username: "alice", Level: models.LevelBronze, ReferralCode: "abcd1234"}
		createdAt := time.Now().UTC()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users (id, username, display_name, balance, level, total_recharged, total_spent, referrer_id, referral_code)`)).
			WithArgs(int64(42), "alice", "", sqlmock.AnyArg(), models.LevelBronze, sqlmock.AnyArg(), sqlmock.AnyArg(), nil, "abcd1234").
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(createdAt))

		err := repo.Create(ctx, user)
		assert.NoError(t, err)
		assert.WithinDuration(t, createdAt, user.CreatedAt, time.Second)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DatabaseError", func(t *testing.T) {
		user := &models.User{ID: 43, Username: "bob", Level: models.LevelBronze, ReferralCode: "zzzz0000"}
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
			WillReturnError(fmt.Errorf("database error"))

		err := repo.Create(ctx, user)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create user")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUserRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := postgres.NewUserRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		createdAt := time.Now().UTC()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, username, display_name, balance, level, total_recharged, total_spent, referrer_id, referral_code, created_at FROM users WHERE id = $1`)).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows(userRowColumns).
				AddRow(int64(42), "alice", "Alice", "120.50", "silver", "600.00", "10.00", int64(7), "abcd1234", createdAt))

		user, err := repo.GetByID(ctx, 42)
		assert.NoError(t, err)
		assert.Equal(t, int64(42), user.ID)
		assert.Equal(t, models.LevelSilver, user.Level)
		assert.True(t, user.Balance.Equal(decimal.RequireFromString("120.5")))
		if assert.NotNil(t, user.ReferrerID) {
			assert.Equal(t, int64(7), *user.ReferrerID)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)

		user, err := repo.GetByID(ctx, 99)
		assert.Nil(t, user)
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUserRepository_GetByReferralCode(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := postgres.NewUserRepository(db)
	ctx := context.Background()

	t.Run("EmptyCode", func(t *testing.T) {
		_, err := repo.GetByReferralCode(ctx, "")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE referral_code = $1`)).
			WithArgs("abcd1234").
			WillReturnRows(sqlmock.NewRows(userRowColumns).
				AddRow(int64(7), "ref", "", "0", "bronze", "0", "0", nil, "abcd1234", time.Now()))

		user, err := repo.GetByReferralCode(ctx, "abcd1234")
		assert.NoError(t, err)
		assert.Equal(t, int64(7), user.ID)
		assert.Nil(t, user.ReferrerID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUserRepository_UpdateMembership(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := postgres.NewUserRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET total_recharged = total_recharged + $1, level = $2 WHERE id = $3`)).
			WithArgs(decimal.NewFromInt(500), models.LevelSilver, int64(42)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.UpdateMembership(ctx, 42, decimal.NewFromInt(500), models.LevelSilver)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET total_recharged`)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.UpdateMembership(ctx, 99, decimal.NewFromInt(1), models.LevelBronze)
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
