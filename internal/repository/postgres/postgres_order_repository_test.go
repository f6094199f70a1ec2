package postgres_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/honeynil/ShopLedgerService/internal/models"
	"github.com/honeynil/ShopLedgerService/internal/repository/postgres"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOrderRepository_CreateAndGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := postgres.NewOrderRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("Create", func(t *testing.T) {
		order := &models.Order{
			ID:     "o-1",
			UserID: 42,
			Items: []models.OrderItem{
				{ProductID: "p-1", Name: "VIP", UnitPrice: decimal.NewFromInt(10), Quantity: 2},
			},
			OriginalAmount: decimal.NewFromInt(20),
			DiscountAmount: decimal.Zero,
			TotalAmount:    decimal.NewFromInt(20),
			PaymentMethod:  models.MethodUSDT,
			Status:         models.OrderPending,
			CreatedAt:      now,
			ExpiresAt:      now.Add(30 * time.Minute),
		}
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO orders`)).
			WithArgs("o-1", int64(42), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), models.MethodUSDT, nil, models.OrderPending, now, nil, order.ExpiresAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Create(ctx, order))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Get", func(t *testing.T) {
		items := `[{"product_id":"p-1","name":"VIP","unit_price":"10","quantity":2}]`
		mock.ExpectQuery(regexp.QuoteMeta(`FROM orders WHERE id = $1`)).
			WithArgs("o-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "items", "original_amount", "discount_amount", "total_amount", "payment_method", "payment_order_id", "status", "created_at", "completed_at", "expires_at"}).
				AddRow("o-1", int64(42), []byte(items), "20.00", "0.00", "20.00", "usdt", nil, "pending", now, nil, now.Add(30*time.Minute)))

		order, err := repo.GetByID(ctx, "o-1")
		assert.NoError(t, err)
		if assert.Len(t, order.Items, 1) {
			assert.Equal(t, 2, order.Items[0].Quantity)
			assert.True(t, order.Items[0].UnitPrice.Equal(decimal.NewFromInt(10)))
		}
		assert.Nil(t, order.CompletedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOrderRepository_MarkFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := postgres.NewOrderRepository(db)
	ctx := context.Background()

	failQuery := regexp.QuoteMeta(`UPDATE orders SET status = 'failed' WHERE id = $1 AND status = 'pending'`)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(failQuery).WithArgs("o-1").WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, repo.MarkFailed(ctx, "o-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AlreadySettled", func(t *testing.T) {
		mock.ExpectExec(failQuery).WithArgs("o-1").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`)).
			WithArgs("o-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		assert.ErrorIs(t, repo.MarkFailed(ctx, "o-1"), pkgerrors.ErrAlreadySettled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
