package service

import (
	"testing"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/gateway"
	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// goldMember registers a gold-level member holding balance.
func (f *fixture) goldMember(t *testing.T, userID int64, balance string) {
	t.Helper()
	f.member(t, userID, balance)
	require.NoError(t, f.db.Users().UpdateMembership(f.ctx, userID, dec("2000"), models.LevelGold))
}

func TestOrderService_BalancePurchase(t *testing.T) {
	f := newFixture(t)
	f.goldMember(t, 1, "100")
	f.product("vip", "25", 3)

	checkout, err := f.orders.CreateOrder(f.ctx, CreateOrderRequest{
		UserID:        1,
		ProductID:     "vip",
		Quantity:      2,
		PaymentMethod: models.MethodBalance,
	})
	require.NoError(t, err)
	order := checkout.Order
	assert.Nil(t, checkout.Intent)
	assert.Equal(t, models.OrderCompleted, order.Status)
	assert.True(t, order.OriginalAmount.Equal(dec("50")))
	assert.True(t, order.DiscountAmount.Equal(dec("5")))
	assert.True(t, order.TotalAmount.Equal(dec("45")))

	assert.Equal(t, 1, f.stock(t, "vip"))
	assert.True(t, f.balance(t, 1).Equal(dec("55")))
	assert.Equal(t, 1, f.fulfiller.Count(order.ID))

	stored, err := f.orders.Get(f.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, stored.Status)

	u, err := f.db.Users().GetByID(f.ctx, 1)
	require.NoError(t, err)
	assert.True(t, u.TotalSpent.Equal(dec("45")))
	f.requireBalanced(t, 1)

	_, err = f.orders.SettleOrder(f.ctx, order.ID, gateway.StatusPaid, "")
	assert.ErrorIs(t, err, pkgerrors.ErrAlreadySettled)
	assert.Equal(t, 1, f.fulfiller.Count(order.ID))
}

func TestOrderService_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.goldMember(t, 1, "10")
	f.product("vip", "25", 5)

	_, err := f.orders.CreateOrder(f.ctx, CreateOrderRequest{UserID: 1, ProductID: "vip", Quantity: 1, PaymentMethod: models.MethodBalance})
	assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)

	assert.Equal(t, 5, f.stock(t, "vip"))
	assert.True(t, f.balance(t, 1).Equal(dec("10")))
	orders, err := f.orders.History(f.ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestOrderService_CreateValidation(t *testing.T) {
	f := newFixture(t)
	f.member(t, 1, "100")
	f.product("vip", "25", 1)

	tests := []struct {
		name string
		req  CreateOrderRequest
		want error
	}{
		{"missing product", CreateOrderRequest{UserID: 1, ProductID: "nope", Quantity: 1, PaymentMethod: models.MethodBalance}, pkgerrors.ErrProductNotFound},
		{"not enough stock", CreateOrderRequest{UserID: 1, ProductID: "vip", Quantity: 2, PaymentMethod: models.MethodBalance}, pkgerrors.ErrOutOfStock},
		{"zero quantity", CreateOrderRequest{UserID: 1, ProductID: "vip", Quantity: 0, PaymentMethod: models.MethodBalance}, pkgerrors.ErrInvalidInput},
		{"balance needs membership", CreateOrderRequest{UserID: 2, ProductID: "vip", Quantity: 1, PaymentMethod: models.MethodBalance}, pkgerrors.ErrNotAMember},
		{"unknown method", CreateOrderRequest{UserID: 1, ProductID: "vip", Quantity: 1, PaymentMethod: "paypal"}, pkgerrors.ErrUnsupportedPaymentMethod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orders.CreateOrder(f.ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, f.stock(t, "vip"))
		})
	}
}

func TestOrderService_GatewayOrderCompletes(t *testing.T) {
	f := newFixture(t)
	f.product("vip", "25", 2)

	// non-members may pay through a gateway at full price
	checkout, err := f.orders.CreateOrder(f.ctx, CreateOrderRequest{UserID: 7, ProductID: "vip", Quantity: 1, PaymentMethod: models.MethodUSDTTRC20})
	require.NoError(t, err)
	require.NotNil(t, checkout.Intent)
	assert.Equal(t, models.OrderPending, checkout.Order.Status)
	assert.True(t, checkout.Order.TotalAmount.Equal(dec("25")))
	assert.Equal(t, 1, f.stock(t, "vip"))

	order, err := f.orders.SettleOrder(f.ctx, checkout.Order.ID, gateway.StatusPaid, "trade-9")
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, order.Status)
	assert.Equal(t, 1, f.fulfiller.Count(order.ID))

	_, err = f.orders.SettleOrder(f.ctx, order.ID, gateway.StatusPaid, "trade-9")
	assert.ErrorIs(t, err, pkgerrors.ErrAlreadySettled)
	_, err = f.orders.SettleOrder(f.ctx, order.ID, gateway.StatusExpired, "")
	assert.ErrorIs(t, err, pkgerrors.ErrAlreadySettled)

	assert.Equal(t, 1, f.fulfiller.Count(order.ID))
	assert.Equal(t, 1, f.stock(t, "vip"))
}

func TestOrderService_PriceChangeKeepsOrderSnapshot(t *testing.T) {
	f := newFixture(t)
	f.goldMember(t, 1, "0")
	f.product("vip", "25", 3)

	checkout, err := f.orders.CreateOrder(f.ctx, CreateOrderRequest{UserID: 1, ProductID: "vip", Quantity: 2, PaymentMethod: models.MethodUSDTTRC20})
	require.NoError(t, err)
	assert.True(t, checkout.Order.TotalAmount.Equal(dec("45")))

	f.db.Products().Put(models.Product{ID: "vip", Name: "Product vip", Price: dec("99"), Stock: f.stock(t, "vip")})

	_, err = f.orders.SettleOrder(f.ctx, checkout.Order.ID, gateway.StatusPaid, "trade-snap")
	require.NoError(t, err)

	stored, err := f.orders.Get(f.ctx, checkout.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, stored.Status)
	require.Len(t, stored.Items, 1)
	assert.True(t, stored.Items[0].UnitPrice.Equal(dec("25")))
	assert.True(t, stored.OriginalAmount.Equal(dec("50")))
	assert.True(t, stored.DiscountAmount.Equal(dec("5")))
	assert.True(t, stored.TotalAmount.Equal(dec("45")))
	assert.Equal(t, 1, f.stock(t, "vip"))
}

func TestOrderService_ExpiredOrderRestoresStock(t *testing.T) {
	f := newFixture(t)
	f.member(t, 1, "0")
	f.product("vip", "25", 4)

	checkout, err := f.orders.CreateOrder(f.ctx, CreateOrderRequest{UserID: 1, ProductID: "vip", Quantity: 1, PaymentMethod: models.MethodUSDT})
	require.NoError(t, err)
	require.Equal(t, 3, f.stock(t, "vip"))

	f.clock.Advance(31 * time.Minute)
	f.onchain.SetStatus(checkout.Order.ID, "expired", "")

	out, err := f.reconciler.Poll(f.ctx, KindOrderRecord, checkout.Order.ID)
	require.NoError(t, err)
	assert.True(t, out.Applied)

	stored, err := f.orders.Get(f.ctx, checkout.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, stored.Status)
	assert.Equal(t, 4, f.stock(t, "vip"))
	assert.Zero(t, f.fulfiller.Count(checkout.Order.ID))
}

func TestOrderService_GatewayFailureRestoresStock(t *testing.T) {
	f := newFixture(t)
	f.product("vip", "25", 2)
	f.bepusdt.CreateErr = pkgerrors.ErrGatewayRejected

	_, err := f.orders.CreateOrder(f.ctx, CreateOrderRequest{UserID: 1, ProductID: "vip", Quantity: 2, PaymentMethod: models.MethodUSDTTRC20})
	assert.ErrorIs(t, err, pkgerrors.ErrGatewayRejected)
	assert.Equal(t, 2, f.stock(t, "vip"))

	orders, err := f.orders.History(f.ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderFailed, orders[0].Status)
}

func TestOrderService_ExpireOrder(t *testing.T) {
	f := newFixture(t)
	f.product("vip", "25", 1)

	checkout, err := f.orders.CreateOrder(f.ctx, CreateOrderRequest{UserID: 1, ProductID: "vip", Quantity: 1, PaymentMethod: models.MethodUSDT})
	require.NoError(t, err)

	changed, err := f.orders.ExpireOrder(f.ctx, checkout.Order.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Zero(t, f.stock(t, "vip"))

	f.clock.Advance(time.Hour)
	changed, err = f.orders.ExpireOrder(f.ctx, checkout.Order.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, f.stock(t, "vip"))
}

func TestOrderService_QuoteAndProducts(t *testing.T) {
	f := newFixture(t)
	f.goldMember(t, 1, "0")
	f.product("vip", "25", 1)
	f.product("sold-out", "5", 0)

	q, err := f.orders.Quote(f.ctx, 1, "vip", 1)
	require.NoError(t, err)
	assert.Equal(t, models.LevelGold, q.Level)
	assert.True(t, q.DiscountRate.Equal(dec("0.10")))
	assert.True(t, q.TotalAmount.Equal(dec("22.5")))
	assert.True(t, q.DiscountAmount.Equal(dec("2.5")))

	q, err = f.orders.Quote(f.ctx, 2, "vip", 3)
	require.NoError(t, err)
	assert.True(t, q.DiscountRate.IsZero())
	assert.True(t, q.TotalAmount.Equal(dec("75")))

	products, err := f.orders.Products(f.ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "vip", products[0].ID)
}
