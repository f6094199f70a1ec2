package service

import (
	"context"
	"testing"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_SweepOnce(t *testing.T) {
	f := newFixture(t)
	f.member(t, 1, "0")
	f.product("vip", "10", 2)

	stale, err := f.recharges.Checkout(f.ctx, 1, dec("10"), models.MethodUSDTTRC20)
	require.NoError(t, err)
	late, err := f.recharges.Checkout(f.ctx, 1, dec("30"), models.MethodUSDTTRC20)
	require.NoError(t, err)
	order, err := f.orders.CreateOrder(f.ctx, CreateOrderRequest{UserID: 1, ProductID: "vip", Quantity: 1, PaymentMethod: models.MethodUSDT})
	require.NoError(t, err)
	fresh, err := f.recharges.CreateRechargeOrder(f.ctx, 1, dec("5"), models.MethodUSDTTRC20)
	require.NoError(t, err)

	changed, err := f.sweeper.SweepOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, changed)

	f.clock.Advance(90 * time.Minute)
	fresh2, err := f.recharges.CreateRechargeOrder(f.ctx, 1, dec("5"), models.MethodUSDTTRC20)
	require.NoError(t, err)

	f.bepusdt.SetStatus(late.Record.ID, "paid", "")
	f.onchain.QueryErr = pkgerrors.ErrGatewayUnavailable

	changed, err = f.sweeper.SweepOnce(f.ctx)
	require.NoError(t, err)
	// a payment reported after the window is refused and the record expires
	// on the settle attempt, so it is not counted here
	assert.Equal(t, 3, changed)

	got, err := f.recharges.Get(f.ctx, stale.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RechargeExpired, got.Status)

	got, err = f.recharges.Get(f.ctx, late.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RechargeExpired, got.Status)
	assert.True(t, f.balance(t, 1).IsZero())

	got, err = f.recharges.Get(f.ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RechargeExpired, got.Status)

	got, err = f.recharges.Get(f.ctx, fresh2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RechargePending, got.Status)

	o, err := f.orders.Get(f.ctx, order.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, o.Status)
	assert.Equal(t, 2, f.stock(t, "vip"))
	f.requireBalanced(t, 1)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.sweeper.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan struct{})
	go func() {
		f.sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
