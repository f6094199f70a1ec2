package service

import (
	"sync"
	"testing"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/gateway"
	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciler_TamperedCallbackChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.member(t, 1, "0")

	checkout, err := f.recharges.Checkout(f.ctx, 1, dec("20"), models.MethodUSDTTRC20)
	require.NoError(t, err)

	payload := f.bepusdt.Callback(checkout.Record.ID, "2")
	payload["amount"] = "20000"

	_, err = f.reconciler.HandleCallback(f.ctx, "bepusdt", KindRechargeRecord, payload)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidSignature)

	_, err = f.reconciler.Reconcile(f.ctx, KindRechargeRecord, checkout.Record.ID, Source{Gateway: f.bepusdt, Callback: payload})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidSignature)

	stored, err := f.recharges.Get(f.ctx, checkout.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RechargePending, stored.Status)
	assert.True(t, f.balance(t, 1).IsZero())
}

func TestReconciler_CallbackSettlesOnce(t *testing.T) {
	f := newFixture(t)
	f.member(t, 1, "0")

	checkout, err := f.recharges.Checkout(f.ctx, 1, dec("20"), models.MethodUSDTTRC20)
	require.NoError(t, err)
	payload := f.bepusdt.Callback(checkout.Record.ID, "2")

	out, err := f.reconciler.HandleCallback(f.ctx, "bepusdt", KindRechargeRecord, payload)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, gateway.StatusPaid, out.Status)

	replay, err := f.reconciler.HandleCallback(f.ctx, "bepusdt", KindRechargeRecord, payload)
	require.NoError(t, err)
	assert.False(t, replay.Applied)
	assert.Equal(t, "already settled", replay.Note)

	assert.True(t, f.balance(t, 1).Equal(dec("20")))
	stored, err := f.recharges.Get(f.ctx, checkout.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, "pay-"+checkout.Record.ID, stored.PaymentOrderID)
}

func TestReconciler_SignedOnchainCallbackSettles(t *testing.T) {
	f := newFixture(t)
	f.member(t, 1, "0")
	onchain := gateway.NewOnchain(gateway.OnchainConfig{
		Addresses: map[string]string{"usdt": "TUsdtAddr"},
		Secret:    "umpay-secret",
	}, f.cache, gateway.NewStaticVerifier())
	f.registry.Register(models.MethodUSDT, onchain, "usdt")

	checkout, err := f.recharges.Checkout(f.ctx, 1, dec("100"), models.MethodUSDT)
	require.NoError(t, err)
	assert.Equal(t, "TUsdtAddr", checkout.Intent.Address)

	payload := map[string]string{
		"order_id":         checkout.Record.ID,
		"status":           "paid",
		"amount":           "100.00",
		"payment_order_id": "0xfeed",
	}
	payload[gateway.SignatureField] = gateway.NewSigner("umpay-secret", gateway.MD5).Sign(payload)

	forged := map[string]string{}
	for k, v := range payload {
		forged[k] = v
	}
	forged["amount"] = "1000.00"
	_, err = f.reconciler.HandleCallback(f.ctx, "onchain", KindRechargeRecord, forged)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidSignature)
	assert.True(t, f.balance(t, 1).IsZero())

	out, err := f.reconciler.HandleCallback(f.ctx, "onchain", KindRechargeRecord, payload)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, gateway.StatusPaid, out.Status)

	stored, err := f.recharges.Get(f.ctx, checkout.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RechargePaid, stored.Status)
	assert.Equal(t, "0xfeed", stored.PaymentOrderID)
	assert.True(t, f.balance(t, 1).Equal(dec("100")))
	f.requireBalanced(t, 1)
}

func TestReconciler_ConcurrentCallbacksAndPolls(t *testing.T) {
	f := newFixture(t)
	f.member(t, 1, "0")
	f.product("vip", "10", 1)

	checkout, err := f.orders.CreateOrder(f.ctx, CreateOrderRequest{UserID: 1, ProductID: "vip", Quantity: 1, PaymentMethod: models.MethodUSDTTRC20})
	require.NoError(t, err)
	id := checkout.Order.ID
	f.bepusdt.SetStatus(id, "paid", "")
	payload := f.bepusdt.Callback(id, "paid")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var (
				out *Outcome
				err error
			)
			if i%2 == 0 {
				out, err = f.reconciler.HandleCallback(f.ctx, "bepusdt", KindOrderRecord, payload)
			} else {
				out, err = f.reconciler.Poll(f.ctx, KindOrderRecord, id)
			}
			if !assert.NoError(t, err) {
				return
			}
			if out.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, f.fulfiller.Count(id))
}

func TestReconciler_ForeignGateway(t *testing.T) {
	f := newFixture(t)
	f.member(t, 1, "0")

	checkout, err := f.recharges.Checkout(f.ctx, 1, dec("20"), models.MethodUSDT)
	require.NoError(t, err)

	_, err = f.reconciler.HandleCallback(f.ctx, "bepusdt", KindRechargeRecord, f.bepusdt.Callback(checkout.Record.ID, "paid"))
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)

	_, err = f.reconciler.HandleCallback(f.ctx, "stripe", KindRechargeRecord, map[string]string{})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)

	assert.True(t, f.balance(t, 1).IsZero())
}

func TestReconciler_Poll(t *testing.T) {
	f := newFixture(t)
	f.member(t, 1, "0")

	t.Run("paid credits with the chain reference", func(t *testing.T) {
		checkout, err := f.recharges.Checkout(f.ctx, 1, dec("12"), models.MethodUSDT)
		require.NoError(t, err)
		f.onchain.SetStatus(checkout.Record.ID, "paid", "0xfeed")

		out, err := f.reconciler.Poll(f.ctx, KindRechargeRecord, checkout.Record.ID)
		require.NoError(t, err)
		assert.True(t, out.Applied)

		stored, err := f.recharges.Get(f.ctx, checkout.Record.ID)
		require.NoError(t, err)
		assert.Equal(t, "0xfeed", stored.PaymentOrderID)
		assert.True(t, f.balance(t, 1).Equal(dec("12")))

		again, err := f.reconciler.Poll(f.ctx, KindRechargeRecord, checkout.Record.ID)
		require.NoError(t, err)
		assert.False(t, again.Applied)
	})

	t.Run("failed", func(t *testing.T) {
		checkout, err := f.recharges.Checkout(f.ctx, 1, dec("12"), models.MethodUSDT)
		require.NoError(t, err)
		f.onchain.SetStatus(checkout.Record.ID, "cancelled", "")

		out, err := f.reconciler.Poll(f.ctx, KindRechargeRecord, checkout.Record.ID)
		require.NoError(t, err)
		assert.True(t, out.Applied)

		stored, err := f.recharges.Get(f.ctx, checkout.Record.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RechargeFailed, stored.Status)
	})

	t.Run("pending inside the window is left alone", func(t *testing.T) {
		checkout, err := f.recharges.Checkout(f.ctx, 1, dec("12"), models.MethodUSDT)
		require.NoError(t, err)

		out, err := f.reconciler.Poll(f.ctx, KindRechargeRecord, checkout.Record.ID)
		require.NoError(t, err)
		assert.False(t, out.Applied)
		assert.Equal(t, gateway.StatusPending, out.Status)

		f.clock.Advance(2 * time.Hour)
		out, err = f.reconciler.Poll(f.ctx, KindRechargeRecord, checkout.Record.ID)
		require.NoError(t, err)
		assert.True(t, out.Applied)
		assert.Equal(t, gateway.StatusExpired, out.Status)

		stored, err := f.recharges.Get(f.ctx, checkout.Record.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RechargeExpired, stored.Status)
	})

	t.Run("gateway errors surface", func(t *testing.T) {
		checkout, err := f.recharges.Checkout(f.ctx, 1, dec("12"), models.MethodUSDT)
		require.NoError(t, err)
		f.onchain.QueryErr = pkgerrors.ErrGatewayUnavailable
		defer func() { f.onchain.QueryErr = nil }()

		_, err = f.reconciler.Poll(f.ctx, KindRechargeRecord, checkout.Record.ID)
		assert.ErrorIs(t, err, pkgerrors.ErrGatewayUnavailable)
	})

	f.requireBalanced(t, 1)
}

func TestParseRecordKind(t *testing.T) {
	k, err := ParseRecordKind("order")
	require.NoError(t, err)
	assert.Equal(t, KindOrderRecord, k)

	_, err = ParseRecordKind("refund")
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
}
