package gateway_test

import (
	"testing"

	"github.com/honeynil/ShopLedgerService/internal/gateway"
	"github.com/honeynil/ShopLedgerService/internal/gateway/gatewaytest"
	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	bep := gatewaytest.New(gateway.BEpusdtName, "s")
	chain := gatewaytest.New(gateway.OnchainName, "s")

	r := gateway.NewRegistry()
	r.Register(models.MethodUSDTTRC20, bep, "usdt.trc20")
	r.Register(models.MethodUSDT, chain, "usdt")

	route, err := r.Resolve(models.MethodUSDTTRC20)
	require.NoError(t, err)
	assert.Equal(t, gateway.BEpusdtName, route.Gateway.Name())
	assert.Equal(t, "usdt.trc20", route.Currency)

	_, err = r.Resolve(models.MethodBalance)
	assert.ErrorIs(t, err, pkgerrors.ErrUnsupportedPaymentMethod)

	gw, ok := r.Gateway(gateway.OnchainName)
	assert.True(t, ok)
	assert.Equal(t, chain, gw)

	assert.Equal(t, []models.PaymentMethod{models.MethodUSDT, models.MethodUSDTTRC20}, r.Methods())
}
