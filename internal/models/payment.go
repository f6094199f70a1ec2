package models

type PaymentMethod string

const (
	MethodBalance PaymentMethod = "balance"

	// on-chain rail
	MethodUSDT PaymentMethod = "usdt"
	MethodTRX  PaymentMethod = "trx"

	// BEpusdt rail
	MethodUSDTTRC20   PaymentMethod = "usdt.trc20"
	MethodTronTRX     PaymentMethod = "tron.trx"
	MethodUSDTERC20   PaymentMethod = "usdt.erc20"
	MethodUSDTBSC     PaymentMethod = "usdt.bsc"
	MethodUSDTPolygon PaymentMethod = "usdt.polygon"
)
