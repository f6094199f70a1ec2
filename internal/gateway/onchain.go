package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/infrastructure/observability"
	"github.com/honeynil/ShopLedgerService/internal/infrastructure/redis"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
)

const OnchainName = "onchain"

// USDTContract is the TRC20 USDT token contract.
const USDTContract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"

type OnchainConfig struct {
	// Addresses maps a currency code ("usdt", "trx") to its receiving address.
	Addresses map[string]string
	Window    time.Duration
	// Secret signs the payment notifications the rail posts back. Without it
	// callbacks are refused and records settle by polling only.
	Secret string
}

// Onchain is the polling rail: the payer transfers to a fixed receiving
// address and confirmation comes from a TransferVerifier.
type Onchain struct {
	cfg      OnchainConfig
	store    redis.RedisClient
	verifier TransferVerifier
	signer   *Signer
	now      func() time.Time
}

func NewOnchain(cfg OnchainConfig, store redis.RedisClient, verifier TransferVerifier) *Onchain {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	return &Onchain{
		cfg:      cfg,
		store:    store,
		verifier: verifier,
		signer:   NewSigner(cfg.Secret, MD5),
		now:      time.Now,
	}
}

func (o *Onchain) Name() string { return OnchainName }

func intentKey(orderID string) string { return "onchain:intent:" + orderID }

func (o *Onchain) CreateOrder(ctx context.Context, req CreateRequest) (_ *PaymentIntent, err error) {
	defer func() { observability.GatewayCalls.WithLabelValues(OnchainName, "create", callStatus(err)).Inc() }()

	address, ok := o.cfg.Addresses[req.Currency]
	if !ok || address == "" {
		return nil, fmt.Errorf("%w: no receiving address for %s", pkgerrors.ErrGatewayRejected, req.Currency)
	}

	window := o.cfg.Window
	if req.Timeout > 0 {
		window = req.Timeout
	}
	intent := &PaymentIntent{
		Gateway:        OnchainName,
		OrderID:        req.OrderID,
		PaymentOrderID: "onchain-" + req.OrderID,
		Amount:         req.Amount,
		ActualAmount:   req.Amount,
		Currency:       req.Currency,
		Address:        address,
		PaymentURL:     payURI(address, req),
		ExpiresAt:      o.now().Add(window),
	}

	raw, err := json.Marshal(intent)
	if err != nil {
		return nil, fmt.Errorf("failed to encode intent: %w", err)
	}
	// kept past expiry so late polls still see the intent
	if err = o.store.Set(ctx, intentKey(req.OrderID), string(raw), window+24*time.Hour); err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrGatewayUnavailable, err)
	}

	slog.Info("on-chain intent created", "order_id", req.OrderID, "currency", req.Currency, "expires_at", intent.ExpiresAt)
	return intent, nil
}

func (o *Onchain) QueryOrder(ctx context.Context, orderID string) (_ *QueryResult, err error) {
	defer func() { observability.GatewayCalls.WithLabelValues(OnchainName, "query", callStatus(err)).Inc() }()

	raw, err := o.store.Get(ctx, intentKey(orderID))
	if errors.Is(err, redis.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: unknown intent %s", pkgerrors.ErrGatewayRejected, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrGatewayUnavailable, err)
	}

	var intent PaymentIntent
	if err = json.Unmarshal([]byte(raw), &intent); err != nil {
		return nil, fmt.Errorf("failed to decode intent: %w", err)
	}

	result := &QueryResult{
		OrderID:        orderID,
		PaymentOrderID: intent.PaymentOrderID,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
	}
	if o.now().After(intent.ExpiresAt) {
		result.Status, result.RawStatus = StatusExpired, "expired"
		return result, nil
	}

	txHash, confirmed, err := o.verifier.Confirmed(ctx, &intent)
	if err != nil {
		return nil, fmt.Errorf("%w: verifier: %v", pkgerrors.ErrGatewayUnavailable, err)
	}
	if confirmed {
		paidAt := o.now()
		result.Status, result.RawStatus, result.TxHash = StatusPaid, "paid", txHash
		result.PaidAt = &paidAt
		return result, nil
	}
	result.Status, result.RawStatus = StatusPending, "pending"
	return result, nil
}

func (o *Onchain) VerifyCallback(payload map[string]string) bool {
	if o.cfg.Secret == "" {
		slog.Warn("on-chain callback refused, no secret configured", "order_id", payload["order_id"])
		return false
	}
	ok := o.signer.Verify(payload)
	if !ok {
		slog.Warn("on-chain callback signature mismatch", "order_id", payload["order_id"])
	}
	return ok
}

func payURI(address string, req CreateRequest) string {
	q := url.Values{}
	q.Set("to", address)
	q.Set("amount", req.Amount.StringFixed(2))
	if req.Currency == "usdt" {
		q.Set("token", USDTContract)
	}
	return "tronlink://transfer?" + q.Encode()
}

func callStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
