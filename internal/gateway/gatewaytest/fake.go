// Package gatewaytest provides a scriptable Gateway for service tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/gateway"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
)

type Fake struct {
	name   string
	signer *gateway.Signer

	mu       sync.Mutex
	statuses map[string]*gateway.QueryResult
	created  []gateway.CreateRequest
	queries  int

	// CreateErr and QueryErr, when set, are returned by the next calls.
	CreateErr error
	QueryErr  error
}

var _ gateway.Gateway = (*Fake)(nil)

// New returns a fake gateway whose callbacks are verified with secret.
func New(name, secret string) *Fake {
	return &Fake{
		name:     name,
		signer:   gateway.NewSigner(secret, gateway.MD5),
		statuses: make(map[string]*gateway.QueryResult),
	}
}

func (f *Fake) Name() string { return f.name }

func (f *Fake) CreateOrder(_ context.Context, req gateway.CreateRequest) (*gateway.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.created = append(f.created, req)
	f.statuses[req.OrderID] = &gateway.QueryResult{
		OrderID:        req.OrderID,
		PaymentOrderID: "pay-" + req.OrderID,
		Status:         gateway.StatusPending,
		RawStatus:      "pending",
		Amount:         req.Amount,
		Currency:       req.Currency,
	}
	return &gateway.PaymentIntent{
		Gateway:        f.name,
		OrderID:        req.OrderID,
		PaymentOrderID: "pay-" + req.OrderID,
		Amount:         req.Amount,
		ActualAmount:   req.Amount,
		Currency:       req.Currency,
		Address:        "T" + req.Currency,
		ExpiresAt:      time.Now().Add(time.Hour),
	}, nil
}

func (f *Fake) QueryOrder(_ context.Context, orderID string) (*gateway.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries++
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	res, ok := f.statuses[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown order %s", pkgerrors.ErrGatewayRejected, orderID)
	}
	out := *res
	return &out, nil
}

func (f *Fake) VerifyCallback(payload map[string]string) bool {
	return f.signer.Verify(payload)
}

// SetStatus scripts the answer QueryOrder gives for orderID.
func (f *Fake) SetStatus(orderID, raw, txHash string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	res := &gateway.QueryResult{
		OrderID:        orderID,
		PaymentOrderID: "pay-" + orderID,
		Status:         gateway.NormalizeStatus(raw),
		RawStatus:      raw,
		TxHash:         txHash,
	}
	if prev, ok := f.statuses[orderID]; ok {
		res.Amount, res.Currency = prev.Amount, prev.Currency
	}
	if res.Status == gateway.StatusPaid {
		paidAt := time.Now()
		res.PaidAt = &paidAt
	}
	f.statuses[orderID] = res
}

// Callback builds a signed notification payload.
func (f *Fake) Callback(orderID, status string) map[string]string {
	payload := map[string]string{
		"order_id": orderID,
		"trade_id": "pay-" + orderID,
		"status":   status,
	}
	payload[gateway.SignatureField] = f.signer.Sign(payload)
	return payload
}

func (f *Fake) Created() []gateway.CreateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.CreateRequest(nil), f.created...)
}

func (f *Fake) Queries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}
