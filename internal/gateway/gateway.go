// Package gateway adapts external payment rails to a single contract used by
// the recharge and order workflows and by reconciliation.
package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway is an untrusted external payment rail. Implementations own their
// transport retries; callers never retry.
type Gateway interface {
	Name() string
	// CreateOrder opens a payment intent. Transport failures wrap
	// ErrGatewayUnavailable, refusals wrap ErrGatewayRejected.
	CreateOrder(ctx context.Context, req CreateRequest) (*PaymentIntent, error)
	QueryOrder(ctx context.Context, orderID string) (*QueryResult, error)
	// VerifyCallback reports whether an inbound notification is authentic.
	VerifyCallback(payload map[string]string) bool
}

type CreateRequest struct {
	OrderID string
	// Kind is "recharge" or "order"; webhook rails use it to route callbacks.
	Kind        string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Timeout     time.Duration
}

type PaymentIntent struct {
	Gateway        string          `json:"gateway"`
	OrderID        string          `json:"order_id"`
	PaymentOrderID string          `json:"payment_order_id"`
	Amount         decimal.Decimal `json:"amount"`
	ActualAmount   decimal.Decimal `json:"actual_amount"`
	Currency       string          `json:"currency"`
	Address        string          `json:"address,omitempty"`
	PaymentURL     string          `json:"payment_url,omitempty"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

type QueryResult struct {
	OrderID        string          `json:"order_id"`
	PaymentOrderID string          `json:"payment_order_id,omitempty"`
	Status         Status          `json:"status"`
	RawStatus      string          `json:"raw_status"`
	TxHash         string          `json:"tx_hash,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	// PaidAt is set only for paid results.
	PaidAt *time.Time `json:"paid_at,omitempty"`
}

// ExternalRef is the reference stored on a settled record.
func (r *QueryResult) ExternalRef() string {
	if r.TxHash != "" {
		return r.TxHash
	}
	return r.PaymentOrderID
}
