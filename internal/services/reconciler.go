package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/gateway"
	"github.com/honeynil/ShopLedgerService/internal/infrastructure/observability"
	"github.com/honeynil/ShopLedgerService/internal/models"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type RecordKind string

const (
	KindRechargeRecord RecordKind = "recharge"
	KindOrderRecord    RecordKind = "order"
)

func ParseRecordKind(s string) (RecordKind, error) {
	switch RecordKind(s) {
	case KindRechargeRecord, KindOrderRecord:
		return RecordKind(s), nil
	}
	return "", fmt.Errorf("%w: unknown record kind %q", pkgerrors.ErrInvalidInput, s)
}

// Source is one gateway observation: either a poll answer or a callback
// payload that still has to be verified.
type Source struct {
	Gateway  gateway.Gateway
	Poll     *gateway.QueryResult
	Callback map[string]string
}

type Outcome struct {
	Kind     RecordKind     `json:"kind"`
	RecordID string         `json:"record_id"`
	Status   gateway.Status `json:"status"`
	Applied  bool           `json:"applied"`
	Note     string         `json:"note,omitempty"`
}

// Reconciler folds gateway observations into recharge and order state. It is
// the only path from a gateway answer to a settlement.
type Reconciler struct {
	recharges *RechargeService
	orders    *OrderService
	registry  *gateway.Registry
	now       func() time.Time
}

func NewReconciler(recharges *RechargeService, orders *OrderService, registry *gateway.Registry) *Reconciler {
	return &Reconciler{
		recharges: recharges,
		orders:    orders,
		registry:  registry,
		now:       time.Now,
	}
}

func callbackRef(payload map[string]string) string {
	for _, k := range []string{"block_transaction_id", "tx_hash", "trade_id", "payment_order_id"} {
		if v := payload[k]; v != "" {
			return v
		}
	}
	return ""
}

func (r *Reconciler) Reconcile(ctx context.Context, kind RecordKind, recordID string, src Source) (*Outcome, error) {
	tracer := otel.Tracer("reconciler")
	ctx, span := tracer.Start(ctx, "Reconcile")
	span.SetAttributes(attribute.String("kind", string(kind)), attribute.String("record_id", recordID))
	defer span.End()

	var (
		status gateway.Status
		ref    string
	)
	switch {
	case src.Callback != nil:
		if src.Gateway == nil || !src.Gateway.VerifyCallback(src.Callback) {
			span.SetStatus(codes.Error, "invalid signature")
			observability.WithContext(ctx, "kind", kind, "record_id", recordID).Warn("callback rejected")
			return nil, pkgerrors.ErrInvalidSignature
		}
		status = gateway.NormalizeStatus(src.Callback["status"])
		ref = callbackRef(src.Callback)
	case src.Poll != nil:
		status = src.Poll.Status
		ref = src.Poll.ExternalRef()
	default:
		return nil, fmt.Errorf("%w: empty source", pkgerrors.ErrInvalidInput)
	}

	out := &Outcome{Kind: kind, RecordID: recordID, Status: status}
	err := r.dispatch(ctx, out, ref)
	if errors.Is(err, pkgerrors.ErrAlreadySettled) {
		out.Applied = false
		out.Note = "already settled"
		return out, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	observability.WithContext(ctx, "kind", kind, "record_id", recordID).Info("reconciled", "status", status, "applied", out.Applied, "note", out.Note)
	return out, nil
}

func (r *Reconciler) dispatch(ctx context.Context, out *Outcome, ref string) error {
	switch out.Kind {
	case KindRechargeRecord:
		switch out.Status {
		case gateway.StatusPaid:
			if _, err := r.recharges.SettleRecharge(ctx, out.RecordID, ref); err != nil {
				return err
			}
			out.Applied = true
		case gateway.StatusExpired:
			changed, err := r.recharges.forceExpire(ctx, out.RecordID)
			if err != nil {
				return err
			}
			out.Applied = changed
		case gateway.StatusFailed:
			if err := r.recharges.FailRecharge(ctx, out.RecordID); err != nil {
				return err
			}
			out.Applied = true
		default:
			out.Note = "no terminal status"
		}
		return nil

	case KindOrderRecord:
		order, err := r.orders.SettleOrder(ctx, out.RecordID, out.Status, ref)
		if err != nil {
			return err
		}
		if order.Status == models.OrderPending {
			out.Note = "no terminal status"
		} else {
			out.Applied = true
		}
		return nil
	}
	return fmt.Errorf("%w: unknown record kind %q", pkgerrors.ErrInvalidInput, out.Kind)
}

// record returns the payment method and pending state of a record.
func (r *Reconciler) record(ctx context.Context, kind RecordKind, id string) (method models.PaymentMethod, pending, overdue bool, err error) {
	now := r.now()
	switch kind {
	case KindRechargeRecord:
		rec, err := r.recharges.Get(ctx, id)
		if err != nil {
			return "", false, false, err
		}
		return rec.PaymentMethod, rec.Status == models.RechargePending, rec.IsExpired(now), nil
	case KindOrderRecord:
		o, err := r.orders.Get(ctx, id)
		if err != nil {
			return "", false, false, err
		}
		return o.PaymentMethod, o.Status == models.OrderPending, o.IsExpired(now), nil
	}
	return "", false, false, fmt.Errorf("%w: unknown record kind %q", pkgerrors.ErrInvalidInput, kind)
}

// Poll asks the record's gateway for its status and reconciles the answer.
// The gateway is queried without holding any lock.
func (r *Reconciler) Poll(ctx context.Context, kind RecordKind, recordID string) (*Outcome, error) {
	method, pending, overdue, err := r.record(ctx, kind, recordID)
	if err != nil {
		return nil, err
	}
	if !pending {
		return &Outcome{Kind: kind, RecordID: recordID, Note: "already settled"}, nil
	}

	route, err := r.registry.Resolve(method)
	if err != nil {
		return nil, err
	}
	res, err := route.Gateway.QueryOrder(ctx, recordID)
	if err != nil {
		slog.Warn("gateway query failed", "kind", kind, "record_id", recordID, "gateway", route.Gateway.Name(), "error", err)
		return nil, err
	}

	out, err := r.Reconcile(ctx, kind, recordID, Source{Gateway: route.Gateway, Poll: res})
	if err != nil {
		return nil, err
	}
	if !out.Applied && !out.Status.Terminal() && overdue {
		changed, err := r.expireLocally(ctx, kind, recordID)
		if err != nil {
			return nil, err
		}
		out.Applied = changed
		out.Status = gateway.StatusExpired
		out.Note = "expired locally"
	}
	return out, nil
}

// expireLocally closes an overdue record without a gateway verdict.
func (r *Reconciler) expireLocally(ctx context.Context, kind RecordKind, recordID string) (bool, error) {
	var (
		changed bool
		err     error
	)
	switch kind {
	case KindRechargeRecord:
		changed, err = r.recharges.ExpireRecharge(ctx, recordID)
	case KindOrderRecord:
		changed, err = r.orders.ExpireOrder(ctx, recordID)
	}
	if errors.Is(err, pkgerrors.ErrAlreadySettled) {
		return false, nil
	}
	return changed, err
}

// HandleCallback is the webhook entry point. The record id travels in the
// payload's order_id field.
func (r *Reconciler) HandleCallback(ctx context.Context, gatewayName string, kind RecordKind, payload map[string]string) (*Outcome, error) {
	gw, ok := r.registry.Gateway(gatewayName)
	if !ok {
		return nil, fmt.Errorf("%w: unknown gateway %q", pkgerrors.ErrInvalidInput, gatewayName)
	}
	if !gw.VerifyCallback(payload) {
		slog.Warn("callback rejected", "gateway", gatewayName, "kind", kind)
		return nil, pkgerrors.ErrInvalidSignature
	}
	recordID := payload["order_id"]
	if recordID == "" {
		return nil, fmt.Errorf("%w: order_id is required", pkgerrors.ErrInvalidInput)
	}

	method, _, _, err := r.record(ctx, kind, recordID)
	if err != nil {
		return nil, err
	}
	route, err := r.registry.Resolve(method)
	if err != nil {
		return nil, err
	}
	if route.Gateway.Name() != gw.Name() {
		slog.Warn("callback from foreign gateway", "gateway", gatewayName, "expected", route.Gateway.Name(), "record_id", recordID)
		return nil, fmt.Errorf("%w: record %s is not paid through %s", pkgerrors.ErrInvalidInput, recordID, gatewayName)
	}

	return r.Reconcile(ctx, kind, recordID, Source{Gateway: gw, Callback: payload})
}
