package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/models"
)

const (
	TopicRecharges            = "recharges"
	TopicOrders               = "orders"
	TopicFulfillment          = "fulfillment"
	TopicPaymentNotifications = "payment-notifications"
)

// Publisher is the outbound event sink; kafka.Producer satisfies it.
type Publisher interface {
	Send(ctx context.Context, topic, key string, value []byte) error
}

// Fulfiller delivers a completed order. It is invoked exactly once per order,
// by whichever caller moved the order to completed.
type Fulfiller interface {
	Fulfill(ctx context.Context, order *models.Order) error
}

type Event struct {
	Type       string    `json:"type"`
	RecordID   string    `json:"record_id"`
	UserID     int64     `json:"user_id"`
	Status     string    `json:"status"`
	Amount     string    `json:"amount,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// publish is best effort: ledger state is already committed when it runs.
func publish(ctx context.Context, p Publisher, topic string, ev Event) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal event", "type", ev.Type, "error", err)
		return
	}
	if err := p.Send(ctx, topic, ev.RecordID, payload); err != nil {
		slog.Error("failed to publish event", "topic", topic, "type", ev.Type, "record_id", ev.RecordID, "error", err)
	}
}

func rechargeLockKey(id string) string { return "recharge:" + id }
func orderLockKey(id string) string { return "order:" + id }
func userLockKey(id int64) string { return "user:" + itoa(id) }
func balanceCacheKey(id int64) string { return "user:" + itoa(id) + ":balance" }
