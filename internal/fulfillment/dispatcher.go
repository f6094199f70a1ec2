// Package fulfillment hands completed orders to the delivery side.
package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/models"
	service "github.com/honeynil/ShopLedgerService/internal/services"
)

type message struct {
	Type        string             `json:"type"`
	OrderID     string             `json:"order_id"`
	UserID      int64              `json:"user_id"`
	Items       []models.OrderItem `json:"items"`
	TotalAmount string             `json:"total_amount"`
	CompletedAt time.Time          `json:"completed_at"`
}

// Dispatcher publishes an order_completed message per delivered order.
type Dispatcher struct {
	publisher service.Publisher
	topic     string
}

var _ service.Fulfiller = (*Dispatcher)(nil)

func NewDispatcher(publisher service.Publisher) *Dispatcher {
	return &Dispatcher{publisher: publisher, topic: service.TopicFulfillment}
}

func (d *Dispatcher) Fulfill(ctx context.Context, order *models.Order) error {
	completedAt := time.Now()
	if order.CompletedAt != nil {
		completedAt = *order.CompletedAt
	}
	payload, err := json.Marshal(message{
		Type:        "order_completed",
		OrderID:     order.ID,
		UserID:      order.UserID,
		Items:       order.Items,
		TotalAmount: order.TotalAmount.StringFixed(2),
		CompletedAt: completedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal fulfillment message: %w", err)
	}

	if err := d.publisher.Send(ctx, d.topic, order.ID, payload); err != nil {
		slog.Error("failed to dispatch fulfillment", "order_id", order.ID, "user_id", order.UserID, "error", err)
		return fmt.Errorf("failed to dispatch order %s: %w", order.ID, err)
	}
	slog.Info("fulfillment dispatched", "order_id", order.ID, "user_id", order.UserID)
	return nil
}
