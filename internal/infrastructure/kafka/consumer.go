package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// Notification is a gateway callback relayed through Kafka instead of the
// webhook endpoint.
type Notification struct {
	Gateway string            `json:"gateway"`
	Kind    string            `json:"kind"`
	Payload map[string]string `json:"payload"`
}

// NotificationHandler applies one notification. Returned errors are logged
// and the message is committed anyway.
type NotificationHandler func(ctx context.Context, n Notification) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader  messageReader
	topic   string
	handler NotificationHandler
}

func NewConsumer(brokers []string, topic, groupID string, handler NotificationHandler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		topic:   topic,
		handler: handler,
	}
}

// Consume reads until ctx is cancelled.
func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				slog.Info("Kafka consumer stopped", "topic", c.topic)
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.topic, "error", err)
			continue
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			slog.Error("failed to commit Kafka message", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var n Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		slog.Error("failed to unmarshal notification", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		return
	}
	if n.Gateway == "" || n.Kind == "" || len(n.Payload) == 0 {
		slog.Error("incomplete notification", "topic", msg.Topic, "offset", msg.Offset, "gateway", n.Gateway, "kind", n.Kind)
		return
	}

	if err := c.handler(ctx, n); err != nil {
		// TODO: Send to dead-letter queue
		slog.Error("failed to apply notification", "gateway", n.Gateway, "kind", n.Kind, "order_id", n.Payload["order_id"], "error", err)
		return
	}
	slog.Info("notification applied", "gateway", n.Gateway, "kind", n.Kind, "order_id", n.Payload["order_id"])
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
