package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.messages) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestConsumer_Consume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &fakeReader{
		cancel: cancel,
		messages: []kafka.Message{
			{Offset: 1, Value: []byte(`{"gateway":"bepusdt","kind":"recharge","payload":{"order_id":"r-1","status":"2"}}`)},
			{Offset: 2, Value: []byte(`not json`)},
			{Offset: 3, Value: []byte(`{"gateway":"bepusdt","kind":"order"}`)},
			{Offset: 4, Value: []byte(`{"gateway":"onchain","kind":"order","payload":{"order_id":"o-1"}}`)},
		},
	}

	var got []Notification
	c := &Consumer{
		reader: reader,
		topic:  "payment-notifications",
		handler: func(_ context.Context, n Notification) error {
			got = append(got, n)
			if n.Gateway == "onchain" {
				return errors.New("boom")
			}
			return nil
		},
	}

	c.Consume(ctx)

	require.Len(t, got, 2)
	assert.Equal(t, "r-1", got[0].Payload["order_id"])
	assert.Equal(t, "recharge", got[0].Kind)
	assert.Equal(t, "onchain", got[1].Gateway)
	assert.Equal(t, []int64{1, 2, 3, 4}, reader.committed)
}

func TestProducer_Send(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}

	require.NoError(t, p.Send(context.Background(), "orders", "o-1", []byte(`{}`)))
	require.Len(t, w.messages, 1)
	assert.Equal(t, "orders", w.messages[0].Topic)
	assert.Equal(t, []byte("o-1"), w.messages[0].Key)

	w.err = errors.New("broker down")
	assert.Error(t, p.Send(context.Background(), "orders", "o-2", nil))
}
