package kafka

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
)

func TestLoopback_DeliversEnvelope(t *testing.T) {
	// Setup
	l := NewLoopback(slog.New(slog.NewTextHandler(io.Discard, nil)))
	var (
		mu  sync.Mutex
		got []kafka.Message
	)
	l.Subscribe(orders.TopicOrderPaid, func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m)
		return nil
	})
	ev, err := orders.NewEnvelope(orders.EventOrderPaid, "test", "o1", "", time.Now(), orders.OrderPaidPayload{OrderID: "o1", TotalCents: 990})
	require.NoError(t, err)

	// Execute
	require.NoError(t, l.PublishEvent(context.Background(), orders.TopicOrderPaid, ev))
	require.NoError(t, l.PublishEvent(context.Background(), orders.TopicOrderStatusChanged, ev))
	l.Wait()

	// Verify
	require.Len(t, got, 1)
	assert.Equal(t, []byte("o1"), got[0].Key)
	assert.Equal(t, "x-event-type", got[0].Headers[0].Key)
	assert.Equal(t, orders.EventOrderPaid, string(got[0].Headers[0].Value))

	env, err := DecodeEnvelope(got[0])
	require.NoError(t, err)
	assert.Equal(t, ev.EventID, env.EventID)
	p, err := UnwrapPayload[orders.OrderPaidPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, int64(990), p.TotalCents)
}

func TestDecodeEnvelope_Invalid(t *testing.T) {
	_, err := DecodeEnvelope(kafka.Message{Value: []byte("{")})
	assert.Error(t, err)
}
