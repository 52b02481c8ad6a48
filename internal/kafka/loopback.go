package kafka

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
)

// Loopback hands events straight to in-process handlers. It stands in for the
// broker when the api runs alone (STORAGE=memory, no KAFKA_BROKERS).
type Loopback struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	wg       sync.WaitGroup
	log      *slog.Logger
}

func NewLoopback(log *slog.Logger) *Loopback {
	return &Loopback{handlers: map[string][]Handler{}, log: log}
}

func (l *Loopback) Subscribe(topic string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[topic] = append(l.handlers[topic], h)
}

func (l *Loopback) PublishEvent(_ context.Context, topic string, ev orders.Envelope) error {
	b, err := encode(ev)
	if err != nil {
		return err
	}
	m := kafka.Message{
		Topic:   topic,
		Key:     orders.PartitionKey(ev.CorrelationID),
		Value:   b,
		Time:    time.Now(),
		Headers: eventHeaders(ev),
	}

	l.mu.RLock()
	hs := append([]Handler(nil), l.handlers[topic]...)
	l.mu.RUnlock()

	for _, h := range hs {
		l.wg.Add(1)
		go func(h Handler) {
			defer l.wg.Done()
			if err := h(context.Background(), m); err != nil {
				l.log.Error("loopback handler failed", "topic", topic, "key", string(m.Key), "err", err)
			}
		}(h)
	}
	return nil
}

// Wait blocks until every dispatched handler has returned.
func (l *Loopback) Wait() { l.wg.Wait() }
