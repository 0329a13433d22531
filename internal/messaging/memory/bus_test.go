package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/messaging"
)

func envelope(id, subject string) events.Envelope {
	return events.Envelope{
		ID:        id,
		Version:   events.SchemaVersion,
		Kind:      events.OrderCreated,
		SubjectID: subject,
		Payload:   json.RawMessage(`{}`),
	}
}

func TestBus_DeliversToEachGroupInOrder(t *testing.T) {
	bus := NewBus(WithBatchSize(2))
	topic := events.OrderCreated.Topic()
	bus.Declare("a", []string{topic})
	bus.Declare("b", []string{topic})

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, bus.Publish(context.Background(), topic, envelope(id, "O1")))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := map[string][]string{}
	collect := func(group string) messaging.BatchHandler {
		return func(_ context.Context, batch []messaging.Delivery) error {
			mu.Lock()
			defer mu.Unlock()
			for _, d := range batch {
				env, err := events.Decode(d.Body)
				assert.NoError(t, err)
				assert.Equal(t, "O1", d.Key)
				assert.Equal(t, env.ID, d.Headers[messaging.HeaderEventID])
				seen[group] = append(seen[group], env.ID)
			}
			return nil
		}
	}
	go func() { _ = bus.Subscribe(ctx, "a", []string{topic}, collect("a")) }()
	go func() { _ = bus.Subscribe(ctx, "b", []string{topic}, collect("b")) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen["a"]) == 3 && len(seen["b"]) == 3
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	require.Equal(t, []string{"1", "2", "3"}, seen["a"])
	require.Equal(t, []string{"1", "2", "3"}, seen["b"])
	mu.Unlock()
	require.Len(t, bus.Published(), 3)
}

func TestBus_RedeliversRejectedBatch(t *testing.T) {
	bus := NewBus(WithRetryDelay(time.Millisecond))
	topic := events.OrderCreated.Topic()
	bus.Declare("g", []string{topic})
	require.NoError(t, bus.Publish(context.Background(), topic, envelope("1", "O1")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	attempts := 0
	go func() {
		_ = bus.Subscribe(ctx, "g", []string{topic}, func(_ context.Context, batch []messaging.Delivery) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts < 3 {
				return errors.New("not yet")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 3
	}, time.Second, time.Millisecond)
}

func TestBus_UndeclaredTopicIsDropped(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Publish(context.Background(), "nobody.listens", envelope("1", "O1")))
	require.Len(t, bus.Published(), 1)
	require.Empty(t, bus.PublishedKinds(events.PaymentProcessed))
}
