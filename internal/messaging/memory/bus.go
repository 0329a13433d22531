// Package memory provides an in-process transport for tests and the sandbox binary.
package memory

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/messaging"
)

var _ messaging.Transport = (*Bus)(nil)

// Bus fans published envelopes out to every consumer group declared on the topic.
// Each group sees its topics in publish order and redelivers a batch until the handler accepts it.
type Bus struct {
	mu         sync.Mutex
	queues     map[string]*queue
	topics     map[string]map[string]*queue
	published  []events.Envelope
	batchSize  int
	retryDelay time.Duration
}

type queue struct {
	mu     sync.Mutex
	items  []messaging.Delivery
	notify chan struct{}
}

// Option customises a Bus.
type Option func(*Bus)

// WithBatchSize caps how many deliveries a handler receives at once.
func WithBatchSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithRetryDelay sets the pause before a rejected batch is redelivered.
func WithRetryDelay(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.retryDelay = d
		}
	}
}

// NewBus constructs an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		queues:     map[string]*queue{},
		topics:     map[string]map[string]*queue{},
		batchSize:  32,
		retryDelay: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Declare binds group to topics so messages published before Subscribe starts are retained.
func (b *Bus) Declare(group string, topics []string) {
	b.declare(group, topics)
}

func (b *Bus) declare(group string, topics []string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[group]
	if !ok {
		q = &queue{notify: make(chan struct{}, 1)}
		b.queues[group] = q
	}
	for _, topic := range topics {
		groups, ok := b.topics[topic]
		if !ok {
			groups = map[string]*queue{}
			b.topics[topic] = groups
		}
		groups[group] = q
	}
	return q
}

// Publish appends env to every group bound to topic.
func (b *Bus) Publish(ctx context.Context, topic string, env events.Envelope) error {
	body, err := events.Marshal(env)
	if err != nil {
		return err
	}
	headers := propagation.MapCarrier{
		messaging.HeaderEventID:   env.ID,
		messaging.HeaderEventKind: string(env.Kind),
	}
	otel.GetTextMapPropagator().Inject(ctx, headers)

	b.mu.Lock()
	b.published = append(b.published, env)
	targets := make([]*queue, 0, len(b.topics[topic]))
	for _, q := range b.topics[topic] {
		targets = append(targets, q)
	}
	b.mu.Unlock()

	for _, q := range targets {
		q.push(messaging.Delivery{Topic: topic, Key: env.SubjectID, Body: body, Headers: headers})
	}
	return nil
}

// Subscribe drains the group's queue until ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, group string, topics []string, handler messaging.BatchHandler) error {
	q := b.declare(group, topics)
	for {
		batch := q.peek(b.batchSize)
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-q.notify:
				continue
			}
		}
		if err := handler(ctx, batch); err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.retryDelay):
				continue
			}
		}
		q.drop(len(batch))
	}
}

// Published returns every envelope published so far, in order.
func (b *Bus) Published() []events.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.Envelope, len(b.published))
	copy(out, b.published)
	return out
}

// PublishedKinds filters Published by kind.
func (b *Bus) PublishedKinds(kind events.Kind) []events.Envelope {
	var out []events.Envelope
	for _, env := range b.Published() {
		if env.Kind == kind {
			out = append(out, env)
		}
	}
	return out
}

func (b *Bus) Close() error { return nil }

func (q *queue) push(d messaging.Delivery) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) peek(n int) []messaging.Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	out := make([]messaging.Delivery, n)
	copy(out, q.items[:n])
	return out
}

func (q *queue) drop(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[n:]
}
