// Package messaging declares the transport ports every service publishes and consumes through.
package messaging

import (
	"context"

	"github.com/Apurer/order-saga/internal/events"
)

// Delivery is one message handed to a subscriber.
type Delivery struct {
	Topic   string
	Key     string
	Body    []byte
	Headers map[string]string
}

// Publisher hands an envelope to the transport. A nil error means the broker acknowledged it.
type Publisher interface {
	Publish(ctx context.Context, topic string, env events.Envelope) error
}

// BatchHandler processes deliveries in the order given. The transport acknowledges the
// batch only when the handler returns nil; otherwise the batch is redelivered.
type BatchHandler func(ctx context.Context, batch []Delivery) error

// Subscriber attaches a consumer group to topics. Subscribe blocks until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, group string, topics []string, handler BatchHandler) error
}

// Transport is a publisher and subscriber sharing one connection.
type Transport interface {
	Publisher
	Subscriber
	Close() error
}

// Header names set by publishers.
const (
	HeaderEventID   = "event-id"
	HeaderEventKind = "event-kind"
)
