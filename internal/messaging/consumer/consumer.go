// Package consumer applies each event at most once per consumer group on top of an
// at-least-once transport.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/shared/faults"
	"github.com/Apurer/order-saga/internal/shared/txn"
)

// Result is the outcome of handling one envelope.
type Result int

const (
	// Applied means the handler ran and its effects were committed with the seen record.
	Applied Result = iota + 1
	// Duplicate means the event id was already in the group's seen set; nothing ran.
	Duplicate
	// Rejected means the event can never be applied; the seen set was not advanced.
	Rejected
	// Failed means a transient error rolled the attempt back; redelivery will retry it.
	Failed
)

func (r Result) String() string {
	switch r {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// HandlerFunc applies one decoded message. It runs inside the transaction that records
// the event as seen, so any outbox records it appends commit atomically with it.
type HandlerFunc func(ctx context.Context, msg events.Message) error

// Consumer dispatches envelopes for one consumer group.
type Consumer struct {
	group    string
	seen     SeenStore
	tx       txn.Runner
	handlers map[events.Kind]HandlerFunc
	alerts   AlertSink
	logger   *slog.Logger
	metrics  Metrics
	now      func() time.Time
}

// Option customises a Consumer.
type Option func(*Consumer)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithAlertSink(sink AlertSink) Option {
	return func(c *Consumer) {
		if sink != nil {
			c.alerts = sink
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(c *Consumer) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClock overrides the time source for deterministic testing.
func WithClock(now func() time.Time) Option {
	return func(c *Consumer) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a consumer for group.
func New(group string, seen SeenStore, tx txn.Runner, opts ...Option) *Consumer {
	c := &Consumer{
		group:    group,
		seen:     seen,
		tx:       tx,
		handlers: map[events.Kind]HandlerFunc{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:  noopMetrics{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.alerts == nil {
		c.alerts = NewLogAlertSink(c.logger)
	}
	if c.tx == nil {
		c.tx = txn.Inline{}
	}
	return c
}

// Group returns the consumer group name.
func (c *Consumer) Group() string { return c.group }

// Register binds fn to kind. Registering twice replaces the earlier handler.
func (c *Consumer) Register(kind events.Kind, fn HandlerFunc) {
	c.handlers[kind] = fn
}

// Kinds lists registered kinds in lexical order.
func (c *Consumer) Kinds() []events.Kind {
	kinds := make([]events.Kind, 0, len(c.handlers))
	for kind := range c.handlers {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Topics lists the transport topics for the registered kinds.
func (c *Consumer) Topics() []string {
	kinds := c.Kinds()
	topics := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		topics = append(topics, kind.Topic())
	}
	return topics
}

// Handle applies env at most once for the group.
//
// The seen record, the handler's state changes and any outbox records it appends share one
// transaction. Semantic failures are reported and rejected without advancing the seen set;
// transient failures roll back and return Failed so the transport redelivers.
func (c *Consumer) Handle(ctx context.Context, env events.Envelope) (Result, error) {
	attrs := []slog.Attr{
		slog.String("consumer.group", c.group),
		slog.String("event.id", env.ID),
		slog.String("event.kind", string(env.Kind)),
		slog.String("event.subject", env.SubjectID),
	}

	msg, err := events.DecodePayload(env)
	if err != nil {
		return c.reject(ctx, env, err, attrs)
	}
	handler, ok := c.handlers[env.Kind]
	if !ok {
		return c.reject(ctx, env, fmt.Errorf("%w: %s not handled by %s", faults.ErrUnknownEventKind, env.Kind, c.group), attrs)
	}

	hash := events.Fingerprint(env)
	var stored SeenRecord
	duplicate := false
	err = c.tx.InTx(ctx, func(ctx context.Context) error {
		rec, fresh, err := c.seen.Remember(ctx, SeenRecord{
			Group:       c.group,
			EventID:     env.ID,
			Kind:        env.Kind,
			SubjectID:   env.SubjectID,
			PayloadHash: hash,
			SeenAt:      c.now().UTC(),
		})
		if err != nil {
			return err
		}
		if !fresh {
			stored = rec
			duplicate = true
			return nil
		}
		return handler(ctx, msg)
	})

	switch {
	case err == nil && duplicate:
		if stored.PayloadHash != "" && stored.PayloadHash != hash {
			c.metrics.PayloadMismatch(c.group, env.Kind)
			c.logger.LogAttrs(ctx, slog.LevelWarn, "duplicate event id carries a different payload",
				append(attrs, slog.String("error", faults.ErrPayloadMismatch.Error()))...)
		} else {
			c.logger.LogAttrs(ctx, slog.LevelDebug, "duplicate event skipped", attrs...)
		}
		c.metrics.EventConsumed(c.group, env.Kind, Duplicate.String())
		return Duplicate, nil
	case err == nil:
		c.metrics.EventConsumed(c.group, env.Kind, Applied.String())
		c.logger.LogAttrs(ctx, slog.LevelInfo, "event applied", attrs...)
		return Applied, nil
	}

	if !duplicate {
		c.forget(ctx, env, attrs)
	}
	if faults.IsSemantic(err) {
		return c.reject(ctx, env, err, attrs)
	}
	c.metrics.EventConsumed(c.group, env.Kind, Failed.String())
	c.logger.LogAttrs(ctx, slog.LevelWarn, "event handling failed, awaiting redelivery",
		append(attrs, slog.String("error", err.Error()))...)
	return Failed, err
}

func (c *Consumer) reject(ctx context.Context, env events.Envelope, err error, attrs []slog.Attr) (Result, error) {
	c.metrics.EventConsumed(c.group, env.Kind, Rejected.String())
	c.logger.LogAttrs(ctx, slog.LevelError, "event rejected", append(attrs, slog.String("error", err.Error()))...)
	c.alerts.Alert(ctx, Alert{
		Group:     c.group,
		EventID:   env.ID,
		Kind:      env.Kind,
		SubjectID: env.SubjectID,
		Reason:    err.Error(),
	})
	return Rejected, err
}

// forget undoes the seen record for stores that cannot roll back with the transaction.
func (c *Consumer) forget(ctx context.Context, env events.Envelope, attrs []slog.Attr) {
	if err := c.seen.Forget(ctx, c.group, env.ID); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "failed to clear seen record", append(attrs, slog.String("error", err.Error()))...)
	}
}
