package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/messaging"
	"github.com/Apurer/order-saga/internal/messaging/partition"
	"github.com/Apurer/order-saga/internal/shared/faults"
)

// Intake connects a subscription to a Consumer. Deliveries are decoded, routed to a
// partition lane by subject id and retried in place on transient failure, so a batch is
// acknowledged only after every delivery in it settled as applied, duplicate or rejected.
type Intake struct {
	consumer   *Consumer
	subscriber messaging.Subscriber
	pool       *partition.Pool
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
}

// IntakeOption customises an Intake.
type IntakeOption func(*Intake)

// WithRetryBackOff sets the policy used to retry transient failures of one delivery.
func WithRetryBackOff(fn func() backoff.BackOff) IntakeOption {
	return func(in *Intake) {
		if fn != nil {
			in.newBackOff = fn
		}
	}
}

// NewIntake wires consumer c to sub using pool for per-subject ordering.
func NewIntake(c *Consumer, sub messaging.Subscriber, pool *partition.Pool, opts ...IntakeOption) *Intake {
	in := &Intake{
		consumer:   c,
		subscriber: sub,
		pool:       pool,
		logger:     c.logger,
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(in)
		}
	}
	return in
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Run subscribes to every registered kind and blocks until ctx is done.
func (in *Intake) Run(ctx context.Context) error {
	topics := in.consumer.Topics()
	in.logger.Info("consumer intake started",
		slog.String("consumer.group", in.consumer.Group()),
		slog.Any("topics", topics),
		slog.Int("lanes", in.pool.Size()),
	)
	return in.subscriber.Subscribe(ctx, in.consumer.Group(), topics, in.HandleBatch)
}

// HandleBatch dispatches a batch across lanes and waits for all of it.
func (in *Intake) HandleBatch(ctx context.Context, batch []messaging.Delivery) error {
	pending := make([]<-chan error, 0, len(batch))
	for _, d := range batch {
		env, err := events.Decode(d.Body)
		if err != nil && !errors.Is(err, faults.ErrUnknownEventKind) {
			in.malformed(ctx, d, err)
			continue
		}
		key := d.Key
		if key == "" {
			key = env.SubjectID
		}
		msgCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(d.Headers))
		pending = append(pending, in.pool.Go(msgCtx, key, func(ctx context.Context) error {
			return in.process(ctx, env)
		}))
	}
	var firstErr error
	for _, done := range pending {
		if err := <-done; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (in *Intake) process(ctx context.Context, env events.Envelope) error {
	op := func() error {
		result, err := in.consumer.Handle(ctx, env)
		if result == Failed {
			return err
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		in.logger.LogAttrs(ctx, slog.LevelWarn, "retrying event",
			slog.String("event.id", env.ID),
			slog.String("event.kind", string(env.Kind)),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
	}
	return backoff.RetryNotify(op, backoff.WithContext(in.newBackOff(), ctx), notify)
}

func (in *Intake) malformed(ctx context.Context, d messaging.Delivery, err error) {
	in.consumer.metrics.EventConsumed(in.consumer.Group(), events.Kind(d.Headers[messaging.HeaderEventKind]), Rejected.String())
	in.consumer.alerts.Alert(ctx, Alert{
		Group:     in.consumer.Group(),
		EventID:   d.Headers[messaging.HeaderEventID],
		Kind:      events.Kind(d.Headers[messaging.HeaderEventKind]),
		SubjectID: d.Key,
		Reason:    err.Error(),
	})
}
