package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/messaging"
	"github.com/Apurer/order-saga/internal/shared/faults"
)

// Metrics observes relay outcomes.
type Metrics interface {
	RecordPublished(topic string)
	PublishFailed(topic string)
}

type noopMetrics struct{}

func (noopMetrics) RecordPublished(string) {}
func (noopMetrics) PublishFailed(string)   {}

// Relay moves pending records to the transport, preserving insertion order per subject id.
type Relay struct {
	store      Store
	publisher  messaging.Publisher
	interval   time.Duration
	batchSize  int
	logger     *slog.Logger
	metrics    Metrics
	newBackOff func() backoff.BackOff
	now        func() time.Time
}

// RelayOption customises a Relay.
type RelayOption func(*Relay)

func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m Metrics) RelayOption {
	return func(r *Relay) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithPublishBackOff sets the retry policy for a single publish within one pass.
func WithPublishBackOff(fn func() backoff.BackOff) RelayOption {
	return func(r *Relay) {
		if fn != nil {
			r.newBackOff = fn
		}
	}
}

// NewRelay builds a relay draining store into publisher.
func NewRelay(store Store, publisher messaging.Publisher, opts ...RelayOption) *Relay {
	r := &Relay{
		store:     store,
		publisher: publisher,
		interval:  time.Second,
		batchSize: 100,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:   noopMetrics{},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = time.Second
			return backoff.WithMaxRetries(b, 3)
		},
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run polls until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("outbox relay pass failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce publishes one batch and returns how many records were published.
//
// A record is marked published only after the broker acknowledged it, then deleted. When a
// record fails, later records for the same subject are held back until the next pass.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	records, err := r.store.Pending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	blocked := map[string]bool{}
	published := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		if blocked[rec.SubjectID] {
			continue
		}
		if err := r.publish(ctx, rec); err != nil {
			blocked[rec.SubjectID] = true
			r.metrics.PublishFailed(rec.Topic)
			r.logger.Warn("outbox publish failed",
				slog.Int64("outbox.id", rec.ID),
				slog.String("event.id", rec.EventID),
				slog.String("event.kind", string(rec.Kind)),
				slog.String("error", err.Error()),
			)
			if markErr := r.store.MarkFailed(ctx, rec.ID, err.Error()); markErr != nil {
				r.logger.Warn("failed to record publish failure", slog.Int64("outbox.id", rec.ID), slog.String("error", markErr.Error()))
			}
			continue
		}
		published++
		r.metrics.RecordPublished(rec.Topic)
		if err := r.store.MarkPublished(ctx, rec.ID, r.now().UTC()); err != nil {
			// the next pass republishes; consumers deduplicate
			r.logger.Warn("failed to mark outbox record published", slog.Int64("outbox.id", rec.ID), slog.String("error", err.Error()))
			blocked[rec.SubjectID] = true
			continue
		}
		if err := r.store.Delete(ctx, rec.ID); err != nil {
			r.logger.Warn("failed to delete published outbox record", slog.Int64("outbox.id", rec.ID), slog.String("error", err.Error()))
		}
	}
	return published, nil
}

func (r *Relay) publish(ctx context.Context, rec Record) error {
	var env events.Envelope
	if err := json.Unmarshal(rec.Envelope, &env); err != nil {
		return fmt.Errorf("%w: stored envelope unreadable: %w", faults.ErrPublishFailure, err)
	}
	op := func() error {
		return r.publisher.Publish(ctx, rec.Topic, env)
	}
	if err := backoff.Retry(op, backoff.WithContext(r.newBackOff(), ctx)); err != nil {
		return fmt.Errorf("%w: %w", faults.ErrPublishFailure, err)
	}
	return nil
}
