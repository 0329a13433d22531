// Package kafka implements the messaging transport on Apache Kafka.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/messaging"
)

var _ messaging.Transport = (*Transport)(nil)

// ErrNoBrokers is returned when no broker address was configured.
var ErrNoBrokers = errors.New("kafka: no brokers configured")

// Config carries the connection settings.
type Config struct {
	Brokers   []string
	BatchSize int
	// Linger bounds how long a partial batch waits for more messages.
	Linger time.Duration
}

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// Transport publishes with a shared writer and opens one reader per subscription.
type Transport struct {
	cfg    Config
	writer *kafka.Writer
	logger *slog.Logger

	mu      sync.Mutex
	readers []*kafka.Reader
}

// New builds a transport. Topics are created on first write when the broker allows it.
func New(cfg Config, logger *slog.Logger) (*Transport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Linger <= 0 {
		cfg.Linger = 50 * time.Millisecond
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Transport{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		logger: logger,
	}, nil
}

// Publish writes env keyed by its subject id so one subject stays on one partition.
func (t *Transport) Publish(ctx context.Context, topic string, env events.Envelope) error {
	body, err := events.Marshal(env)
	if err != nil {
		return err
	}
	carrier := propagation.MapCarrier{
		messaging.HeaderEventID:   env.ID,
		messaging.HeaderEventKind: string(env.Kind),
	}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	headers := make([]kafka.Header, 0, len(carrier))
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(env.SubjectID),
		Value:   body,
		Headers: headers,
		Time:    time.Now().UTC(),
	}
	if err := t.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe joins group on topics and feeds batches to handler. Offsets are committed only
// after handler returns nil; a failing batch is retried in place until it succeeds or ctx ends.
func (t *Transport) Subscribe(ctx context.Context, group string, topics []string, handler messaging.BatchHandler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     t.cfg.Brokers,
		GroupID:     group,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	t.track(reader)
	defer t.release(reader)

	for {
		msgs, err := t.fetchBatch(ctx, reader)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch for %s: %w", group, err)
		}
		batch := make([]messaging.Delivery, 0, len(msgs))
		for _, m := range msgs {
			batch = append(batch, toDelivery(m))
		}
		if err := t.handleUntilDone(ctx, group, batch, handler); err != nil {
			return nil
		}
		if err := reader.CommitMessages(ctx, msgs...); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// uncommitted offsets are redelivered after rebalance; consumers deduplicate
			t.logger.Warn("kafka commit failed", slog.String("group", group), slog.String("error", err.Error()))
		}
	}
}

func (t *Transport) fetchBatch(ctx context.Context, reader *kafka.Reader) ([]kafka.Message, error) {
	first, err := reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	msgs := []kafka.Message{first}
	lingerCtx, cancel := context.WithTimeout(ctx, t.cfg.Linger)
	defer cancel()
	for len(msgs) < t.cfg.BatchSize {
		m, err := reader.FetchMessage(lingerCtx)
		if err != nil {
			break
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (t *Transport) handleUntilDone(ctx context.Context, group string, batch []messaging.Delivery, handler messaging.BatchHandler) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	b.MaxInterval = 30 * time.Second
	return backoff.RetryNotify(func() error {
		return handler(ctx, batch)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		t.logger.Warn("kafka batch not acknowledged",
			slog.String("group", group),
			slog.Int("size", len(batch)),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
	})
}

func (t *Transport) track(r *kafka.Reader) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readers = append(t.readers, r)
}

func (t *Transport) release(r *kafka.Reader) {
	t.mu.Lock()
	for i, tracked := range t.readers {
		if tracked == r {
			t.readers = append(t.readers[:i], t.readers[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
	if err := r.Close(); err != nil {
		t.logger.Debug("kafka reader close", slog.String("error", err.Error()))
	}
}

// Close flushes the writer and closes open readers.
func (t *Transport) Close() error {
	t.mu.Lock()
	readers := t.readers
	t.readers = nil
	t.mu.Unlock()
	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := t.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func toDelivery(m kafka.Message) messaging.Delivery {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	return messaging.Delivery{
		Topic:   m.Topic,
		Key:     string(m.Key),
		Body:    m.Value,
		Headers: headers,
	}
}
