// Package redisstream implements the messaging transport on Redis Streams consumer groups.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/messaging"
)

var _ messaging.Transport = (*Transport)(nil)

const (
	fieldKey     = "key"
	fieldBody    = "body"
	headerPrefix = "h:"
)

// Config carries the stream settings.
type Config struct {
	URL       string
	BatchSize int64
	Block     time.Duration
	// MaxLen caps each stream approximately; zero keeps every entry.
	MaxLen int64
}

// Transport maps each topic to a stream and each consumer group to a Redis group.
type Transport struct {
	client   *redis.Client
	cfg      Config
	consumer string
	logger   *slog.Logger
}

// New connects to the server at cfg.URL and verifies it answers.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Transport, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient wraps an existing client. The transport owns it afterwards.
func NewWithClient(client *redis.Client, cfg Config, logger *slog.Logger) *Transport {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	host, _ := os.Hostname()
	return &Transport{
		client:   client,
		cfg:      cfg,
		consumer: fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		logger:   logger,
	}
}

// Publish appends env to the topic stream.
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
	values := map[string]any{fieldKey: env.SubjectID, fieldBody: body}
	for k, v := range carrier {
		values[headerPrefix+k] = v
	}
	args := &redis.XAddArgs{Stream: topic, Values: values}
	if t.cfg.MaxLen > 0 {
		args.MaxLen = t.cfg.MaxLen
		args.Approx = true
	}
	if err := t.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe reads topics as group. Entries left pending by an earlier run of this consumer
// are replayed first. Entries are acknowledged only after handler returns nil.
func (t *Transport) Subscribe(ctx context.Context, group string, topics []string, handler messaging.BatchHandler) error {
	if len(topics) == 0 {
		<-ctx.Done()
		return nil
	}
	for _, topic := range topics {
		if err := t.client.XGroupCreateMkStream(ctx, topic, group, "0").Err(); err != nil && !isBusyGroup(err) {
			return fmt.Errorf("redis create group %s on %s: %w", group, topic, err)
		}
	}

	backlog := true
	for {
		if ctx.Err() != nil {
			return nil
		}
		start := ">"
		block := t.cfg.Block
		if backlog {
			start = "0"
			block = -1
		}
		streams := make([]string, 0, 2*len(topics))
		streams = append(streams, topics...)
		for range topics {
			streams = append(streams, start)
		}
		res, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: t.consumer,
			Streams:  streams,
			Count:    t.cfg.BatchSize,
			Block:    block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				backlog = false
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			t.logger.Warn("redis read failed", slog.String("group", group), slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		batch, acks := t.collect(res)
		if len(batch) == 0 {
			backlog = false
			continue
		}
		if err := t.handleUntilDone(ctx, group, batch, handler); err != nil {
			return nil
		}
		for stream, ids := range acks {
			if err := t.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
				t.logger.Warn("redis ack failed", slog.String("group", group), slog.String("stream", stream), slog.String("error", err.Error()))
			}
		}
	}
}

func (t *Transport) collect(res []redis.XStream) ([]messaging.Delivery, map[string][]string) {
	var batch []messaging.Delivery
	acks := map[string][]string{}
	for _, stream := range res {
		for _, msg := range stream.Messages {
			acks[stream.Stream] = append(acks[stream.Stream], msg.ID)
			batch = append(batch, toDelivery(stream.Stream, msg))
		}
	}
	return batch, acks
}

func (t *Transport) handleUntilDone(ctx context.Context, group string, batch []messaging.Delivery, handler messaging.BatchHandler) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	b.MaxInterval = 30 * time.Second
	return backoff.RetryNotify(func() error {
		return handler(ctx, batch)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		t.logger.Warn("redis batch not acknowledged",
			slog.String("group", group),
			slog.Int("size", len(batch)),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
	})
}

func (t *Transport) Close() error {
	return t.client.Close()
}

func toDelivery(stream string, msg redis.XMessage) messaging.Delivery {
	d := messaging.Delivery{Topic: stream, Headers: map[string]string{}}
	for k, v := range msg.Values {
		s := stringValue(v)
		switch {
		case k == fieldKey:
			d.Key = s
		case k == fieldBody:
			d.Body = []byte(s)
		case strings.HasPrefix(k, headerPrefix):
			d.Headers[strings.TrimPrefix(k, headerPrefix)] = s
		}
	}
	return d
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
