// Package bootstrap opens the infrastructure a service process runs on and supervises its loops.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"gorm.io/gorm"

	"github.com/Apurer/order-saga/internal/app/config"
	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/messaging"
	"github.com/Apurer/order-saga/internal/messaging/consumer"
	dedupmemory "github.com/Apurer/order-saga/internal/messaging/dedup/memory"
	deduppostgres "github.com/Apurer/order-saga/internal/messaging/dedup/postgres"
	"github.com/Apurer/order-saga/internal/messaging/memory"
	"github.com/Apurer/order-saga/internal/messaging/outbox"
	outboxmemory "github.com/Apurer/order-saga/internal/messaging/outbox/memory"
	outboxpostgres "github.com/Apurer/order-saga/internal/messaging/outbox/postgres"
	"github.com/Apurer/order-saga/internal/messaging/partition"
	"github.com/Apurer/order-saga/internal/platform/kafka"
	"github.com/Apurer/order-saga/internal/platform/metrics"
	"github.com/Apurer/order-saga/internal/platform/migrations"
	"github.com/Apurer/order-saga/internal/platform/observability"
	platformpostgres "github.com/Apurer/order-saga/internal/platform/postgres"
	"github.com/Apurer/order-saga/internal/platform/redisstream"
	"github.com/Apurer/order-saga/internal/shared/txn"
)

// Infra is the plumbing shared by the components of one process.
type Infra struct {
	Config      config.Config
	Instruments *observability.Instruments
	Logger      *slog.Logger
	Metrics     *metrics.Registry
	// DB is nil when the process runs on in-memory stores.
	DB        *gorm.DB
	Tx        txn.Runner
	Transport messaging.Transport

	closers []func()
}

// declarer is implemented by transports that must bind a group before anything is published.
type declarer interface {
	Declare(group string, topics []string)
}

// Open connects PostgreSQL and the configured transport. Without POSTGRES_DSN every store is
// in memory; a configured database that cannot be reached is an error.
func Open(ctx context.Context, cfg config.Config, instruments *observability.Instruments, service string) (*Infra, error) {
	infra := newInfra(cfg, instruments, service)

	db, cleanup, err := platformpostgres.Open(ctx, cfg.PostgresDSN, infra.Logger)
	if err != nil {
		return nil, err
	}
	infra.closers = append(infra.closers, cleanup)
	if db != nil {
		if err := migrations.Run(db); err != nil {
			infra.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
		infra.DB = db
		infra.Tx = platformpostgres.NewTxRunner(db)
	}

	transport, err := openTransport(ctx, cfg, infra.Logger)
	if err != nil {
		infra.Close()
		return nil, err
	}
	infra.Transport = transport
	infra.closers = append(infra.closers, func() {
		if err := transport.Close(); err != nil {
			infra.Logger.Warn("failed to close transport", slog.String("error", err.Error()))
		}
	})
	infra.Logger.Info("infrastructure ready",
		slog.String("transport", cfg.Transport),
		slog.Bool("postgres", infra.Durable()),
	)
	return infra, nil
}

// NewMemory builds an Infra on in-memory stores over transport.
func NewMemory(cfg config.Config, instruments *observability.Instruments, service string, transport messaging.Transport) *Infra {
	infra := newInfra(cfg, instruments, service)
	infra.Transport = transport
	return infra
}

func newInfra(cfg config.Config, instruments *observability.Instruments, service string) *Infra {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if instruments != nil && instruments.Logger != nil {
		logger = instruments.Logger
	}
	return &Infra{
		Config:      cfg,
		Instruments: instruments,
		Logger:      logger,
		Metrics:     metrics.New(service),
		Tx:          txn.NewSerial(),
	}
}

func openTransport(ctx context.Context, cfg config.Config, logger *slog.Logger) (messaging.Transport, error) {
	switch cfg.Transport {
	case config.TransportKafka:
		t, err := kafka.New(kafka.Config{Brokers: cfg.KafkaBrokers, BatchSize: cfg.Outbox.BatchSize}, logger)
		if err != nil {
			return nil, fmt.Errorf("kafka transport: %w", err)
		}
		return t, nil
	case config.TransportRedis:
		t, err := redisstream.New(ctx, redisstream.Config{URL: cfg.RedisURL, BatchSize: int64(cfg.Outbox.BatchSize)}, logger)
		if err != nil {
			return nil, fmt.Errorf("redis transport: %w", err)
		}
		return t, nil
	case config.TransportMemory, "":
		logger.Warn("TRANSPORT=memory, events stay inside this process")
		return memory.NewBus(), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// Durable reports whether stores are backed by PostgreSQL.
func (i *Infra) Durable() bool { return i.DB != nil }

// OutboxStore returns the outbox table scoped to source.
func (i *Infra) OutboxStore(source string) outbox.Store {
	if i.DB != nil {
		return outboxpostgres.NewStore(i.DB, source)
	}
	return outboxmemory.NewStore()
}

// SeenStore returns the consumer seen-set.
func (i *Infra) SeenStore() consumer.SeenStore {
	if i.DB != nil {
		return deduppostgres.NewSeenStore(i.DB)
	}
	return dedupmemory.NewSeenStore()
}

// Consumer builds an idempotent consumer for group. Rejections are logged and raised as
// notification.send.alert through emitter.
func (i *Infra) Consumer(group string, codec *events.Codec, emitter consumer.Emitter) *consumer.Consumer {
	return consumer.New(group, i.SeenStore(), i.Tx,
		consumer.WithLogger(i.Logger),
		consumer.WithMetrics(i.Metrics),
		consumer.WithAlertSink(consumer.NewOutboxAlertSink(i.Logger, codec, emitter, i.Tx)),
	)
}

// Intake subscribes c to the transport through a partitioned pool owned by the Infra.
func (i *Infra) Intake(c *consumer.Consumer) *consumer.Intake {
	if d, ok := i.Transport.(declarer); ok {
		d.Declare(c.Group(), c.Topics())
	}
	pool := partition.NewPool(i.Config.Consumer.Lanes, i.Config.Consumer.LaneDepth)
	i.closers = append(i.closers, pool.Close)
	return consumer.NewIntake(c, i.Transport, pool)
}

// Relay drains store into the transport.
func (i *Infra) Relay(store outbox.Store) *outbox.Relay {
	return outbox.NewRelay(store, i.Transport,
		outbox.WithInterval(i.Config.Outbox.Interval),
		outbox.WithBatchSize(i.Config.Outbox.BatchSize),
		outbox.WithLogger(i.Logger),
		outbox.WithMetrics(i.Metrics),
	)
}

// OnClose registers fn to run on Close, in reverse order.
func (i *Infra) OnClose(fn func()) {
	if fn != nil {
		i.closers = append(i.closers, fn)
	}
}

// Close releases everything Open acquired.
func (i *Infra) Close() {
	for n := len(i.closers) - 1; n >= 0; n-- {
		i.closers[n]()
	}
	i.closers = nil
}

// ErrNoDatabase is returned by jobs that only make sense against PostgreSQL.
var ErrNoDatabase = errors.New("postgres is not configured")
