// Package config loads process settings shared by every service binary.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.temporal.io/sdk/client"
	"gopkg.in/yaml.v3"

	sagadomain "github.com/Apurer/order-saga/internal/domains/saga/domain"
	"github.com/Apurer/order-saga/internal/platform/kafka"
)

// Transport names accepted by TRANSPORT.
const (
	TransportMemory = "memory"
	TransportKafka  = "kafka"
	TransportRedis  = "redis"
)

// Config carries file- and environment-driven settings for one process.
type Config struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	LogLevel        string        `yaml:"logLevel"`
	PostgresDSN     string        `yaml:"postgresDSN"`
	Transport       string        `yaml:"transport"`
	KafkaBrokers    []string      `yaml:"kafkaBrokers"`
	RedisURL        string        `yaml:"redisURL"`

	Temporal      TemporalConfig      `yaml:"temporal"`
	Saga          SagaConfig          `yaml:"saga"`
	Outbox        OutboxConfig        `yaml:"outbox"`
	Consumer      ConsumerConfig      `yaml:"consumer"`
	Payments      PaymentsConfig      `yaml:"payments"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

type TemporalConfig struct {
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
	Disabled  bool   `yaml:"disabled"`
}

// SagaConfig is the step retry policy plus the timeout sweep cadence.
type SagaConfig struct {
	StepTimeout        time.Duration `yaml:"stepTimeout"`
	MaxRetries         int           `yaml:"maxRetries"`
	BackoffCoefficient float64       `yaml:"backoffCoefficient"`
	MaxInterval        time.Duration `yaml:"maxInterval"`
	SweepInterval      time.Duration `yaml:"sweepInterval"`
	SweepBatch         int           `yaml:"sweepBatch"`
}

type OutboxConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batchSize"`
}

// ConsumerConfig sizes the partitioned worker pool and the seen-set retention.
type ConsumerConfig struct {
	Lanes       int           `yaml:"lanes"`
	LaneDepth   int           `yaml:"laneDepth"`
	DedupWindow time.Duration `yaml:"dedupWindow"`
}

type PaymentsConfig struct {
	DeclineAbove decimal.Decimal `yaml:"-"`
	// DeclineAboveRaw is the YAML form of DeclineAbove.
	DeclineAboveRaw string `yaml:"declineAbove"`
}

type NotificationsConfig struct {
	Buffer int `yaml:"buffer"`
}

// Default returns the settings used when neither a file nor the environment overrides them.
func Default() Config {
	policy := sagadomain.DefaultRetryPolicy()
	return Config{
		Port:            "8080",
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		Transport:       TransportMemory,
		Temporal: TemporalConfig{
			Address:   client.DefaultHostPort,
			Namespace: client.DefaultNamespace,
		},
		Saga: SagaConfig{
			StepTimeout:        policy.Timeout,
			MaxRetries:         policy.MaxRetries,
			BackoffCoefficient: policy.BackoffCoefficient,
			MaxInterval:        policy.MaxInterval,
			SweepInterval:      5 * time.Second,
			SweepBatch:         100,
		},
		Outbox:        OutboxConfig{Interval: time.Second, BatchSize: 100},
		Consumer:      ConsumerConfig{Lanes: 8, LaneDepth: 64, DedupWindow: 7 * 24 * time.Hour},
		Payments:      PaymentsConfig{DeclineAbove: decimal.NewFromInt(1000)},
		Notifications: NotificationsConfig{Buffer: 256},
	}
}

// Load applies defaults, then the YAML file named by CONFIG_FILE, then environment variables, and validates the result.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.overlayEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if strings.TrimSpace(c.Payments.DeclineAboveRaw) != "" {
		amount, err := decimal.NewFromString(strings.TrimSpace(c.Payments.DeclineAboveRaw))
		if err != nil {
			return fmt.Errorf("payments.declineAbove must be a decimal amount")
		}
		c.Payments.DeclineAbove = amount
	}
	return nil
}

func (c *Config) overlayEnv() error {
	c.Port = envDefault("PORT", c.Port)
	c.LogLevel = envDefault("LOG_LEVEL", c.LogLevel)
	c.PostgresDSN = envDefault("POSTGRES_DSN", c.PostgresDSN)
	c.Transport = strings.ToLower(envDefault("TRANSPORT", c.Transport))
	if raw := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); raw != "" {
		c.KafkaBrokers = kafka.ParseBrokers(raw)
	}
	c.RedisURL = envDefault("REDIS_URL", c.RedisURL)
	c.Temporal.Address = envDefault("TEMPORAL_ADDRESS", c.Temporal.Address)
	c.Temporal.Namespace = envDefault("TEMPORAL_NAMESPACE", c.Temporal.Namespace)
	if raw, ok := os.LookupEnv("TEMPORAL_DISABLED"); ok {
		c.Temporal.Disabled = isTruthy(raw)
	}

	var err error
	set := func(e error) {
		if err == nil {
			err = e
		}
	}
	set(envDuration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout))
	set(envDuration("SAGA_STEP_TIMEOUT", &c.Saga.StepTimeout))
	set(envInt("SAGA_MAX_RETRIES", &c.Saga.MaxRetries))
	set(envFloat("SAGA_BACKOFF_COEFFICIENT", &c.Saga.BackoffCoefficient))
	set(envDuration("SAGA_MAX_INTERVAL", &c.Saga.MaxInterval))
	set(envDuration("SAGA_SWEEP_INTERVAL", &c.Saga.SweepInterval))
	set(envInt("SAGA_SWEEP_BATCH", &c.Saga.SweepBatch))
	set(envDuration("OUTBOX_POLL_INTERVAL", &c.Outbox.Interval))
	set(envInt("OUTBOX_BATCH_SIZE", &c.Outbox.BatchSize))
	set(envInt("CONSUMER_LANES", &c.Consumer.Lanes))
	set(envInt("CONSUMER_LANE_DEPTH", &c.Consumer.LaneDepth))
	set(envDuration("DEDUP_WINDOW", &c.Consumer.DedupWindow))
	set(envInt("NOTIFICATION_BUFFER", &c.Notifications.Buffer))
	if raw := strings.TrimSpace(os.Getenv("PAYMENT_SANDBOX_DECLINE_ABOVE")); raw != "" {
		amount, perr := decimal.NewFromString(raw)
		if perr != nil {
			set(fmt.Errorf("PAYMENT_SANDBOX_DECLINE_ABOVE must be a decimal amount"))
		} else {
			c.Payments.DeclineAbove = amount
		}
	}
	return err
}

// Validate rejects settings no service could run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Transport {
	case TransportMemory:
	case TransportKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required when TRANSPORT=kafka"))
		}
	case TransportRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			errs = append(errs, errors.New("REDIS_URL is required when TRANSPORT=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("TRANSPORT must be one of memory, kafka, redis; got %q", c.Transport))
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Saga.SweepInterval <= 0 {
		errs = append(errs, errors.New("SAGA_SWEEP_INTERVAL must be positive"))
	}
	if c.Outbox.Interval <= 0 || c.Outbox.BatchSize <= 0 {
		errs = append(errs, errors.New("outbox interval and batch size must be positive"))
	}
	if c.Consumer.Lanes <= 0 || c.Consumer.LaneDepth <= 0 {
		errs = append(errs, errors.New("CONSUMER_LANES and CONSUMER_LANE_DEPTH must be positive"))
	}
	if c.Consumer.DedupWindow <= 0 {
		errs = append(errs, errors.New("DEDUP_WINDOW must be positive"))
	}
	if !c.Payments.DeclineAbove.IsPositive() {
		errs = append(errs, errors.New("PAYMENT_SANDBOX_DECLINE_ABOVE must be positive"))
	}
	return errors.Join(errs...)
}

// RetryPolicy is the saga step policy described by the Saga section.
func (c Config) RetryPolicy() sagadomain.RetryPolicy {
	return sagadomain.RetryPolicy{
		Timeout:            c.Saga.StepTimeout,
		MaxRetries:         c.Saga.MaxRetries,
		BackoffCoefficient: c.Saga.BackoffCoefficient,
		MaxInterval:        c.Saga.MaxInterval,
	}
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Port, ":")
}

func envDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func isTruthy(value string) bool {
	value = strings.TrimSpace(strings.ToLower(value))
	return value == "1" || value == "true" || value == "yes"
}

func envInt(key string, dst *int) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%s must be an integer", key)
	}
	*dst = v
	return nil
}

func envFloat(key string, dst *float64) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("%s must be a number", key)
	}
	*dst = v
	return nil
}

// envDuration accepts Go durations ("30s") or a bare number of seconds.
func envDuration(key string, dst *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s must be a duration such as 30s", key)
	}
	*dst = d
	return nil
}
