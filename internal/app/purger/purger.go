// Package purger trims the consumer seen-set and published outbox rows past the dedup window.
package purger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/Apurer/order-saga/internal/app/notifications"
	"github.com/Apurer/order-saga/internal/app/orders"
	"github.com/Apurer/order-saga/internal/app/payments"
	deduppostgres "github.com/Apurer/order-saga/internal/messaging/dedup/postgres"
	"github.com/Apurer/order-saga/internal/messaging/outbox"
	outboxpostgres "github.com/Apurer/order-saga/internal/messaging/outbox/postgres"
)

// SeenPurger drops seen-set entries recorded before a cutoff.
type SeenPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Report counts what one pass removed.
type Report struct {
	Cutoff       time.Time
	SeenEntries  int64
	OutboxByName map[string]int64
}

// Purger removes housekeeping rows older than the window.
type Purger struct {
	seen   SeenPurger
	outbox map[string]outbox.Store
	window time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// New builds a purger over seen and the named outbox stores.
func New(seen SeenPurger, outboxes map[string]outbox.Store, window time.Duration, logger *slog.Logger) *Purger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Purger{seen: seen, outbox: outboxes, window: window, logger: logger, now: time.Now}
}

// NewPostgres targets the shared tables of every service.
func NewPostgres(db *gorm.DB, window time.Duration, logger *slog.Logger) *Purger {
	outboxes := map[string]outbox.Store{}
	for _, source := range []string{orders.ServiceName, payments.ServiceName, notifications.ServiceName} {
		outboxes[source] = outboxpostgres.NewStore(db, source)
	}
	return New(deduppostgres.NewSeenStore(db), outboxes, window, logger)
}

// Run performs one pass. A redelivery older than the window is no longer recognised as a
// duplicate, so the window must exceed the longest broker retention.
func (p *Purger) Run(ctx context.Context) (Report, error) {
	report := Report{Cutoff: p.now().UTC().Add(-p.window), OutboxByName: map[string]int64{}}
	n, err := p.seen.PurgeBefore(ctx, report.Cutoff)
	if err != nil {
		return report, fmt.Errorf("purge seen events: %w", err)
	}
	report.SeenEntries = n
	for name, store := range p.outbox {
		n, err := store.PurgePublished(ctx, report.Cutoff)
		if err != nil {
			return report, fmt.Errorf("purge %s outbox: %w", name, err)
		}
		report.OutboxByName[name] = n
	}
	p.logger.InfoContext(ctx, "dedup purge completed",
		slog.Time("cutoff", report.Cutoff),
		slog.Int64("seen", report.SeenEntries),
		slog.Any("outbox", report.OutboxByName),
	)
	return report, nil
}
