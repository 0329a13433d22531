package consumer

import (
	"context"
	"time"

	"github.com/Apurer/order-saga/internal/events"
)

// SeenRecord is one entry of a consumer group's deduplication set.
type SeenRecord struct {
	Group       string
	EventID     string
	Kind        events.Kind
	SubjectID   string
	PayloadHash string
	SeenAt      time.Time
}

// SeenStore persists the per-group set of applied event ids.
type SeenStore interface {
	// Remember records rec if (group, event id) is new and reports fresh=true.
	// When the pair already exists the stored record is returned with fresh=false.
	// Implementations join the transaction carried by ctx.
	Remember(ctx context.Context, rec SeenRecord) (stored SeenRecord, fresh bool, err error)
	// Forget removes an entry so a later delivery is processed again.
	Forget(ctx context.Context, group, eventID string) error
	// PurgeBefore drops entries older than cutoff and returns how many were removed.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Alert describes a message an operator has to look at.
type Alert struct {
	Group     string
	EventID   string
	Kind      events.Kind
	SubjectID string
	Reason    string
}

// AlertSink receives operator alerts. Implementations must not block for long.
type AlertSink interface {
	Alert(ctx context.Context, alert Alert)
}

// Metrics observes consumer outcomes.
type Metrics interface {
	EventConsumed(group string, kind events.Kind, result string)
	PayloadMismatch(group string, kind events.Kind)
}

type noopMetrics struct{}

func (noopMetrics) EventConsumed(string, events.Kind, string) {}
func (noopMetrics) PayloadMismatch(string, events.Kind)       {}
