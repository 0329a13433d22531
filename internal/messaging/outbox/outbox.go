// Package outbox commits outgoing events in the same transaction as the state change that
// produced them and relays them to the transport afterwards.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/shared/txn"
)

// ErrNotFound is returned when an outbox record id is unknown.
var ErrNotFound = errors.New("outbox record not found")

// Record is one pending outgoing envelope. ID increases in insertion order.
type Record struct {
	ID          int64
	Source      string
	EventID     string
	Topic       string
	SubjectID   string
	Kind        events.Kind
	Envelope    []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
	Attempts    int
	LastError   string
}

// Store persists outbox records for one producing service.
type Store interface {
	// Append inserts records, joining the transaction carried by ctx.
	Append(ctx context.Context, records ...Record) error
	// Pending returns unpublished records in insertion order.
	Pending(ctx context.Context, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	Delete(ctx context.Context, id int64) error
	// PurgePublished removes records published before cutoff that a relay failed to delete.
	PurgePublished(ctx context.Context, before time.Time) (int64, error)
}

// Dispatcher binds state changes to outgoing envelopes.
type Dispatcher struct {
	store Store
	tx    txn.Runner
	now   func() time.Time
}

// NewDispatcher wires store and the transaction runner shared with the service's repositories.
func NewDispatcher(store Store, tx txn.Runner) *Dispatcher {
	if tx == nil {
		tx = txn.Inline{}
	}
	return &Dispatcher{store: store, tx: tx, now: time.Now}
}

// CommitWithEvent runs mutate and appends envs in one transaction. Either both persist or neither does.
func (d *Dispatcher) CommitWithEvent(ctx context.Context, mutate func(ctx context.Context) error, envs ...events.Envelope) error {
	return d.tx.InTx(ctx, func(ctx context.Context) error {
		if mutate != nil {
			if err := mutate(ctx); err != nil {
				return err
			}
		}
		return d.Emit(ctx, envs...)
	})
}

// Emit appends envs within the transaction already carried by ctx.
func (d *Dispatcher) Emit(ctx context.Context, envs ...events.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	records := make([]Record, 0, len(envs))
	for _, env := range envs {
		body, err := events.Marshal(env)
		if err != nil {
			return err
		}
		records = append(records, Record{
			Source:    env.Source,
			EventID:   env.ID,
			Topic:     env.Kind.Topic(),
			SubjectID: env.SubjectID,
			Kind:      env.Kind,
			Envelope:  body,
			CreatedAt: d.now().UTC(),
		})
	}
	return d.store.Append(ctx, records...)
}
