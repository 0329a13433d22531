// Package txn abstracts the unit of work that binds a state change to its outbox records.
package txn

import (
	"context"
	"sync"
)

// Runner executes fn inside a single atomic unit. Nested calls join the outer unit.
type Runner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Inline runs fn directly. In-memory adapters apply writes immediately, so there is
// nothing to commit or roll back.
type Inline struct{}

func (Inline) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Serial is the unit of work of a process running on in-memory stores. Units run one at
// a time, so no unit observes another half applied. Writes are not undone when fn fails;
// handlers must tolerate re-running over state an earlier failed unit already changed.
type Serial struct {
	mu sync.Mutex
}

// NewSerial returns a ready Serial runner.
func NewSerial() *Serial {
	return &Serial{}
}

type serialKey struct{}

func (s *Serial) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, ok := ctx.Value(serialKey{}).(*Serial); ok && owner == s {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(context.WithValue(ctx, serialKey{}, s))
}

var (
	_ Runner = Inline{}
	_ Runner = (*Serial)(nil)
)
