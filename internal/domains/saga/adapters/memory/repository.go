package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Apurer/order-saga/internal/domains/saga/domain"
	"github.com/Apurer/order-saga/internal/domains/saga/ports"
	"github.com/Apurer/order-saga/internal/shared/faults"
)

var _ ports.Repository = (*Repository)(nil)

// Repository keeps sagas in process memory.
type Repository struct {
	mu    sync.RWMutex
	sagas map[string]*domain.Saga
}

func NewRepository() *Repository {
	return &Repository{sagas: map[string]*domain.Saga{}}
}

func (r *Repository) Create(_ context.Context, saga *domain.Saga) error {
	if saga == nil {
		return errors.New("saga is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sagas[saga.OrderID]; ok {
		return fmt.Errorf("%w: %s", ports.ErrAlreadyExists, saga.OrderID)
	}
	saga.Version = 1
	r.sagas[saga.OrderID] = saga.Clone()
	return nil
}

func (r *Repository) Update(_ context.Context, saga *domain.Saga) error {
	if saga == nil {
		return errors.New("saga is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sagas[saga.OrderID]
	if !ok {
		return ports.ErrNotFound
	}
	if stored.Version != saga.Version {
		return fmt.Errorf("%w: saga %s at version %d, have %d", faults.ErrConcurrentUpdate, saga.OrderID, stored.Version, saga.Version)
	}
	saga.Version++
	r.sagas[saga.OrderID] = saga.Clone()
	return nil
}

func (r *Repository) Get(_ context.Context, orderID string) (*domain.Saga, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	saga, ok := r.sagas[orderID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return saga.Clone(), nil
}

func (r *Repository) ListDue(_ context.Context, now time.Time, limit int) ([]*domain.Saga, error) {
	out := r.filter(func(s *domain.Saga) bool { return s.Due(now) })
	sort.Slice(out, func(i, j int) bool { return out[i].Pending.Deadline.Before(out[j].Pending.Deadline) })
	return truncate(out, limit), nil
}

func (r *Repository) ListByStatus(_ context.Context, status domain.Status, limit int) ([]*domain.Saga, error) {
	out := r.filter(func(s *domain.Saga) bool { return s.Status == status })
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return truncate(out, limit), nil
}

func (r *Repository) filter(keep func(*domain.Saga) bool) []*domain.Saga {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Saga
	for _, saga := range r.sagas {
		if keep(saga) {
			out = append(out, saga.Clone())
		}
	}
	return out
}

func truncate(sagas []*domain.Saga, limit int) []*domain.Saga {
	if limit > 0 && len(sagas) > limit {
		return sagas[:limit]
	}
	return sagas
}
