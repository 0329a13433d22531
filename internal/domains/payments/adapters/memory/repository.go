package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Apurer/order-saga/internal/domains/payments/domain"
	"github.com/Apurer/order-saga/internal/domains/payments/ports"
	"github.com/Apurer/order-saga/internal/shared/faults"
)

var _ ports.Repository = (*Repository)(nil)

// Repository keeps payments in process memory, indexed by id and by order.
type Repository struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Payment
	byOrder map[string]string
}

func NewRepository() *Repository {
	return &Repository{byID: map[string]*domain.Payment{}, byOrder: map[string]string{}}
}

func (r *Repository) Create(_ context.Context, payment *domain.Payment) error {
	if payment == nil {
		return errors.New("payment is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byOrder[payment.OrderID]; ok {
		return fmt.Errorf("%w: %s", ports.ErrAlreadyExists, payment.OrderID)
	}
	payment.Version = 1
	r.byID[payment.ID] = payment.Clone()
	r.byOrder[payment.OrderID] = payment.ID
	return nil
}

func (r *Repository) Update(_ context.Context, payment *domain.Payment) error {
	if payment == nil {
		return errors.New("payment is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[payment.ID]
	if !ok {
		return ports.ErrNotFound
	}
	if stored.Version != payment.Version {
		return fmt.Errorf("%w: payment %s at version %d, have %d", faults.ErrConcurrentUpdate, payment.ID, stored.Version, payment.Version)
	}
	payment.Version++
	r.byID[payment.ID] = payment.Clone()
	return nil
}

func (r *Repository) Get(_ context.Context, id string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	payment, ok := r.byID[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return payment.Clone(), nil
}

func (r *Repository) GetByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	r.mu.RLock()
	id, ok := r.byOrder[orderID]
	r.mu.RUnlock()
	if !ok {
		return nil, ports.ErrNotFound
	}
	return r.Get(ctx, id)
}
