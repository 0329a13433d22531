package ports

import (
	"context"
	"errors"

	"github.com/Apurer/order-saga/internal/domains/orders/domain"
	"github.com/Apurer/order-saga/internal/events"
)

var ErrNotFound = errors.New("order not found")

// Repository persists orders. Implementations join the transaction carried by ctx.
type Repository interface {
	Create(ctx context.Context, order *domain.Order) error
	// Update stores order if its Version still matches the stored one and bumps it;
	// otherwise it returns faults.ErrConcurrentUpdate.
	Update(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByNumber(ctx context.Context, number string) (*domain.Order, error)
}

// Outbox commits a state change together with the events describing it.
type Outbox interface {
	CommitWithEvent(ctx context.Context, mutate func(ctx context.Context) error, envs ...events.Envelope) error
}
