package ports

import (
	"context"
	"errors"

	"github.com/Apurer/order-saga/internal/domains/payments/domain"
	"github.com/Apurer/order-saga/internal/events"
)

var (
	ErrNotFound      = errors.New("payment not found")
	ErrAlreadyExists = errors.New("payment already exists for order")
)

// Repository persists payments. Implementations join the transaction carried by ctx.
type Repository interface {
	// Create returns ErrAlreadyExists when the order already has a payment.
	Create(ctx context.Context, payment *domain.Payment) error
	// Update stores payment if its Version still matches and bumps it;
	// otherwise it returns faults.ErrConcurrentUpdate.
	Update(ctx context.Context, payment *domain.Payment) error
	Get(ctx context.Context, id string) (*domain.Payment, error)
	GetByOrder(ctx context.Context, orderID string) (*domain.Payment, error)
}

// Emitter appends envelopes to the outbox inside the caller's transaction.
type Emitter interface {
	Emit(ctx context.Context, envs ...events.Envelope) error
}
