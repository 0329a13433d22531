package ports

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	orderdomain "github.com/Apurer/order-saga/internal/domains/orders/domain"
	"github.com/Apurer/order-saga/internal/domains/saga/domain"
	"github.com/Apurer/order-saga/internal/events"
)

var (
	ErrNotFound      = errors.New("saga not found")
	ErrAlreadyExists = errors.New("saga already exists")
)

// Repository persists saga state. Update is optimistic on Version and returns
// faults.ErrConcurrentUpdate when another writer got there first.
type Repository interface {
	Create(ctx context.Context, saga *domain.Saga) error
	Update(ctx context.Context, saga *domain.Saga) error
	Get(ctx context.Context, orderID string) (*domain.Saga, error)
	// ListDue returns sagas whose pending step deadline is at or before now, oldest deadline first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Saga, error)
	ListByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.Saga, error)
}

// OrderCommands is the part of the order service the saga drives.
type OrderCommands interface {
	ConfirmPayment(ctx context.Context, orderID, paymentID string, amount decimal.Decimal) (*orderdomain.Order, error)
	CancelForPaymentFailure(ctx context.Context, orderID, reason string) (*orderdomain.Order, error)
	CancelOrder(ctx context.Context, orderID, reason string) (*orderdomain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*orderdomain.Order, error)
}

// Emitter appends envelopes to the outbox inside the caller's transaction.
type Emitter interface {
	Emit(ctx context.Context, envs ...events.Envelope) error
}

// Metrics observes saga progress.
type Metrics interface {
	SagaRetried(kind events.Kind)
	SagaStuck()
	SagaTransition(status string)
}

// Service is the operator surface of the coordinator.
type Service interface {
	Get(ctx context.Context, orderID string) (*domain.Saga, error)
	ListStuck(ctx context.Context, limit int) ([]*domain.Saga, error)
	Resume(ctx context.Context, orderID string) (*domain.Saga, error)
	Compensate(ctx context.Context, orderID string) (*domain.Saga, error)
}
