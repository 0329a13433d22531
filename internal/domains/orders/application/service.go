package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Apurer/order-saga/internal/domains/orders/domain"
	"github.com/Apurer/order-saga/internal/domains/orders/ports"
	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/shared/faults"
)

// maxUpdateAttempts bounds reload-and-retry on optimistic version conflicts.
const maxUpdateAttempts = 3

// Service orchestrates order use cases. Every state change commits together with the
// event announcing it.
type Service struct {
	repo   ports.Repository
	outbox ports.Outbox
	codec  *events.Codec
	now    func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source for deterministic testing.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(repo ports.Repository, outbox ports.Outbox, codec *events.Codec, opts ...Option) *Service {
	s := &Service{repo: repo, outbox: outbox, codec: codec, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Service) PlaceOrder(ctx context.Context, params domain.NewOrderParams) (*domain.Order, error) {
	order, err := domain.NewOrder(params, s.now())
	if err != nil {
		return nil, mapError(err)
	}
	env, err := s.codec.Encode(events.OrderCreated, order.ID, events.OrderCreatedPayload{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		ShopID:      order.ShopID,
		Type:        string(order.Type),
		Amount:      order.TotalAmount,
		Currency:    events.Currency,
	})
	if err != nil {
		return nil, err
	}
	err = s.outbox.CommitWithEvent(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, order)
	}, env)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return s.repo.GetByNumber(ctx, strings.ToUpper(strings.TrimSpace(number)))
}

func (s *Service) CancelOrder(ctx context.Context, id, reason string) (*domain.Order, error) {
	return s.cancel(ctx, id, reason)
}

func (s *Service) CancelForPaymentFailure(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "payment failed"
	}
	return s.cancel(ctx, orderID, reason)
}

func (s *Service) cancel(ctx context.Context, id, reason string) (*domain.Order, error) {
	return s.mutate(ctx, id, func(order *domain.Order, at time.Time) ([]events.Envelope, error) {
		previous := order.Status
		if err := order.Cancel(reason, at); err != nil {
			return nil, err
		}
		env, err := s.codec.Encode(events.OrderCancelled, order.ID, events.OrderCancelledPayload{
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			CustomerID:     order.CustomerID,
			PreviousStatus: string(previous),
			Reason:         order.CancellationReason,
		})
		return []events.Envelope{env}, err
	})
}

func (s *Service) AdvanceOrder(ctx context.Context, id string, next domain.Status, driverID string) (*domain.Order, error) {
	switch next {
	case domain.StatusPickedUp, domain.StatusInProgress, domain.StatusReady, domain.StatusOutForDelivery:
	case domain.StatusConfirmed, domain.StatusDelivered, domain.StatusCancelled:
		return nil, fmt.Errorf("%w: %s has a dedicated command", ErrInvalidInput, next)
	default:
		return nil, mapError(domain.ErrInvalidStatus)
	}
	return s.mutate(ctx, id, func(order *domain.Order, at time.Time) ([]events.Envelope, error) {
		previous := order.Status
		if err := order.TransitionTo(next, at); err != nil {
			return nil, err
		}
		order.AssignDriver(driverID)
		env, err := s.updatedEvent(order, previous)
		return []events.Envelope{env}, err
	})
}

func (s *Service) RecordDelivery(ctx context.Context, id string) (*domain.Order, error) {
	return s.mutate(ctx, id, func(order *domain.Order, at time.Time) ([]events.Envelope, error) {
		previous := order.Status
		if err := order.TransitionTo(domain.StatusDelivered, at); err != nil {
			return nil, err
		}
		updated, err := s.updatedEvent(order, previous)
		if err != nil {
			return nil, err
		}
		completed, err := s.codec.Encode(events.OrderCompleted, order.ID, events.OrderCompletedPayload{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			CustomerID:  order.CustomerID,
			DeliveredAt: *order.ActualDeliveryTime,
		})
		return []events.Envelope{updated, completed}, err
	})
}

func (s *Service) ConfirmPayment(ctx context.Context, orderID, paymentID string, amount decimal.Decimal) (*domain.Order, error) {
	return s.mutate(ctx, orderID, func(order *domain.Order, at time.Time) ([]events.Envelope, error) {
		previous := order.Status
		if err := order.ConfirmPayment(paymentID, amount, at); err != nil {
			return nil, err
		}
		env, err := s.updatedEvent(order, previous)
		return []events.Envelope{env}, err
	})
}

func (s *Service) updatedEvent(order *domain.Order, previous domain.Status) (events.Envelope, error) {
	return s.codec.Encode(events.OrderUpdated, order.ID, events.OrderUpdatedPayload{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		CustomerID:     order.CustomerID,
		Status:         string(order.Status),
		PreviousStatus: string(previous),
		DriverID:       order.DriverID,
	})
}

// mutate loads the order, applies change and commits it with the returned events. A
// version conflict reloads and re-applies change.
func (s *Service) mutate(ctx context.Context, id string, change func(order *domain.Order, at time.Time) ([]events.Envelope, error)) (*domain.Order, error) {
	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		order, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		envs, err := change(order, s.now())
		if err != nil {
			return nil, mapError(err)
		}
		err = s.outbox.CommitWithEvent(ctx, func(ctx context.Context) error {
			return s.repo.Update(ctx, order)
		}, envs...)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, faults.ErrConcurrentUpdate) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

var _ ports.Service = (*Service)(nil)
