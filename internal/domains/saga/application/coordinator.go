// Package application holds the saga coordinator: the only component that knows how the
// order, payment and notification services fit together.
package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	orderdomain "github.com/Apurer/order-saga/internal/domains/orders/domain"
	"github.com/Apurer/order-saga/internal/domains/saga/domain"
	"github.com/Apurer/order-saga/internal/domains/saga/ports"
	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/shared/faults"
	"github.com/Apurer/order-saga/internal/shared/txn"
)

const defaultSweepBatch = 100

// Coordinator reacts to order and payment events for every order.
//
// OnEvent runs inside the consumer transaction, so saga state, order changes and the
// commands it emits commit together with the event's seen record.
type Coordinator struct {
	repo    ports.Repository
	orders  ports.OrderCommands
	emitter ports.Emitter
	codec   *events.Codec
	tx      txn.Runner
	policy  domain.RetryPolicy
	logger  *slog.Logger
	metrics ports.Metrics
	now     func() time.Time
	batch   int
}

// Option customises a Coordinator.
type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m ports.Metrics) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithRetryPolicy(p domain.RetryPolicy) Option {
	return func(c *Coordinator) {
		c.policy = p
	}
}

// WithTxRunner sets the unit of work used by the sweep and Resume. OnEvent joins the caller's.
func WithTxRunner(tx txn.Runner) Option {
	return func(c *Coordinator) {
		if tx != nil {
			c.tx = tx
		}
	}
}

// WithClock overrides the time source for deterministic testing.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSweepBatch caps how many due sagas one sweep handles.
func WithSweepBatch(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.batch = n
		}
	}
}

func NewCoordinator(repo ports.Repository, orders ports.OrderCommands, emitter ports.Emitter, codec *events.Codec, opts ...Option) *Coordinator {
	c := &Coordinator{
		repo:    repo,
		orders:  orders,
		emitter: emitter,
		codec:   codec,
		tx:      txn.Inline{},
		policy:  domain.DefaultRetryPolicy(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: noopMetrics{},
		now:     time.Now,
		batch:   defaultSweepBatch,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Kinds lists the events the coordinator observes.
func Kinds() []events.Kind {
	return []events.Kind{
		events.OrderCreated,
		events.OrderUpdated,
		events.OrderCancelled,
		events.OrderCompleted,
		events.PaymentProcessed,
		events.PaymentFailed,
		events.PaymentRefunded,
	}
}

// OnEvent is the single entry point for observed events.
func (c *Coordinator) OnEvent(ctx context.Context, msg events.Message) error {
	switch p := msg.Payload.(type) {
	case events.OrderCreatedPayload:
		return c.onOrderCreated(ctx, p)
	case events.OrderUpdatedPayload:
		return c.withSaga(ctx, p.OrderID, msg.Envelope.Kind, func(s *domain.Saga, at time.Time) ([]events.Envelope, error) {
			if s.OrderStatus != domain.OrderCancelled && s.OrderStatus != domain.OrderDelivered {
				s.OrderStatus = p.Status
			}
			return nil, nil
		})
	case events.OrderCancelledPayload:
		return c.withSaga(ctx, p.OrderID, msg.Envelope.Kind, func(s *domain.Saga, at time.Time) ([]events.Envelope, error) {
			return c.onOrderCancelled(s, p, at)
		})
	case events.OrderCompletedPayload:
		return c.withSaga(ctx, p.OrderID, msg.Envelope.Kind, func(s *domain.Saga, at time.Time) ([]events.Envelope, error) {
			return c.onOrderCompleted(s, at)
		})
	case events.PaymentProcessedPayload:
		return c.withSaga(ctx, p.OrderID, msg.Envelope.Kind, func(s *domain.Saga, at time.Time) ([]events.Envelope, error) {
			return c.onPaymentProcessed(ctx, s, p, at)
		})
	case events.PaymentFailedPayload:
		return c.withSaga(ctx, p.OrderID, msg.Envelope.Kind, func(s *domain.Saga, at time.Time) ([]events.Envelope, error) {
			return c.onPaymentFailed(ctx, s, p, at)
		})
	case events.PaymentRefundedPayload:
		return c.withSaga(ctx, p.OrderID, msg.Envelope.Kind, func(s *domain.Saga, at time.Time) ([]events.Envelope, error) {
			return c.onPaymentRefunded(s, p, at)
		})
	default:
		return fmt.Errorf("%w: saga does not observe %s", faults.ErrUnknownEventKind, msg.Envelope.Kind)
	}
}

func (c *Coordinator) onOrderCreated(ctx context.Context, p events.OrderCreatedPayload) error {
	if _, err := c.repo.Get(ctx, p.OrderID); err == nil {
		return nil
	} else if !errors.Is(err, ports.ErrNotFound) {
		return err
	}
	now := c.now()
	saga, err := domain.New(p.OrderID, p.OrderNumber, p.CustomerID, p.Amount, now)
	if err != nil {
		return fmt.Errorf("%w: %v", faults.ErrInvalidPayload, err)
	}
	cmd, err := c.codec.Encode(events.PaymentChargeRequested, p.OrderID, events.ChargeRequestedPayload{
		OrderID:    p.OrderID,
		CustomerID: p.CustomerID,
		Amount:     p.Amount,
		Currency:   p.Currency,
	})
	if err != nil {
		return err
	}
	saga.PaymentStatus = domain.PaymentRequested
	saga.Await(cmd, []events.Kind{events.PaymentProcessed, events.PaymentFailed}, c.policy, now)
	if err := c.repo.Create(ctx, saga); err != nil {
		return err
	}
	c.metrics.SagaTransition(string(saga.Status))
	c.logger.InfoContext(ctx, "saga started", slog.String("order.id", saga.OrderID), slog.String("command.id", cmd.ID))
	return c.emitter.Emit(ctx, cmd)
}

func (c *Coordinator) onPaymentProcessed(ctx context.Context, s *domain.Saga, p events.PaymentProcessedPayload, at time.Time) ([]events.Envelope, error) {
	switch s.PaymentStatus {
	case domain.PaymentCaptured, domain.PaymentRefundRequested, domain.PaymentRefunded:
		if s.PaymentID == p.PaymentID {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: order %s already settled by payment %s", faults.ErrInvalidTransition, s.OrderID, s.PaymentID)
	case domain.PaymentFailed:
		return nil, faults.Transition("payment", domain.PaymentFailed, domain.PaymentCaptured)
	}

	s.Resolve(events.PaymentProcessed)
	s.PaymentStatus = domain.PaymentCaptured
	s.PaymentID = p.PaymentID

	if !p.Amount.Equal(s.Amount) {
		reason := fmt.Sprintf("%v: order %s expects %s, captured %s", faults.ErrAmountMismatch, s.OrderID, s.Amount.StringFixed(2), p.Amount.StringFixed(2))
		return c.stuck(s, reason, at)
	}

	if s.OrderStatus == domain.OrderCancelled {
		return c.refund(s, "order cancelled before payment settled", at)
	}

	_, err := c.orders.ConfirmPayment(ctx, s.OrderID, p.PaymentID, p.Amount)
	switch {
	case errors.Is(err, faults.ErrInvalidTransition):
		order, err := c.orders.GetOrder(ctx, s.OrderID)
		if err != nil {
			return nil, err
		}
		switch {
		case order.Status == orderdomain.StatusCancelled:
			s.OrderStatus = domain.OrderCancelled
			return c.refund(s, "order no longer accepts payment", at)
		case order.PaymentID != p.PaymentID:
			reason := fmt.Sprintf("%v: order %s settled by payment %s, captured %s", faults.ErrInvalidTransition, s.OrderID, order.PaymentID, p.PaymentID)
			return c.stuck(s, reason, at)
		}
		// An earlier delivery confirmed the order with this payment but lost the saga write.
	case errors.Is(err, faults.ErrAmountMismatch):
		return c.stuck(s, err.Error(), at)
	case err != nil:
		return nil, err
	}
	s.OrderStatus = domain.OrderConfirmed
	if err := c.transition(s, domain.StatusRunning, at); err != nil {
		return nil, err
	}
	push, err := c.notify(events.NotificationPush, s, events.NotificationTypePaymentUpdate,
		"Payment confirmed", fmt.Sprintf("Your payment of %s %s for order %s was received.", s.Amount.StringFixed(2), events.Currency, s.OrderNumber))
	return []events.Envelope{push}, err
}

func (c *Coordinator) onPaymentFailed(ctx context.Context, s *domain.Saga, p events.PaymentFailedPayload, at time.Time) ([]events.Envelope, error) {
	if s.PaymentStatus.Settled() {
		return nil, faults.Transition("payment", s.PaymentStatus, domain.PaymentFailed)
	}
	if s.PaymentStatus == domain.PaymentFailed {
		return nil, nil
	}
	s.Resolve(events.PaymentFailed)
	s.PaymentStatus = domain.PaymentFailed
	s.PaymentID = p.PaymentID

	if s.OrderStatus != domain.OrderCancelled {
		if _, err := c.orders.CancelForPaymentFailure(ctx, s.OrderID, p.Reason); err != nil && !errors.Is(err, faults.ErrInvalidTransition) {
			return nil, err
		}
		s.OrderStatus = domain.OrderCancelled
	}
	if err := c.transition(s, domain.StatusCompensated, at); err != nil {
		return nil, err
	}
	push, err := c.notify(events.NotificationPush, s, events.NotificationTypePaymentUpdate,
		"Payment failed", fmt.Sprintf("Payment for order %s failed and the order was cancelled.", s.OrderNumber))
	return []events.Envelope{push}, err
}

func (c *Coordinator) onOrderCancelled(s *domain.Saga, p events.OrderCancelledPayload, at time.Time) ([]events.Envelope, error) {
	s.OrderStatus = domain.OrderCancelled
	if s.Status == domain.StatusStuck {
		return nil, nil
	}
	switch s.PaymentStatus {
	case domain.PaymentCaptured:
		reason := p.Reason
		if reason == "" {
			reason = "order cancelled"
		}
		return c.refund(s, reason, at)
	case domain.PaymentRequested:
		// The charge is in flight; its outcome decides the compensation.
		return nil, c.transition(s, domain.StatusCompensating, at)
	case domain.PaymentRefundRequested, domain.PaymentRefunded:
		return nil, nil
	default:
		s.Pending = nil
		return nil, c.transition(s, domain.StatusCompensated, at)
	}
}

func (c *Coordinator) onOrderCompleted(s *domain.Saga, at time.Time) ([]events.Envelope, error) {
	if s.Status == domain.StatusCompleted {
		return nil, nil
	}
	s.OrderStatus = domain.OrderDelivered
	if err := c.transition(s, domain.StatusCompleted, at); err != nil {
		return nil, err
	}
	push, err := c.notify(events.NotificationPush, s, events.NotificationTypeOrderUpdate,
		"Order delivered", fmt.Sprintf("Order %s has been delivered.", s.OrderNumber))
	return []events.Envelope{push}, err
}

func (c *Coordinator) onPaymentRefunded(s *domain.Saga, p events.PaymentRefundedPayload, at time.Time) ([]events.Envelope, error) {
	switch s.PaymentStatus {
	case domain.PaymentRefunded:
		return nil, nil
	case domain.PaymentRefundRequested:
	default:
		return nil, faults.Transition("payment", s.PaymentStatus, domain.PaymentRefunded)
	}
	s.Resolve(events.PaymentRefunded)
	s.PaymentStatus = domain.PaymentRefunded
	if err := c.transition(s, domain.StatusCompensated, at); err != nil {
		return nil, err
	}
	receipt, err := c.notify(events.NotificationEmail, s, events.NotificationTypePaymentUpdate,
		"Refund receipt", fmt.Sprintf("We refunded %s %s for order %s.", p.Amount.StringFixed(2), events.Currency, s.OrderNumber))
	return []events.Envelope{receipt}, err
}

// refund issues the compensating refund exactly once per saga.
func (c *Coordinator) refund(s *domain.Saga, reason string, at time.Time) ([]events.Envelope, error) {
	if s.RefundRequested {
		return nil, nil
	}
	cmd, err := c.codec.Encode(events.PaymentRefundRequested, s.OrderID, events.RefundRequestedPayload{
		OrderID:   s.OrderID,
		PaymentID: s.PaymentID,
		Amount:    s.Amount,
		Reason:    reason,
	})
	if err != nil {
		return nil, err
	}
	if err := c.transition(s, domain.StatusCompensating, at); err != nil {
		return nil, err
	}
	s.RefundRequested = true
	s.PaymentStatus = domain.PaymentRefundRequested
	s.RecordCompensation(events.PaymentRefundRequested)
	s.Await(cmd, []events.Kind{events.PaymentRefunded}, c.policy, at)
	return []events.Envelope{cmd}, nil
}

func (c *Coordinator) stuck(s *domain.Saga, reason string, at time.Time) ([]events.Envelope, error) {
	if err := s.MarkStuck(reason, at); err != nil {
		return nil, err
	}
	c.metrics.SagaStuck()
	c.metrics.SagaTransition(string(domain.StatusStuck))
	c.logger.Error("saga stuck", slog.String("order.id", s.OrderID), slog.String("reason", reason))
	alert, err := c.codec.Encode(events.NotificationAlert, s.OrderID, events.NotificationPayload{
		Type:    events.NotificationTypeSystemAlert,
		Title:   "Saga stuck",
		Message: reason,
		Data: map[string]string{
			"orderId":       s.OrderID,
			"orderNumber":   s.OrderNumber,
			"paymentStatus": string(s.PaymentStatus),
		},
	})
	return []events.Envelope{alert}, err
}

func (c *Coordinator) transition(s *domain.Saga, next domain.Status, at time.Time) error {
	previous := s.Status
	if err := s.TransitionTo(next, at); err != nil {
		return err
	}
	if previous != next {
		c.metrics.SagaTransition(string(next))
	}
	return nil
}

func (c *Coordinator) notify(kind events.Kind, s *domain.Saga, notificationType, title, message string) (events.Envelope, error) {
	return c.codec.Encode(kind, s.OrderID, events.NotificationPayload{
		UserID:  s.CustomerID,
		Type:    notificationType,
		Title:   title,
		Message: message,
		Data:    map[string]string{"orderId": s.OrderID, "orderNumber": s.OrderNumber},
	})
}

// withSaga loads the saga, applies change and persists it with the envelopes change returns.
func (c *Coordinator) withSaga(ctx context.Context, orderID string, kind events.Kind, change func(s *domain.Saga, at time.Time) ([]events.Envelope, error)) error {
	saga, err := c.repo.Get(ctx, orderID)
	if errors.Is(err, ports.ErrNotFound) {
		return fmt.Errorf("%w: %s for order %s without a saga", faults.ErrInvalidTransition, kind, orderID)
	}
	if err != nil {
		return err
	}
	before := saga.Clone()
	envs, err := change(saga, c.now())
	if err != nil {
		return err
	}
	if unchanged(before, saga) && len(envs) == 0 {
		return nil
	}
	if err := c.repo.Update(ctx, saga); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "saga advanced",
		slog.String("order.id", saga.OrderID),
		slog.String("event.kind", string(kind)),
		slog.String("saga.status", string(saga.Status)),
		slog.String("payment.status", string(saga.PaymentStatus)),
	)
	return c.emitter.Emit(ctx, envs...)
}

func unchanged(before, after *domain.Saga) bool {
	return before.Status == after.Status &&
		before.OrderStatus == after.OrderStatus &&
		before.PaymentStatus == after.PaymentStatus &&
		before.PaymentID == after.PaymentID &&
		(before.Pending == nil) == (after.Pending == nil)
}

type noopMetrics struct{}

func (noopMetrics) SagaRetried(events.Kind) {}
func (noopMetrics) SagaStuck()              {}
func (noopMetrics) SagaTransition(string)   {}
