// Package domain models the per-order saga that drives payment, confirmation and
// compensation across services.
package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/shared/faults"
)

// Status is the coordinator's view of the saga.
type Status string

const (
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
	// StatusStuck needs an operator. A stuck saga never compensates on its own.
	StatusStuck Status = "stuck"
)

var transitions = map[Status][]Status{
	StatusRunning:      {StatusCompleted, StatusCompensating, StatusCompensated, StatusStuck},
	StatusCompensating: {StatusCompensated, StatusStuck},
	// A capture that lands after an unpaid cancellation still needs its refund.
	StatusCompensated: {StatusCompensating},
	StatusStuck:       {StatusRunning, StatusCompleted, StatusCompensating, StatusCompensated},
}

// Terminal reports whether the saga has nothing left to drive. A compensated saga still
// refunds a capture that arrives after it closed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCompensated
}

// PaymentStatus is the last payment state the saga observed or requested.
type PaymentStatus string

const (
	PaymentNone            PaymentStatus = "none"
	PaymentRequested       PaymentStatus = "requested"
	PaymentCaptured        PaymentStatus = "captured"
	PaymentFailed          PaymentStatus = "failed"
	PaymentRefundRequested PaymentStatus = "refund_requested"
	PaymentRefunded        PaymentStatus = "refunded"
)

// Settled reports whether money moved, so a different outcome can no longer apply.
func (p PaymentStatus) Settled() bool {
	return p == PaymentCaptured || p == PaymentRefundRequested || p == PaymentRefunded
}

// Order statuses the saga reasons about. They mirror the order context's values.
const (
	OrderPending   = "pending"
	OrderConfirmed = "confirmed"
	OrderDelivered = "delivered"
	OrderCancelled = "cancelled"
)

var (
	ErrNothingPending = errors.New("saga has no pending step")
	ErrNotStuck       = errors.New("saga is not stuck")
	ErrRefundInFlight = errors.New("saga refund is in flight, resume it instead")
)

// Step is a command waiting for one of its reply kinds.
type Step struct {
	Command  events.Envelope
	Awaiting []events.Kind
	Attempts int
	IssuedAt time.Time
	Deadline time.Time
}

// Awaits reports whether kind resolves the step.
func (s *Step) Awaits(kind events.Kind) bool {
	if s == nil {
		return false
	}
	for _, k := range s.Awaiting {
		if k == kind {
			return true
		}
	}
	return false
}

// RetryPolicy bounds how long the saga waits on a step and how often it re-issues it.
type RetryPolicy struct {
	Timeout            time.Duration
	MaxRetries         int
	BackoffCoefficient float64
	MaxInterval        time.Duration
}

// DefaultRetryPolicy waits 30s for the first reply and retries three times.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Timeout:            30 * time.Second,
		MaxRetries:         3,
		BackoffCoefficient: 2,
		MaxInterval:        5 * time.Minute,
	}
}

// Delay is the wait after issuing attempt n (0 for the first issue).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	coefficient := p.BackoffCoefficient
	if coefficient < 1 {
		coefficient = 1
	}
	d := time.Duration(float64(p.Timeout) * math.Pow(coefficient, float64(attempt)))
	if p.MaxInterval > 0 && (d > p.MaxInterval || d <= 0) {
		return p.MaxInterval
	}
	return d
}

// Validate rejects policies that would never time out or never retry sanely.
func (p RetryPolicy) Validate() error {
	if p.Timeout <= 0 {
		return errors.New("saga step timeout must be positive")
	}
	if p.MaxRetries < 0 {
		return errors.New("saga max retries must not be negative")
	}
	if p.BackoffCoefficient < 1 {
		return errors.New("saga backoff coefficient must be at least 1")
	}
	return nil
}

// Saga is the durable state of one order's coordination.
type Saga struct {
	OrderID       string
	OrderNumber   string
	CustomerID    string
	Amount        decimal.Decimal
	Status        Status
	OrderStatus   string
	PaymentStatus PaymentStatus
	PaymentID     string
	Pending       *Step
	// Compensations lists the compensating command kinds issued, in order.
	Compensations   []string
	RefundRequested bool
	StuckReason     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int64
}

// New starts a saga for a freshly created order.
func New(orderID, orderNumber, customerID string, amount decimal.Decimal, now time.Time) (*Saga, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, errors.New("saga needs an order id")
	}
	now = now.UTC()
	return &Saga{
		OrderID:       orderID,
		OrderNumber:   orderNumber,
		CustomerID:    customerID,
		Amount:        amount,
		Status:        StatusRunning,
		OrderStatus:   OrderPending,
		PaymentStatus: PaymentNone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// TransitionTo moves the saga status. Staying in place is a no-op.
func (s *Saga) TransitionTo(next Status, at time.Time) error {
	if s.Status == next {
		return nil
	}
	allowed := false
	for _, candidate := range transitions[s.Status] {
		if candidate == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return faults.Transition("saga", s.Status, next)
	}
	s.Status = next
	if next != StatusStuck {
		s.StuckReason = ""
	}
	s.UpdatedAt = at.UTC()
	return nil
}

// Await records cmd as the pending step, replacing any earlier one.
func (s *Saga) Await(cmd events.Envelope, awaiting []events.Kind, policy RetryPolicy, now time.Time) {
	now = now.UTC()
	s.Pending = &Step{
		Command:  cmd,
		Awaiting: append([]events.Kind(nil), awaiting...),
		IssuedAt: now,
		Deadline: now.Add(policy.Delay(0)),
	}
	s.UpdatedAt = now
}

// Resolve clears the pending step when kind answers it.
func (s *Saga) Resolve(kind events.Kind) bool {
	if !s.Pending.Awaits(kind) {
		return false
	}
	s.Pending = nil
	return true
}

// Due reports whether the pending step's deadline passed.
func (s *Saga) Due(now time.Time) bool {
	return s.Pending != nil && s.Status != StatusStuck && !now.Before(s.Pending.Deadline)
}

// Exhausted reports whether the pending step used up its retries.
func (s *Saga) Exhausted(policy RetryPolicy) bool {
	return s.Pending != nil && s.Pending.Attempts >= policy.MaxRetries
}

// RecordRetry counts a re-issue of the pending step and pushes its deadline out.
func (s *Saga) RecordRetry(policy RetryPolicy, now time.Time) error {
	if s.Pending == nil {
		return ErrNothingPending
	}
	now = now.UTC()
	s.Pending.Attempts++
	s.Pending.IssuedAt = now
	s.Pending.Deadline = now.Add(policy.Delay(s.Pending.Attempts))
	s.UpdatedAt = now
	return nil
}

// MarkStuck parks the saga for an operator. The pending step is kept for Resume.
func (s *Saga) MarkStuck(reason string, at time.Time) error {
	if err := s.TransitionTo(StatusStuck, at); err != nil {
		return err
	}
	s.StuckReason = reason
	return nil
}

// Resume replaces the pending step of a stuck saga with cmd and restarts its retry budget.
func (s *Saga) Resume(cmd events.Envelope, policy RetryPolicy, now time.Time) error {
	if s.Status != StatusStuck {
		return fmt.Errorf("%w: %s is %s", ErrNotStuck, s.OrderID, s.Status)
	}
	if s.Pending == nil {
		return fmt.Errorf("%w: %s", ErrNothingPending, s.OrderID)
	}
	next := StatusRunning
	if s.PaymentStatus == PaymentRefundRequested || s.OrderStatus == OrderCancelled {
		next = StatusCompensating
	}
	if err := s.TransitionTo(next, now); err != nil {
		return err
	}
	s.Await(cmd, s.Pending.Awaiting, policy, now)
	return nil
}

// RecordCompensation notes an issued compensating command.
func (s *Saga) RecordCompensation(kind events.Kind) {
	s.Compensations = append(s.Compensations, string(kind))
}

// Clone returns a deep copy.
func (s *Saga) Clone() *Saga {
	if s == nil {
		return nil
	}
	c := *s
	c.Compensations = append([]string(nil), s.Compensations...)
	if s.Pending != nil {
		step := *s.Pending
		step.Awaiting = append([]events.Kind(nil), s.Pending.Awaiting...)
		step.Command.Payload = append([]byte(nil), s.Pending.Command.Payload...)
		c.Pending = &step
	}
	return &c
}
