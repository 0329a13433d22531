package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Apurer/order-saga/internal/shared/faults"
)

// Status tracks a payment through authorization, capture and refund.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusCaptured   Status = "captured"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusAuthorized, StatusFailed},
	StatusAuthorized: {StatusCaptured, StatusFailed},
	StatusCaptured:   {StatusRefunded},
}

// Settled reports whether the charge reached an outcome the order can react to.
func (s Status) Settled() bool {
	return s == StatusCaptured || s == StatusFailed || s == StatusRefunded
}

var (
	ErrInvalidOrder  = errors.New("payment needs an order id")
	ErrInvalidAmount = errors.New("payment amount must be positive")
)

// Payment is one-to-one with an order.
type Payment struct {
	ID            string
	OrderID       string
	CustomerID    string
	Amount        decimal.Decimal
	Currency      string
	Status        Status
	ExternalRef   string
	RefundRef     string
	FailureReason string
	AuthorizedAt  *time.Time
	CapturedAt    *time.Time
	RefundedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int64
}

func NewPayment(orderID, customerID string, amount decimal.Decimal, currency string, now time.Time) (*Payment, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, ErrInvalidOrder
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	now = now.UTC()
	return &Payment{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		CustomerID: customerID,
		Amount:     amount,
		Currency:   currency,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (p *Payment) transition(next Status, at time.Time) error {
	for _, candidate := range transitions[p.Status] {
		if candidate == next {
			p.Status = next
			p.UpdatedAt = at.UTC()
			return nil
		}
	}
	return faults.Transition("payment", p.Status, next)
}

// Authorize records the gateway's hold on the funds.
func (p *Payment) Authorize(ref string, at time.Time) error {
	if err := p.transition(StatusAuthorized, at); err != nil {
		return err
	}
	at = at.UTC()
	p.ExternalRef = ref
	p.AuthorizedAt = &at
	return nil
}

func (p *Payment) Capture(at time.Time) error {
	if err := p.transition(StatusCaptured, at); err != nil {
		return err
	}
	at = at.UTC()
	p.CapturedAt = &at
	return nil
}

func (p *Payment) Fail(reason string, at time.Time) error {
	if err := p.transition(StatusFailed, at); err != nil {
		return err
	}
	p.FailureReason = strings.TrimSpace(reason)
	if p.FailureReason == "" {
		p.FailureReason = "payment failed"
	}
	return nil
}

func (p *Payment) Refund(ref string, at time.Time) error {
	if err := p.transition(StatusRefunded, at); err != nil {
		return err
	}
	at = at.UTC()
	p.RefundRef = ref
	p.RefundedAt = &at
	return nil
}

func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	c.AuthorizedAt = cloneTime(p.AuthorizedAt)
	c.CapturedAt = cloneTime(p.CapturedAt)
	c.RefundedAt = cloneTime(p.RefundedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
