package mapper

import (
	"time"

	"github.com/shopspring/decimal"

	sagadomain "github.com/Apurer/order-saga/internal/domains/saga/domain"
)

// Step is the wire shape of a pending saga step.
type Step struct {
	CommandID   string    `json:"commandId"`
	CommandKind string    `json:"commandKind"`
	Awaiting    []string  `json:"awaiting"`
	Attempts    int       `json:"attempts"`
	IssuedAt    time.Time `json:"issuedAt"`
	Deadline    time.Time `json:"deadline"`
}

// Saga is the operator view of one order's coordination.
type Saga struct {
	OrderID         string          `json:"orderId"`
	OrderNumber     string          `json:"orderNumber"`
	CustomerID      string          `json:"customerId"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	OrderStatus     string          `json:"orderStatus"`
	PaymentStatus   string          `json:"paymentStatus"`
	PaymentID       string          `json:"paymentId,omitempty"`
	Pending         *Step           `json:"pending,omitempty"`
	Compensations   []string        `json:"compensations"`
	RefundRequested bool            `json:"refundRequested"`
	StuckReason     string          `json:"stuckReason,omitempty"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func FromDomainSaga(s *sagadomain.Saga) Saga {
	if s == nil {
		return Saga{}
	}
	out := Saga{
		OrderID:         s.OrderID,
		OrderNumber:     s.OrderNumber,
		CustomerID:      s.CustomerID,
		Amount:          s.Amount,
		Status:          string(s.Status),
		OrderStatus:     s.OrderStatus,
		PaymentStatus:   string(s.PaymentStatus),
		PaymentID:       s.PaymentID,
		Compensations:   append([]string{}, s.Compensations...),
		RefundRequested: s.RefundRequested,
		StuckReason:     s.StuckReason,
		Version:         s.Version,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if s.Pending != nil {
		step := &Step{
			CommandID:   s.Pending.Command.ID,
			CommandKind: string(s.Pending.Command.Kind),
			Attempts:    s.Pending.Attempts,
			IssuedAt:    s.Pending.IssuedAt,
			Deadline:    s.Pending.Deadline,
		}
		for _, kind := range s.Pending.Awaiting {
			step.Awaiting = append(step.Awaiting, string(kind))
		}
		out.Pending = step
	}
	return out
}

func FromDomainSagas(sagas []*sagadomain.Saga) []Saga {
	out := make([]Saga, 0, len(sagas))
	for _, s := range sagas {
		out = append(out, FromDomainSaga(s))
	}
	return out
}
