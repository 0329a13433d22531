package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Apurer/order-saga/internal/domains/payments/domain"
)

// ChargeRequest asks for the order total to be authorized and captured.
type ChargeRequest struct {
	OrderID    string
	CustomerID string
	Amount     decimal.Decimal
	Currency   string
}

// ChargeResult is the serialisable outcome of a charge.
type ChargeResult struct {
	PaymentID   string
	OrderID     string
	Status      domain.Status
	Amount      decimal.Decimal
	Currency    string
	ExternalRef string
	Reason      string
}

// ResultFrom projects a payment onto a ChargeResult.
func ResultFrom(p *domain.Payment) ChargeResult {
	return ChargeResult{
		PaymentID:   p.ID,
		OrderID:     p.OrderID,
		Status:      p.Status,
		Amount:      p.Amount,
		Currency:    p.Currency,
		ExternalRef: p.ExternalRef,
		Reason:      p.FailureReason,
	}
}

// ChargeOrchestrator runs authorize then capture, durably or inline.
type ChargeOrchestrator interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// Service exposes payment use cases to the consumer, the workflow activities and the API.
type Service interface {
	// Authorize is idempotent per order. A decline yields a failed payment and no error.
	Authorize(ctx context.Context, req ChargeRequest) (*domain.Payment, error)
	Capture(ctx context.Context, paymentID string) (*domain.Payment, error)
	Refund(ctx context.Context, paymentID, reason string) (*domain.Payment, error)
	Get(ctx context.Context, id string) (*domain.Payment, error)
	GetByOrder(ctx context.Context, orderID string) (*domain.Payment, error)
}
