package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Apurer/order-saga/internal/domains/orders/domain"
)

// Service exposes order use cases to adapters.
type Service interface {
	PlaceOrder(ctx context.Context, params domain.NewOrderParams) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error)
	CancelOrder(ctx context.Context, id, reason string) (*domain.Order, error)
	// AdvanceOrder covers the shop and driver steps between confirmation and delivery.
	AdvanceOrder(ctx context.Context, id string, next domain.Status, driverID string) (*domain.Order, error)
	RecordDelivery(ctx context.Context, id string) (*domain.Order, error)
	PaymentCommands
}

// PaymentCommands are issued by the saga coordinator only.
type PaymentCommands interface {
	ConfirmPayment(ctx context.Context, orderID, paymentID string, amount decimal.Decimal) (*domain.Order, error)
	CancelForPaymentFailure(ctx context.Context, orderID, reason string) (*domain.Order, error)
}
