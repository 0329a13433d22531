package payments

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	paymentsports "github.com/Apurer/order-saga/internal/domains/payments/ports"
	"github.com/Apurer/order-saga/internal/shared/faults"
)

const (
	// AuthorizeActivityName places a hold on the order total.
	AuthorizeActivityName = "payments.activities.Authorize"
	// CaptureActivityName settles an authorized payment.
	CaptureActivityName = "payments.activities.Capture"
)

// Activities groups activities that operate on the payments bounded context.
type Activities struct {
	service paymentsports.Service
}

// NewActivities wires the payments service into the Temporal activities bundle.
func NewActivities(service paymentsports.Service) *Activities {
	return &Activities{service: service}
}

// Authorize returns the payment state after authorization. A decline is a result, not an error.
func (a *Activities) Authorize(ctx context.Context, req paymentsports.ChargeRequest) (paymentsports.ChargeResult, error) {
	logger := activity.GetLogger(ctx)
	if a == nil || a.service == nil {
		logger.Error("payment authorize activity not initialized", "orderId", req.OrderID)
		return paymentsports.ChargeResult{}, errors.New("payment authorize activity not initialized")
	}
	logger.Info("Authorize activity started", "orderId", req.OrderID)
	payment, err := a.service.Authorize(ctx, req)
	if err != nil {
		logger.Error("Authorize activity failed", "orderId", req.OrderID, "error", err)
		return paymentsports.ChargeResult{}, nonRetryable(err)
	}
	logger.Info("Authorize activity completed", "orderId", req.OrderID, "paymentId", payment.ID, "status", string(payment.Status))
	return paymentsports.ResultFrom(payment), nil
}

func (a *Activities) Capture(ctx context.Context, paymentID string) (paymentsports.ChargeResult, error) {
	logger := activity.GetLogger(ctx)
	if a == nil || a.service == nil {
		logger.Error("payment capture activity not initialized", "paymentId", paymentID)
		return paymentsports.ChargeResult{}, errors.New("payment capture activity not initialized")
	}
	logger.Info("Capture activity started", "paymentId", paymentID)
	payment, err := a.service.Capture(ctx, paymentID)
	if err != nil {
		logger.Error("Capture activity failed", "paymentId", paymentID, "error", err)
		return paymentsports.ChargeResult{}, nonRetryable(err)
	}
	logger.Info("Capture activity completed", "paymentId", paymentID, "status", string(payment.Status))
	return paymentsports.ResultFrom(payment), nil
}

// nonRetryable stops Temporal from retrying errors that can never succeed.
func nonRetryable(err error) error {
	if faults.IsSemantic(err) || errors.Is(err, paymentsports.ErrNotFound) {
		return temporal.NewNonRetryableApplicationError(err.Error(), "PaymentRejected", err)
	}
	return err
}
