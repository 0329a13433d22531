package sequences

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Apurer/order-saga/internal/domains/payments/domain"
	paymentsports "github.com/Apurer/order-saga/internal/domains/payments/ports"
	paymentactivities "github.com/Apurer/order-saga/internal/platform/temporal/activities/payments"
)

// RunChargeSequence authorizes the order total and captures it once the hold is granted.
func RunChargeSequence(ctx workflow.Context, req paymentsports.ChargeRequest) (paymentsports.ChargeResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("charge sequence started", "orderId", req.OrderID)
	gatewayOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, gatewayOptions)

	var authorized paymentsports.ChargeResult
	if err := workflow.ExecuteActivity(ctx, paymentactivities.AuthorizeActivityName, req).Get(ctx, &authorized); err != nil {
		logger.Error("charge sequence authorize failed", "orderId", req.OrderID, "error", err)
		return paymentsports.ChargeResult{}, err
	}
	if authorized.Status != domain.StatusAuthorized {
		logger.Info("charge sequence finished at authorization", "orderId", req.OrderID, "status", string(authorized.Status))
		return authorized, nil
	}

	var captured paymentsports.ChargeResult
	if err := workflow.ExecuteActivity(ctx, paymentactivities.CaptureActivityName, authorized.PaymentID).Get(ctx, &captured); err != nil {
		logger.Error("charge sequence capture failed", "orderId", req.OrderID, "paymentId", authorized.PaymentID, "error", err)
		return paymentsports.ChargeResult{}, err
	}
	logger.Info("charge sequence captured", "orderId", req.OrderID, "paymentId", captured.PaymentID, "status", string(captured.Status))
	return captured, nil
}
