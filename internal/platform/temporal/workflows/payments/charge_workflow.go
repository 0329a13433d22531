package payments

import (
	"go.temporal.io/sdk/workflow"

	paymentsports "github.com/Apurer/order-saga/internal/domains/payments/ports"
	"github.com/Apurer/order-saga/internal/platform/temporal/sequences"
)

const (
	// ChargeWorkflowName is the public identifier for registering the workflow.
	ChargeWorkflowName = "payments.workflows.Charge"
	// ChargeTaskQueue is the queue consumed by the payment worker.
	ChargeTaskQueue = "PAYMENT_CHARGE"
)

// ChargeWorkflowInput carries the charge command and the caller's trace id.
type ChargeWorkflowInput struct {
	Request paymentsports.ChargeRequest
	TraceID string
}

// ChargeWorkflow runs authorize then capture for one order.
func ChargeWorkflow(ctx workflow.Context, input ChargeWorkflowInput) (paymentsports.ChargeResult, error) {
	logger := workflow.GetLogger(ctx)
	orderID := input.Request.OrderID
	logger.Info("ChargeWorkflow started", withTraceID(input.TraceID, "orderId", orderID)...)
	result, err := sequences.RunChargeSequence(ctx, input.Request)
	if err != nil {
		logger.Error("ChargeWorkflow failed", withTraceID(input.TraceID, "orderId", orderID, "error", err)...)
		return paymentsports.ChargeResult{}, err
	}
	logger.Info("ChargeWorkflow completed", withTraceID(input.TraceID, "orderId", orderID, "status", string(result.Status))...)
	return result, nil
}

func withTraceID(traceID string, keyvals ...interface{}) []interface{} {
	if traceID == "" {
		return keyvals
	}
	return append(keyvals, "traceId", traceID)
}
