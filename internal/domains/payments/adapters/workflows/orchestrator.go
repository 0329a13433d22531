package workflows

import (
	"context"
	"errors"
	"fmt"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/Apurer/order-saga/internal/domains/payments/domain"
	"github.com/Apurer/order-saga/internal/domains/payments/ports"
	paymentworkflows "github.com/Apurer/order-saga/internal/platform/temporal/workflows/payments"
)

var (
	_ ports.ChargeOrchestrator = (*TemporalCharges)(nil)
	_ ports.ChargeOrchestrator = (*InlineCharges)(nil)
)

// TemporalCharges runs each charge as a Temporal workflow keyed by order id.
type TemporalCharges struct {
	client    client.Client
	taskQueue string
}

// NewTemporalCharges wires a Temporal client into the orchestrator.
func NewTemporalCharges(c client.Client) *TemporalCharges {
	return &TemporalCharges{client: c, taskQueue: paymentworkflows.ChargeTaskQueue}
}

// Charge starts the workflow, or joins the run already in flight for the order.
func (o *TemporalCharges) Charge(ctx context.Context, req ports.ChargeRequest) (ports.ChargeResult, error) {
	if o == nil || o.client == nil {
		return ports.ChargeResult{}, errors.New("temporal charges not configured")
	}
	workflowID := ChargeWorkflowID(req.OrderID)
	options := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: o.taskQueue,
	}
	run, err := o.client.ExecuteWorkflow(
		ctx,
		options,
		paymentworkflows.ChargeWorkflowName,
		paymentworkflows.ChargeWorkflowInput{Request: req, TraceID: workflowTraceID(ctx)},
	)
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &alreadyStarted) {
			existingRun := o.client.GetWorkflow(ctx, workflowID, alreadyStarted.RunId)
			var result ports.ChargeResult
			if err := existingRun.Get(ctx, &result); err != nil {
				return ports.ChargeResult{}, err
			}
			return result, nil
		}
		return ports.ChargeResult{}, err
	}
	var result ports.ChargeResult
	if err := run.Get(ctx, &result); err != nil {
		return ports.ChargeResult{}, err
	}
	return result, nil
}

// InlineCharges executes the service directly without Temporal, useful for tests or dev fallbacks.
type InlineCharges struct {
	service ports.Service
}

// NewInlineCharges wraps the payments service for synchronous execution.
func NewInlineCharges(service ports.Service) *InlineCharges {
	return &InlineCharges{service: service}
}

func (o *InlineCharges) Charge(ctx context.Context, req ports.ChargeRequest) (ports.ChargeResult, error) {
	if o == nil || o.service == nil {
		return ports.ChargeResult{}, errors.New("inline charges not configured")
	}
	payment, err := o.service.Authorize(ctx, req)
	if err != nil {
		return ports.ChargeResult{}, err
	}
	if payment.Status == domain.StatusAuthorized {
		if payment, err = o.service.Capture(ctx, payment.ID); err != nil {
			return ports.ChargeResult{}, err
		}
	}
	return ports.ResultFrom(payment), nil
}

// ChargeWorkflowID is deterministic so a redelivered command joins the existing run.
func ChargeWorkflowID(orderID string) string {
	return fmt.Sprintf("payment-charge-%s", orderID)
}

func workflowTraceID(ctx context.Context) string {
	spanCtx := oteltrace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}
