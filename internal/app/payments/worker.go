package payments

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/Apurer/order-saga/internal/app/bootstrap"
	paymentactivities "github.com/Apurer/order-saga/internal/platform/temporal/activities/payments"
	paymentworkflows "github.com/Apurer/order-saga/internal/platform/temporal/workflows/payments"
)

// WorkerName is the service name of the payment-worker binary.
const WorkerName = "payment-worker"

// BuildWorker is the bootstrap.Builder of the payment-worker binary. Unlike the participant
// it cannot fall back to inline execution, so a missing Temporal frontend is fatal.
func BuildWorker(_ context.Context, infra *bootstrap.Infra) (http.Handler, []bootstrap.Loop, error) {
	temporalClient, err := infra.ConnectTemporal("temporal-worker")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Temporal client: %w", err)
	}
	infra.OnClose(temporalClient.Close)
	if !infra.Durable() {
		infra.Logger.Warn("payment worker running on in-memory payments, the participant will not see them")
	}

	acts := paymentactivities.NewActivities(NewPaymentService(infra))
	w := worker.New(temporalClient, paymentworkflows.ChargeTaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(paymentworkflows.ChargeWorkflow, workflow.RegisterOptions{Name: paymentworkflows.ChargeWorkflowName})
	w.RegisterActivityWithOptions(acts.Authorize, activity.RegisterOptions{Name: paymentactivities.AuthorizeActivityName})
	w.RegisterActivityWithOptions(acts.Capture, activity.RegisterOptions{Name: paymentactivities.CaptureActivityName})

	run := func(ctx context.Context) error {
		if err := w.Start(); err != nil {
			return fmt.Errorf("start Temporal worker: %w", err)
		}
		infra.Logger.Info("worker listening",
			slog.String("taskQueue", paymentworkflows.ChargeTaskQueue),
			slog.String("namespace", infra.Config.Temporal.Namespace),
		)
		<-ctx.Done()
		w.Stop()
		infra.Logger.Info("Temporal worker stopped")
		return nil
	}
	return infra.NewRouter(WorkerName), []bootstrap.Loop{{Name: WorkerName, Run: run}}, nil
}
