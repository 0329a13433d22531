// Package payments assembles the payment participant and the Temporal worker that runs its charges.
package payments

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Apurer/order-saga/internal/app/bootstrap"
	"github.com/Apurer/order-saga/internal/domains/payments/adapters/gateway/sandbox"
	paymentsmemory "github.com/Apurer/order-saga/internal/domains/payments/adapters/memory"
	paymentspostgres "github.com/Apurer/order-saga/internal/domains/payments/adapters/persistence/postgres"
	paymentsworkflows "github.com/Apurer/order-saga/internal/domains/payments/adapters/workflows"
	paymentsapp "github.com/Apurer/order-saga/internal/domains/payments/application"
	"github.com/Apurer/order-saga/internal/domains/payments/ports"
	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/messaging/consumer"
	"github.com/Apurer/order-saga/internal/messaging/outbox"
)

// ServiceName is the consumer group, envelope source and outbox scope of the participant.
const ServiceName = "payment-service"

// Service is the assembled payment participant.
type Service struct {
	Payments ports.Service
	Outbox   outbox.Store
	Consumer *consumer.Consumer

	intake *consumer.Intake
	relay  *outbox.Relay
}

// NewPaymentService builds the payment application service on the configured store and the sandbox gateway.
func NewPaymentService(infra *bootstrap.Infra) *paymentsapp.Service {
	var repo ports.Repository = paymentsmemory.NewRepository()
	if infra.Durable() {
		repo = paymentspostgres.NewRepository(infra.DB)
	}
	return paymentsapp.NewService(repo, sandbox.New(infra.Config.Payments.DeclineAbove),
		paymentsapp.WithLogger(infra.Logger),
	)
}

// New wires the participant. A nil charges runs authorize and capture inline.
func New(infra *bootstrap.Infra, service ports.Service, charges ports.ChargeOrchestrator) *Service {
	if charges == nil {
		charges = paymentsworkflows.NewInlineCharges(service)
	}
	store := infra.OutboxStore(ServiceName)
	dispatcher := outbox.NewDispatcher(store, infra.Tx)
	codec := events.NewCodec(ServiceName)

	participant := paymentsapp.NewParticipant(service, charges, dispatcher, codec, infra.Logger)
	c := infra.Consumer(ServiceName, codec, dispatcher)
	for _, kind := range paymentsapp.ParticipantKinds() {
		c.Register(kind, participant.OnEvent)
	}
	return &Service{
		Payments: service,
		Outbox:   store,
		Consumer: c,
		intake:   infra.Intake(c),
		relay:    infra.Relay(store),
	}
}

// Loops returns the command intake and the outbox relay.
func (s *Service) Loops() []bootstrap.Loop {
	return []bootstrap.Loop{
		{Name: ServiceName + ".intake", Run: s.intake.Run},
		{Name: ServiceName + ".relay", Run: s.relay.Run},
	}
}

// Build is the bootstrap.Builder of the payment-service binary. Charges go through the
// Temporal charge workflow when a frontend is reachable and run inline otherwise.
func Build(_ context.Context, infra *bootstrap.Infra) (http.Handler, []bootstrap.Loop, error) {
	service := NewPaymentService(infra)
	var charges ports.ChargeOrchestrator
	if temporalClient, err := infra.ConnectTemporal("temporal-client"); err != nil {
		infra.Logger.Warn("Temporal workflows unavailable, running charges inline", slog.String("error", err.Error()))
	} else {
		infra.OnClose(temporalClient.Close)
		charges = paymentsworkflows.NewTemporalCharges(temporalClient)
		infra.Logger.Info("Temporal workflows enabled", slog.String("namespace", infra.Config.Temporal.Namespace))
	}
	svc := New(infra, service, charges)
	return infra.NewRouter(ServiceName), svc.Loops(), nil
}
