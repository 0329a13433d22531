// Package orders assembles the order service: the order command API, the saga coordinator
// consuming payment outcomes, and the relay publishing both of their outboxes.
package orders

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Apurer/order-saga/internal/app/bootstrap"
	ordershttp "github.com/Apurer/order-saga/internal/domains/orders/adapters/http"
	ordersmemory "github.com/Apurer/order-saga/internal/domains/orders/adapters/memory"
	ordersobs "github.com/Apurer/order-saga/internal/domains/orders/adapters/observability"
	orderspostgres "github.com/Apurer/order-saga/internal/domains/orders/adapters/persistence/postgres"
	ordersapp "github.com/Apurer/order-saga/internal/domains/orders/application"
	ordersports "github.com/Apurer/order-saga/internal/domains/orders/ports"
	sagahttp "github.com/Apurer/order-saga/internal/domains/saga/adapters/http"
	sagamemory "github.com/Apurer/order-saga/internal/domains/saga/adapters/memory"
	sagapostgres "github.com/Apurer/order-saga/internal/domains/saga/adapters/persistence/postgres"
	sagaapp "github.com/Apurer/order-saga/internal/domains/saga/application"
	sagaports "github.com/Apurer/order-saga/internal/domains/saga/ports"
	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/messaging/consumer"
	"github.com/Apurer/order-saga/internal/messaging/outbox"
)

const (
	// ServiceName is the envelope source of order events and the outbox scope of the service.
	ServiceName = "order-service"
	// SagaGroup is the consumer group and envelope source of the coordinator.
	SagaGroup = "order-saga"
)

// Service is the assembled order service.
type Service struct {
	Orders      ordersports.Service
	Coordinator *sagaapp.Coordinator
	Outbox      outbox.Store
	Consumer    *consumer.Consumer

	intake *consumer.Intake
	relay  *outbox.Relay
}

// New wires the service on infra.
func New(infra *bootstrap.Infra) *Service {
	cfg := infra.Config
	store := infra.OutboxStore(ServiceName)
	dispatcher := outbox.NewDispatcher(store, infra.Tx)

	var (
		orderRepo ordersports.Repository = ordersmemory.NewRepository()
		sagaRepo  sagaports.Repository   = sagamemory.NewRepository()
	)
	if infra.Durable() {
		orderRepo = orderspostgres.NewRepository(infra.DB)
		sagaRepo = sagapostgres.NewRepository(infra.DB)
	}

	orderService := ordersobs.New(
		ordersapp.NewService(orderRepo, dispatcher, events.NewCodec(ServiceName)),
		ordersobs.WithLogger(infra.Logger),
		ordersobs.WithTracer(infra.Instruments.Tracer("internal.orders.application")),
		ordersobs.WithMeter(infra.Instruments.Meter("internal.orders.application")),
	)

	sagaCodec := events.NewCodec(SagaGroup)
	coordinator := sagaapp.NewCoordinator(sagaRepo, orderService, dispatcher, sagaCodec,
		sagaapp.WithLogger(infra.Logger),
		sagaapp.WithMetrics(infra.Metrics),
		sagaapp.WithRetryPolicy(cfg.RetryPolicy()),
		sagaapp.WithTxRunner(infra.Tx),
		sagaapp.WithSweepBatch(cfg.Saga.SweepBatch),
	)
	c := infra.Consumer(SagaGroup, sagaCodec, dispatcher)
	for _, kind := range sagaapp.Kinds() {
		c.Register(kind, coordinator.OnEvent)
	}

	return &Service{
		Orders:      orderService,
		Coordinator: coordinator,
		Outbox:      store,
		Consumer:    c,
		intake:      infra.Intake(c),
		relay:       infra.Relay(store),
	}
}

// Register mounts the order and saga APIs on r.
func (s *Service) Register(r gin.IRouter) {
	ordershttp.NewOrderAPI(s.Orders).Register(r)
	sagahttp.NewSagaAPI(s.Coordinator).Register(r)
}

// Loops returns the saga intake, the outbox relay and the timeout sweep.
func (s *Service) Loops(infra *bootstrap.Infra) []bootstrap.Loop {
	return []bootstrap.Loop{
		{Name: SagaGroup + ".intake", Run: s.intake.Run},
		{Name: ServiceName + ".relay", Run: s.relay.Run},
		{Name: SagaGroup + ".sweep", Run: func(ctx context.Context) error {
			return s.Coordinator.RunSweeps(ctx, infra.Config.Saga.SweepInterval)
		}},
	}
}

// Build is the bootstrap.Builder of the order-service binary.
func Build(_ context.Context, infra *bootstrap.Infra) (http.Handler, []bootstrap.Loop, error) {
	svc := New(infra)
	router := infra.NewRouter(ServiceName)
	svc.Register(router)
	return router, svc.Loops(infra), nil
}
