// Package sandbox runs the order, payment and notification services in one process on an
// in-memory bus, for local development and end-to-end tests.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Apurer/order-saga/internal/app/bootstrap"
	"github.com/Apurer/order-saga/internal/app/config"
	"github.com/Apurer/order-saga/internal/app/notifications"
	"github.com/Apurer/order-saga/internal/app/orders"
	"github.com/Apurer/order-saga/internal/app/payments"
	"github.com/Apurer/order-saga/internal/messaging/memory"
	"github.com/Apurer/order-saga/internal/platform/observability"
)

// ServiceName is the service name of the sandbox binary.
const ServiceName = "sandbox"

// Sandbox holds the three services sharing one bus. Each keeps its own stores.
type Sandbox struct {
	Bus           *memory.Bus
	Orders        *orders.Service
	Payments      *payments.Service
	Notifications *notifications.Service
	Router        *gin.Engine

	infras []*bootstrap.Infra
	front  *bootstrap.Infra
}

// New assembles the sandbox. Charges run inline.
func New(cfg config.Config, instruments *observability.Instruments) *Sandbox {
	bus := memory.NewBus()
	sb := &Sandbox{Bus: bus}
	infra := func(name string) *bootstrap.Infra {
		i := bootstrap.NewMemory(cfg, instruments, name, bus)
		sb.infras = append(sb.infras, i)
		return i
	}

	orderInfra := infra(orders.ServiceName)
	paymentInfra := infra(payments.ServiceName)
	notificationInfra := infra(notifications.ServiceName)

	sb.Orders = orders.New(orderInfra)
	sb.Payments = payments.New(paymentInfra, payments.NewPaymentService(paymentInfra), nil)
	sb.Notifications = notifications.New(notificationInfra)

	sb.front = orderInfra
	sb.Router = orderInfra.NewRouter(ServiceName)
	sb.Orders.Register(sb.Router)
	sb.Notifications.Register(sb.Router)
	return sb
}

// Loops returns every background loop of the three services.
func (sb *Sandbox) Loops() []bootstrap.Loop {
	var loops []bootstrap.Loop
	loops = append(loops, sb.Orders.Loops(sb.front)...)
	loops = append(loops, sb.Payments.Loops()...)
	loops = append(loops, sb.Notifications.Loops()...)
	return loops
}

// Serve runs the loops and the combined HTTP API on addr until ctx is done.
func (sb *Sandbox) Serve(ctx context.Context, addr string) error {
	return sb.front.Serve(ctx, addr, sb.Router, sb.Loops()...)
}

// Close releases the worker pools of every service.
func (sb *Sandbox) Close() {
	for _, i := range sb.infras {
		i.Close()
	}
}

// Run is the entry point of the sandbox binary. TRANSPORT and POSTGRES_DSN are ignored.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Transport = config.TransportMemory
	cfg.PostgresDSN = ""

	instruments, shutdown, err := observability.Init(ctx, ServiceName, observability.WithLogLevel(cfg.LogLevel))
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			instruments.Logger.Error("failed to shutdown observability", slog.String("error", err.Error()))
		}
	}()

	sb := New(cfg, instruments)
	defer sb.Close()
	instruments.Logger.Info("sandbox ready",
		slog.String("declineAbove", cfg.Payments.DeclineAbove.StringFixed(2)),
		slog.Duration("sagaStepTimeout", cfg.Saga.StepTimeout),
	)
	return sb.Serve(ctx, cfg.Addr())
}
