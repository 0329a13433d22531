// Package notifications assembles the notification participant and its inbox API.
package notifications

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Apurer/order-saga/internal/app/bootstrap"
	notificationhttp "github.com/Apurer/order-saga/internal/domains/notifications/adapters/http"
	notificationsmemory "github.com/Apurer/order-saga/internal/domains/notifications/adapters/memory"
	notificationspostgres "github.com/Apurer/order-saga/internal/domains/notifications/adapters/persistence/postgres"
	"github.com/Apurer/order-saga/internal/domains/notifications/adapters/sender"
	notificationsapp "github.com/Apurer/order-saga/internal/domains/notifications/application"
	"github.com/Apurer/order-saga/internal/domains/notifications/ports"
	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/messaging/consumer"
	"github.com/Apurer/order-saga/internal/messaging/outbox"
)

// ServiceName is the consumer group, envelope source and outbox scope of the participant.
const ServiceName = "notification-service"

// Service is the assembled notification participant.
type Service struct {
	Notifications ports.Service
	Consumer      *consumer.Consumer

	sender *sender.AsyncSender
	intake *consumer.Intake
	relay  *outbox.Relay
}

// New wires the participant. Deliveries go through a buffered sender over the structured log.
func New(infra *bootstrap.Infra) *Service {
	var repo ports.Repository = notificationsmemory.NewRepository()
	if infra.Durable() {
		repo = notificationspostgres.NewRepository(infra.DB)
	}
	async := sender.NewAsyncSender(sender.NewLogSender(infra.Logger), infra.Config.Notifications.Buffer, infra.Logger)
	service := notificationsapp.NewService(repo, async, notificationsapp.WithLogger(infra.Logger))

	// the outbox only carries alerts about events this service rejected
	store := infra.OutboxStore(ServiceName)
	c := infra.Consumer(ServiceName, events.NewCodec(ServiceName), outbox.NewDispatcher(store, infra.Tx))
	for _, kind := range notificationsapp.Kinds() {
		c.Register(kind, service.OnEvent)
	}
	return &Service{
		Notifications: service,
		Consumer:      c,
		sender:        async,
		intake:        infra.Intake(c),
		relay:         infra.Relay(store),
	}
}

// Register mounts the inbox API on r.
func (s *Service) Register(r gin.IRouter) {
	notificationhttp.NewNotificationAPI(s.Notifications).Register(r)
}

// Loops returns the intake, the delivery loop and the alert relay.
func (s *Service) Loops() []bootstrap.Loop {
	return []bootstrap.Loop{
		{Name: ServiceName + ".intake", Run: s.intake.Run},
		{Name: ServiceName + ".sender", Run: s.sender.Run},
		{Name: ServiceName + ".relay", Run: s.relay.Run},
	}
}

// Build is the bootstrap.Builder of the notification-service binary.
func Build(_ context.Context, infra *bootstrap.Infra) (http.Handler, []bootstrap.Loop, error) {
	svc := New(infra)
	router := infra.NewRouter(ServiceName)
	svc.Register(router)
	return router, svc.Loops(), nil
}
