package sender

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Apurer/order-saga/internal/domains/notifications/domain"
	"github.com/Apurer/order-saga/internal/domains/notifications/ports"
	"github.com/Apurer/order-saga/internal/events"
)

const defaultBuffer = 256

var _ ports.Sender = (*AsyncSender)(nil)

type delivery struct {
	ctx       context.Context
	channel   domain.Channel
	recipient string
	payload   events.NotificationPayload
}

// AsyncSender queues deliveries for a background loop so the consumer never waits on a
// provider. When the queue is full the notification is dropped and logged.
type AsyncSender struct {
	inner  ports.Sender
	queue  chan delivery
	logger *slog.Logger

	mu      sync.RWMutex
	stopped bool
}

func NewAsyncSender(inner ports.Sender, buffer int, logger *slog.Logger) *AsyncSender {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncSender{inner: inner, queue: make(chan delivery, buffer), logger: logger}
}

func (s *AsyncSender) Send(ctx context.Context, channel domain.Channel, recipientID string, payload events.NotificationPayload) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		s.drop(ctx, channel, recipientID, "sender stopped")
		return
	}
	select {
	case s.queue <- delivery{ctx: context.WithoutCancel(ctx), channel: channel, recipient: recipientID, payload: payload}:
	default:
		s.drop(ctx, channel, recipientID, "queue full")
	}
}

// Run delivers queued notifications until ctx is done, then flushes what is left.
func (s *AsyncSender) Run(ctx context.Context) error {
	for {
		select {
		case d := <-s.queue:
			s.inner.Send(d.ctx, d.channel, d.recipient, d.payload)
		case <-ctx.Done():
			s.mu.Lock()
			s.stopped = true
			s.mu.Unlock()
			for {
				select {
				case d := <-s.queue:
					s.inner.Send(d.ctx, d.channel, d.recipient, d.payload)
				default:
					return nil
				}
			}
		}
	}
}

func (s *AsyncSender) drop(ctx context.Context, channel domain.Channel, recipientID, reason string) {
	s.logger.LogAttrs(ctx, slog.LevelWarn, "notification dropped",
		slog.String("notification.channel", string(channel)),
		slog.String("user.id", recipientID),
		slog.String("reason", reason),
	)
}
