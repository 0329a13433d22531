package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Apurer/order-saga/internal/domains/notifications/domain"
	"github.com/Apurer/order-saga/internal/domains/notifications/ports"
	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/shared/faults"
)

const defaultListLimit = 50

// Service records notification.send.* commands and hands them to the sender.
type Service struct {
	repo   ports.Repository
	sender ports.Sender
	logger *slog.Logger
	now    func() time.Time
}

// Option customises a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source for deterministic testing.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(repo ports.Repository, sender ports.Sender, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		sender: sender,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Kinds lists the commands the notification service consumes.
func Kinds() []events.Kind {
	return []events.Kind{
		events.NotificationEmail,
		events.NotificationSMS,
		events.NotificationPush,
		events.NotificationAlert,
	}
}

func channelFor(kind events.Kind) (domain.Channel, error) {
	switch kind {
	case events.NotificationEmail:
		return domain.ChannelEmail, nil
	case events.NotificationSMS:
		return domain.ChannelSMS, nil
	case events.NotificationPush:
		return domain.ChannelPush, nil
	case events.NotificationAlert:
		return domain.ChannelInApp, nil
	default:
		return "", fmt.Errorf("%w: notification service does not handle %s", faults.ErrUnknownEventKind, kind)
	}
}

// OnEvent records the notification and passes it on. A repeat of the same source event
// for the same user is ignored even when it arrives under a different consumer group.
func (s *Service) OnEvent(ctx context.Context, msg events.Message) error {
	payload, ok := msg.Payload.(events.NotificationPayload)
	if !ok {
		return fmt.Errorf("%w: notification service does not handle %s", faults.ErrUnknownEventKind, msg.Envelope.Kind)
	}
	channel, err := channelFor(msg.Envelope.Kind)
	if err != nil {
		return err
	}
	n, err := domain.NewNotification(domain.NewNotificationParams{
		UserID:  payload.UserID,
		EventID: msg.Envelope.ID,
		Type:    domain.Type(payload.Type),
		Channel: channel,
		Title:   payload.Title,
		Message: payload.Message,
		Data:    payload.Data,
	}, s.now())
	if err != nil {
		return fmt.Errorf("%w: %w", faults.ErrInvalidPayload, err)
	}
	n.MarkSent(s.now())
	if err := s.repo.Create(ctx, n); err != nil {
		if errors.Is(err, ports.ErrAlreadyExists) {
			s.logger.DebugContext(ctx, "notification already recorded", slog.String("event.id", msg.Envelope.ID))
			return nil
		}
		return err
	}
	payload.UserID = n.UserID
	s.sender.Send(ctx, channel, n.UserID, payload)
	s.logger.InfoContext(ctx, "notification dispatched",
		slog.String("notification.id", n.ID),
		slog.String("notification.channel", string(channel)),
		slog.String("user.id", n.UserID))
	return nil
}

func (s *Service) ListForUser(ctx context.Context, userID string, filter ports.ListFilter) ([]*domain.Notification, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	return s.repo.ListForUser(ctx, userID, filter)
}

func (s *Service) MarkRead(ctx context.Context, id string) (*domain.Notification, error) {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.MarkRead(s.now()) {
		return n, nil
	}
	if err := s.repo.Update(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

var _ ports.Service = (*Service)(nil)
