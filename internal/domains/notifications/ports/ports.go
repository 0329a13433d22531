package ports

import (
	"context"
	"errors"

	"github.com/Apurer/order-saga/internal/domains/notifications/domain"
	"github.com/Apurer/order-saga/internal/events"
)

var (
	ErrNotFound      = errors.New("notification not found")
	ErrAlreadyExists = errors.New("notification already recorded for event")
)

// Repository stores notifications. Implementations join the transaction carried by ctx.
type Repository interface {
	// Create returns ErrAlreadyExists when (user, event id) was already recorded.
	Create(ctx context.Context, n *domain.Notification) error
	Update(ctx context.Context, n *domain.Notification) error
	Get(ctx context.Context, id string) (*domain.Notification, error)
	ListForUser(ctx context.Context, userID string, filter ListFilter) ([]*domain.Notification, error)
}

type ListFilter struct {
	UnreadOnly bool
	Limit      int
}

// Sender hands a notification to its delivery channel. It must not block the caller
// and never reports delivery failures back.
type Sender interface {
	Send(ctx context.Context, channel domain.Channel, recipientID string, payload events.NotificationPayload)
}

// Service exposes the notification read side to the API.
type Service interface {
	ListForUser(ctx context.Context, userID string, filter ListFilter) ([]*domain.Notification, error)
	MarkRead(ctx context.Context, id string) (*domain.Notification, error)
}
