package mapper

import (
	"time"

	notificationdomain "github.com/Apurer/order-saga/internal/domains/notifications/domain"
)

type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Type      string            `json:"type"`
	Channel   string            `json:"channel"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
	Read      bool              `json:"read"`
	ReadAt    *time.Time        `json:"readAt,omitempty"`
	SentAt    *time.Time        `json:"sentAt,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

func FromDomainNotification(n *notificationdomain.Notification) Notification {
	return Notification{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      string(n.Type),
		Channel:   string(n.Channel),
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		Read:      n.Read,
		ReadAt:    n.ReadAt,
		SentAt:    n.SentAt,
		CreatedAt: n.CreatedAt,
	}
}

func FromDomainNotifications(list []*notificationdomain.Notification) []Notification {
	out := make([]Notification, 0, len(list))
	for _, n := range list {
		out = append(out, FromDomainNotification(n))
	}
	return out
}
