package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeOrderUpdate   Type = "order_update"
	TypePaymentUpdate Type = "payment_update"
	TypePromotion     Type = "promotion"
	TypeSystemAlert   Type = "system_alert"
)

type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
)

// OperatorsRecipient receives notifications that carry no user id.
const OperatorsRecipient = "operators"

var (
	ErrInvalidType    = errors.New("notification type is not supported")
	ErrInvalidChannel = errors.New("notification channel is not supported")
	ErrMissingContent = errors.New("notification needs a title and a message")
	ErrMissingEvent   = errors.New("notification needs a source event id")
)

// Notification is recorded once per (user, source event).
type Notification struct {
	ID        string
	UserID    string
	EventID   string
	Type      Type
	Channel   Channel
	Title     string
	Message   string
	Data      map[string]string
	Read      bool
	ReadAt    *time.Time
	SentAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type NewNotificationParams struct {
	UserID  string
	EventID string
	Type    Type
	Channel Channel
	Title   string
	Message string
	Data    map[string]string
}

func NewNotification(p NewNotificationParams, now time.Time) (*Notification, error) {
	switch p.Type {
	case TypeOrderUpdate, TypePaymentUpdate, TypePromotion, TypeSystemAlert:
	default:
		return nil, ErrInvalidType
	}
	switch p.Channel {
	case ChannelPush, ChannelEmail, ChannelSMS, ChannelInApp:
	default:
		return nil, ErrInvalidChannel
	}
	if strings.TrimSpace(p.Title) == "" || strings.TrimSpace(p.Message) == "" {
		return nil, ErrMissingContent
	}
	if strings.TrimSpace(p.EventID) == "" {
		return nil, ErrMissingEvent
	}
	user := strings.TrimSpace(p.UserID)
	if user == "" {
		user = OperatorsRecipient
	}
	data := make(map[string]string, len(p.Data))
	for k, v := range p.Data {
		data[k] = v
	}
	now = now.UTC()
	return &Notification{
		ID:        uuid.NewString(),
		UserID:    user,
		EventID:   p.EventID,
		Type:      p.Type,
		Channel:   p.Channel,
		Title:     strings.TrimSpace(p.Title),
		Message:   p.Message,
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// MarkRead reports whether the flag changed.
func (n *Notification) MarkRead(at time.Time) bool {
	if n.Read {
		return false
	}
	at = at.UTC()
	n.Read = true
	n.ReadAt = &at
	n.UpdatedAt = at
	return true
}

func (n *Notification) MarkSent(at time.Time) {
	at = at.UTC()
	n.SentAt = &at
	n.UpdatedAt = at
}

func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	c.Data = make(map[string]string, len(n.Data))
	for k, v := range n.Data {
		c.Data[k] = v
	}
	if n.ReadAt != nil {
		t := *n.ReadAt
		c.ReadAt = &t
	}
	if n.SentAt != nil {
		t := *n.SentAt
		c.SentAt = &t
	}
	return &c
}
