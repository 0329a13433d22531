// Package sender delivers recorded notifications.
package sender

import (
	"context"
	"log/slog"

	"github.com/Apurer/order-saga/internal/domains/notifications/domain"
	"github.com/Apurer/order-saga/internal/domains/notifications/ports"
	"github.com/Apurer/order-saga/internal/events"
)

var _ ports.Sender = (*LogSender)(nil)

// LogSender writes each notification to the structured log in place of a real provider.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, channel domain.Channel, recipientID string, payload events.NotificationPayload) {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "notification sent",
		slog.String("notification.channel", string(channel)),
		slog.String("notification.type", payload.Type),
		slog.String("user.id", recipientID),
		slog.String("title", payload.Title),
	)
}
