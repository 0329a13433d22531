package consumer

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/shared/txn"
)

// LogAlertSink writes alerts to the structured log.
type LogAlertSink struct {
	logger *slog.Logger
}

func NewLogAlertSink(logger *slog.Logger) *LogAlertSink {
	return &LogAlertSink{logger: logger}
}

func (s *LogAlertSink) Alert(ctx context.Context, alert Alert) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.LogAttrs(ctx, slog.LevelError, "operator alert",
		slog.String("consumer.group", alert.Group),
		slog.String("event.id", alert.EventID),
		slog.String("event.kind", string(alert.Kind)),
		slog.String("event.subject", alert.SubjectID),
		slog.String("reason", alert.Reason),
	)
}

// Emitter appends envelopes to the outbox inside the caller's transaction.
type Emitter interface {
	Emit(ctx context.Context, envs ...events.Envelope) error
}

// OutboxAlertSink logs the alert and publishes it as notification.send.alert through the outbox.
type OutboxAlertSink struct {
	log     *LogAlertSink
	codec   *events.Codec
	emitter Emitter
	tx      txn.Runner
}

// NewOutboxAlertSink wires the alert channel. Each alert is committed in its own transaction.
func NewOutboxAlertSink(logger *slog.Logger, codec *events.Codec, emitter Emitter, tx txn.Runner) *OutboxAlertSink {
	if tx == nil {
		tx = txn.Inline{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &OutboxAlertSink{log: NewLogAlertSink(logger), codec: codec, emitter: emitter, tx: tx}
}

func (s *OutboxAlertSink) Alert(ctx context.Context, alert Alert) {
	s.log.Alert(ctx, alert)
	if s.codec == nil || s.emitter == nil {
		return
	}
	subject := alert.SubjectID
	if strings.TrimSpace(subject) == "" {
		subject = "operators"
	}
	env, err := s.codec.Encode(events.NotificationAlert, subject, events.NotificationPayload{
		Type:    events.NotificationTypeSystemAlert,
		Title:   "Event rejected by " + alert.Group,
		Message: alert.Reason,
		Data: map[string]string{
			"eventId":   alert.EventID,
			"eventKind": string(alert.Kind),
			"subjectId": alert.SubjectID,
		},
	})
	if err != nil {
		s.log.logger.LogAttrs(ctx, slog.LevelError, "failed to encode operator alert", slog.String("error", err.Error()))
		return
	}
	if err := s.tx.InTx(ctx, func(ctx context.Context) error { return s.emitter.Emit(ctx, env) }); err != nil {
		s.log.logger.LogAttrs(ctx, slog.LevelError, "failed to enqueue operator alert", slog.String("error", err.Error()))
	}
}

var (
	_ AlertSink = (*LogAlertSink)(nil)
	_ AlertSink = (*OutboxAlertSink)(nil)
)
