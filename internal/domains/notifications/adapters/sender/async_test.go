package sender

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-saga/internal/domains/notifications/domain"
	"github.com/Apurer/order-saga/internal/events"
)

type recordingSender struct {
	mu         sync.Mutex
	recipients []string
}

func (r *recordingSender) Send(_ context.Context, _ domain.Channel, recipientID string, _ events.NotificationPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recipients = append(r.recipients, recipientID)
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recipients)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestAsyncSender_DeliversInBackground(t *testing.T) {
	inner := &recordingSender{}
	s := NewAsyncSender(inner, 4, quiet)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	payload := events.NotificationPayload{UserID: "C1", Type: events.NotificationTypeOrderUpdate, Title: "t", Message: "m"}
	reqCtx, reqCancel := context.WithCancel(context.Background())
	s.Send(reqCtx, domain.ChannelPush, "C1", payload)
	reqCancel()

	require.Eventually(t, func() bool { return inner.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestAsyncSender_DropsWhenFullAndFlushesOnStop(t *testing.T) {
	inner := &recordingSender{}
	s := NewAsyncSender(inner, 2, quiet)
	payload := events.NotificationPayload{Type: events.NotificationTypeSystemAlert, Title: "t", Message: "m"}
	for _, user := range []string{"a", "b", "c"} {
		s.Send(context.Background(), domain.ChannelInApp, user, payload)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))
	assert.ElementsMatch(t, []string{"a", "b"}, inner.recipients)

	s.Send(context.Background(), domain.ChannelInApp, "d", payload)
	assert.Equal(t, 2, inner.count())
}
