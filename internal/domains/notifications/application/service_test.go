package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-saga/internal/domains/notifications/adapters/memory"
	"github.com/Apurer/order-saga/internal/domains/notifications/domain"
	"github.com/Apurer/order-saga/internal/domains/notifications/ports"
	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/messaging/consumer"
	dedupmemory "github.com/Apurer/order-saga/internal/messaging/dedup/memory"
	"github.com/Apurer/order-saga/internal/shared/faults"
)

type sent struct {
	channel   domain.Channel
	recipient string
	title     string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeSender) Send(_ context.Context, channel domain.Channel, recipientID string, payload events.NotificationPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{channel: channel, recipient: recipientID, title: payload.Title})
}

type fixture struct {
	svc      *Service
	sender   *fakeSender
	consumer *consumer.Consumer
	codec    *events.Codec
	now      time.Time
}

func newFixture() *fixture {
	f := &fixture{sender: &fakeSender{}, codec: events.NewCodec("order-saga"), now: time.Date(2024, 6, 12, 12, 0, 0, 0, time.UTC)}
	f.svc = NewService(memory.NewRepository(), f.sender, WithClock(func() time.Time { return f.now }))
	f.consumer = consumer.New("notification-service", dedupmemory.NewSeenStore(), nil)
	for _, kind := range Kinds() {
		f.consumer.Register(kind, f.svc.OnEvent)
	}
	return f
}

func (f *fixture) deliver(t *testing.T, kind events.Kind, payload events.NotificationPayload) (events.Envelope, consumer.Result, error) {
	t.Helper()
	env, err := f.codec.Encode(kind, "O1", payload)
	require.NoError(t, err)
	res, err := f.consumer.Handle(context.Background(), env)
	return env, res, err
}

func push(title string) events.NotificationPayload {
	return events.NotificationPayload{UserID: "C1", Type: events.NotificationTypeOrderUpdate, Title: title, Message: "m"}
}

func TestOnEvent_RecordsAndSendsOnce(t *testing.T) {
	f := newFixture()

	env, res, err := f.deliver(t, events.NotificationPush, push("Payment confirmed"))
	require.NoError(t, err)
	require.Equal(t, consumer.Applied, res)

	res, err = f.consumer.Handle(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, consumer.Duplicate, res)

	require.NoError(t, f.svc.OnEvent(context.Background(), events.Message{Envelope: env, Payload: push("Payment confirmed")}))

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, sent{channel: domain.ChannelPush, recipient: "C1", title: "Payment confirmed"}, f.sender.sent[0])

	list, err := f.svc.ListForUser(context.Background(), "C1", ports.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, env.ID, list[0].EventID)
	require.NotNil(t, list[0].SentAt)
}

func TestOnEvent_AlertsGoToOperators(t *testing.T) {
	f := newFixture()
	_, res, err := f.deliver(t, events.NotificationAlert, events.NotificationPayload{
		Type: events.NotificationTypeSystemAlert, Title: "Saga stuck", Message: "no reply",
	})
	require.NoError(t, err)
	require.Equal(t, consumer.Applied, res)
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, domain.ChannelInApp, f.sender.sent[0].channel)
	assert.Equal(t, domain.OperatorsRecipient, f.sender.sent[0].recipient)
}

func TestOnEvent_RejectsForeignKinds(t *testing.T) {
	f := newFixture()
	err := f.svc.OnEvent(context.Background(), events.Message{
		Envelope: events.Envelope{Kind: events.OrderCreated},
		Payload:  events.OrderCreatedPayload{},
	})
	require.ErrorIs(t, err, faults.ErrUnknownEventKind)
}

func TestListAndMarkRead(t *testing.T) {
	f := newFixture()
	for _, title := range []string{"first", "second", "third"} {
		_, _, err := f.deliver(t, events.NotificationEmail, push(title))
		require.NoError(t, err)
		f.now = f.now.Add(time.Minute)
	}
	ctx := context.Background()

	list, err := f.svc.ListForUser(ctx, "C1", ports.ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "third", list[0].Title)

	read, err := f.svc.MarkRead(ctx, list[0].ID)
	require.NoError(t, err)
	assert.True(t, read.Read)
	again, err := f.svc.MarkRead(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, read.ReadAt, again.ReadAt)

	unread, err := f.svc.ListForUser(ctx, "C1", ports.ListFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	_, err = f.svc.MarkRead(ctx, "missing")
	require.ErrorIs(t, err, ports.ErrNotFound)
}
