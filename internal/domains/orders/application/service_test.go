package application

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-saga/internal/domains/orders/adapters/memory"
	"github.com/Apurer/order-saga/internal/domains/orders/domain"
	"github.com/Apurer/order-saga/internal/domains/orders/ports"
	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/messaging/outbox"
	outboxmemory "github.com/Apurer/order-saga/internal/messaging/outbox/memory"
	"github.com/Apurer/order-saga/internal/shared/faults"
)

var fixedNow = time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC)

type harness struct {
	svc    *Service
	repo   ports.Repository
	outbox *outboxmemory.Store
}

func newHarness(repo ports.Repository) harness {
	if repo == nil {
		repo = memory.NewRepository()
	}
	store := outboxmemory.NewStore()
	svc := NewService(repo, outbox.NewDispatcher(store, nil), events.NewCodec("order-service"),
		WithClock(func() time.Time { return fixedNow }))
	return harness{svc: svc, repo: repo, outbox: store}
}

func (h harness) kinds() []events.Kind {
	var kinds []events.Kind
	for _, rec := range h.outbox.All() {
		kinds = append(kinds, rec.Kind)
	}
	return kinds
}

func (h harness) last(t *testing.T) events.Message {
	t.Helper()
	records := h.outbox.All()
	require.NotEmpty(t, records)
	env, err := events.Decode(records[len(records)-1].Envelope)
	require.NoError(t, err)
	msg, err := events.DecodePayload(env)
	require.NoError(t, err)
	return msg
}

func orderParams() domain.NewOrderParams {
	return domain.NewOrderParams{
		CustomerID: "C1",
		ShopID:     "S1",
		Items:      []domain.Item{{ServiceName: "dry cleaning", Quantity: 2, UnitPrice: decimal.RequireFromString("20")}},
		TaxAmount:  decimal.RequireFromString("2"),
	}
}

func TestPlaceOrder_PersistsAndEmitsCreated(t *testing.T) {
	h := newHarness(nil)
	order, err := h.svc.PlaceOrder(context.Background(), orderParams())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, order.Status)
	assert.EqualValues(t, 1, order.Version)

	stored, err := h.svc.GetOrderByNumber(context.Background(), " "+order.OrderNumber+" ")
	require.NoError(t, err)
	assert.Equal(t, order.ID, stored.ID)

	msg := h.last(t)
	assert.Equal(t, events.OrderCreated, msg.Envelope.Kind)
	assert.Equal(t, order.ID, msg.Envelope.SubjectID)
	payload := msg.Payload.(events.OrderCreatedPayload)
	assert.True(t, payload.Amount.Equal(decimal.RequireFromString("42")))
}

func TestPlaceOrder_InvalidInputEmitsNothing(t *testing.T) {
	h := newHarness(nil)
	params := orderParams()
	params.Items = nil
	_, err := h.svc.PlaceOrder(context.Background(), params)
	require.ErrorIs(t, err, ErrInvalidInput)
	require.ErrorIs(t, err, domain.ErrNoItems)
	assert.Empty(t, h.outbox.All())
}

func TestConfirmPayment_ConfirmsMatchingAmount(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()
	order, err := h.svc.PlaceOrder(ctx, orderParams())
	require.NoError(t, err)

	_, err = h.svc.ConfirmPayment(ctx, order.ID, "P1", decimal.RequireFromString("41"))
	require.ErrorIs(t, err, faults.ErrAmountMismatch)

	confirmed, err := h.svc.ConfirmPayment(ctx, order.ID, "P1", decimal.RequireFromString("42.00"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, confirmed.Status)

	payload := h.last(t).Payload.(events.OrderUpdatedPayload)
	assert.Equal(t, "confirmed", payload.Status)
	assert.Equal(t, "pending", payload.PreviousStatus)
	assert.Equal(t, []events.Kind{events.OrderCreated, events.OrderUpdated}, h.kinds())
}

func TestCancelForPaymentFailure_BlocksLateConfirmation(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()
	order, err := h.svc.PlaceOrder(ctx, orderParams())
	require.NoError(t, err)

	cancelled, err := h.svc.CancelForPaymentFailure(ctx, order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Equal(t, "payment failed", cancelled.CancellationReason)

	_, err = h.svc.ConfirmPayment(ctx, order.ID, "P1", decimal.RequireFromString("42"))
	require.ErrorIs(t, err, faults.ErrInvalidTransition)

	reloaded, err := h.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, reloaded.Status)
	assert.Equal(t, []events.Kind{events.OrderCreated, events.OrderCancelled}, h.kinds())
}

func TestAdvanceAndDeliver(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()
	order, err := h.svc.PlaceOrder(ctx, orderParams())
	require.NoError(t, err)
	_, err = h.svc.ConfirmPayment(ctx, order.ID, "P1", order.TotalAmount)
	require.NoError(t, err)

	for _, next := range []domain.Status{domain.StatusPickedUp, domain.StatusInProgress, domain.StatusReady, domain.StatusOutForDelivery} {
		_, err := h.svc.AdvanceOrder(ctx, order.ID, next, "D1")
		require.NoError(t, err, next)
	}
	delivered, err := h.svc.RecordDelivery(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, delivered.Status)
	assert.Equal(t, "D1", delivered.DriverID)
	require.NotNil(t, delivered.ActualDeliveryTime)

	completed := h.last(t)
	assert.Equal(t, events.OrderCompleted, completed.Envelope.Kind)
	assert.Equal(t, fixedNow, completed.Payload.(events.OrderCompletedPayload).DeliveredAt)
}

func TestAdvanceOrder_RejectsStatusesWithDedicatedCommands(t *testing.T) {
	h := newHarness(nil)
	order, err := h.svc.PlaceOrder(context.Background(), orderParams())
	require.NoError(t, err)

	for _, next := range []domain.Status{domain.StatusConfirmed, domain.StatusDelivered, domain.StatusCancelled, "lost"} {
		_, err := h.svc.AdvanceOrder(context.Background(), order.ID, next, "")
		require.ErrorIs(t, err, ErrInvalidInput, next)
	}
	_, err = h.svc.AdvanceOrder(context.Background(), order.ID, domain.StatusReady, "")
	require.ErrorIs(t, err, faults.ErrInvalidTransition)
}

func TestGetOrder_NotFound(t *testing.T) {
	h := newHarness(nil)
	_, err := h.svc.GetOrder(context.Background(), "missing")
	require.ErrorIs(t, err, ports.ErrNotFound)
	_, err = h.svc.CancelOrder(context.Background(), "missing", "")
	require.ErrorIs(t, err, ports.ErrNotFound)
}

// racingRepo lets another writer bump the version once before the first update lands.
type racingRepo struct {
	*memory.Repository
	raced bool
}

func (r *racingRepo) Update(ctx context.Context, order *domain.Order) error {
	if !r.raced {
		r.raced = true
		other, err := r.Repository.GetByID(ctx, order.ID)
		if err != nil {
			return err
		}
		other.Notes = "touched"
		if err := r.Repository.Update(ctx, other); err != nil {
			return err
		}
	}
	return r.Repository.Update(ctx, order)
}

func TestMutate_RetriesOnVersionConflict(t *testing.T) {
	repo := &racingRepo{Repository: memory.NewRepository()}
	h := newHarness(repo)
	ctx := context.Background()
	order, err := h.svc.PlaceOrder(ctx, orderParams())
	require.NoError(t, err)

	cancelled, err := h.svc.CancelOrder(ctx, order.ID, "duplicate order")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.EqualValues(t, 3, cancelled.Version)
	assert.Equal(t, []events.Kind{events.OrderCreated, events.OrderCancelled}, h.kinds())
}
