package application

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ordersmemory "github.com/Apurer/order-saga/internal/domains/orders/adapters/memory"
	ordersapp "github.com/Apurer/order-saga/internal/domains/orders/application"
	orderdomain "github.com/Apurer/order-saga/internal/domains/orders/domain"
	sagamemory "github.com/Apurer/order-saga/internal/domains/saga/adapters/memory"
	"github.com/Apurer/order-saga/internal/domains/saga/domain"
	"github.com/Apurer/order-saga/internal/domains/saga/ports"
	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/messaging/consumer"
	dedupmemory "github.com/Apurer/order-saga/internal/messaging/dedup/memory"
	"github.com/Apurer/order-saga/internal/messaging/outbox"
	outboxmemory "github.com/Apurer/order-saga/internal/messaging/outbox/memory"
	"github.com/Apurer/order-saga/internal/shared/faults"
)

var t0 = time.Date(2024, 6, 12, 12, 0, 0, 0, time.UTC)

type harness struct {
	now      time.Time
	orders   *ordersapp.Service
	sagas    *sagamemory.Repository
	outbox   *outboxmemory.Store
	coord    *Coordinator
	consumer *consumer.Consumer
	payments *events.Codec
	metrics  *countingMetrics
}

type countingMetrics struct {
	retried     int
	stuck       int
	transitions []string
}

func (m *countingMetrics) SagaRetried(events.Kind) { m.retried++ }
func (m *countingMetrics) SagaStuck()              { m.stuck++ }
func (m *countingMetrics) SagaTransition(s string) { m.transitions = append(m.transitions, s) }

// racingRepository lets another writer update each saga once right before the
// coordinator's first write to it.
type racingRepository struct {
	ports.Repository
	raced map[string]bool
}

func raceFirstUpdate(repo ports.Repository) ports.Repository {
	return &racingRepository{Repository: repo, raced: map[string]bool{}}
}

func (r *racingRepository) Update(ctx context.Context, saga *domain.Saga) error {
	if !r.raced[saga.OrderID] {
		r.raced[saga.OrderID] = true
		other, err := r.Repository.Get(ctx, saga.OrderID)
		if err != nil {
			return err
		}
		if err := r.Repository.Update(ctx, other); err != nil {
			return err
		}
	}
	return r.Repository.Update(ctx, saga)
}

func newHarness(t *testing.T, wrap ...func(ports.Repository) ports.Repository) *harness {
	t.Helper()
	h := &harness{now: t0, metrics: &countingMetrics{}}
	clock := func() time.Time { return h.now }

	h.outbox = outboxmemory.NewStore()
	dispatcher := outbox.NewDispatcher(h.outbox, nil)
	h.orders = ordersapp.NewService(ordersmemory.NewRepository(), dispatcher, events.NewCodec("order-service"), ordersapp.WithClock(clock))
	h.sagas = sagamemory.NewRepository()
	var repo ports.Repository = h.sagas
	for _, w := range wrap {
		repo = w(repo)
	}
	h.coord = NewCoordinator(repo, h.orders, dispatcher, events.NewCodec("order-saga"),
		WithClock(clock), WithMetrics(h.metrics))
	h.consumer = consumer.New("order-saga", dedupmemory.NewSeenStore(), nil)
	for _, kind := range Kinds() {
		h.consumer.Register(kind, h.coord.OnEvent)
	}
	h.payments = events.NewCodec("payment-service")
	return h
}

// placeOrder creates an order worth 42.00 and feeds its order.created to the saga.
func (h *harness) placeOrder(t *testing.T) *orderdomain.Order {
	t.Helper()
	order, err := h.orders.PlaceOrder(context.Background(), orderdomain.NewOrderParams{
		CustomerID: "C1",
		ShopID:     "S1",
		Items:      []orderdomain.Item{{ServiceName: "dry cleaning", Quantity: 2, UnitPrice: decimal.RequireFromString("20")}},
		TaxAmount:  decimal.RequireFromString("2"),
	})
	require.NoError(t, err)
	h.feedLatest(t, events.OrderCreated)
	return order
}

func (h *harness) emitted(t *testing.T, kind events.Kind) []events.Envelope {
	t.Helper()
	var out []events.Envelope
	for _, rec := range h.outbox.All() {
		if rec.Kind != kind {
			continue
		}
		env, err := events.Decode(rec.Envelope)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func (h *harness) feedLatest(t *testing.T, kind events.Kind) events.Envelope {
	t.Helper()
	envs := h.emitted(t, kind)
	require.NotEmpty(t, envs, "no %s emitted", kind)
	env := envs[len(envs)-1]
	res, err := h.consumer.Handle(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, consumer.Applied, res)
	return env
}

func (h *harness) deliver(t *testing.T, kind events.Kind, orderID string, payload events.Payload) (consumer.Result, error) {
	t.Helper()
	env, err := h.payments.Encode(kind, orderID, payload)
	require.NoError(t, err)
	return h.consumer.Handle(context.Background(), env)
}

func (h *harness) processed(t *testing.T, orderID, paymentID, amount string) (consumer.Result, error) {
	return h.deliver(t, events.PaymentProcessed, orderID, events.PaymentProcessedPayload{
		OrderID: orderID, PaymentID: paymentID, Amount: decimal.RequireFromString(amount), Currency: events.Currency,
	})
}

func (h *harness) failed(t *testing.T, orderID string) (consumer.Result, error) {
	return h.deliver(t, events.PaymentFailed, orderID, events.PaymentFailedPayload{
		OrderID: orderID, PaymentID: "P1", Amount: decimal.RequireFromString("42"), Reason: "card declined",
	})
}

func (h *harness) saga(t *testing.T, orderID string) *domain.Saga {
	t.Helper()
	s, err := h.coord.Get(context.Background(), orderID)
	require.NoError(t, err)
	return s
}

func (h *harness) orderStatus(t *testing.T, orderID string) orderdomain.Status {
	t.Helper()
	order, err := h.orders.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	return order.Status
}

func TestOrderCreated_RequestsChargeOnce(t *testing.T) {
	h := newHarness(t)
	order := h.placeOrder(t)

	charges := h.emitted(t, events.PaymentChargeRequested)
	require.Len(t, charges, 1)
	msg, err := events.DecodePayload(charges[0])
	require.NoError(t, err)
	assert.True(t, msg.Payload.(events.ChargeRequestedPayload).Amount.Equal(decimal.RequireFromString("42")))

	s := h.saga(t, order.ID)
	assert.Equal(t, domain.StatusRunning, s.Status)
	assert.Equal(t, domain.PaymentRequested, s.PaymentStatus)
	require.NotNil(t, s.Pending)
	assert.Equal(t, charges[0].ID, s.Pending.Command.ID)
	assert.Equal(t, t0.Add(30*time.Second), s.Pending.Deadline)
}

func TestPaymentProcessed_ConfirmsOrderAndPushes(t *testing.T) {
	h := newHarness(t)
	order := h.placeOrder(t)

	res, err := h.processed(t, order.ID, "P1", "42.00")
	require.NoError(t, err)
	assert.Equal(t, consumer.Applied, res)

	assert.Equal(t, orderdomain.StatusConfirmed, h.orderStatus(t, order.ID))
	assert.Len(t, h.emitted(t, events.NotificationPush), 1)
	s := h.saga(t, order.ID)
	assert.Equal(t, domain.PaymentCaptured, s.PaymentStatus)
	assert.Nil(t, s.Pending)

	res, err = h.processed(t, order.ID, "P1", "42.00")
	require.NoError(t, err)
	assert.Equal(t, consumer.Applied, res)
	assert.Len(t, h.emitted(t, events.NotificationPush), 1)
}

func TestPaymentFailed_CancelsAndLateSuccessIsRejected(t *testing.T) {
	h := newHarness(t)
	order := h.placeOrder(t)

	_, err := h.failed(t, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusCancelled, h.orderStatus(t, order.ID))
	assert.Equal(t, domain.StatusCompensated, h.saga(t, order.ID).Status)
	assert.Len(t, h.emitted(t, events.NotificationPush), 1)

	res, err := h.processed(t, order.ID, "P1", "42")
	require.ErrorIs(t, err, faults.ErrInvalidTransition)
	assert.Equal(t, consumer.Rejected, res)
	assert.Equal(t, orderdomain.StatusCancelled, h.orderStatus(t, order.ID))
	assert.Empty(t, h.emitted(t, events.PaymentRefundRequested))
}

func TestFailureAfterCaptureIsRejected(t *testing.T) {
	h := newHarness(t)
	order := h.placeOrder(t)
	_, err := h.processed(t, order.ID, "P1", "42")
	require.NoError(t, err)

	res, err := h.failed(t, order.ID)
	require.ErrorIs(t, err, faults.ErrInvalidTransition)
	assert.Equal(t, consumer.Rejected, res)
	assert.Equal(t, orderdomain.StatusConfirmed, h.orderStatus(t, order.ID))

	res, err = h.processed(t, order.ID, "P2", "42")
	require.ErrorIs(t, err, faults.ErrInvalidTransition)
	assert.Equal(t, consumer.Rejected, res)
}

func TestCancelAfterCapture_RefundsExactlyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)
	_, err := h.processed(t, order.ID, "P1", "42")
	require.NoError(t, err)

	_, err = h.orders.CancelOrder(ctx, order.ID, "customer request")
	require.NoError(t, err)
	cancelled := h.feedLatest(t, events.OrderCancelled)

	res, err := h.consumer.Handle(ctx, cancelled)
	require.NoError(t, err)
	assert.Equal(t, consumer.Duplicate, res)

	refunds := h.emitted(t, events.PaymentRefundRequested)
	require.Len(t, refunds, 1)
	msg, err := events.DecodePayload(refunds[0])
	require.NoError(t, err)
	payload := msg.Payload.(events.RefundRequestedPayload)
	assert.Equal(t, "P1", payload.PaymentID)
	assert.Equal(t, "customer request", payload.Reason)

	s := h.saga(t, order.ID)
	assert.Equal(t, domain.StatusCompensating, s.Status)
	assert.Equal(t, []string{"payment.refund.requested"}, s.Compensations)

	// A timed-out refund is re-issued under the same id, so the receiver sees one command.
	h.now = t0.Add(time.Minute)
	changed, err := h.coord.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	reissued := h.emitted(t, events.PaymentRefundRequested)
	require.Len(t, reissued, 2)
	assert.Equal(t, refunds[0].ID, reissued[1].ID)

	_, err = h.deliver(t, events.PaymentRefunded, order.ID, events.PaymentRefundedPayload{
		OrderID: order.ID, PaymentID: "P1", Amount: decimal.RequireFromString("42"),
	})
	require.NoError(t, err)
	s = h.saga(t, order.ID)
	assert.Equal(t, domain.StatusCompensated, s.Status)
	assert.Equal(t, domain.PaymentRefunded, s.PaymentStatus)
	assert.Len(t, h.emitted(t, events.NotificationEmail), 1)
}

func TestCancelDuringCharge_RefundsLateCapture(t *testing.T) {
	h := newHarness(t)
	order := h.placeOrder(t)

	_, err := h.orders.CancelOrder(context.Background(), order.ID, "too slow")
	require.NoError(t, err)
	h.feedLatest(t, events.OrderCancelled)
	assert.Equal(t, domain.StatusCompensating, h.saga(t, order.ID).Status)
	assert.Empty(t, h.emitted(t, events.PaymentRefundRequested))

	_, err = h.processed(t, order.ID, "P1", "42")
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusCancelled, h.orderStatus(t, order.ID))
	assert.Len(t, h.emitted(t, events.PaymentRefundRequested), 1)
	assert.Empty(t, h.emitted(t, events.NotificationPush))
}

func TestCancelledOrderWithoutCharge_CompensatesOnFailure(t *testing.T) {
	h := newHarness(t)
	order := h.placeOrder(t)
	_, err := h.orders.CancelOrder(context.Background(), order.ID, "")
	require.NoError(t, err)
	h.feedLatest(t, events.OrderCancelled)

	_, err = h.failed(t, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompensated, h.saga(t, order.ID).Status)
	assert.Empty(t, h.emitted(t, events.PaymentRefundRequested))
}

func TestChargeTimeout_StuckAfterThreeRetries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)
	charge := h.emitted(t, events.PaymentChargeRequested)[0]

	changed, err := h.coord.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, changed)

	policy := domain.DefaultRetryPolicy()
	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		h.now = h.saga(t, order.ID).Pending.Deadline
		changed, err := h.coord.Sweep(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, changed)
	}
	charges := h.emitted(t, events.PaymentChargeRequested)
	require.Len(t, charges, 1+policy.MaxRetries)
	for _, env := range charges {
		assert.Equal(t, charge.ID, env.ID)
	}
	assert.Equal(t, policy.MaxRetries, h.metrics.retried)

	h.now = h.saga(t, order.ID).Pending.Deadline
	_, err = h.coord.Sweep(ctx)
	require.NoError(t, err)

	s := h.saga(t, order.ID)
	assert.Equal(t, domain.StatusStuck, s.Status)
	assert.Contains(t, s.StuckReason, faults.ErrSagaTimeout.Error())
	assert.Len(t, h.emitted(t, events.NotificationAlert), 1)
	assert.Len(t, h.emitted(t, events.PaymentChargeRequested), 1+policy.MaxRetries)
	assert.Equal(t, orderdomain.StatusPending, h.orderStatus(t, order.ID))
	assert.Equal(t, 1, h.metrics.stuck)

	h.now = h.now.Add(time.Hour)
	changed, err = h.coord.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, changed)

	stuck, err := h.coord.ListStuck(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, order.ID, stuck[0].OrderID)

	resumed, err := h.coord.Resume(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, resumed.Status)
	assert.Zero(t, resumed.Pending.Attempts)
	charges = h.emitted(t, events.PaymentChargeRequested)
	assert.NotEqual(t, charge.ID, charges[len(charges)-1].ID)

	_, err = h.processed(t, order.ID, "P1", "42")
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusConfirmed, h.orderStatus(t, order.ID))

	_, err = h.coord.Resume(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrNothingPending)
}

func TestCancelledSagaChargeTimeout_StuckWithoutReissue(t *testing.T) {
	h := newHarness(t)
	order := h.placeOrder(t)
	_, err := h.orders.CancelOrder(context.Background(), order.ID, "")
	require.NoError(t, err)
	h.feedLatest(t, events.OrderCancelled)

	h.now = t0.Add(time.Minute)
	_, err = h.coord.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusStuck, h.saga(t, order.ID).Status)
	assert.Len(t, h.emitted(t, events.PaymentChargeRequested), 1)
	assert.Len(t, h.emitted(t, events.NotificationAlert), 1)
}

func TestAmountMismatch_ParksSaga(t *testing.T) {
	h := newHarness(t)
	order := h.placeOrder(t)

	_, err := h.processed(t, order.ID, "P1", "41.99")
	require.NoError(t, err)

	s := h.saga(t, order.ID)
	assert.Equal(t, domain.StatusStuck, s.Status)
	assert.Contains(t, s.StuckReason, faults.ErrAmountMismatch.Error())
	assert.Equal(t, orderdomain.StatusPending, h.orderStatus(t, order.ID))
	assert.Len(t, h.emitted(t, events.NotificationAlert), 1)

	_, err = h.orders.CancelOrder(context.Background(), order.ID, "")
	require.NoError(t, err)
	h.feedLatest(t, events.OrderCancelled)
	assert.Empty(t, h.emitted(t, events.PaymentRefundRequested))
}

func TestPaymentProcessed_RedeliveryAfterLostSagaWriteConfirms(t *testing.T) {
	h := newHarness(t, raceFirstUpdate)
	ctx := context.Background()
	order := h.placeOrder(t)

	env, err := h.payments.Encode(events.PaymentProcessed, order.ID, events.PaymentProcessedPayload{
		OrderID: order.ID, PaymentID: "P1", Amount: decimal.RequireFromString("42"), Currency: events.Currency,
	})
	require.NoError(t, err)

	res, err := h.consumer.Handle(ctx, env)
	require.ErrorIs(t, err, faults.ErrConcurrentUpdate)
	assert.Equal(t, consumer.Failed, res)
	assert.Equal(t, orderdomain.StatusConfirmed, h.orderStatus(t, order.ID))

	res, err = h.consumer.Handle(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, consumer.Applied, res)

	s := h.saga(t, order.ID)
	assert.Equal(t, domain.StatusRunning, s.Status)
	assert.Equal(t, domain.PaymentCaptured, s.PaymentStatus)
	assert.Equal(t, domain.OrderConfirmed, s.OrderStatus)
	assert.Nil(t, s.Pending)
	assert.Equal(t, orderdomain.StatusConfirmed, h.orderStatus(t, order.ID))
	assert.Empty(t, h.emitted(t, events.PaymentRefundRequested))
	assert.Len(t, h.emitted(t, events.NotificationPush), 1)
}

func TestPaymentProcessed_OrderSettledByOtherPaymentParksSaga(t *testing.T) {
	h := newHarness(t, raceFirstUpdate)
	order := h.placeOrder(t)

	res, err := h.processed(t, order.ID, "P1", "42")
	require.ErrorIs(t, err, faults.ErrConcurrentUpdate)
	assert.Equal(t, consumer.Failed, res)

	res, err = h.processed(t, order.ID, "P2", "42")
	require.NoError(t, err)
	assert.Equal(t, consumer.Applied, res)

	s := h.saga(t, order.ID)
	assert.Equal(t, domain.StatusStuck, s.Status)
	assert.Contains(t, s.StuckReason, "settled by payment P1")
	assert.Equal(t, "P2", s.PaymentID)
	assert.Equal(t, orderdomain.StatusConfirmed, h.orderStatus(t, order.ID))
	assert.Empty(t, h.emitted(t, events.PaymentRefundRequested))
	assert.Len(t, h.emitted(t, events.NotificationAlert), 1)
}

func TestCompensate_RefundsMismatchedCaptureOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)
	_, err := h.processed(t, order.ID, "P1", "41.99")
	require.NoError(t, err)

	_, err = h.coord.Resume(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrNothingPending)

	s, err := h.coord.Compensate(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompensating, s.Status)
	assert.Equal(t, domain.PaymentRefundRequested, s.PaymentStatus)
	assert.Equal(t, domain.OrderCancelled, s.OrderStatus)
	require.NotNil(t, s.Pending)
	assert.Equal(t, orderdomain.StatusCancelled, h.orderStatus(t, order.ID))

	refunds := h.emitted(t, events.PaymentRefundRequested)
	require.Len(t, refunds, 1)
	msg, err := events.DecodePayload(refunds[0])
	require.NoError(t, err)
	assert.Equal(t, "P1", msg.Payload.(events.RefundRequestedPayload).PaymentID)

	h.feedLatest(t, events.OrderCancelled)
	_, err = h.coord.Compensate(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrNotStuck)
	assert.Len(t, h.emitted(t, events.PaymentRefundRequested), 1)

	_, err = h.deliver(t, events.PaymentRefunded, order.ID, events.PaymentRefundedPayload{
		OrderID: order.ID, PaymentID: "P1", Amount: decimal.RequireFromString("41.99"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompensated, h.saga(t, order.ID).Status)
}

func TestCompensate_ClosesUnpaidSagaAndCancelsOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)
	for i := 0; i <= domain.DefaultRetryPolicy().MaxRetries; i++ {
		h.now = h.saga(t, order.ID).Pending.Deadline
		_, err := h.coord.Sweep(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, domain.StatusStuck, h.saga(t, order.ID).Status)

	s, err := h.coord.Compensate(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompensated, s.Status)
	assert.Nil(t, s.Pending)
	assert.Equal(t, orderdomain.StatusCancelled, h.orderStatus(t, order.ID))
	assert.Empty(t, h.emitted(t, events.PaymentRefundRequested))

	// The charge was captured after all; the cancelled order gets its money back.
	_, err = h.processed(t, order.ID, "P1", "42")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompensating, h.saga(t, order.ID).Status)
	assert.Len(t, h.emitted(t, events.PaymentRefundRequested), 1)
}

func TestCompensate_RefundInFlightMustBeResumed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)
	_, err := h.processed(t, order.ID, "P1", "42")
	require.NoError(t, err)
	_, err = h.orders.CancelOrder(ctx, order.ID, "")
	require.NoError(t, err)
	h.feedLatest(t, events.OrderCancelled)
	for i := 0; i <= domain.DefaultRetryPolicy().MaxRetries; i++ {
		h.now = h.saga(t, order.ID).Pending.Deadline
		_, err := h.coord.Sweep(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, domain.StatusStuck, h.saga(t, order.ID).Status)

	_, err = h.coord.Compensate(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrRefundInFlight)
}

func TestResume_CancelledChargeClosesWithoutRecharging(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)
	_, err := h.orders.CancelOrder(ctx, order.ID, "")
	require.NoError(t, err)
	h.feedLatest(t, events.OrderCancelled)
	h.now = t0.Add(time.Minute)
	_, err = h.coord.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StatusStuck, h.saga(t, order.ID).Status)

	s, err := h.coord.Resume(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompensated, s.Status)
	assert.Nil(t, s.Pending)
	assert.Len(t, h.emitted(t, events.PaymentChargeRequested), 1)

	_, err = h.processed(t, order.ID, "P1", "42")
	require.NoError(t, err)
	assert.Len(t, h.emitted(t, events.PaymentRefundRequested), 1)
	assert.Equal(t, orderdomain.StatusCancelled, h.orderStatus(t, order.ID))
}

func TestOrderCompleted_FinishesSaga(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.placeOrder(t)
	_, err := h.processed(t, order.ID, "P1", "42")
	require.NoError(t, err)
	h.feedLatest(t, events.OrderUpdated)

	for _, next := range []orderdomain.Status{orderdomain.StatusInProgress, orderdomain.StatusReady, orderdomain.StatusOutForDelivery} {
		_, err := h.orders.AdvanceOrder(ctx, order.ID, next, "D1")
		require.NoError(t, err)
		h.feedLatest(t, events.OrderUpdated)
	}
	_, err = h.orders.RecordDelivery(ctx, order.ID)
	require.NoError(t, err)
	h.feedLatest(t, events.OrderUpdated)
	h.feedLatest(t, events.OrderCompleted)

	s := h.saga(t, order.ID)
	assert.Equal(t, domain.StatusCompleted, s.Status)
	assert.Equal(t, domain.OrderDelivered, s.OrderStatus)
	assert.Len(t, h.emitted(t, events.NotificationPush), 2)
}

func TestEventWithoutSaga_IsRejected(t *testing.T) {
	h := newHarness(t)
	res, err := h.processed(t, "unknown", "P1", "42")
	require.ErrorIs(t, err, faults.ErrInvalidTransition)
	assert.Equal(t, consumer.Rejected, res)
}
