package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/shared/faults"
)

var t0 = time.Date(2024, 6, 12, 12, 0, 0, 0, time.UTC)

func newSaga(t *testing.T) *Saga {
	t.Helper()
	s, err := New("O1", "ORD-20240612-ABCDEF", "C1", decimal.RequireFromString("42"), t0)
	require.NoError(t, err)
	return s
}

func chargeCommand() events.Envelope {
	return events.Envelope{ID: "cmd-1", Kind: events.PaymentChargeRequested, SubjectID: "O1", Payload: []byte(`{"orderId":"O1"}`)}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 30*time.Second, p.Delay(0))
	assert.Equal(t, time.Minute, p.Delay(1))
	assert.Equal(t, 2*time.Minute, p.Delay(2))
	assert.Equal(t, 4*time.Minute, p.Delay(3))
	assert.Equal(t, 5*time.Minute, p.Delay(4))
	assert.Equal(t, 5*time.Minute, p.Delay(400))

	require.NoError(t, p.Validate())
	require.Error(t, RetryPolicy{Timeout: time.Second, BackoffCoefficient: 0.5}.Validate())
	require.Error(t, RetryPolicy{BackoffCoefficient: 2}.Validate())
}

func TestStepLifecycle(t *testing.T) {
	s := newSaga(t)
	policy := DefaultRetryPolicy()
	s.Await(chargeCommand(), []events.Kind{events.PaymentProcessed, events.PaymentFailed}, policy, t0)

	assert.False(t, s.Due(t0.Add(29*time.Second)))
	assert.True(t, s.Due(t0.Add(30*time.Second)))

	for i := 1; i <= policy.MaxRetries; i++ {
		require.False(t, s.Exhausted(policy))
		require.NoError(t, s.RecordRetry(policy, t0))
		assert.Equal(t, i, s.Pending.Attempts)
	}
	assert.True(t, s.Exhausted(policy))
	assert.Equal(t, t0.Add(4*time.Minute), s.Pending.Deadline)

	assert.False(t, s.Resolve(events.PaymentRefunded))
	assert.True(t, s.Resolve(events.PaymentFailed))
	assert.Nil(t, s.Pending)
	require.ErrorIs(t, s.RecordRetry(policy, t0), ErrNothingPending)
}

func TestStuckAndResume(t *testing.T) {
	s := newSaga(t)
	policy := DefaultRetryPolicy()
	require.ErrorIs(t, s.Resume(chargeCommand(), policy, t0), ErrNotStuck)

	s.Await(chargeCommand(), []events.Kind{events.PaymentProcessed}, policy, t0)
	s.Pending.Attempts = 3
	require.NoError(t, s.MarkStuck("no reply", t0))
	assert.False(t, s.Due(t0.Add(time.Hour)))
	assert.Equal(t, "no reply", s.StuckReason)

	fresh := chargeCommand()
	fresh.ID = "cmd-2"
	require.NoError(t, s.Resume(fresh, policy, t0.Add(time.Hour)))
	assert.Equal(t, StatusRunning, s.Status)
	assert.Empty(t, s.StuckReason)
	assert.Equal(t, 0, s.Pending.Attempts)
	assert.Equal(t, "cmd-2", s.Pending.Command.ID)
	assert.Equal(t, []events.Kind{events.PaymentProcessed}, s.Pending.Awaiting)
}

func TestResume_CompensatesCancelledOrder(t *testing.T) {
	s := newSaga(t)
	s.OrderStatus = OrderCancelled
	s.Await(chargeCommand(), []events.Kind{events.PaymentProcessed}, DefaultRetryPolicy(), t0)
	require.NoError(t, s.MarkStuck("cancelled while charging", t0))
	require.NoError(t, s.Resume(chargeCommand(), DefaultRetryPolicy(), t0))
	assert.Equal(t, StatusCompensating, s.Status)
}

func TestTransitions(t *testing.T) {
	s := newSaga(t)
	require.NoError(t, s.TransitionTo(StatusCompensated, t0))
	require.NoError(t, s.TransitionTo(StatusCompensated, t0))
	require.ErrorIs(t, s.TransitionTo(StatusRunning, t0), faults.ErrInvalidTransition)
	require.ErrorIs(t, s.MarkStuck("late", t0), faults.ErrInvalidTransition)
	assert.True(t, s.Status.Terminal())
}

func TestCompensatedReopensOnlyForRefund(t *testing.T) {
	s := newSaga(t)
	require.NoError(t, s.TransitionTo(StatusCompensated, t0))
	require.ErrorIs(t, s.TransitionTo(StatusCompleted, t0), faults.ErrInvalidTransition)
	require.NoError(t, s.TransitionTo(StatusCompensating, t0))
	assert.False(t, s.Status.Terminal())
}

func TestClone_IsDeep(t *testing.T) {
	s := newSaga(t)
	s.Await(chargeCommand(), []events.Kind{events.PaymentProcessed}, DefaultRetryPolicy(), t0)
	s.RecordCompensation(events.PaymentRefundRequested)

	c := s.Clone()
	c.Pending.Awaiting[0] = events.PaymentFailed
	c.Pending.Command.Payload[0] = 'x'
	c.Compensations[0] = "changed"

	assert.Equal(t, events.PaymentProcessed, s.Pending.Awaiting[0])
	assert.Equal(t, byte('{'), s.Pending.Command.Payload[0])
	assert.Equal(t, "payment.refund.requested", s.Compensations[0])
}
