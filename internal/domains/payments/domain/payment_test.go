package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-saga/internal/shared/faults"
)

var now = time.Date(2024, 6, 12, 9, 0, 0, 0, time.UTC)

func newPayment(t *testing.T) *Payment {
	t.Helper()
	p, err := NewPayment("O1", "C1", decimal.RequireFromString("42"), "QAR", now)
	require.NoError(t, err)
	return p
}

func TestNewPayment_Validates(t *testing.T) {
	_, err := NewPayment("", "C1", decimal.NewFromInt(1), "QAR", now)
	require.ErrorIs(t, err, ErrInvalidOrder)
	_, err = NewPayment("O1", "C1", decimal.Zero, "QAR", now)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestPayment_HappyPathAndRefund(t *testing.T) {
	p := newPayment(t)
	require.NoError(t, p.Authorize("auth-1", now))
	require.NoError(t, p.Capture(now.Add(time.Second)))
	assert.True(t, p.Status.Settled())
	require.NoError(t, p.Refund("ref-1", now.Add(time.Minute)))
	assert.Equal(t, StatusRefunded, p.Status)
	require.NotNil(t, p.RefundedAt)

	require.ErrorIs(t, p.Refund("ref-2", now), faults.ErrInvalidTransition)
}

func TestPayment_RejectsIllegalEdges(t *testing.T) {
	p := newPayment(t)
	require.ErrorIs(t, p.Capture(now), faults.ErrInvalidTransition)
	require.ErrorIs(t, p.Refund("r", now), faults.ErrInvalidTransition)

	require.NoError(t, p.Fail("", now))
	assert.Equal(t, "payment failed", p.FailureReason)
	require.ErrorIs(t, p.Authorize("a", now), faults.ErrInvalidTransition)
	require.ErrorIs(t, p.Fail("again", now), faults.ErrInvalidTransition)
}
