package sandbox

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-saga/internal/domains/payments/ports"
)

func TestGateway_DeclinesAboveLimit(t *testing.T) {
	g := New(decimal.NewFromInt(100))
	ctx := context.Background()

	_, err := g.Authorize(ctx, ports.AuthorizeRequest{OrderID: "O1", Amount: decimal.RequireFromString("100.01"), Currency: "QAR"})
	require.ErrorIs(t, err, ports.ErrDeclined)

	ref, err := g.Authorize(ctx, ports.AuthorizeRequest{OrderID: "O1", Amount: decimal.NewFromInt(100), Currency: "QAR"})
	require.NoError(t, err)
	assert.Len(t, ref, len(authPrefix)+16)

	require.NoError(t, g.Capture(ctx, ref, decimal.NewFromInt(100)))
	refund, err := g.Refund(ctx, ref, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Contains(t, refund, refundPrefix)
}

func TestGateway_RejectsForeignReferences(t *testing.T) {
	g := New(decimal.Zero)
	require.ErrorIs(t, g.Capture(context.Background(), "ch_123", decimal.NewFromInt(1)), ports.ErrDeclined)
	_, err := g.Refund(context.Background(), "", decimal.NewFromInt(1))
	require.ErrorIs(t, err, ports.ErrDeclined)
}
