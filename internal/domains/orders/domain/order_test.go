package domain

import (
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-saga/internal/shared/faults"
)

var now = time.Date(2024, 6, 12, 9, 30, 0, 0, time.UTC)

func validParams() NewOrderParams {
	return NewOrderParams{
		CustomerID: "C1",
		ShopID:     "S1",
		Items: []Item{
			{ServiceName: "wash & fold", Quantity: 2, UnitPrice: decimal.RequireFromString("15.50")},
			{ServiceName: "ironing", Quantity: 1, UnitPrice: decimal.RequireFromString("6")},
		},
		TaxAmount:   decimal.RequireFromString("2"),
		DeliveryFee: decimal.RequireFromString("3"),
	}
}

func TestNewOrder_ComputesTotalsAndDefaults(t *testing.T) {
	order, err := NewOrder(validParams(), now)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, order.Status)
	assert.Equal(t, TypePickupDelivery, order.Type)
	assert.True(t, order.Subtotal.Equal(decimal.RequireFromString("37")))
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("42")))
	assert.True(t, order.Items[0].TotalPrice.Equal(decimal.RequireFromString("31")))
	assert.NotEmpty(t, order.Items[0].ID)
	assert.Regexp(t, regexp.MustCompile(`^ORD-20240612-[0-9A-F]{6}$`), order.OrderNumber)
}

func TestNewOrder_RejectsInvalidInput(t *testing.T) {
	cases := map[string]struct {
		mutate func(*NewOrderParams)
		want   error
	}{
		"no customer": {func(p *NewOrderParams) { p.CustomerID = " " }, ErrInvalidCustomer},
		"no shop":     {func(p *NewOrderParams) { p.ShopID = "" }, ErrInvalidShop},
		"bad type":    {func(p *NewOrderParams) { p.Type = "teleport" }, ErrInvalidType},
		"no items":    {func(p *NewOrderParams) { p.Items = nil }, ErrNoItems},
		"zero qty":    {func(p *NewOrderParams) { p.Items[0].Quantity = 0 }, ErrInvalidItem},
		"neg fee":     {func(p *NewOrderParams) { p.DeliveryFee = decimal.NewFromInt(-1) }, ErrInvalidFee},
		"too small": {func(p *NewOrderParams) {
			p.Items = []Item{{ServiceName: "x", Quantity: 1, UnitPrice: decimal.NewFromInt(1)}}
			p.TaxAmount, p.DeliveryFee = decimal.Zero, decimal.Zero
		}, ErrTotalOutOfRange},
		"too large": {func(p *NewOrderParams) { p.Items[0].Quantity = 100 }, ErrTotalOutOfRange},
		"bad point": {func(p *NewOrderParams) { p.PickupLocation = &GeoPoint{Latitude: 91} }, ErrInvalidLocation},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			params := validParams()
			tc.mutate(&params)
			_, err := NewOrder(params, now)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestTransitions_FollowTable(t *testing.T) {
	paths := [][]Status{
		{StatusConfirmed, StatusPickedUp, StatusInProgress, StatusReady, StatusOutForDelivery, StatusDelivered},
		{StatusConfirmed, StatusInProgress, StatusReady, StatusOutForDelivery, StatusDelivered},
	}
	for _, path := range paths {
		order, err := NewOrder(validParams(), now)
		require.NoError(t, err)
		for i, next := range path {
			require.NoError(t, order.TransitionTo(next, now.Add(time.Duration(i+1)*time.Minute)), "to %s", next)
		}
		require.NotNil(t, order.ActualDeliveryTime)
		assert.Equal(t, now.Add(time.Duration(len(path))*time.Minute), *order.ActualDeliveryTime)
		assert.True(t, order.Status.Terminal())
	}
}

func TestTransitions_RejectSkippedAndTerminalEdges(t *testing.T) {
	order, err := NewOrder(validParams(), now)
	require.NoError(t, err)

	err = order.TransitionTo(StatusDelivered, now)
	require.ErrorIs(t, err, faults.ErrInvalidTransition)
	assert.Equal(t, StatusPending, order.Status)

	require.NoError(t, order.Cancel("changed my mind", now))
	assert.Equal(t, "changed my mind", order.CancellationReason)

	for _, next := range []Status{StatusConfirmed, StatusCancelled, StatusPending} {
		require.ErrorIs(t, order.TransitionTo(next, now), faults.ErrInvalidTransition)
	}
}

func TestCancel_AllowedFromEveryNonTerminalState(t *testing.T) {
	for from := range transitions {
		assert.True(t, CanTransition(from, StatusCancelled), from)
	}
	assert.False(t, CanTransition(StatusDelivered, StatusCancelled))
}

func TestPickedUpSetsActualPickupTime(t *testing.T) {
	order, err := NewOrder(validParams(), now)
	require.NoError(t, err)
	require.NoError(t, order.TransitionTo(StatusConfirmed, now))
	require.NoError(t, order.TransitionTo(StatusPickedUp, now.Add(time.Hour)))
	require.NotNil(t, order.ActualPickupTime)
	assert.Equal(t, now.Add(time.Hour), *order.ActualPickupTime)
}

func TestConfirmPayment(t *testing.T) {
	order, err := NewOrder(validParams(), now)
	require.NoError(t, err)

	err = order.ConfirmPayment("P1", decimal.RequireFromString("41.99"), now)
	require.ErrorIs(t, err, faults.ErrAmountMismatch)
	assert.Equal(t, StatusPending, order.Status)

	require.NoError(t, order.ConfirmPayment("P1", decimal.RequireFromString("42.00"), now))
	assert.Equal(t, StatusConfirmed, order.Status)
	assert.Equal(t, "P1", order.PaymentID)

	require.ErrorIs(t, order.ConfirmPayment("P1", decimal.RequireFromString("42"), now), faults.ErrInvalidTransition)
}

func TestClone_IsDeep(t *testing.T) {
	params := validParams()
	params.Items[0].Metadata = map[string]string{"fabric": "silk"}
	params.PickupLocation = &GeoPoint{Latitude: 25.28, Longitude: 51.53}
	order, err := NewOrder(params, now)
	require.NoError(t, err)

	clone := order.Clone()
	clone.Items[0].Metadata["fabric"] = "cotton"
	clone.PickupLocation.Latitude = 0

	assert.Equal(t, "silk", order.Items[0].Metadata["fabric"])
	assert.Equal(t, 25.28, order.PickupLocation.Latitude)
}
