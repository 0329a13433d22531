package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Apurer/order-saga/internal/shared/faults"
)

// Status enumerates order progression.
type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPickedUp       Status = "picked_up"
	StatusInProgress     Status = "in_progress"
	StatusReady          Status = "ready"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// Type selects the fulfilment flow.
type Type string

const (
	TypePickupDelivery Type = "pickup_delivery"
	TypeDropOff        Type = "drop_off"
	TypeExpress        Type = "express"
)

// Order totals are bounded in QAR.
var (
	MinTotal = decimal.NewFromInt(5)
	MaxTotal = decimal.NewFromInt(1000)
)

var (
	ErrInvalidCustomer = errors.New("customer id is required")
	ErrInvalidShop     = errors.New("shop id is required")
	ErrInvalidType     = errors.New("order type is invalid")
	ErrNoItems         = errors.New("order needs at least one item")
	ErrInvalidItem     = errors.New("order item is invalid")
	ErrInvalidFee      = errors.New("fees must not be negative")
	ErrTotalOutOfRange = errors.New("order total is outside the accepted range")
	ErrInvalidStatus   = errors.New("order status is invalid")
	ErrInvalidLocation = errors.New("location coordinates are out of range")
)

// transitions lists every legal edge. Cancellation is allowed from any non-terminal state.
var transitions = map[Status][]Status{
	StatusPending:        {StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusPickedUp, StatusInProgress, StatusCancelled},
	StatusPickedUp:       {StatusInProgress, StatusCancelled},
	StatusInProgress:     {StatusReady, StatusCancelled},
	StatusReady:          {StatusOutForDelivery, StatusCancelled},
	StatusOutForDelivery: {StatusDelivered, StatusCancelled},
}

// CanTransition reports whether from → to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPickedUp, StatusInProgress,
		StatusReady, StatusOutForDelivery, StatusDelivered, StatusCancelled:
		return true
	default:
		return false
	}
}

func (t Type) valid() bool {
	switch t {
	case TypePickupDelivery, TypeDropOff, TypeExpress:
		return true
	default:
		return false
	}
}

// GeoPoint is a WGS84 coordinate with an optional street address.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
	Address   string
}

func (p *GeoPoint) validate() error {
	if p == nil {
		return nil
	}
	if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		return ErrInvalidLocation
	}
	return nil
}

// Item is exclusively owned by one order. TotalPrice is always UnitPrice × Quantity.
type Item struct {
	ID          string
	ServiceName string
	Description string
	Quantity    int32
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
	Metadata    map[string]string
}

func (i *Item) validate() error {
	if strings.TrimSpace(i.ServiceName) == "" {
		return fmt.Errorf("%w: service name is required", ErrInvalidItem)
	}
	if i.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be greater than zero", ErrInvalidItem)
	}
	if i.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price must not be negative", ErrInvalidItem)
	}
	return nil
}

// Order is the aggregate root of the order context.
type Order struct {
	ID          string
	OrderNumber string
	CustomerID  string
	ShopID      string
	DriverID    string
	Type        Type
	Status      Status
	Items       []Item

	Subtotal    decimal.Decimal
	TaxAmount   decimal.Decimal
	DeliveryFee decimal.Decimal
	TotalAmount decimal.Decimal

	PickupLocation   *GeoPoint
	DeliveryLocation *GeoPoint

	RequestedPickupTime   *time.Time
	RequestedDeliveryTime *time.Time
	ActualPickupTime      *time.Time
	ActualDeliveryTime    *time.Time

	PaymentID          string
	Notes              string
	CancellationReason string

	CreatedAt time.Time
	UpdatedAt time.Time
	// Version increases with every persisted change.
	Version int64
}

// NewOrderParams carries the caller-supplied part of a new order.
type NewOrderParams struct {
	CustomerID            string
	ShopID                string
	Type                  Type
	Items                 []Item
	TaxAmount             decimal.Decimal
	DeliveryFee           decimal.Decimal
	PickupLocation        *GeoPoint
	DeliveryLocation      *GeoPoint
	RequestedPickupTime   *time.Time
	RequestedDeliveryTime *time.Time
	Notes                 string
}

// NewOrder validates params and returns a pending order with recomputed totals.
func NewOrder(params NewOrderParams, now time.Time) (*Order, error) {
	if params.Type == "" {
		params.Type = TypePickupDelivery
	}
	now = now.UTC()
	order := &Order{
		ID:                    uuid.NewString(),
		OrderNumber:           NewOrderNumber(now),
		CustomerID:            strings.TrimSpace(params.CustomerID),
		ShopID:                strings.TrimSpace(params.ShopID),
		Type:                  params.Type,
		Status:                StatusPending,
		Items:                 make([]Item, len(params.Items)),
		TaxAmount:             params.TaxAmount,
		DeliveryFee:           params.DeliveryFee,
		PickupLocation:        params.PickupLocation,
		DeliveryLocation:      params.DeliveryLocation,
		RequestedPickupTime:   params.RequestedPickupTime,
		RequestedDeliveryTime: params.RequestedDeliveryTime,
		Notes:                 strings.TrimSpace(params.Notes),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	copy(order.Items, params.Items)
	for i := range order.Items {
		if order.Items[i].ID == "" {
			order.Items[i].ID = uuid.NewString()
		}
	}
	order.Recalculate()
	if err := order.Validate(); err != nil {
		return nil, err
	}
	return order, nil
}

// NewOrderNumber renders ORD-YYYYMMDD-XXXXXX with a random uppercase suffix.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}

// Recalculate derives item totals, the subtotal and the order total from items and fees.
func (o *Order) Recalculate() {
	subtotal := decimal.Zero
	for i := range o.Items {
		o.Items[i].TotalPrice = o.Items[i].UnitPrice.Mul(decimal.NewFromInt32(o.Items[i].Quantity))
		subtotal = subtotal.Add(o.Items[i].TotalPrice)
	}
	o.Subtotal = subtotal
	o.TotalAmount = subtotal.Add(o.TaxAmount).Add(o.DeliveryFee)
}

// Validate enforces invariants on the aggregate.
func (o *Order) Validate() error {
	if o.CustomerID == "" {
		return ErrInvalidCustomer
	}
	if o.ShopID == "" {
		return ErrInvalidShop
	}
	if !o.Type.valid() {
		return ErrInvalidType
	}
	if !o.Status.Valid() {
		return ErrInvalidStatus
	}
	if len(o.Items) == 0 {
		return ErrNoItems
	}
	for i := range o.Items {
		if err := o.Items[i].validate(); err != nil {
			return err
		}
	}
	if o.TaxAmount.IsNegative() || o.DeliveryFee.IsNegative() {
		return ErrInvalidFee
	}
	if o.TotalAmount.LessThan(MinTotal) || o.TotalAmount.GreaterThan(MaxTotal) {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrTotalOutOfRange, o.TotalAmount.StringFixed(2), MinTotal, MaxTotal)
	}
	if err := o.PickupLocation.validate(); err != nil {
		return err
	}
	return o.DeliveryLocation.validate()
}

// TransitionTo moves the order along one edge and applies the timestamps tied to it.
func (o *Order) TransitionTo(next Status, at time.Time) error {
	if !CanTransition(o.Status, next) {
		return faults.Transition("order", o.Status, next)
	}
	at = at.UTC()
	switch next {
	case StatusPickedUp:
		o.ActualPickupTime = &at
	case StatusInProgress:
		if o.ActualPickupTime == nil && o.Type != TypeDropOff {
			o.ActualPickupTime = &at
		}
	case StatusDelivered:
		o.ActualDeliveryTime = &at
	}
	o.Status = next
	o.UpdatedAt = at
	return nil
}

// ConfirmPayment accepts a captured payment for exactly the order total.
func (o *Order) ConfirmPayment(paymentID string, amount decimal.Decimal, at time.Time) error {
	if o.Status != StatusPending {
		return faults.Transition("order", o.Status, StatusConfirmed)
	}
	if !amount.Equal(o.TotalAmount) {
		return fmt.Errorf("%w: order %s total %s, payment %s", faults.ErrAmountMismatch, o.ID, o.TotalAmount.StringFixed(2), amount.StringFixed(2))
	}
	if err := o.TransitionTo(StatusConfirmed, at); err != nil {
		return err
	}
	o.PaymentID = paymentID
	return nil
}

// Cancel moves a non-terminal order to cancelled.
func (o *Order) Cancel(reason string, at time.Time) error {
	if err := o.TransitionTo(StatusCancelled, at); err != nil {
		return err
	}
	o.CancellationReason = strings.TrimSpace(reason)
	return nil
}

// AssignDriver records the driver handling pickup or delivery.
func (o *Order) AssignDriver(driverID string) {
	if id := strings.TrimSpace(driverID); id != "" {
		o.DriverID = id
	}
}

// Clone returns a deep copy safe to hand across adapter boundaries.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = make([]Item, len(o.Items))
	for i, item := range o.Items {
		c.Items[i] = item
		if item.Metadata != nil {
			c.Items[i].Metadata = make(map[string]string, len(item.Metadata))
			for k, v := range item.Metadata {
				c.Items[i].Metadata[k] = v
			}
		}
	}
	c.PickupLocation = clonePoint(o.PickupLocation)
	c.DeliveryLocation = clonePoint(o.DeliveryLocation)
	c.RequestedPickupTime = cloneTime(o.RequestedPickupTime)
	c.RequestedDeliveryTime = cloneTime(o.RequestedDeliveryTime)
	c.ActualPickupTime = cloneTime(o.ActualPickupTime)
	c.ActualDeliveryTime = cloneTime(o.ActualDeliveryTime)
	return &c
}

func clonePoint(p *GeoPoint) *GeoPoint {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
