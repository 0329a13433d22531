package mapper

import (
	"time"

	"github.com/shopspring/decimal"

	orderdomain "github.com/Apurer/order-saga/internal/domains/orders/domain"
)

// GeoPoint is the wire shape of a coordinate.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// Item is the wire shape of an order line.
type Item struct {
	ID          string            `json:"id,omitempty"`
	ServiceName string            `json:"serviceName" binding:"required"`
	Description string            `json:"description,omitempty"`
	Quantity    int32             `json:"quantity" binding:"required"`
	UnitPrice   decimal.Decimal   `json:"unitPrice"`
	TotalPrice  decimal.Decimal   `json:"totalPrice"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CreateOrder is the body of POST /v1/orders.
type CreateOrder struct {
	CustomerID            string          `json:"customerId" binding:"required"`
	ShopID                string          `json:"shopId" binding:"required"`
	Type                  string          `json:"type,omitempty"`
	Items                 []Item          `json:"items" binding:"required"`
	TaxAmount             decimal.Decimal `json:"taxAmount"`
	DeliveryFee           decimal.Decimal `json:"deliveryFee"`
	PickupLocation        *GeoPoint       `json:"pickupLocation,omitempty"`
	DeliveryLocation      *GeoPoint       `json:"deliveryLocation,omitempty"`
	RequestedPickupTime   *time.Time      `json:"requestedPickupTime,omitempty"`
	RequestedDeliveryTime *time.Time      `json:"requestedDeliveryTime,omitempty"`
	Notes                 string          `json:"notes,omitempty"`
}

// CancelOrder is the body of POST /v1/orders/:orderId/cancel.
type CancelOrder struct {
	Reason string `json:"reason"`
}

// Transition is the body of POST /v1/orders/:orderId/transitions.
type Transition struct {
	Status   string `json:"status" binding:"required"`
	DriverID string `json:"driverId,omitempty"`
}

// Order is the response representation.
type Order struct {
	ID                    string          `json:"id"`
	OrderNumber           string          `json:"orderNumber"`
	CustomerID            string          `json:"customerId"`
	ShopID                string          `json:"shopId"`
	DriverID              string          `json:"driverId,omitempty"`
	Type                  string          `json:"type"`
	Status                string          `json:"status"`
	Items                 []Item          `json:"items"`
	Subtotal              decimal.Decimal `json:"subtotal"`
	TaxAmount             decimal.Decimal `json:"taxAmount"`
	DeliveryFee           decimal.Decimal `json:"deliveryFee"`
	TotalAmount           decimal.Decimal `json:"totalAmount"`
	PickupLocation        *GeoPoint       `json:"pickupLocation,omitempty"`
	DeliveryLocation      *GeoPoint       `json:"deliveryLocation,omitempty"`
	RequestedPickupTime   *time.Time      `json:"requestedPickupTime,omitempty"`
	RequestedDeliveryTime *time.Time      `json:"requestedDeliveryTime,omitempty"`
	ActualPickupTime      *time.Time      `json:"actualPickupTime,omitempty"`
	ActualDeliveryTime    *time.Time      `json:"actualDeliveryTime,omitempty"`
	PaymentID             string          `json:"paymentId,omitempty"`
	Notes                 string          `json:"notes,omitempty"`
	CancellationReason    string          `json:"cancellationReason,omitempty"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// ToNewOrderParams converts the request body into domain input. Totals sent by the client are ignored.
func ToNewOrderParams(body CreateOrder) orderdomain.NewOrderParams {
	params := orderdomain.NewOrderParams{
		CustomerID:            body.CustomerID,
		ShopID:                body.ShopID,
		Type:                  orderdomain.Type(body.Type),
		TaxAmount:             body.TaxAmount,
		DeliveryFee:           body.DeliveryFee,
		PickupLocation:        toPoint(body.PickupLocation),
		DeliveryLocation:      toPoint(body.DeliveryLocation),
		RequestedPickupTime:   body.RequestedPickupTime,
		RequestedDeliveryTime: body.RequestedDeliveryTime,
		Notes:                 body.Notes,
	}
	for _, item := range body.Items {
		params.Items = append(params.Items, orderdomain.Item{
			ServiceName: item.ServiceName,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Metadata:    item.Metadata,
		})
	}
	return params
}

// FromDomainOrder converts a domain order to the transport representation.
func FromDomainOrder(order *orderdomain.Order) Order {
	if order == nil {
		return Order{}
	}
	out := Order{
		ID:                    order.ID,
		OrderNumber:           order.OrderNumber,
		CustomerID:            order.CustomerID,
		ShopID:                order.ShopID,
		DriverID:              order.DriverID,
		Type:                  string(order.Type),
		Status:                string(order.Status),
		Items:                 make([]Item, 0, len(order.Items)),
		Subtotal:              order.Subtotal,
		TaxAmount:             order.TaxAmount,
		DeliveryFee:           order.DeliveryFee,
		TotalAmount:           order.TotalAmount,
		PickupLocation:        fromPoint(order.PickupLocation),
		DeliveryLocation:      fromPoint(order.DeliveryLocation),
		RequestedPickupTime:   order.RequestedPickupTime,
		RequestedDeliveryTime: order.RequestedDeliveryTime,
		ActualPickupTime:      order.ActualPickupTime,
		ActualDeliveryTime:    order.ActualDeliveryTime,
		PaymentID:             order.PaymentID,
		Notes:                 order.Notes,
		CancellationReason:    order.CancellationReason,
		CreatedAt:             order.CreatedAt,
		UpdatedAt:             order.UpdatedAt,
	}
	for _, item := range order.Items {
		out.Items = append(out.Items, Item{
			ID:          item.ID,
			ServiceName: item.ServiceName,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
			Metadata:    item.Metadata,
		})
	}
	return out
}

func toPoint(p *GeoPoint) *orderdomain.GeoPoint {
	if p == nil {
		return nil
	}
	return &orderdomain.GeoPoint{Latitude: p.Latitude, Longitude: p.Longitude, Address: p.Address}
}

func fromPoint(p *orderdomain.GeoPoint) *GeoPoint {
	if p == nil {
		return nil
	}
	return &GeoPoint{Latitude: p.Latitude, Longitude: p.Longitude, Address: p.Address}
}
