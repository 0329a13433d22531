package events

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency is the settlement currency for every amount in the catalog.
const Currency = "QAR"

// Payload is implemented by every catalog payload.
type Payload interface {
	Validate() error
}

type UserCreatedPayload struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role,omitempty"`
}

func (p UserCreatedPayload) Validate() error {
	return firstMissing(field{"userId", p.UserID}, field{"email", p.Email})
}

type UserUpdatedPayload struct {
	UserID string            `json:"userId"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (p UserUpdatedPayload) Validate() error {
	return firstMissing(field{"userId", p.UserID})
}

type UserDeletedPayload struct {
	UserID string `json:"userId"`
}

func (p UserDeletedPayload) Validate() error {
	return firstMissing(field{"userId", p.UserID})
}

type UserVerifiedPayload struct {
	UserID  string `json:"userId"`
	Channel string `json:"channel"`
}

func (p UserVerifiedPayload) Validate() error {
	return firstMissing(field{"userId", p.UserID}, field{"channel", p.Channel})
}

// OrderCreatedPayload announces a new order awaiting payment.
type OrderCreatedPayload struct {
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	CustomerID  string          `json:"customerId"`
	ShopID      string          `json:"shopId"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

func (p OrderCreatedPayload) Validate() error {
	if err := firstMissing(
		field{"orderId", p.OrderID},
		field{"orderNumber", p.OrderNumber},
		field{"customerId", p.CustomerID},
		field{"currency", p.Currency},
	); err != nil {
		return err
	}
	return positive("amount", p.Amount)
}

// OrderUpdatedPayload reports a forward status move.
type OrderUpdatedPayload struct {
	OrderID        string `json:"orderId"`
	OrderNumber    string `json:"orderNumber"`
	CustomerID     string `json:"customerId"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previousStatus"`
	DriverID       string `json:"driverId,omitempty"`
}

func (p OrderUpdatedPayload) Validate() error {
	return firstMissing(
		field{"orderId", p.OrderID},
		field{"status", p.Status},
		field{"previousStatus", p.PreviousStatus},
	)
}

type OrderCancelledPayload struct {
	OrderID        string `json:"orderId"`
	OrderNumber    string `json:"orderNumber"`
	CustomerID     string `json:"customerId"`
	PreviousStatus string `json:"previousStatus"`
	Reason         string `json:"reason,omitempty"`
}

func (p OrderCancelledPayload) Validate() error {
	return firstMissing(field{"orderId", p.OrderID}, field{"previousStatus", p.PreviousStatus})
}

type OrderCompletedPayload struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	CustomerID  string    `json:"customerId"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

func (p OrderCompletedPayload) Validate() error {
	if err := firstMissing(field{"orderId", p.OrderID}); err != nil {
		return err
	}
	if p.DeliveredAt.IsZero() {
		return errors.New("deliveredAt is required")
	}
	return nil
}

// ChargeRequestedPayload is the saga's command to the payment service.
type ChargeRequestedPayload struct {
	OrderID    string          `json:"orderId"`
	CustomerID string          `json:"customerId"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
}

func (p ChargeRequestedPayload) Validate() error {
	if err := firstMissing(field{"orderId", p.OrderID}, field{"currency", p.Currency}); err != nil {
		return err
	}
	return positive("amount", p.Amount)
}

type PaymentProcessedPayload struct {
	OrderID     string          `json:"orderId"`
	PaymentID   string          `json:"paymentId"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	ExternalRef string          `json:"externalRef,omitempty"`
}

func (p PaymentProcessedPayload) Validate() error {
	if err := firstMissing(field{"orderId", p.OrderID}, field{"paymentId", p.PaymentID}); err != nil {
		return err
	}
	return positive("amount", p.Amount)
}

type PaymentFailedPayload struct {
	OrderID   string          `json:"orderId"`
	PaymentID string          `json:"paymentId"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
}

func (p PaymentFailedPayload) Validate() error {
	return firstMissing(field{"orderId", p.OrderID}, field{"paymentId", p.PaymentID}, field{"reason", p.Reason})
}

// RefundRequestedPayload is the saga's compensating command.
type RefundRequestedPayload struct {
	OrderID   string          `json:"orderId"`
	PaymentID string          `json:"paymentId"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason,omitempty"`
}

func (p RefundRequestedPayload) Validate() error {
	if err := firstMissing(field{"orderId", p.OrderID}, field{"paymentId", p.PaymentID}); err != nil {
		return err
	}
	return positive("amount", p.Amount)
}

type PaymentRefundedPayload struct {
	OrderID   string          `json:"orderId"`
	PaymentID string          `json:"paymentId"`
	Amount    decimal.Decimal `json:"amount"`
}

func (p PaymentRefundedPayload) Validate() error {
	if err := firstMissing(field{"orderId", p.OrderID}, field{"paymentId", p.PaymentID}); err != nil {
		return err
	}
	return positive("amount", p.Amount)
}

// Notification types carried by NotificationPayload.
const (
	NotificationTypeOrderUpdate   = "order_update"
	NotificationTypePaymentUpdate = "payment_update"
	NotificationTypePromotion     = "promotion"
	NotificationTypeSystemAlert   = "system_alert"
)

// NotificationPayload is shared by every notification.send.* kind; the kind selects the channel.
type NotificationPayload struct {
	UserID  string            `json:"userId,omitempty"`
	Type    string            `json:"type"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data,omitempty"`
}

func (p NotificationPayload) Validate() error {
	if err := firstMissing(field{"type", p.Type}, field{"title", p.Title}, field{"message", p.Message}); err != nil {
		return err
	}
	switch p.Type {
	case NotificationTypeOrderUpdate, NotificationTypePaymentUpdate, NotificationTypePromotion:
		if strings.TrimSpace(p.UserID) == "" {
			return errors.New("userId is required")
		}
	case NotificationTypeSystemAlert:
	default:
		return errors.New("type is not a known notification type")
	}
	return nil
}

type field struct {
	name  string
	value string
}

func firstMissing(fields ...field) error {
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return errors.New(f.name + " is required")
		}
	}
	return nil
}

func positive(name string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.New(name + " must be positive")
	}
	return nil
}
