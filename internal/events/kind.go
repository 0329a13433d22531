package events

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/Apurer/order-saga/internal/shared/faults"
)

// Kind names an event type. The kind string doubles as the transport topic.
type Kind string

const (
	UserCreated  Kind = "user.created"
	UserUpdated  Kind = "user.updated"
	UserDeleted  Kind = "user.deleted"
	UserVerified Kind = "user.verified"

	OrderCreated   Kind = "order.created"
	OrderUpdated   Kind = "order.updated"
	OrderCancelled Kind = "order.cancelled"
	OrderCompleted Kind = "order.completed"

	PaymentChargeRequested Kind = "payment.charge.requested"
	PaymentProcessed       Kind = "payment.processed"
	PaymentFailed          Kind = "payment.failed"
	PaymentRefundRequested Kind = "payment.refund.requested"
	PaymentRefunded        Kind = "payment.refunded"

	NotificationEmail Kind = "notification.send.email"
	NotificationSMS   Kind = "notification.send.sms"
	NotificationPush  Kind = "notification.send.push"
	NotificationAlert Kind = "notification.send.alert"
)

// catalog binds every known kind to the payload type it carries.
var catalog = map[Kind]reflect.Type{
	UserCreated:  reflect.TypeOf(UserCreatedPayload{}),
	UserUpdated:  reflect.TypeOf(UserUpdatedPayload{}),
	UserDeleted:  reflect.TypeOf(UserDeletedPayload{}),
	UserVerified: reflect.TypeOf(UserVerifiedPayload{}),

	OrderCreated:   reflect.TypeOf(OrderCreatedPayload{}),
	OrderUpdated:   reflect.TypeOf(OrderUpdatedPayload{}),
	OrderCancelled: reflect.TypeOf(OrderCancelledPayload{}),
	OrderCompleted: reflect.TypeOf(OrderCompletedPayload{}),

	PaymentChargeRequested: reflect.TypeOf(ChargeRequestedPayload{}),
	PaymentProcessed:       reflect.TypeOf(PaymentProcessedPayload{}),
	PaymentFailed:          reflect.TypeOf(PaymentFailedPayload{}),
	PaymentRefundRequested: reflect.TypeOf(RefundRequestedPayload{}),
	PaymentRefunded:        reflect.TypeOf(PaymentRefundedPayload{}),

	NotificationEmail: reflect.TypeOf(NotificationPayload{}),
	NotificationSMS:   reflect.TypeOf(NotificationPayload{}),
	NotificationPush:  reflect.TypeOf(NotificationPayload{}),
	NotificationAlert: reflect.TypeOf(NotificationPayload{}),
}

// Known reports whether kind belongs to the catalog.
func Known(kind Kind) bool {
	_, ok := catalog[kind]
	return ok
}

// Kinds lists the catalog in lexical order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(catalog))
	for kind := range catalog {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Topic returns the transport topic for kind.
func (k Kind) Topic() string { return string(k) }

func (k Kind) String() string { return string(k) }

func payloadType(kind Kind) (reflect.Type, error) {
	t, ok := catalog[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", faults.ErrUnknownEventKind, kind)
	}
	return t, nil
}
