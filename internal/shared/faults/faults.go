// Package faults defines the error taxonomy shared by every service in the order flow.
//
// Semantic errors describe a message or command that can never succeed and must be
// reported rather than retried. Everything else is treated as transient.
package faults

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEventKind marks an envelope whose kind is outside the catalog.
	ErrUnknownEventKind = errors.New("unknown event kind")
	// ErrInvalidPayload marks a payload that does not match the schema for its kind.
	ErrInvalidPayload = errors.New("invalid event payload")
	// ErrPayloadMismatch marks an event id that was reused with a different payload.
	ErrPayloadMismatch = errors.New("event id reused with a different payload")
	// ErrInvalidTransition marks a state change the target state machine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrAmountMismatch marks a payment amount that differs from the order total.
	ErrAmountMismatch = errors.New("payment amount does not match order total")
	// ErrDuplicateEvent marks an event that was already applied by the consumer group.
	ErrDuplicateEvent = errors.New("duplicate event")
	// ErrSagaTimeout marks a saga step whose reply never arrived within the retry budget.
	ErrSagaTimeout = errors.New("saga step timed out")
	// ErrPublishFailure marks an outbox record the transport refused.
	ErrPublishFailure = errors.New("publish failed")
	// ErrConcurrentUpdate marks an optimistic concurrency conflict.
	ErrConcurrentUpdate = errors.New("concurrent update")
)

// IsSemantic reports whether err is a permanent rejection that must not be retried.
func IsSemantic(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUnknownEventKind) ||
		errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAmountMismatch)
}

// Transition builds an ErrInvalidTransition describing the rejected move.
func Transition(entity string, from, to any) error {
	return fmt.Errorf("%w: %s %v -> %v", ErrInvalidTransition, entity, from, to)
}
