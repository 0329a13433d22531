package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsSemantic(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "unknown kind", err: ErrUnknownEventKind, want: true},
		{name: "wrapped invalid payload", err: fmt.Errorf("decode: %w", ErrInvalidPayload), want: true},
		{name: "transition", err: Transition("order", "delivered", "cancelled"), want: true},
		{name: "amount", err: ErrAmountMismatch, want: true},
		{name: "publish failure", err: ErrPublishFailure, want: false},
		{name: "plain", err: errors.New("connection reset"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsSemantic(tc.err))
		})
	}
}

func TestTransitionMessage(t *testing.T) {
	err := Transition("payment", "captured", "failed")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Contains(t, err.Error(), "payment captured -> failed")
}
