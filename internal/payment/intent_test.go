package payment_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hangarshare/backend-hangar/internal/payment"
)

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		name string
		from payment.State
		to   payment.State
		ok   bool
	}{
		{"draft to awaiting", payment.StateDraft, payment.StateAwaitingConfirmation, true},
		{"draft to canceled", payment.StateDraft, payment.StateCanceled, true},
		{"draft settles free", payment.StateDraft, payment.StateSettled, true},
		{"draft cannot confirm", payment.StateDraft, payment.StateConfirmed, false},
		{"awaiting to confirmed", payment.StateAwaitingConfirmation, payment.StateConfirmed, true},
		{"awaiting to failed", payment.StateAwaitingConfirmation, payment.StateFailed, true},
		{"awaiting to canceled", payment.StateAwaitingConfirmation, payment.StateCanceled, true},
		{"awaiting cannot settle", payment.StateAwaitingConfirmation, payment.StateSettled, false},
		{"confirmed to settled", payment.StateConfirmed, payment.StateSettled, true},
		{"confirmed to failed", payment.StateConfirmed, payment.StateFailed, true},
		{"confirmed cannot cancel", payment.StateConfirmed, payment.StateCanceled, false},
		{"settled is terminal", payment.StateSettled, payment.StateFailed, false},
		{"failed is terminal", payment.StateFailed, payment.StateDraft, false},
		{"canceled is terminal", payment.StateCanceled, payment.StateAwaitingConfirmation, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.ok, tc.from.CanTransition(tc.to))
		})
	}
}

func TestTerminalStates(t *testing.T) {
	require.True(t, payment.StateSettled.Terminal())
	require.True(t, payment.StateFailed.Terminal())
	require.True(t, payment.StateCanceled.Terminal())
	require.False(t, payment.StateDraft.Terminal())
	require.False(t, payment.StateAwaitingConfirmation.Terminal())
	require.False(t, payment.StateConfirmed.Terminal())
}
