package realtime

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextStatus_DialTransitions(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		from State
		want State
	}{
		{"from disconnected", StateDisconnected, StateConnecting},
		{"from error", StateError, StateConnecting},
		{"connected is unchanged", StateConnected, StateConnected},
		{"reconnecting is unchanged", StateReconnecting, StateReconnecting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextStatus(Status{State: tt.from}, evDial, now, nil)
			assert.Equal(t, tt.want, got.State)
		})
	}
}

func TestNextStatus_AuthenticatedResetsAttempts(t *testing.T) {
	now := time.Now()
	cur := Status{State: StateReconnecting, ReconnectAttempts: 4, LastError: "boom"}

	got := nextStatus(cur, evAuthenticated, now, nil)

	assert.Equal(t, StateConnected, got.State)
	assert.Equal(t, 0, got.ReconnectAttempts, "attempts reset exactly on entering connected")
	assert.Equal(t, now, got.LastConnectedAt)
	assert.Empty(t, got.LastError)
}

func TestNextStatus_AttemptsNonDecreasingWithinFailureStreak(t *testing.T) {
	now := time.Now()
	st := Status{State: StateConnected}

	prev := 0

	for i := 0; i < 5; i++ {
		st = nextStatus(st, evRetryScheduled, now, fmt.Errorf("drop %d", i))
		assert.Equal(t, StateReconnecting, st.State)
		assert.Greater(t, st.ReconnectAttempts, prev, "attempts monotonically increase across a streak")
		prev = st.ReconnectAttempts
	}

	st = nextStatus(st, evAuthenticated, now, nil)
	assert.Zero(t, st.ReconnectAttempts)
}

func TestNextStatus_AuthRejectedIsTerminalError(t *testing.T) {
	got := nextStatus(Status{State: StateConnecting}, evAuthRejected, time.Now(), fmt.Errorf("bad token"))

	assert.Equal(t, StateError, got.State)
	assert.Equal(t, "bad token", got.LastError)
}

func TestNextStatus_RetriesExhausted(t *testing.T) {
	cur := Status{State: StateReconnecting, ReconnectAttempts: 3}
	got := nextStatus(cur, evRetriesExhausted, time.Now(), fmt.Errorf("refused"))

	assert.Equal(t, StateError, got.State)
	assert.Equal(t, 3, got.ReconnectAttempts, "exhaustion does not touch the counter")
}

func TestNextStatus_ManualDisconnect(t *testing.T) {
	for _, from := range []State{StateConnecting, StateConnected, StateReconnecting, StateError} {
		got := nextStatus(Status{State: from, LastError: "x"}, evManualDisconnect, time.Now(), nil)
		assert.Equal(t, StateDisconnected, got.State)
		assert.Empty(t, got.LastError)
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "error", StateError.String())
}

func TestBackoffDelay_GrowsAndCaps(t *testing.T) {
	base := 100 * time.Millisecond

	for attempts := 0; attempts < 20; attempts++ {
		d := backoffDelay(base, attempts)

		raw := base * time.Duration(1<<min(attempts, maxBackoffShift))
		if raw > reconnectMaxDelay {
			raw = reconnectMaxDelay
		}

		assert.GreaterOrEqual(t, d, raw, "delay includes the exponential floor")
		assert.LessOrEqual(t, d, raw+raw/jitterDivisor, "jitter stays within bounds")
	}
}

func TestBackoffDelay_ZeroBaseUsesDefault(t *testing.T) {
	d := backoffDelay(0, 0)
	assert.GreaterOrEqual(t, d, defaultReconnectBaseDelay)
}
