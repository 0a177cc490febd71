package realtime

import (
	"math/rand/v2"
	"time"
)

// State is the connection lifecycle state.
type State int

const (
	// StateDisconnected is the initial state and the state after an
	// explicit manual disconnect.
	StateDisconnected State = iota

	// StateConnecting means a transport dial and handshake are in flight.
	StateConnecting

	// StateConnected means the transport is live and authenticated.
	StateConnected

	// StateReconnecting means the connection dropped and a retry is
	// scheduled or in flight.
	StateReconnecting

	// StateError means the connection failed permanently: either
	// authentication was rejected or the reconnect attempt cap was hit.
	StateError
)

// String returns the wire representation of a state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is the observable connection status. ReconnectAttempts resets
// to zero only on a successful transition to connected; it is
// non-decreasing across a failure streak.
type Status struct {
	State             State
	LastConnectedAt   time.Time
	ReconnectAttempts int
	LastError         string
}

// connEvent is an input to the state machine.
type connEvent int

const (
	// evDial: a connect was requested and the dial is starting.
	evDial connEvent = iota

	// evAuthenticated: dial and authentication both succeeded.
	evAuthenticated

	// evAuthRejected: the server rejected the identity payload.
	// Terminal; authentication is never retried automatically.
	evAuthRejected

	// evRetryScheduled: a dial failed or the connection dropped and a
	// reconnect has been scheduled.
	evRetryScheduled

	// evRetriesExhausted: the reconnect attempt cap was reached.
	evRetriesExhausted

	// evManualDisconnect: the caller asked to disconnect. Cancels any
	// pending reconnect schedule.
	evManualDisconnect
)

// nextStatus is the pure transition function of the connection state
// machine: (current status, event) to next status. Side effects
// (dialing, timers, event emission) live in the Client; this function
// is what the transition tests exercise.
func nextStatus(cur Status, ev connEvent, now time.Time, cause error) Status {
	next := cur

	switch ev {
	case evDial:
		if cur.State == StateDisconnected || cur.State == StateError {
			next.State = StateConnecting
			next.LastError = ""
		}

	case evAuthenticated:
		next.State = StateConnected
		next.LastConnectedAt = now
		next.ReconnectAttempts = 0
		next.LastError = ""

	case evAuthRejected:
		next.State = StateError
		if cause != nil {
			next.LastError = cause.Error()
		}

	case evRetryScheduled:
		next.State = StateReconnecting
		next.ReconnectAttempts++
		if cause != nil {
			next.LastError = cause.Error()
		}

	case evRetriesExhausted:
		next.State = StateError
		if cause != nil {
			next.LastError = cause.Error()
		}

	case evManualDisconnect:
		next.State = StateDisconnected
		next.LastError = ""
	}

	return next
}

// backoffDelay computes the reconnect delay for the given attempt
// count: base * multiplier^attempts plus uniform jitter, capped.
func backoffDelay(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = defaultReconnectBaseDelay
	}

	// Cap the shift exponent to prevent integer overflow of
	// time.Duration at high attempt counts.
	shift := attempts
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}

	delay := base * time.Duration(1<<shift)
	if delay > reconnectMaxDelay {
		delay = reconnectMaxDelay
	}

	jitter := time.Duration(rand.Int64N(int64(delay)/jitterDivisor + 1)) //nolint:gosec // G404: math/rand is fine for reconnect jitter, no security impact

	return delay + jitter
}
