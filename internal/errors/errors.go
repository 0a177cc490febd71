package errors

import "errors"

// Connection errors.
var (
	ErrTransport    = errors.New("transport failure")
	ErrAuth         = errors.New("authentication rejected")
	ErrDisconnected = errors.New("client is disconnected")
)

// Subscription and sync errors.
var (
	ErrSubscription       = errors.New("subscription rejected")
	ErrSync               = errors.New("action sync failed")
	ErrConflict           = errors.New("action conflicts with server state")
	ErrActionNotFound     = errors.New("offline action not found")
	ErrNoMergeFunc        = errors.New("no merge function registered for action type")
	ErrInvalidResolution  = errors.New("invalid conflict resolution payload")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)
