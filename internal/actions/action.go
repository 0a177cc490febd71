// Package actions implements the offline action queue: a durable,
// typed record of user intents (votes, tips, comments, reactions,
// follows) taken while disconnected or pending server confirmation.
// The queue outlives any single connection; it is drained by the sync
// orchestrator once connectivity returns.
package actions

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of an offline action.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSynced     Status = "synced"
	StatusFailed     Status = "failed"
	StatusConflicted Status = "conflicted"
)

// Priority orders actions and outbound messages. Higher values flush first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

// String returns the wire representation of a priority.
func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// ParsePriority maps a wire string to a Priority, defaulting to medium.
func ParsePriority(s string) Priority {
	switch s {
	case "urgent":
		return PriorityUrgent
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Action is a recorded user intent awaiting server confirmation.
// ConflictData holds the authoritative server state attached when the
// sync endpoint reports a conflict; it is empty otherwise.
type Action struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
	RetryCount   int             `json:"retry_count"`
	Priority     Priority        `json:"priority"`
	Status       Status          `json:"status"`
	ConflictData json.RawMessage `json:"conflict_data,omitempty"`
}

// NewAction builds a pending action with a fresh id.
func NewAction(actionType string, payload json.RawMessage, priority Priority) Action {
	return Action{
		ID:        newID(),
		Type:      actionType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
		Priority:  priority,
		Status:    StatusPending,
	}
}

// newID returns a time-prefixed random identifier. The timestamp prefix
// keeps store listings roughly in creation order, which is convenient
// when inspecting the database by hand.
func newID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])

	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), hex.EncodeToString(b[:]))
}
