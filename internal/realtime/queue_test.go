package realtime

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plazahq/realtime/internal/actions"
)

func TestOutboundQueue_FlushOrder(t *testing.T) {
	q := NewOutboundQueue(10)

	q.Enqueue("a", nil, actions.PriorityLow)
	q.Enqueue("b", nil, actions.PriorityUrgent)
	q.Enqueue("c", nil, actions.PriorityMedium)
	q.Enqueue("d", nil, actions.PriorityUrgent)
	q.Enqueue("e", nil, actions.PriorityHigh)
	q.Enqueue("f", nil, actions.PriorityLow)

	got := q.Flush()

	names := make([]string, len(got))
	for i, m := range got {
		names[i] = m.Event
	}

	// Priority descending, FIFO within a priority.
	assert.Equal(t, []string{"b", "d", "e", "c", "a", "f"}, names)
	assert.Zero(t, q.Depth(), "flush empties the queue")
}

func TestOutboundQueue_RoundTripNoLossNoDuplication(t *testing.T) {
	q := NewOutboundQueue(100)

	const n = 50
	for i := 0; i < n; i++ {
		q.Enqueue(fmt.Sprintf("msg-%d", i), json.RawMessage(`{}`), actions.Priority(i%4))
	}

	got := q.Flush()
	require.Len(t, got, n)

	seen := make(map[string]bool)
	for _, m := range got {
		assert.False(t, seen[m.Event], "no duplicates")
		seen[m.Event] = true
	}
}

func TestOutboundQueue_EvictsOldestLowFirst(t *testing.T) {
	// Scenario: capacity 3, three low entries then one urgent.
	q := NewOutboundQueue(3)

	q.Enqueue("x1", nil, actions.PriorityLow)
	q.Enqueue("x2", nil, actions.PriorityLow)
	q.Enqueue("x3", nil, actions.PriorityLow)

	evicted, dropped := q.Enqueue("y", nil, actions.PriorityUrgent)

	require.True(t, dropped)
	assert.Equal(t, "x1", evicted.Event, "oldest low-priority entry goes first")

	got := q.Flush()
	names := make([]string, len(got))

	for i, m := range got {
		names[i] = m.Event
	}

	assert.Equal(t, []string{"y", "x2", "x3"}, names)
	assert.Equal(t, 1, q.Dropped())
}

func TestOutboundQueue_EvictionFallsBackToLowestPresent(t *testing.T) {
	q := NewOutboundQueue(2)

	q.Enqueue("h1", nil, actions.PriorityHigh)
	q.Enqueue("u1", nil, actions.PriorityUrgent)

	// No low entries; the oldest of the lowest priority present (high)
	// is evicted.
	evicted, dropped := q.Enqueue("u2", nil, actions.PriorityUrgent)

	require.True(t, dropped)
	assert.Equal(t, "h1", evicted.Event)
}

func TestOutboundQueue_RestoreKeepsOrder(t *testing.T) {
	q := NewOutboundQueue(10)

	q.Enqueue("a", nil, actions.PriorityMedium)
	q.Enqueue("b", nil, actions.PriorityMedium)
	q.Enqueue("c", nil, actions.PriorityMedium)

	msgs := q.Flush()
	require.Len(t, msgs, 3)

	// Simulate a failed flush after the first send.
	q.Restore(msgs[1:])

	got := q.Flush()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Event)
	assert.Equal(t, "c", got[1].Event)
}

func TestOutboundQueue_RestoreHoldsCapacityBound(t *testing.T) {
	q := NewOutboundQueue(2)

	q.Enqueue("a", nil, actions.PriorityLow)
	q.Enqueue("b", nil, actions.PriorityHigh)

	msgs := q.Flush()
	require.Len(t, msgs, 2)

	// New traffic arrives while the flush is in flight, then the flush
	// fails and its remainder comes back.
	q.Enqueue("c", nil, actions.PriorityUrgent)
	q.Enqueue("d", nil, actions.PriorityMedium)

	q.Restore(msgs)

	assert.Equal(t, 2, q.Depth(), "restore does not exceed capacity")
	assert.Equal(t, 2, q.Dropped())

	got := q.Flush()
	names := make([]string, len(got))

	for i, m := range got {
		names[i] = m.Event
	}

	// The two lowest-priority messages were evicted, regardless of
	// which side of the restore they came from.
	assert.Equal(t, []string{"c", "b"}, names)
}
