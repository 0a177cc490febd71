package realtime

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/plazahq/realtime/internal/actions"
)

// defaultOutboundCapacity bounds the outbound queue when the caller
// does not configure one.
const defaultOutboundCapacity = 100

// QueuedMessage is an outbound message buffered while the transport
// cannot accept traffic.
type QueuedMessage struct {
	Event      string
	Payload    json.RawMessage
	EnqueuedAt time.Time
	Priority   actions.Priority

	// seq breaks EnqueuedAt ties so FIFO order within a priority is a
	// total order even when the clock does not advance between enqueues.
	seq uint64
}

// OutboundQueue buffers messages by priority while disconnected.
// Flush order is priority descending, then enqueue order ascending.
// When full, the oldest entry of the lowest priority present is
// evicted to make room.
type OutboundQueue struct {
	mu       sync.Mutex
	capacity int
	nextSeq  uint64
	entries  []QueuedMessage
	dropped  int
}

// NewOutboundQueue creates a queue bounded to capacity entries.
func NewOutboundQueue(capacity int) *OutboundQueue {
	if capacity <= 0 {
		capacity = defaultOutboundCapacity
	}

	return &OutboundQueue{capacity: capacity}
}

// Enqueue buffers a message, evicting if the queue is full. Returns the
// evicted message and true when an eviction happened.
func (q *OutboundQueue) Enqueue(event string, payload json.RawMessage, priority actions.Priority) (QueuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var evicted QueuedMessage

	var didEvict bool

	if len(q.entries) >= q.capacity {
		evicted, didEvict = q.evictLocked()
	}

	q.nextSeq++
	q.entries = append(q.entries, QueuedMessage{
		Event:      event,
		Payload:    payload,
		EnqueuedAt: time.Now(),
		Priority:   priority,
		seq:        q.nextSeq,
	})

	return evicted, didEvict
}

// evictLocked removes the oldest entry of the lowest priority present.
func (q *OutboundQueue) evictLocked() (QueuedMessage, bool) {
	if len(q.entries) == 0 {
		return QueuedMessage{}, false
	}

	victim := 0

	for i, m := range q.entries {
		cur := q.entries[victim]
		if m.Priority < cur.Priority || (m.Priority == cur.Priority && m.seq < cur.seq) {
			victim = i
		}
	}

	evicted := q.entries[victim]
	q.entries = append(q.entries[:victim], q.entries[victim+1:]...)
	q.dropped++

	return evicted, true
}

// Flush empties the queue and returns its contents in send order:
// urgent > high > medium > low, FIFO within a priority.
func (q *OutboundQueue) Flush() []QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.entries
	q.entries = nil

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}

		return out[i].seq < out[j].seq
	})

	return out
}

// Restore puts unsent messages back after a failed flush, preserving
// their original enqueue order. The capacity bound still holds: when
// restored messages plus entries enqueued mid-flush exceed it, the
// usual eviction policy makes room.
func (q *OutboundQueue) Restore(msgs []QueuedMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, msgs...)

	for len(q.entries) > q.capacity {
		q.evictLocked()
	}
}

// Depth returns the number of buffered messages.
func (q *OutboundQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}

// Dropped returns the number of messages evicted since creation.
func (q *OutboundQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.dropped
}
