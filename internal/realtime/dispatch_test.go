package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatcher_FansOutToKind(t *testing.T) {
	d := NewDispatcher()

	var pushes, states int

	d.On(EventPush, func(Event) { pushes++ })
	d.On(EventPush, func(Event) { pushes++ })
	d.On(EventConnectionState, func(Event) { states++ })

	d.Dispatch(Event{Kind: EventPush, Name: "feed_update"})

	assert.Equal(t, 2, pushes, "both push listeners fire")
	assert.Zero(t, states, "other kinds are untouched")
}

func TestDispatcher_OffRemovesListener(t *testing.T) {
	d := NewDispatcher()

	var calls int

	id := d.On(EventPush, func(Event) { calls++ })
	d.Dispatch(Event{Kind: EventPush})
	d.Off(id)
	d.Dispatch(Event{Kind: EventPush})

	assert.Equal(t, 1, calls)
}

func TestDispatcher_ListenerMayRemoveItselfMidDispatch(t *testing.T) {
	d := NewDispatcher()

	var calls int

	var id int

	id = d.On(EventPush, func(Event) {
		calls++
		d.Off(id)
	})

	// Dispatch iterates a snapshot, so self-removal mid-dispatch must
	// not panic or skip.
	d.Dispatch(Event{Kind: EventPush})
	d.Dispatch(Event{Kind: EventPush})

	assert.Equal(t, 1, calls)
}

func TestDispatcher_OffUnknownHandleIsNoop(t *testing.T) {
	d := NewDispatcher()
	d.Off(42)

	var calls int

	d.On(EventPush, func(Event) { calls++ })
	d.Dispatch(Event{Kind: EventPush})
	assert.Equal(t, 1, calls)
}

func TestDispatcher_EventCarriesPayload(t *testing.T) {
	d := NewDispatcher()

	var got Event

	d.On(EventPush, func(ev Event) { got = ev })
	d.Dispatch(Event{Kind: EventPush, Name: "tip_received", Payload: []byte(`{"amount":5}`)})

	assert.Equal(t, "tip_received", got.Name)
	assert.JSONEq(t, `{"amount":5}`, string(got.Payload))
}
