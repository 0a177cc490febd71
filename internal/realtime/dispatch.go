package realtime

import (
	"encoding/json"
	"sync"

	"github.com/plazahq/realtime/internal/actions"
)

// EventKind is the closed set of events the core publishes to
// in-process listeners.
type EventKind int

const (
	// EventConnectionState fires on every state machine transition.
	EventConnectionState EventKind = iota

	// EventAuthenticated fires once per successful handshake.
	EventAuthenticated

	// EventAuthError fires when the server rejects authentication.
	EventAuthError

	// EventSubscribed, EventUnsubscribed and EventSubscriptionError
	// report per-subscription outcomes from the server.
	EventSubscribed
	EventUnsubscribed
	EventSubscriptionError

	// EventPush carries an arbitrary typed server push; Name holds the
	// wire event name (feed updates, notifications, tips, reactions).
	EventPush

	// EventActionSynced, EventActionFailed and EventActionConflicted
	// report offline action outcomes from the sync orchestrator.
	EventActionSynced
	EventActionFailed
	EventActionConflicted
)

// Event is the payload delivered to listeners. Fields are populated
// per kind: Status for connection events, SubscriptionID/Reason for
// subscription events, Name/Payload for pushes, Action for offline
// action events.
type Event struct {
	Kind           EventKind
	Status         Status
	SubscriptionID string
	Reason         string
	Name           string
	Payload        json.RawMessage
	Action         *actions.Action
}

// Listener receives dispatched events. Listeners run synchronously on
// the dispatching goroutine and must not block.
type Listener func(Event)

// Dispatcher fans events out to registered listeners keyed by kind.
// Register and unregister are safe at any time; dispatch iterates a
// snapshot, so a listener may remove itself (or others) mid-dispatch.
type Dispatcher struct {
	mu        sync.Mutex
	nextID    int
	listeners map[EventKind]map[int]Listener
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: make(map[EventKind]map[int]Listener)}
}

// On registers a listener for kind and returns a handle for Off.
func (d *Dispatcher) On(kind EventKind, fn Listener) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID

	if d.listeners[kind] == nil {
		d.listeners[kind] = make(map[int]Listener)
	}

	d.listeners[kind][id] = fn

	return id
}

// Off removes a listener by handle. Unknown handles are ignored.
func (d *Dispatcher) Off(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, m := range d.listeners {
		delete(m, id)
	}
}

// Dispatch delivers ev to every listener registered for its kind.
func (d *Dispatcher) Dispatch(ev Event) {
	d.mu.Lock()
	snapshot := make([]Listener, 0, len(d.listeners[ev.Kind]))

	for _, fn := range d.listeners[ev.Kind] {
		snapshot = append(snapshot, fn)
	}
	d.mu.Unlock()

	for _, fn := range snapshot {
		fn(ev)
	}
}
