package realtime

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
)

// TopicType classifies a subscription target.
type TopicType string

const (
	TopicFeed         TopicType = "feed"
	TopicCommunity    TopicType = "community"
	TopicConversation TopicType = "conversation"
	TopicUser         TopicType = "user"
	TopicGlobal       TopicType = "global"
)

// Filters narrows a subscription to specific event types or priorities.
type Filters struct {
	EventTypes []string `json:"eventTypes,omitempty" yaml:"event_types"`
	Priorities []string `json:"priorities,omitempty" yaml:"priorities"`
}

// Subscription is an active topic subscription. Identity is ID;
// (TopicType, Target) is a secondary lookup key.
type Subscription struct {
	ID        string
	TopicType TopicType
	Target    string
	Filters   *Filters
}

// Registry tracks active subscriptions in insertion order so they can
// be replayed verbatim after every reconnect.
type Registry struct {
	mu     sync.Mutex
	nextID int
	subs   []Subscription
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add allocates an id, stores the subscription, and returns it. No
// network I/O happens here; the caller decides whether to send the
// subscribe request immediately or leave it for replay.
func (r *Registry) Add(topicType TopicType, target string, filters *Filters) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++

	var suffix [4]byte
	_, _ = rand.Read(suffix[:])

	sub := Subscription{
		ID:        fmt.Sprintf("sub-%d-%s", r.nextID, hex.EncodeToString(suffix[:])),
		TopicType: topicType,
		Target:    target,
		Filters:   filters,
	}
	r.subs = append(r.subs, sub)

	return sub
}

// Remove deletes a subscription by id, returning it and whether it was
// present.
func (r *Registry) Remove(id string) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, sub := range r.subs {
		if sub.ID == id {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return sub, true
		}
	}

	return Subscription{}, false
}

// Find returns the first subscription matching (topicType, target).
func (r *Registry) Find(topicType TopicType, target string) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subs {
		if sub.TopicType == topicType && sub.Target == target {
			return sub, true
		}
	}

	return Subscription{}, false
}

// All returns a copy of the registered subscriptions in insertion order.
func (r *Registry) All() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Subscription, len(r.subs))
	copy(out, r.subs)

	return out
}

// Len returns the number of registered subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.subs)
}
