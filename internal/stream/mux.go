// Package stream fans committed events out to subscribers. Each
// subscription covers one or more resources and delivers frames in
// strict per-resource seq order with no gaps and no duplicates within
// a connection; heartbeats fill delivery silence.
package stream

import (
	"sync"

	"github.com/roach88/tap/internal/ids"
	"github.com/roach88/tap/internal/wire"
)

// Mux is the per-subscriber fan-out. The engine publishes every
// committed event under the resource's lock, so each subscriber's
// queue observes a resource's events in commit order.
type Mux struct {
	mu         sync.Mutex
	subs       map[string]*Subscription
	byResource map[ids.ResourceID]map[string]*Subscription
}

// NewMux creates an empty multiplexer.
func NewMux() *Mux {
	return &Mux{
		subs:       make(map[string]*Subscription),
		byResource: make(map[ids.ResourceID]map[string]*Subscription),
	}
}

// Publish fans one committed event out to the attached subscriptions
// covering its resource. Per-subscriber watermarks drop anything at or
// below the last delivered seq, so a frame is enqueued at most once per
// (resource, seq) per connection.
func (m *Mux) Publish(ev wire.Event) {
	m.mu.Lock()
	targets := make([]*Subscription, 0, len(m.byResource[ev.Resource]))
	for _, sub := range m.byResource[ev.Resource] {
		targets = append(targets, sub)
	}
	m.mu.Unlock()

	for _, sub := range targets {
		sub.push(ev)
	}
}

// Attach registers a subscription for live events. The engine attaches
// while holding the subscribed resources' locks, after preloading
// bootstrap or backlog frames, so the handoff has no gap: everything
// committed before attach was preloaded, everything after is published.
func (m *Mux) Attach(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.id] = sub
	for _, r := range sub.resources {
		set, ok := m.byResource[r]
		if !ok {
			set = make(map[string]*Subscription)
			m.byResource[r] = set
		}
		set[sub.id] = sub
	}
}

// detach removes a subscription. Idempotent; called from Close.
func (m *Mux) detach(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, sub.id)
	for _, r := range sub.resources {
		delete(m.byResource[r], sub.id)
	}
}

// Len returns the number of attached subscriptions. Used for testing.
func (m *Mux) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
