package registry

import (
	"sync"
)

// Sink receives payloads addressed to a user identity. The gateway's live
// websocket sessions implement it; tests substitute in-memory fakes.
type Sink interface {
	Push(payload []byte) error
}

// ConnectionRegistry maps a user identity to the set of currently open
// connections for that user. A user may own zero or many connections at once.
type ConnectionRegistry interface {
	Register(userID string, sink Sink)
	Unregister(sink Sink)
	Fanout(userID string, payload []byte) int
	Connections(userID string) int
}

// InMemoryConnections is the process-local ConnectionRegistry. Lifetime equals
// process uptime; nothing is persisted.
type InMemoryConnections struct {
	mu     sync.RWMutex
	byUser map[string]map[Sink]struct{}
	owner  map[Sink]string
}

// NewConnections builds an empty connection registry.
func NewConnections() *InMemoryConnections {
	return &InMemoryConnections{
		byUser: make(map[string]map[Sink]struct{}),
		owner:  make(map[Sink]string),
	}
}

// Register adds the sink to the user's connection set. Registering the same
// sink twice is a no-op; prior connections of the user are never evicted.
func (r *InMemoryConnections) Register(userID string, sink Sink) {
	if userID == "" || sink == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owner[sink]; ok {
		if prev == userID {
			return
		}
		r.removeLocked(sink, prev)
	}

	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[Sink]struct{})
		r.byUser[userID] = set
	}
	set[sink] = struct{}{}
	r.owner[sink] = userID
}

// Unregister removes the sink from whatever user set contains it.
// Unknown sinks are a no-op.
func (r *InMemoryConnections) Unregister(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owner[sink]
	if !ok {
		return
	}
	r.removeLocked(sink, userID)
}

func (r *InMemoryConnections) removeLocked(sink Sink, userID string) {
	delete(r.owner, sink)
	if set, ok := r.byUser[userID]; ok {
		delete(set, sink)
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}
}

// Fanout delivers the payload to every live connection owned by userID and
// reports the number of attempted deliveries. Zero connections is not an
// error; the user is simply offline.
func (r *InMemoryConnections) Fanout(userID string, payload []byte) int {
	r.mu.RLock()
	sinks := make([]Sink, 0, len(r.byUser[userID]))
	for sink := range r.byUser[userID] {
		sinks = append(sinks, sink)
	}
	r.mu.RUnlock()

	for _, sink := range sinks {
		_ = sink.Push(payload)
	}
	return len(sinks)
}

// Connections reports how many open connections the user currently owns.
func (r *InMemoryConnections) Connections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}
