package auth

import (
	"sync"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
)

type EventKind string

const (
	SignedIn  EventKind = "SIGNED_IN"
	SignedOut EventKind = "SIGNED_OUT"
)

// Event is one auth state transition for a given access token.
type Event struct {
	Kind    EventKind
	Token   string
	Session *domain.Session // nil on SignedOut
}

// Hub is the process-wide auth change stream. Any number of views may listen;
// each must call the returned unsubscribe func on teardown.
type Hub struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]func(Event)
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]func(Event))}
}

// Subscribe registers fn and returns its unsubscribe func (idempotent).
func (h *Hub) Subscribe(fn func(Event)) func() {
	h.mu.Lock()
	h.next++
	id := h.next
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Publish delivers e to every listener, outside the lock.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	fns := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Len returns the number of registered listeners.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
