package notify

// Package notify provides the auth-state change fan-out shared by identity provider adapters.

import (
	"sync"

	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
	"github.com/target/portfolio-ui/internal/ports"
)

const defaultBuffer = 16

var _ ports.Subscription = (*subscription)(nil)

// Hub delivers change notifications to every live subscription in emit order.
// Emit blocks until each subscriber has accepted the event or unsubscribed.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
	closed bool
	buffer int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]*subscription), buffer: defaultBuffer}
}

type subscription struct {
	hub  *Hub
	id   int
	ch   chan domainauth.Event
	done chan struct{}
	once sync.Once

	mu     sync.Mutex // serializes sends against close(ch)
	closed bool
}

// Subscribe registers a new listener. Subscribing to a closed hub returns a
// subscription whose channel is already closed.
func (h *Hub) Subscribe() ports.Subscription {
	s := &subscription{
		hub:  h,
		ch:   make(chan domainauth.Event, h.buffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.Unsubscribe()
		return s
	}
	s.id = h.nextID
	h.nextID++
	h.subs[s.id] = s
	h.mu.Unlock()

	return s
}

// Emit delivers ev to all current subscribers.
func (h *Hub) Emit(ev domainauth.Event) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	targets := make([]*subscription, 0, len(h.subs))
	for _, s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.deliver(cloneEvent(ev))
	}
}

// Len reports the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close unsubscribes everyone and rejects further subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = map[int]*subscription{}
	h.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

func (s *subscription) Events() <-chan domainauth.Event { return s.ch }

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)

		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()

		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

func (s *subscription) deliver(ev domainauth.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	case <-s.done:
	}
}

func cloneEvent(ev domainauth.Event) domainauth.Event {
	if ev.Session != nil {
		sess := ev.Session.Clone()
		ev.Session = &sess
	}
	return ev
}
