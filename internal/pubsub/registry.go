package pubsub

import (
	"context"
	"sync"
)

// registry is the local topic -> handler table shared by both backends.
type registry struct {
	mu          sync.RWMutex
	subscribers map[string]map[uint64]Handler
	nextID      uint64
	closed      bool
}

func newRegistry() *registry {
	return &registry{subscribers: make(map[string]map[uint64]Handler)}
}

// add registers handler and reports whether it is the first local subscriber of topic.
func (r *registry) add(topic string, handler Handler) (uint64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, false, ErrClosed
	}

	r.nextID++
	id := r.nextID

	subs, ok := r.subscribers[topic]
	if !ok {
		subs = make(map[uint64]Handler)
		r.subscribers[topic] = subs
	}
	subs[id] = handler
	return id, !ok, nil
}

// remove drops a handler and reports whether topic has no local subscribers left.
func (r *registry) remove(topic string, id uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.subscribers[topic]
	if !ok {
		return false, ErrNotSubscribed
	}
	if _, ok := subs[id]; !ok {
		return false, ErrNotSubscribed
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.subscribers, topic)
		return true, nil
	}
	return false, nil
}

// deliver calls every handler subscribed at call time and returns how many ran.
func (r *registry) deliver(ctx context.Context, topic string, msg *Message) int {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return 0
	}
	subs := r.subscribers[topic]
	// Copy handlers to avoid holding lock during callback
	handlers := make([]Handler, 0, len(subs))
	for _, h := range subs {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, msg)
	}
	return len(handlers)
}

func (r *registry) close() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	r.closed = true
	r.subscribers = make(map[string]map[uint64]Handler)
	return true
}

func (r *registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *registry) count(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers[topic])
}

func (r *registry) topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := make([]string, 0, len(r.subscribers))
	for t := range r.subscribers {
		topics = append(topics, t)
	}
	return topics
}

// subscriptionFunc adapts a release function to the Subscription interface.
type subscriptionFunc func() error

func (f subscriptionFunc) Unsubscribe() error { return f() }
