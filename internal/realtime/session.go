package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/observer/chatwire/internal/domain"
	"github.com/observer/chatwire/internal/pubsub"
)

// Sink receives encoded frames for one connection. Deliver must not block.
type Sink interface {
	Deliver(frame []byte)
}

// SessionState is the lifecycle position of a session.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// controlBuffer is how many pending directives a session queues before
// posting falls back to a goroutine.
const controlBuffer = 16

// Session is the state of one live connection. Topic and cache maps are only
// touched by the goroutine serving the session; other goroutines talk to it
// through post.
type Session struct {
	ID     string
	UserID int64

	sink    Sink
	ps      pubsub.PubSub
	topics  map[string]pubsub.Subscription
	cache   map[string]*domain.Membership
	state   atomic.Int32
	control chan func()
	done    chan struct{}
	logger  *slog.Logger
}

func newSession(userID int64, sink Sink, ps pubsub.PubSub, logger *slog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		ID:      id,
		UserID:  userID,
		sink:    sink,
		ps:      ps,
		topics:  make(map[string]pubsub.Subscription),
		cache:   make(map[string]*domain.Membership),
		control: make(chan func(), controlBuffer),
		done:    make(chan struct{}),
		logger:  logger.With("session_id", id, "user_id", userID),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Subscribed reports whether the session has joined topic.
func (s *Session) Subscribed(topic string) bool {
	_, ok := s.topics[topic]
	return ok
}

// Topics returns the joined topics in sorted order.
func (s *Session) Topics() []string {
	topics := make([]string, 0, len(s.topics))
	for t := range s.topics {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

func (s *Session) membership(topic string) (*domain.Membership, bool) {
	m, ok := s.cache[topic]
	return m, ok && m != nil
}

func (s *Session) join(ctx context.Context, topic string, m *domain.Membership) error {
	if s.Subscribed(topic) {
		return fmt.Errorf("%s: %w", topic, ErrAlreadyJoined)
	}
	sub, err := s.ps.Subscribe(ctx, topic, s.receive)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	s.topics[topic] = sub
	if m != nil {
		s.cache[topic] = m
	}
	s.logger.Debug("joined topic", "topic", topic)
	return nil
}

func (s *Session) leave(topic string) error {
	sub, ok := s.topics[topic]
	if !ok {
		return fmt.Errorf("%s: %w", topic, ErrNotJoined)
	}
	delete(s.topics, topic)
	delete(s.cache, topic)
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	s.logger.Debug("left topic", "topic", topic)
	return nil
}

// leaveAll unsubscribes from every topic, logging failures.
func (s *Session) leaveAll() {
	for _, topic := range s.Topics() {
		if err := s.leave(topic); err != nil {
			s.logger.Warn("failed to leave topic", "topic", topic, "error", err)
		}
	}
}

// receive is the registry handler for every topic the session joins.
func (s *Session) receive(_ context.Context, msg *pubsub.Message) {
	if s.State() == StateClosed {
		return
	}

	for _, topic := range msg.Drop {
		topic := topic
		s.post(func() { s.forget(topic) })
	}

	if msg.Type == pubsub.TypeExclude && msg.Sender == s.ID {
		return
	}
	s.sink.Deliver(msg.Payload)
}

// forget leaves topic if still joined. Used for server-side evictions.
func (s *Session) forget(topic string) {
	if !s.Subscribed(topic) {
		return
	}
	if err := s.leave(topic); err != nil {
		s.logger.Warn("eviction failed", "topic", topic, "error", err)
		return
	}
	s.logger.Info("evicted from topic", "topic", topic)
}

// post hands fn to the serving goroutine without blocking the caller.
func (s *Session) post(fn func()) {
	select {
	case s.control <- fn:
	case <-s.done:
	default:
		go func() {
			select {
			case s.control <- fn:
			case <-s.done:
			}
		}()
	}
}
