// Package realtime keeps live sessions subscribed to the right topics and fans
// chat, group and presence events out to them.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/observer/chatwire/internal/membership"
	"github.com/observer/chatwire/internal/presence"
	"github.com/observer/chatwire/internal/pubsub"
	"github.com/observer/chatwire/internal/ratelimit"
)

const defaultCloseTimeout = 5 * time.Second

// Config wires an Engine to its collaborators.
type Config struct {
	PubSub    pubsub.PubSub
	Presence  presence.Tracker
	Directory membership.Directory
	Limiter   *ratelimit.Limiter // optional
	Logger    *slog.Logger

	// CloseTimeout bounds presence and unsubscribe work when a session ends.
	CloseTimeout time.Duration
}

// Engine owns session lifecycles and routes inbound events.
type Engine struct {
	ps       pubsub.PubSub
	presence presence.Tracker
	chats    *ChatManager
	groups   *GroupManager
	watch    *WatchManager
	router   *Router
	notifier *Broadcaster

	closeTimeout time.Duration
	logger       *slog.Logger
}

// NewEngine wires the managers, router and notifier around cfg.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger.With("component", "realtime")
	fan := NewFanout(cfg.PubSub, cfg.Logger)

	chats := NewChatManager(cfg.Directory, fan, cfg.Logger)
	groups := NewGroupManager(cfg.Directory, cfg.Presence, fan, cfg.Logger)
	watch := NewWatchManager(fan)

	timeout := cfg.CloseTimeout
	if timeout <= 0 {
		timeout = defaultCloseTimeout
	}

	return &Engine{
		ps:           cfg.PubSub,
		presence:     cfg.Presence,
		chats:        chats,
		groups:       groups,
		watch:        watch,
		router:       NewRouter(chats, groups, watch, cfg.Limiter, cfg.Logger),
		notifier:     NewBroadcaster(cfg.Directory, chats, groups, cfg.Logger),
		closeTimeout: timeout,
		logger:       logger,
	}
}

// Router returns the inbound event router.
func (e *Engine) Router() *Router { return e.router }

// Notifier returns the trigger surface used by the REST service.
func (e *Engine) Notifier() *Broadcaster { return e.notifier }

// Open starts a session for an authenticated user: it joins the user's own
// topics, counts the session and announces the user when this is their first.
func (e *Engine) Open(ctx context.Context, userID int64, sink Sink) (*Session, error) {
	s := newSession(userID, sink, e.ps, e.logger)

	for _, topic := range []string{pubsub.Topics.User(userID), pubsub.Topics.Watch(userID)} {
		if err := s.join(ctx, topic, nil); err != nil {
			s.leaveAll()
			return nil, fmt.Errorf("open session: %w", err)
		}
	}

	first, err := e.presence.Connect(ctx, userID)
	if err != nil {
		s.leaveAll()
		return nil, fmt.Errorf("open session: %w", err)
	}
	s.state.Store(int32(StateActive))

	if first {
		if err := e.watch.announce(ctx, s, EventUserJoined); err != nil {
			s.logger.Warn("presence announcement failed", "event", EventUserJoined, "error", err)
		}
	}

	s.logger.Info("session opened", "first", first)
	return s, nil
}

// Serve processes the session's inbound frames and directives one at a time
// until inbound closes or ctx is done. The session is always closed on return.
//
// A closed inbound releases presence right away, even while a handler is
// still running. Topics are left once that handler returns.
func (e *Engine) Serve(ctx context.Context, s *Session, inbound <-chan []byte) {
	defer e.Close(ctx, s)

	frames := make(chan []byte)
	go e.pump(ctx, s, inbound, frames)

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			e.router.Dispatch(ctx, s, frame)
		case fn := <-s.control:
			fn()
		}
	}
}

// pump hands inbound frames to the serving loop and releases the session as
// soon as inbound closes.
func (e *Engine) pump(ctx context.Context, s *Session, inbound <-chan []byte, frames chan<- []byte) {
	for {
		select {
		case frame, ok := <-inbound:
			if !ok {
				e.release(ctx, s)
				close(frames)
				return
			}
			select {
			case frames <- frame:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

// Close ends a session. Later deliveries are discarded, the user is announced
// as gone when this was their last session, and every topic is left.
// Calling Close more than once is a no-op. Close must not run concurrently
// with the session's serving loop.
func (e *Engine) Close(ctx context.Context, s *Session) {
	e.release(ctx, s)
	s.leaveAll()
}

// release marks the session closed and gives up its presence. It only touches
// state that is safe to share with a running handler.
func (e *Engine) release(ctx context.Context, s *Session) {
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateClosed)) {
		return
	}
	close(s.done)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.closeTimeout)
	defer cancel()

	last, err := e.presence.Disconnect(ctx, s.UserID)
	if err != nil {
		s.logger.Error("presence disconnect failed", "error", err)
	}
	if last {
		if err := e.watch.announce(ctx, s, EventUserLeft); err != nil {
			s.logger.Warn("presence announcement failed", "event", EventUserLeft, "error", err)
		}
	}
	s.logger.Info("session closed", "last", last)
}
