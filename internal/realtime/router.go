package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/observer/chatwire/internal/ratelimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EventKind names an inbound event.
type EventKind string

const (
	KindChatConnect    EventKind = "chat_connect"
	KindChatDisconnect EventKind = "chat_disconnect"
	KindChatSend       EventKind = "chat_send"
	KindChatNew        EventKind = "chat_new"
	KindChatEditMsg    EventKind = "chat_edit_msg"
	KindChatDelMsg     EventKind = "chat_del_msg"

	KindGroupCreated    EventKind = "group_created"
	KindGroupUpdate     EventKind = "group_update"
	KindGroupDeleted    EventKind = "group_deleted"
	KindGroupConnect    EventKind = "group_connect"
	KindGroupDisconnect EventKind = "group_disconnect"
	KindGroupInvite     EventKind = "group_invite"
	KindGroupJoin       EventKind = "group_join"
	KindGroupLeave      EventKind = "group_leave"
	KindGroupBan        EventKind = "group_ban"
	KindGroupUnban      EventKind = "group_unban"
	KindGroupNewRole    EventKind = "group_new_role"
	KindGroupRoleUpdate EventKind = "group_role_update"
	KindGroupRoleChange EventKind = "group_role_change"
	KindGroupRoleDel    EventKind = "group_role_del"
	KindGroupSend       EventKind = "group_send"
	KindGroupEditMsg    EventKind = "group_edit_msg"
	KindGroupDelMsg     EventKind = "group_del_msg"

	KindUserWatch   EventKind = "user_watch"
	KindUserUnwatch EventKind = "user_unwatch"
	KindUserLeave   EventKind = "user_leave"
	KindUserEdit    EventKind = "user_edit"
)

// HandlerFunc processes one inbound frame for a session.
type HandlerFunc func(ctx context.Context, s *Session, frame json.RawMessage) error

// Router dispatches inbound frames through a table built once at startup.
type Router struct {
	handlers map[EventKind]HandlerFunc
	limiter  *ratelimit.Limiter
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewRouter builds the event table. limiter may be nil.
func NewRouter(chats *ChatManager, groups *GroupManager, watch *WatchManager, limiter *ratelimit.Limiter, logger *slog.Logger) *Router {
	return &Router{
		handlers: handlerTable(chats, groups, watch),
		limiter:  limiter,
		tracer:   otel.Tracer("github.com/observer/chatwire/internal/realtime"),
		logger:   logger.With("component", "router"),
	}
}

// Kinds returns the registered event kinds.
func (r *Router) Kinds() []EventKind {
	kinds := make([]EventKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

type header struct {
	EventType string `json:"event_type"`
	Event     string `json:"event"`
}

// kindOf reads the event kind. {"event_type":"chat","event":"send"} and
// {"event_type":"chat_send"} name the same kind.
func kindOf(frame []byte) (EventKind, error) {
	var h header
	if err := json.Unmarshal(frame, &h); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	if h.EventType == "" {
		return "", fmt.Errorf("%w: missing event_type", ErrMalformedEnvelope)
	}
	if h.Event != "" {
		return EventKind(h.EventType + "_" + h.Event), nil
	}
	return EventKind(h.EventType), nil
}

// Handle runs the handler for frame and returns its error. Panics become errors.
func (r *Router) Handle(ctx context.Context, s *Session, frame []byte) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	return r.handle(ctx, s, frame)
}

func (r *Router) handle(ctx context.Context, s *Session, frame []byte) (err error) {
	kind, err := kindOf(frame)
	if err != nil {
		return err
	}

	h, ok := r.handlers[kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, kind)
	}

	if r.limiter != nil && !r.limiter.Allow(s.UserID) {
		return fmt.Errorf("%w: %s rate limited", ErrPermissionDenied, kind)
	}

	ctx, span := r.tracer.Start(ctx, "realtime."+string(kind), trace.WithAttributes(
		attribute.String("realtime.session_id", s.ID),
		attribute.Int64("realtime.user_id", s.UserID),
	))
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panic", "event", kind, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("%s: handler panic: %v", kind, rec)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	return h(ctx, s, frame)
}

// Dispatch handles a frame the serving loop already accepted and logs any
// failure. It runs even if the connection dropped since. Nothing is sent back
// to the client.
func (r *Router) Dispatch(ctx context.Context, s *Session, frame []byte) {
	if err := r.handle(ctx, s, frame); err != nil {
		s.logger.Warn("event dropped", "error", err)
	}
}
