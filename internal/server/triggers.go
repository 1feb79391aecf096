package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/observer/chatwire/internal/domain"
	"github.com/observer/chatwire/internal/realtime"
)

const maxTriggerBytes = 1 << 20

// Trigger names accepted by POST /internal/triggers
const (
	TriggerGroupCreated   = "group_created"
	TriggerMessageSent    = "message_sent"
	TriggerMessageEdited  = "message_edited"
	TriggerMessageDeleted = "message_deleted"
	TriggerMemberBanned   = "member_banned"
	TriggerMemberUnbanned = "member_unbanned"
	TriggerMemberKicked   = "member_kicked"
	TriggerRoleCreated    = "role_created"
	TriggerRoleUpdated    = "role_updated"
	TriggerRoleDeleted    = "role_deleted"
)

var errBadTrigger = errors.New("bad trigger")

// triggerRequest is sent by the REST service after it commits a change.
// Which fields are needed depends on the trigger.
type triggerRequest struct {
	Trigger string `json:"trigger" validate:"required"`

	// message triggers: "chat" or "group"
	Kind    domain.ConversationKind `json:"kind" validate:"omitempty,oneof=chat group"`
	ChatID  int64                   `json:"chat_id" validate:"gte=0"`
	GroupID int64                   `json:"group_id" validate:"gte=0"`

	UserID   int64 `json:"user_id" validate:"gte=0"`
	SenderID int64 `json:"sender_id" validate:"gte=0"`
	MsgID    int64 `json:"msg_id" validate:"gte=0"`
	RoleID   int64 `json:"role_id" validate:"gte=0"`

	Data json.RawMessage `json:"data"`
}

func (t *triggerRequest) ref() (domain.Ref, error) {
	switch t.Kind {
	case domain.KindChat:
		return domain.ChatRef(t.ChatID), need(t.ChatID, "chat_id")
	case domain.KindGroup:
		return domain.GroupRef(t.GroupID), need(t.GroupID, "group_id")
	}
	return domain.Ref{}, fmt.Errorf("%w: kind must be chat or group", errBadTrigger)
}

func need(v int64, name string) error {
	if v == 0 {
		return fmt.Errorf("%w: %s is required", errBadTrigger, name)
	}
	return nil
}

type triggerHandler struct {
	notifier realtime.Notifier
	validate *validator.Validate
	logger   *slog.Logger
}

func newTriggerHandler(notifier realtime.Notifier, logger *slog.Logger) *triggerHandler {
	return &triggerHandler{
		notifier: notifier,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("component", "triggers"),
	}
}

func (h *triggerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTriggerBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.dispatch(r.Context(), &req)
	switch {
	case errors.Is(err, errBadTrigger):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("trigger failed", "trigger", req.Trigger, "error", err)
		writeError(w, http.StatusInternalServerError, "trigger failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

func (h *triggerHandler) dispatch(ctx context.Context, t *triggerRequest) error {
	n := h.notifier

	switch t.Trigger {
	case TriggerGroupCreated:
		if err := errors.Join(need(t.GroupID, "group_id"), need(t.UserID, "user_id")); err != nil {
			return err
		}
		return n.GroupCreated(ctx, t.GroupID, t.UserID)

	case TriggerMessageSent, TriggerMessageEdited, TriggerMessageDeleted:
		ref, err := t.ref()
		if err != nil {
			return err
		}
		switch t.Trigger {
		case TriggerMessageSent:
			if err := need(t.SenderID, "sender_id"); err != nil {
				return err
			}
			return n.MessageSent(ctx, ref, t.SenderID, t.Data)
		case TriggerMessageEdited:
			if err := need(t.MsgID, "msg_id"); err != nil {
				return err
			}
			return n.MessageEdited(ctx, ref, t.MsgID, t.Data)
		default:
			if err := need(t.MsgID, "msg_id"); err != nil {
				return err
			}
			return n.MessageDeleted(ctx, ref, t.MsgID)
		}

	case TriggerMemberBanned, TriggerMemberUnbanned, TriggerMemberKicked:
		if err := errors.Join(need(t.GroupID, "group_id"), need(t.UserID, "user_id")); err != nil {
			return err
		}
		switch t.Trigger {
		case TriggerMemberBanned:
			return n.MemberBanned(ctx, t.GroupID, t.UserID, t.Data)
		case TriggerMemberUnbanned:
			return n.MemberUnbanned(ctx, t.GroupID, t.UserID)
		default:
			return n.MemberKicked(ctx, t.GroupID, t.UserID)
		}

	case TriggerRoleCreated:
		if err := need(t.GroupID, "group_id"); err != nil {
			return err
		}
		return n.RoleCreated(ctx, t.GroupID, t.Data)

	case TriggerRoleUpdated, TriggerRoleDeleted:
		if err := errors.Join(need(t.GroupID, "group_id"), need(t.RoleID, "role_id")); err != nil {
			return err
		}
		if t.Trigger == TriggerRoleUpdated {
			return n.RoleUpdated(ctx, t.GroupID, t.RoleID, t.Data)
		}
		return n.RoleDeleted(ctx, t.GroupID, t.RoleID, t.Data)
	}

	return fmt.Errorf("%w: unknown trigger %q", errBadTrigger, t.Trigger)
}
