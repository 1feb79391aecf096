package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// decode unmarshals an inbound frame into T and validates it.
func decode[T any](raw json.RawMessage) (*T, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	return &p, nil
}

type chatRefPayload struct {
	ChatID int64 `json:"chat_id" validate:"required"`
}

type chatSendPayload struct {
	ChatID int64           `json:"chat_id" validate:"required"`
	Data   json.RawMessage `json:"data" validate:"required"`
}

type chatMessagePayload struct {
	ChatID int64           `json:"chat_id" validate:"required"`
	MsgID  int64           `json:"msg_id" validate:"required"`
	Data   json.RawMessage `json:"data"`
}

type groupRefPayload struct {
	GroupID int64 `json:"group_id" validate:"required"`
}

type groupDataPayload struct {
	GroupID int64           `json:"group_id" validate:"required"`
	Data    json.RawMessage `json:"data" validate:"required"`
}

type groupDeletedPayload struct {
	GroupID int64   `json:"group_id" validate:"required"`
	People  []int64 `json:"people"`
}

type groupInvitePayload struct {
	GroupID int64             `json:"group_id" validate:"required"`
	Members []json.RawMessage `json:"members" validate:"required,min=1"`
}

type groupJoinPayload struct {
	GroupID int64           `json:"group_id" validate:"required"`
	Member  json.RawMessage `json:"member" validate:"required"`
}

type groupUserPayload struct {
	GroupID int64 `json:"group_id" validate:"required"`
	UserID  int64 `json:"user_id" validate:"required"`
}

type groupBanPayload struct {
	GroupID int64           `json:"group_id" validate:"required"`
	Ban     json.RawMessage `json:"ban" validate:"required"`
}

type groupNewRolePayload struct {
	GroupID int64           `json:"group_id" validate:"required"`
	Role    json.RawMessage `json:"role" validate:"required"`
}

type groupRoleUpdatePayload struct {
	GroupID int64           `json:"group_id" validate:"required"`
	RoleID  int64           `json:"role_id" validate:"required"`
	Data    json.RawMessage `json:"data" validate:"required"`
}

type groupRoleChangePayload struct {
	GroupID int64           `json:"group_id" validate:"required"`
	UserID  int64           `json:"user_id" validate:"required"`
	Data    json.RawMessage `json:"data" validate:"required"`
}

type groupRoleDeletePayload struct {
	GroupID int64           `json:"group_id" validate:"required"`
	RoleID  int64           `json:"role_id" validate:"required"`
	NewRole json.RawMessage `json:"new_role" validate:"required"`
}

type groupMessagePayload struct {
	GroupID int64           `json:"group_id" validate:"required"`
	MsgID   int64           `json:"msg_id" validate:"required"`
	Data    json.RawMessage `json:"data"`
}

type userRefPayload struct {
	UserID int64 `json:"user_id" validate:"required"`
}

type userEditPayload struct {
	Data json.RawMessage `json:"data" validate:"required"`
}
