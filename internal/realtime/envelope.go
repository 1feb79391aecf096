package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/observer/chatwire/internal/pubsub"
)

// Family groups outbound events by what they concern.
type Family string

const (
	FamilyUser  Family = "user"
	FamilyChat  Family = "chat"
	FamilyGroup Family = "group"
)

// Outbound event names.
const (
	EventUserJoined    = "user_joined"
	EventUserLeft      = "user_left"
	EventProfileEdited = "profile_edited"
	EventNewChat       = "new_chat"
	EventRemoveChat    = "remove_chat"
	EventGroupUpdate   = "group_update"
	EventNewMsg        = "new_msg"
	EventEditMsg       = "edit_msg"
	EventDelMsg        = "del_msg"
	EventNewMembers    = "new_members"
	EventRemoveMembers = "remove_members"
	EventBan           = "ban"
	EventUnban         = "unban"
	EventRoleCreated   = "role_created"
	EventRoleUpdated   = "role_updated"
	EventRoleChanged   = "role_changed"
	EventRoleDeleted   = "role_deleted"
)

// Envelope is the frame written to clients.
type Envelope struct {
	Type        string `json:"type"`
	EventType   Family `json:"event_type"`
	Event       string `json:"event"`
	Data        any    `json:"data"`
	ChannelName string `json:"channel_name,omitempty"`
}

// preview tells a user about activity in a chat or group they may not have joined.
type preview struct {
	Type   string          `json:"type"`
	ChatID int64           `json:"chat_id"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func chatPreview(chatID int64, data json.RawMessage) preview {
	return preview{Type: "chat", ChatID: chatID, Data: data}
}

func groupPreview(groupID int64, data json.RawMessage) preview {
	return preview{Type: "group", ChatID: groupID, Data: data}
}

type chatData struct {
	ChatID int64           `json:"chat_id"`
	MsgID  int64           `json:"msg_id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type watchData struct {
	UserID int64           `json:"user_id"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// groupData is {"group_id": id, "data": data} plus any extra keys.
func groupData(groupID int64, data any, extra map[string]any) map[string]any {
	out := make(map[string]any, 2+len(extra))
	for k, v := range extra {
		out[k] = v
	}
	out["group_id"] = groupID
	out["data"] = data
	return out
}

// publishOptions controls delivery of a single event.
type publishOptions struct {
	origin  string   // session the event comes from, empty for triggers
	exclude bool     // skip the origin session
	drop    []string // topics receivers must leave
}

// encode builds the broker message for an event. Without an origin there is
// nobody to exclude and the event goes to everyone.
func encode(topic string, family Family, event string, data any, opts publishOptions) (*pubsub.Message, error) {
	env := Envelope{
		Type:      pubsub.TypeJSON,
		EventType: family,
		Event:     event,
		Data:      data,
	}
	if opts.exclude && opts.origin != "" {
		env.Type = pubsub.TypeExclude
		env.ChannelName = opts.origin
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}

	return &pubsub.Message{
		Topic:   topic,
		Type:    env.Type,
		Sender:  env.ChannelName,
		Payload: payload,
		Drop:    opts.drop,
	}, nil
}
