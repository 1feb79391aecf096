package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/observer/chatwire/internal/domain"
	"github.com/observer/chatwire/internal/membership"
	"github.com/observer/chatwire/internal/pubsub"
)

// ChatManager handles 1:1 chats.
type ChatManager struct {
	dir    membership.Directory
	fan    *Fanout
	logger *slog.Logger
}

// NewChatManager creates a ChatManager.
func NewChatManager(dir membership.Directory, fan *Fanout, logger *slog.Logger) *ChatManager {
	return &ChatManager{dir: dir, fan: fan, logger: logger.With("component", "chats")}
}

// Connect joins the chat topic after checking the user takes part in the chat.
func (m *ChatManager) Connect(ctx context.Context, s *Session, chatID int64) error {
	topic := pubsub.Topics.Chat(chatID)
	if s.Subscribed(topic) {
		return ErrAlreadyJoined
	}

	mem, err := m.dir.Membership(ctx, s.UserID, domain.ChatRef(chatID))
	if err != nil {
		return denied(err)
	}
	return s.join(ctx, topic, mem)
}

// Disconnect leaves the chat topic.
func (m *ChatManager) Disconnect(_ context.Context, s *Session, chatID int64) error {
	return s.leave(pubsub.Topics.Chat(chatID))
}

// Send delivers a new message to the chat's other listeners and previews it
// to the companion, who may not have the chat open.
func (m *ChatManager) Send(ctx context.Context, s *Session, chatID int64, data json.RawMessage) error {
	topic := pubsub.Topics.Chat(chatID)
	if !s.Subscribed(topic) {
		return ErrNotSubscribed
	}

	companion, err := m.companion(ctx, s, chatID)
	if err != nil {
		return err
	}
	return m.sent(ctx, actor{s}, chatID, companion, data)
}

// New tells the companion a chat with them was created.
func (m *ChatManager) New(ctx context.Context, s *Session, chatID int64) error {
	companion, err := m.companion(ctx, s, chatID)
	if err != nil {
		return err
	}
	return m.fan.NotifyUser(ctx, actor{s}, companion, EventNewChat, chatPreview(chatID, nil))
}

// EditMessage tells both participants a chat message changed.
func (m *ChatManager) EditMessage(ctx context.Context, s *Session, chatID, msgID int64, data json.RawMessage) error {
	return m.edited(ctx, actor{s}, chatID, msgID, data)
}

// DeleteMessage tells both participants a chat message was removed.
func (m *ChatManager) DeleteMessage(ctx context.Context, s *Session, chatID, msgID int64) error {
	return m.deleted(ctx, actor{s}, chatID, msgID)
}

func (m *ChatManager) companion(ctx context.Context, s *Session, chatID int64) (int64, error) {
	if mem, ok := s.membership(pubsub.Topics.Chat(chatID)); ok {
		return mem.CompanionID, nil
	}
	id, err := m.dir.ChatCompanionID(ctx, chatID, s.UserID)
	if err != nil {
		return 0, denied(err)
	}
	return id, nil
}

func (m *ChatManager) sent(ctx context.Context, a actor, chatID, companion int64, data json.RawMessage) error {
	topic := pubsub.Topics.Chat(chatID)
	return gather(ctx,
		func(ctx context.Context) error {
			return m.fan.SendTopicEvent(ctx, a, topic, FamilyChat, EventNewMsg, chatData{ChatID: chatID, Data: data}, true, true)
		},
		func(ctx context.Context) error {
			return m.fan.NotifyUser(ctx, a, companion, EventNewMsg, chatPreview(chatID, data))
		},
	)
}

func (m *ChatManager) edited(ctx context.Context, a actor, chatID, msgID int64, data json.RawMessage) error {
	return m.fan.SendTopicEvent(ctx, a, pubsub.Topics.Chat(chatID), FamilyChat, EventEditMsg,
		chatData{ChatID: chatID, MsgID: msgID, Data: data}, false, true)
}

func (m *ChatManager) deleted(ctx context.Context, a actor, chatID, msgID int64) error {
	return m.fan.SendTopicEvent(ctx, a, pubsub.Topics.Chat(chatID), FamilyChat, EventDelMsg,
		chatData{ChatID: chatID, MsgID: msgID}, false, true)
}
