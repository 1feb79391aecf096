package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/observer/chatwire/internal/domain"
	"github.com/observer/chatwire/internal/membership"
)

// Notifier lets the REST service push events after it commits a change.
// Trigger events have no originating session, so nobody is excluded.
type Notifier interface {
	GroupCreated(ctx context.Context, groupID, ownerID int64) error

	MessageSent(ctx context.Context, ref domain.Ref, senderID int64, data json.RawMessage) error
	MessageEdited(ctx context.Context, ref domain.Ref, msgID int64, data json.RawMessage) error
	MessageDeleted(ctx context.Context, ref domain.Ref, msgID int64) error

	MemberBanned(ctx context.Context, groupID, userID int64, ban json.RawMessage) error
	MemberUnbanned(ctx context.Context, groupID, userID int64) error
	MemberKicked(ctx context.Context, groupID, userID int64) error

	RoleCreated(ctx context.Context, groupID int64, role json.RawMessage) error
	RoleUpdated(ctx context.Context, groupID, roleID int64, data json.RawMessage) error
	RoleDeleted(ctx context.Context, groupID, roleID int64, newRole json.RawMessage) error
}

// Broadcaster implements Notifier with the same effects session handlers use
type Broadcaster struct {
	dir    membership.Directory
	chats  *ChatManager
	groups *GroupManager
	logger *slog.Logger
}

var _ Notifier = (*Broadcaster)(nil)

// NewBroadcaster creates a Broadcaster sharing the session managers.
func NewBroadcaster(dir membership.Directory, chats *ChatManager, groups *GroupManager, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{dir: dir, chats: chats, groups: groups, logger: logger.With("component", "broadcaster")}
}

// GroupCreated lists a new group on the owner's sessions.
func (b *Broadcaster) GroupCreated(ctx context.Context, groupID, ownerID int64) error {
	return b.groups.created(ctx, actor{}, groupID, ownerID)
}

// MessageSent delivers a stored message to its chat or group.
func (b *Broadcaster) MessageSent(ctx context.Context, ref domain.Ref, senderID int64, data json.RawMessage) error {
	switch ref.Kind {
	case domain.KindChat:
		companion, err := b.dir.ChatCompanionID(ctx, ref.ID, senderID)
		if err != nil {
			return fmt.Errorf("companion of chat %d: %w", ref.ID, err)
		}
		return b.chats.sent(ctx, actor{}, ref.ID, companion, data)
	case domain.KindGroup:
		return b.groups.sent(ctx, actor{}, ref.ID, data)
	}
	return fmt.Errorf("unknown conversation kind %q", ref.Kind)
}

// MessageEdited announces an edited message.
func (b *Broadcaster) MessageEdited(ctx context.Context, ref domain.Ref, msgID int64, data json.RawMessage) error {
	switch ref.Kind {
	case domain.KindChat:
		return b.chats.edited(ctx, actor{}, ref.ID, msgID, data)
	case domain.KindGroup:
		return b.groups.messageEvent(ctx, actor{}, ref.ID, EventEditMsg, map[string]any{"msg_id": msgID, "data": data})
	}
	return fmt.Errorf("unknown conversation kind %q", ref.Kind)
}

// MessageDeleted announces a removed message.
func (b *Broadcaster) MessageDeleted(ctx context.Context, ref domain.Ref, msgID int64) error {
	switch ref.Kind {
	case domain.KindChat:
		return b.chats.deleted(ctx, actor{}, ref.ID, msgID)
	case domain.KindGroup:
		return b.groups.messageEvent(ctx, actor{}, ref.ID, EventDelMsg, map[string]any{"msg_id": msgID})
	}
	return fmt.Errorf("unknown conversation kind %q", ref.Kind)
}

// MemberBanned evicts a banned member and announces the ban.
func (b *Broadcaster) MemberBanned(ctx context.Context, groupID, userID int64, ban json.RawMessage) error {
	b.logger.Info("evicting banned member", "group_id", groupID, "user_id", userID)
	return b.groups.banned(ctx, actor{}, groupID, userID, ban)
}

// MemberUnbanned announces an unban.
func (b *Broadcaster) MemberUnbanned(ctx context.Context, groupID, userID int64) error {
	return b.groups.unbanned(ctx, actor{}, groupID, userID)
}

// MemberKicked evicts a removed member.
func (b *Broadcaster) MemberKicked(ctx context.Context, groupID, userID int64) error {
	b.logger.Info("evicting kicked member", "group_id", groupID, "user_id", userID)
	return gather(ctx, b.groups.leaveTasks(actor{}, groupID, userID)...)
}

// RoleCreated announces a new role.
func (b *Broadcaster) RoleCreated(ctx context.Context, groupID int64, role json.RawMessage) error {
	return b.groups.roleEvent(ctx, actor{}, groupID, EventRoleCreated, role, nil, true)
}

// RoleUpdated announces a changed role.
func (b *Broadcaster) RoleUpdated(ctx context.Context, groupID, roleID int64, data json.RawMessage) error {
	return b.groups.roleEvent(ctx, actor{}, groupID, EventRoleUpdated, data, map[string]any{"role_id": roleID}, true)
}

// RoleDeleted announces a removed role.
func (b *Broadcaster) RoleDeleted(ctx context.Context, groupID, roleID int64, newRole json.RawMessage) error {
	return b.groups.roleEvent(ctx, actor{}, groupID, EventRoleDeleted, newRole, map[string]any{"role_id": roleID}, false)
}
