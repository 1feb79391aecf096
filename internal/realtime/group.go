package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/observer/chatwire/internal/domain"
	"github.com/observer/chatwire/internal/membership"
	"github.com/observer/chatwire/internal/presence"
	"github.com/observer/chatwire/internal/pubsub"
)

// GroupManager handles group topics, governance events and group messages.
type GroupManager struct {
	dir      membership.Directory
	presence presence.Tracker
	fan      *Fanout
	logger   *slog.Logger
}

// NewGroupManager creates a GroupManager.
func NewGroupManager(dir membership.Directory, tracker presence.Tracker, fan *Fanout, logger *slog.Logger) *GroupManager {
	return &GroupManager{dir: dir, presence: tracker, fan: fan, logger: logger.With("component", "groups")}
}

// authorize checks the session's live role in the group.
func (m *GroupManager) authorize(ctx context.Context, s *Session, groupID int64, perm domain.Permission) (*domain.Role, error) {
	role, err := m.dir.Role(ctx, s.UserID, groupID)
	if err != nil {
		return nil, denied(err)
	}
	if !role.Has(perm) {
		return nil, fmt.Errorf("%w: user %d lacks permission %#x in group %d", ErrPermissionDenied, s.UserID, perm, groupID)
	}
	return role, nil
}

// joined fails fast when the session is not on the group's topic.
func joined(s *Session, groupID int64) error {
	topic := pubsub.Topics.Group(groupID)
	if !s.Subscribed(topic) {
		return fmt.Errorf("%s: %w", topic, ErrNotSubscribed)
	}
	return nil
}

// Connect joins the group topic. Banned users are not members and are refused.
func (m *GroupManager) Connect(ctx context.Context, s *Session, groupID int64) error {
	topic := pubsub.Topics.Group(groupID)
	if s.Subscribed(topic) {
		return ErrAlreadyJoined
	}

	mem, err := m.dir.Membership(ctx, s.UserID, domain.GroupRef(groupID))
	if err != nil {
		return denied(err)
	}
	return s.join(ctx, topic, mem)
}

// Disconnect leaves the group topic.
func (m *GroupManager) Disconnect(_ context.Context, s *Session, groupID int64) error {
	return s.leave(pubsub.Topics.Group(groupID))
}

// Created lists a newly created group on the creator's other sessions.
func (m *GroupManager) Created(ctx context.Context, s *Session, groupID int64) error {
	role, err := m.dir.Role(ctx, s.UserID, groupID)
	if err != nil {
		return denied(err)
	}
	if !role.IsOwner {
		return fmt.Errorf("%w: user %d does not own group %d", ErrPermissionDenied, s.UserID, groupID)
	}
	return m.created(ctx, actor{s}, groupID, s.UserID)
}

// Update tells online members the group's details changed.
func (m *GroupManager) Update(ctx context.Context, s *Session, groupID int64, data json.RawMessage) error {
	if err := joined(s, groupID); err != nil {
		return err
	}
	if _, err := m.authorize(ctx, s, groupID, domain.PermEditGroup); err != nil {
		return err
	}
	return m.updated(ctx, actor{s}, groupID, data)
}

// Deleted removes the group from the listed users. The group is already gone
// from the directory, so ownership comes from the membership cached on connect.
func (m *GroupManager) Deleted(ctx context.Context, s *Session, groupID int64, people []int64) error {
	mem, ok := s.membership(pubsub.Topics.Group(groupID))
	if !ok {
		return fmt.Errorf("%s: %w", pubsub.Topics.Group(groupID), ErrNotSubscribed)
	}
	if mem.Role == nil || !mem.Role.IsOwner {
		return fmt.Errorf("%w: user %d does not own group %d", ErrPermissionDenied, s.UserID, groupID)
	}
	m.fan.NotifyUsers(ctx, actor{s}, people, EventRemoveChat, groupPreview(groupID, nil), pubsub.Topics.Group(groupID))
	return nil
}

// Invite announces invited members to the group and lists the group for them.
func (m *GroupManager) Invite(ctx context.Context, s *Session, groupID int64, members []json.RawMessage) error {
	if err := joined(s, groupID); err != nil {
		return err
	}
	if _, err := m.authorize(ctx, s, groupID, domain.PermAddUser); err != nil {
		return err
	}

	ids, err := memberIDs(members)
	if err != nil {
		return err
	}
	return m.added(ctx, actor{s}, groupID, ids, members, true)
}

// Join handles a public self-join. The joiner has not connected to the group yet.
func (m *GroupManager) Join(ctx context.Context, s *Session, groupID int64, member json.RawMessage) error {
	ids, err := memberIDs([]json.RawMessage{member})
	if err != nil {
		return err
	}
	if ids[0] != s.UserID {
		return fmt.Errorf("%w: user %d cannot join on behalf of %d", ErrPermissionDenied, s.UserID, ids[0])
	}
	if _, err := m.dir.Membership(ctx, s.UserID, domain.GroupRef(groupID)); err != nil {
		return denied(err)
	}
	return m.added(ctx, actor{s}, groupID, ids, []json.RawMessage{member}, false)
}

// Leave removes a user from the group's listeners. Removing someone else is a kick.
func (m *GroupManager) Leave(ctx context.Context, s *Session, groupID, userID int64) error {
	if err := joined(s, groupID); err != nil {
		return err
	}
	if userID != s.UserID {
		role, err := m.authorize(ctx, s, groupID, domain.PermKickUser)
		if err != nil {
			return err
		}
		target, err := m.dir.Role(ctx, userID, groupID)
		switch {
		case err == nil && !role.Outranks(target):
			return fmt.Errorf("%w: user %d does not outrank %d", ErrPermissionDenied, s.UserID, userID)
		case err != nil && !errors.Is(err, domain.ErrNotMember) && !errors.Is(err, domain.ErrBanned):
			// already removed targets are fine; anything else is a lookup failure
			return err
		}
	}
	return gather(ctx, m.leaveTasks(actor{s}, groupID, userID)...)
}

// Ban evicts the banned user and announces the ban to every listener.
func (m *GroupManager) Ban(ctx context.Context, s *Session, groupID int64, ban json.RawMessage) error {
	if err := joined(s, groupID); err != nil {
		return err
	}
	if _, err := m.authorize(ctx, s, groupID, domain.PermBanUser); err != nil {
		return err
	}

	ids, err := memberIDs([]json.RawMessage{ban})
	if err != nil {
		return err
	}
	return m.banned(ctx, actor{s}, groupID, ids[0], ban)
}

// Unban announces the unban and relists the group for the user if they are online.
func (m *GroupManager) Unban(ctx context.Context, s *Session, groupID, userID int64) error {
	if err := joined(s, groupID); err != nil {
		return err
	}
	if _, err := m.authorize(ctx, s, groupID, domain.PermUnbanUser); err != nil {
		return err
	}
	return m.unbanned(ctx, actor{s}, groupID, userID)
}

// RoleCreated announces a new role to group listeners.
func (m *GroupManager) RoleCreated(ctx context.Context, s *Session, groupID int64, role json.RawMessage) error {
	if err := m.manageRoles(ctx, s, groupID); err != nil {
		return err
	}
	return m.roleEvent(ctx, actor{s}, groupID, EventRoleCreated, role, nil, true)
}

// RoleUpdated announces changes to an existing role.
func (m *GroupManager) RoleUpdated(ctx context.Context, s *Session, groupID, roleID int64, data json.RawMessage) error {
	if err := m.manageRoles(ctx, s, groupID); err != nil {
		return err
	}
	return m.roleEvent(ctx, actor{s}, groupID, EventRoleUpdated, data, map[string]any{"role_id": roleID}, true)
}

// RoleChanged announces that a member's role was reassigned.
func (m *GroupManager) RoleChanged(ctx context.Context, s *Session, groupID, userID int64, data json.RawMessage) error {
	if err := m.manageRoles(ctx, s, groupID); err != nil {
		return err
	}
	return m.roleEvent(ctx, actor{s}, groupID, EventRoleChanged, data, map[string]any{"user_id": userID}, true)
}

// RoleDeleted announces a removed role and the role its members fall back to.
func (m *GroupManager) RoleDeleted(ctx context.Context, s *Session, groupID, roleID int64, newRole json.RawMessage) error {
	if err := m.manageRoles(ctx, s, groupID); err != nil {
		return err
	}
	return m.roleEvent(ctx, actor{s}, groupID, EventRoleDeleted, newRole, map[string]any{"role_id": roleID}, false)
}

func (m *GroupManager) manageRoles(ctx context.Context, s *Session, groupID int64) error {
	if err := joined(s, groupID); err != nil {
		return err
	}
	_, err := m.authorize(ctx, s, groupID, domain.PermManageRole)
	return err
}

// Send delivers a message to the group's listeners and previews it to every
// online member.
func (m *GroupManager) Send(ctx context.Context, s *Session, groupID int64, data json.RawMessage) error {
	if err := joined(s, groupID); err != nil {
		return err
	}
	if _, err := m.authorize(ctx, s, groupID, domain.PermSendMsg); err != nil {
		return err
	}
	return m.sent(ctx, actor{s}, groupID, data)
}

// EditMessage tells group listeners a message changed.
func (m *GroupManager) EditMessage(ctx context.Context, s *Session, groupID, msgID int64, data json.RawMessage) error {
	return m.messageEvent(ctx, actor{s}, groupID, EventEditMsg, map[string]any{"msg_id": msgID, "data": data})
}

// DeleteMessage tells group listeners a message was removed.
func (m *GroupManager) DeleteMessage(ctx context.Context, s *Session, groupID, msgID int64) error {
	return m.messageEvent(ctx, actor{s}, groupID, EventDelMsg, map[string]any{"msg_id": msgID})
}

// Effects shared by session handlers and triggers.

func (m *GroupManager) groupEvent(ctx context.Context, a actor, groupID int64, event string, data any, extra map[string]any, exclude, requireSubscribed bool) error {
	return m.fan.SendTopicEvent(ctx, a, pubsub.Topics.Group(groupID), FamilyGroup, event,
		groupData(groupID, data, extra), exclude, requireSubscribed)
}

func (m *GroupManager) created(ctx context.Context, a actor, groupID, ownerID int64) error {
	return m.fan.NotifyUser(ctx, a, ownerID, EventNewChat, groupPreview(groupID, nil))
}

func (m *GroupManager) updated(ctx context.Context, a actor, groupID int64, data json.RawMessage) error {
	online, err := m.dir.OnlineMemberIDs(ctx, groupID)
	if err != nil {
		return fmt.Errorf("online members of group %d: %w", groupID, err)
	}
	m.fan.NotifyUsers(ctx, a, online, EventGroupUpdate, groupPreview(groupID, data))
	return nil
}

func (m *GroupManager) added(ctx context.Context, a actor, groupID int64, ids []int64, members []json.RawMessage, requireSubscribed bool) error {
	return gather(ctx,
		func(ctx context.Context) error {
			m.fan.NotifyUsers(ctx, a, ids, EventNewChat, groupPreview(groupID, nil))
			return nil
		},
		func(ctx context.Context) error {
			return m.groupEvent(ctx, a, groupID, EventNewMembers, members, nil, true, requireSubscribed)
		},
	)
}

// leaveTasks tells the user the group is gone, drops their sessions from the
// group topic and tells the group they left.
func (m *GroupManager) leaveTasks(a actor, groupID, userID int64) []func(context.Context) error {
	return []func(context.Context) error{
		func(ctx context.Context) error {
			return m.fan.NotifyUser(ctx, a, userID, EventRemoveChat, groupPreview(groupID, nil), pubsub.Topics.Group(groupID))
		},
		func(ctx context.Context) error {
			return m.groupEvent(ctx, a, groupID, EventRemoveMembers, []int64{userID}, nil, true, true)
		},
	}
}

func (m *GroupManager) banned(ctx context.Context, a actor, groupID, userID int64, ban json.RawMessage) error {
	tasks := m.leaveTasks(a, groupID, userID)
	tasks = append(tasks, func(ctx context.Context) error {
		return m.groupEvent(ctx, a, groupID, EventBan, ban, map[string]any{"user_id": userID}, false, true)
	})
	return gather(ctx, tasks...)
}

// unbanned relists the group for the user when they are online right now.
func (m *GroupManager) unbanned(ctx context.Context, a actor, groupID, userID int64) error {
	tasks := []func(context.Context) error{
		func(ctx context.Context) error {
			return m.groupEvent(ctx, a, groupID, EventUnban, userID, nil, true, true)
		},
	}

	n, err := m.presence.Count(ctx, userID)
	if err != nil {
		m.logger.Warn("presence lookup failed", "user_id", userID, "error", err)
	}
	if n > 0 {
		tasks = append(tasks, func(ctx context.Context) error {
			return m.fan.NotifyUser(ctx, a, userID, EventNewChat, groupPreview(groupID, nil))
		})
	}
	return gather(ctx, tasks...)
}

func (m *GroupManager) roleEvent(ctx context.Context, a actor, groupID int64, event string, data json.RawMessage, extra map[string]any, exclude bool) error {
	return m.groupEvent(ctx, a, groupID, event, data, extra, exclude, true)
}

// sent computes online members live on every message.
func (m *GroupManager) sent(ctx context.Context, a actor, groupID int64, data json.RawMessage) error {
	return gather(ctx,
		func(ctx context.Context) error {
			return m.groupEvent(ctx, a, groupID, EventNewMsg, data, nil, true, true)
		},
		func(ctx context.Context) error {
			online, err := m.dir.OnlineMemberIDs(ctx, groupID)
			if err != nil {
				return fmt.Errorf("online members of group %d: %w", groupID, err)
			}
			m.fan.NotifyUsers(ctx, a, online, EventNewMsg, groupPreview(groupID, data))
			return nil
		},
	)
}

func (m *GroupManager) messageEvent(ctx context.Context, a actor, groupID int64, event string, data any) error {
	return m.groupEvent(ctx, a, groupID, event, data, nil, false, true)
}

type memberRef struct {
	User struct {
		ID int64 `json:"id"`
	} `json:"user"`
}

// memberIDs reads user.id out of member or ban objects.
func memberIDs(members []json.RawMessage) ([]int64, error) {
	ids := make([]int64, 0, len(members))
	for _, raw := range members {
		var ref memberRef
		if err := json.Unmarshal(raw, &ref); err != nil {
			return nil, fmt.Errorf("%w: member: %w", ErrMalformedEnvelope, err)
		}
		if ref.User.ID == 0 {
			return nil, fmt.Errorf("%w: member without user.id", ErrMalformedEnvelope)
		}
		ids = append(ids, ref.User.ID)
	}
	return ids, nil
}
