package realtime

import (
	"context"
	"encoding/json"
)

func handlerTable(chats *ChatManager, groups *GroupManager, watch *WatchManager) map[EventKind]HandlerFunc {
	unwatch := on(func(ctx context.Context, s *Session, p *userRefPayload) error {
		return watch.Unwatch(ctx, s, p.UserID)
	})

	return map[EventKind]HandlerFunc{
		KindChatConnect: on(func(ctx context.Context, s *Session, p *chatRefPayload) error {
			return chats.Connect(ctx, s, p.ChatID)
		}),
		KindChatDisconnect: on(func(ctx context.Context, s *Session, p *chatRefPayload) error {
			return chats.Disconnect(ctx, s, p.ChatID)
		}),
		KindChatSend: on(func(ctx context.Context, s *Session, p *chatSendPayload) error {
			return chats.Send(ctx, s, p.ChatID, p.Data)
		}),
		KindChatNew: on(func(ctx context.Context, s *Session, p *chatRefPayload) error {
			return chats.New(ctx, s, p.ChatID)
		}),
		KindChatEditMsg: on(func(ctx context.Context, s *Session, p *chatMessagePayload) error {
			return chats.EditMessage(ctx, s, p.ChatID, p.MsgID, p.Data)
		}),
		KindChatDelMsg: on(func(ctx context.Context, s *Session, p *chatMessagePayload) error {
			return chats.DeleteMessage(ctx, s, p.ChatID, p.MsgID)
		}),

		KindGroupCreated: on(func(ctx context.Context, s *Session, p *groupRefPayload) error {
			return groups.Created(ctx, s, p.GroupID)
		}),
		KindGroupUpdate: on(func(ctx context.Context, s *Session, p *groupDataPayload) error {
			return groups.Update(ctx, s, p.GroupID, p.Data)
		}),
		KindGroupDeleted: on(func(ctx context.Context, s *Session, p *groupDeletedPayload) error {
			return groups.Deleted(ctx, s, p.GroupID, p.People)
		}),
		KindGroupConnect: on(func(ctx context.Context, s *Session, p *groupRefPayload) error {
			return groups.Connect(ctx, s, p.GroupID)
		}),
		KindGroupDisconnect: on(func(ctx context.Context, s *Session, p *groupRefPayload) error {
			return groups.Disconnect(ctx, s, p.GroupID)
		}),
		KindGroupInvite: on(func(ctx context.Context, s *Session, p *groupInvitePayload) error {
			return groups.Invite(ctx, s, p.GroupID, p.Members)
		}),
		KindGroupJoin: on(func(ctx context.Context, s *Session, p *groupJoinPayload) error {
			return groups.Join(ctx, s, p.GroupID, p.Member)
		}),
		KindGroupLeave: on(func(ctx context.Context, s *Session, p *groupUserPayload) error {
			return groups.Leave(ctx, s, p.GroupID, p.UserID)
		}),
		KindGroupBan: on(func(ctx context.Context, s *Session, p *groupBanPayload) error {
			return groups.Ban(ctx, s, p.GroupID, p.Ban)
		}),
		KindGroupUnban: on(func(ctx context.Context, s *Session, p *groupUserPayload) error {
			return groups.Unban(ctx, s, p.GroupID, p.UserID)
		}),
		KindGroupNewRole: on(func(ctx context.Context, s *Session, p *groupNewRolePayload) error {
			return groups.RoleCreated(ctx, s, p.GroupID, p.Role)
		}),
		KindGroupRoleUpdate: on(func(ctx context.Context, s *Session, p *groupRoleUpdatePayload) error {
			return groups.RoleUpdated(ctx, s, p.GroupID, p.RoleID, p.Data)
		}),
		KindGroupRoleChange: on(func(ctx context.Context, s *Session, p *groupRoleChangePayload) error {
			return groups.RoleChanged(ctx, s, p.GroupID, p.UserID, p.Data)
		}),
		KindGroupRoleDel: on(func(ctx context.Context, s *Session, p *groupRoleDeletePayload) error {
			return groups.RoleDeleted(ctx, s, p.GroupID, p.RoleID, p.NewRole)
		}),
		KindGroupSend: on(func(ctx context.Context, s *Session, p *groupDataPayload) error {
			return groups.Send(ctx, s, p.GroupID, p.Data)
		}),
		KindGroupEditMsg: on(func(ctx context.Context, s *Session, p *groupMessagePayload) error {
			return groups.EditMessage(ctx, s, p.GroupID, p.MsgID, p.Data)
		}),
		KindGroupDelMsg: on(func(ctx context.Context, s *Session, p *groupMessagePayload) error {
			return groups.DeleteMessage(ctx, s, p.GroupID, p.MsgID)
		}),

		KindUserWatch: on(func(ctx context.Context, s *Session, p *userRefPayload) error {
			return watch.Watch(ctx, s, p.UserID)
		}),
		KindUserUnwatch: unwatch,
		KindUserLeave:   unwatch,
		KindUserEdit: on(func(ctx context.Context, s *Session, p *userEditPayload) error {
			return watch.ProfileEdited(ctx, s, p.Data)
		}),
	}
}

// on adapts a typed handler to HandlerFunc, decoding and validating the frame first.
func on[T any](fn func(ctx context.Context, s *Session, p *T) error) HandlerFunc {
	return func(ctx context.Context, s *Session, frame json.RawMessage) error {
		p, err := decode[T](frame)
		if err != nil {
			return err
		}
		return fn(ctx, s, p)
	}
}
