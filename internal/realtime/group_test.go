package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/observer/chatwire/internal/domain"
	"github.com/observer/chatwire/internal/mocks"
	"github.com/observer/chatwire/internal/presence"
	"github.com/observer/chatwire/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	ownerID  = int64(1)
	memberID = int64(2)
	otherID  = int64(3)
	groupID  = int64(12)
)

// groupHarness has group 12 owned by user 1 with users 2 and 3 as members.
func groupHarness(t *testing.T, memberPerms domain.Permission) *harness {
	return seedGroup(t, newHarness(t), memberPerms)
}

func seedGroup(t *testing.T, h *harness, memberPerms domain.Permission) *harness {
	t.Helper()
	h.dir.AddGroup(groupID, ownerID)
	require.NoError(t, h.dir.SetDefaultPermissions(groupID, memberPerms))
	require.NoError(t, h.dir.AddMember(groupID, memberID, 0))
	require.NoError(t, h.dir.AddMember(groupID, otherID, 0))
	return h
}

func connectGroup(t *testing.T, h *harness, s *Session) {
	t.Helper()
	h.mustSend(t, s, fmt.Sprintf(`{"event_type":"group_connect","group_id":%d}`, groupID))
}

// =============================================================================
// Membership
// =============================================================================

func TestGroup_ConnectRequiresMembership(t *testing.T) {
	h := groupHarness(t, 0)
	s, _ := h.open(t, 99)

	err := h.send(s, `{"event_type":"group_connect","group_id":12}`)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	m, _ := h.open(t, memberID)
	connectGroup(t, h, m)
	assert.ErrorIs(t, h.send(m, `{"event_type":"group_connect","group_id":12}`), ErrAlreadyJoined)

	h.mustSend(t, m, `{"event_type":"group_disconnect","group_id":12}`)
	assert.ErrorIs(t, h.send(m, `{"event_type":"group_disconnect","group_id":12}`), ErrNotJoined)
}

// =============================================================================
// Ban / unban
// =============================================================================

func TestGroup_BanEvictsAndBlocksRejoin(t *testing.T) {
	h := groupHarness(t, domain.PermSendMsg)

	owner, ownerRec := h.open(t, ownerID)
	member, memberRec := h.open(t, memberID)
	other, otherRec := h.open(t, otherID)
	connectGroup(t, h, owner)
	connectGroup(t, h, member)
	connectGroup(t, h, other)
	ownerRec.all(t)
	memberRec.all(t)
	otherRec.all(t)

	// The REST service bans first, then the owner's client announces it.
	require.NoError(t, h.dir.Ban(groupID, memberID, ownerID))
	h.mustSend(t, owner, `{"event_type":"group_ban","group_id":12,"ban":{"user":{"id":2},"reason":"spam"}}`)

	ownerFrames := ownerRec.all(t)
	assert.Equal(t, []string{"group/ban"}, events(ownerFrames), "ban is unfiltered, remove_members excludes the sender")
	assert.Equal(t, float64(memberID), decodeData(t, ownerFrames[0])["user_id"])

	otherEvents := events(otherRec.all(t))
	assert.ElementsMatch(t, []string{"group/remove_members", "group/ban"}, otherEvents)

	memberEvents := events(memberRec.all(t))
	assert.Contains(t, memberEvents, "user/remove_chat")

	drainControl(member)
	assert.False(t, member.Subscribed("group:12"))

	h.mustSend(t, owner, `{"event_type":"group_send","group_id":12,"data":{"text":"after"}}`)
	for _, f := range memberRec.all(t) {
		assert.NotEqual(t, "group", f.EventType, "evicted session must not get group events")
	}

	err := h.send(member, `{"event_type":"group_connect","group_id":12}`)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, err, domain.ErrBanned)
}

func TestGroup_BanRequiresPermission(t *testing.T) {
	h := groupHarness(t, domain.PermSendMsg)
	member, _ := h.open(t, memberID)
	connectGroup(t, h, member)

	err := h.send(member, `{"event_type":"group_ban","group_id":12,"ban":{"user":{"id":3}}}`)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestGroup_UnbanNotifiesOnlyOnlineUser(t *testing.T) {
	h := groupHarness(t, 0)
	owner, _ := h.open(t, ownerID)
	connectGroup(t, h, owner)

	require.NoError(t, h.dir.Ban(groupID, memberID, ownerID))
	h.dir.Unban(groupID, memberID)

	// nobody from user 2 is online: tap their user topic
	tap := make(chan *pubsub.Message, 4)
	sub, err := h.ps.Subscribe(context.Background(), pubsub.Topics.User(memberID), func(_ context.Context, m *pubsub.Message) {
		tap <- m
	})
	require.NoError(t, err)

	h.mustSend(t, owner, `{"event_type":"group_unban","group_id":12,"user_id":2}`)
	assert.Len(t, tap, 0)
	require.NoError(t, sub.Unsubscribe())

	_, memberRec := h.open(t, memberID)
	h.mustSend(t, owner, `{"event_type":"group_unban","group_id":12,"user_id":2}`)

	f := memberRec.next(t)
	assert.Equal(t, EventNewChat, f.Event)
	assert.Equal(t, "group", decodeData(t, f)["type"])
}

// =============================================================================
// Leave / kick
// =============================================================================

func TestGroup_LeaveDropsLeaverSessions(t *testing.T) {
	h := groupHarness(t, 0)
	owner, ownerRec := h.open(t, ownerID)
	member, _ := h.open(t, memberID)
	memberOther, memberOtherRec := h.open(t, memberID)
	connectGroup(t, h, owner)
	connectGroup(t, h, member)
	connectGroup(t, h, memberOther)
	ownerRec.all(t)

	h.dir.RemoveMember(groupID, memberID)
	h.mustSend(t, member, `{"event_type":"group_leave","group_id":12,"user_id":2}`)

	assert.Equal(t, []string{"group/remove_members"}, events(ownerRec.all(t)))
	assert.Contains(t, events(memberOtherRec.all(t)), "user/remove_chat")

	drainControl(member)
	drainControl(memberOther)
	assert.False(t, member.Subscribed("group:12"))
	assert.False(t, memberOther.Subscribed("group:12"))
}

func TestGroup_KickRequiresPermission(t *testing.T) {
	h := groupHarness(t, 0)
	member, _ := h.open(t, memberID)
	connectGroup(t, h, member)

	err := h.send(member, `{"event_type":"group_leave","group_id":12,"user_id":3}`)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestGroup_KickRequiresRank(t *testing.T) {
	h := groupHarness(t, 0)
	modRole, err := h.dir.AddRole(groupID, 10, domain.PermKickUser)
	require.NoError(t, err)
	require.NoError(t, h.dir.AddMember(groupID, 4, modRole))
	mod, _ := h.open(t, 4)
	connectGroup(t, h, mod)

	err = h.send(mod, `{"event_type":"group_leave","group_id":12,"user_id":1}`)
	assert.ErrorIs(t, err, ErrPermissionDenied, "cannot kick the owner")

	h.mustSend(t, mod, `{"event_type":"group_leave","group_id":12,"user_id":3}`)
}

// =============================================================================
// Invite / join / create / delete
// =============================================================================

func TestGroup_InviteNotifiesInviteesAndListeners(t *testing.T) {
	h := groupHarness(t, 0)
	owner, ownerRec := h.open(t, ownerID)
	other, otherRec := h.open(t, otherID)
	connectGroup(t, h, owner)
	connectGroup(t, h, other)
	_, inviteeRec := h.open(t, 5)
	ownerRec.all(t)

	require.NoError(t, h.dir.AddMember(groupID, 5, 0))
	h.mustSend(t, owner, `{"event_type":"group_invite","group_id":12,"members":[{"user":{"id":5}}]}`)

	f := inviteeRec.next(t)
	assert.Equal(t, EventNewChat, f.Event)
	inviteeRec.empty(t)

	f = otherRec.next(t)
	assert.Equal(t, EventNewMembers, f.Event)
	assert.Equal(t, float64(groupID), decodeData(t, f)["group_id"])
	ownerRec.empty(t)
}

func TestGroup_JoinWithoutConnect(t *testing.T) {
	h := groupHarness(t, 0)
	other, otherRec := h.open(t, otherID)
	connectGroup(t, h, other)

	joiner, joinerRec := h.open(t, 6)
	require.NoError(t, h.dir.AddMember(groupID, 6, 0))
	h.mustSend(t, joiner, `{"event_type":"group_join","group_id":12,"member":{"user":{"id":6}}}`)

	assert.Equal(t, []string{"group/new_members"}, events(otherRec.all(t)))
	joinerRec.empty(t)

	err := h.send(joiner, `{"event_type":"group_join","group_id":12,"member":{"user":{"id":7}}}`)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestGroup_CreatedReachesCreatorsOtherSessions(t *testing.T) {
	h := groupHarness(t, 0)
	s, rec := h.open(t, ownerID)
	_, otherRec := h.open(t, ownerID)

	h.mustSend(t, s, `{"event_type":"group_created","group_id":12}`)

	rec.empty(t)
	assert.Equal(t, []string{"user/new_chat"}, events(otherRec.all(t)))

	member, _ := h.open(t, memberID)
	assert.ErrorIs(t, h.send(member, `{"event_type":"group_created","group_id":12}`), ErrPermissionDenied)
}

func TestGroup_DeletedRemovesChatFromPeople(t *testing.T) {
	h := groupHarness(t, 0)
	owner, _ := h.open(t, ownerID)
	member, memberRec := h.open(t, memberID)
	connectGroup(t, h, owner)
	connectGroup(t, h, member)

	h.dir.DeleteGroup(groupID)
	h.mustSend(t, owner, `{"event_type":"group_deleted","group_id":12,"people":[1,2,3]}`)

	assert.Equal(t, []string{"user/remove_chat"}, events(memberRec.all(t)))
	drainControl(member)
	drainControl(owner)
	assert.False(t, member.Subscribed("group:12"))
	assert.False(t, owner.Subscribed("group:12"))
}

// =============================================================================
// Messages and roles
// =============================================================================

func TestGroup_SendPreviewsOnlineMembers(t *testing.T) {
	h := groupHarness(t, domain.PermSendMsg)
	member, memberRec := h.open(t, memberID)
	owner, ownerRec := h.open(t, ownerID)
	connectGroup(t, h, member)
	connectGroup(t, h, owner)
	memberRec.all(t)
	ownerRec.all(t)
	// user 3 is offline

	h.mustSend(t, member, `{"event_type":"group_send","group_id":12,"data":{"text":"hey"}}`)

	assert.ElementsMatch(t, []string{"group/new_msg", "user/new_msg"}, events(ownerRec.all(t)))
	memberRec.empty(t)
}

func TestGroup_SendRequiresPermission(t *testing.T) {
	h := groupHarness(t, 0)
	member, _ := h.open(t, memberID)
	connectGroup(t, h, member)

	err := h.send(member, `{"event_type":"group_send","group_id":12,"data":{"text":"hey"}}`)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestGroup_EditAndDeleteAreUnfiltered(t *testing.T) {
	h := groupHarness(t, 0)
	member, memberRec := h.open(t, memberID)
	connectGroup(t, h, member)

	h.mustSend(t, member, `{"event_type":"group_edit_msg","group_id":12,"msg_id":4,"data":{"text":"x"}}`)
	h.mustSend(t, member, `{"event_type":"group_del_msg","group_id":12,"msg_id":4}`)

	got := memberRec.all(t)
	assert.Equal(t, []string{"group/edit_msg", "group/del_msg"}, events(got))
	data := decodeData(t, got[0])
	assert.Equal(t, float64(groupID), data["group_id"])
	assert.Equal(t, map[string]any{"msg_id": float64(4), "data": map[string]any{"text": "x"}}, data["data"])
}

func TestGroup_RoleEvents(t *testing.T) {
	h := groupHarness(t, 0)
	owner, ownerRec := h.open(t, ownerID)
	connectGroup(t, h, owner)

	h.mustSend(t, owner, `{"event_type":"group_new_role","group_id":12,"role":{"id":30}}`)
	h.mustSend(t, owner, `{"event_type":"group_role_update","group_id":12,"role_id":30,"data":{"name":"mods"}}`)
	h.mustSend(t, owner, `{"event_type":"group_role_change","group_id":12,"user_id":2,"data":{"role_id":30}}`)
	ownerRec.empty(t)

	h.mustSend(t, owner, `{"event_type":"group_role_del","group_id":12,"role_id":30,"new_role":{"id":2}}`)
	f := ownerRec.next(t)
	assert.Equal(t, EventRoleDeleted, f.Event)
	assert.Equal(t, float64(30), decodeData(t, f)["role_id"])

	member, _ := h.open(t, memberID)
	connectGroup(t, h, member)
	assert.ErrorIs(t, h.send(member, `{"event_type":"group_new_role","group_id":12,"role":{"id":31}}`), ErrPermissionDenied)
}

// =============================================================================
// Directory failures
// =============================================================================

func TestGroup_DirectoryFailureIsNotPermissionDenied(t *testing.T) {
	ctrl := gomock.NewController(t)
	dir := mocks.NewMockDirectory(ctrl)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ps := pubsub.NewMemoryPubSub(logger)
	defer ps.Close()
	engine := NewEngine(Config{PubSub: ps, Presence: presence.NewMemoryTracker(), Directory: dir, Logger: logger})

	s, err := engine.Open(context.Background(), memberID, newRecorder())
	require.NoError(t, err)
	defer engine.Close(context.Background(), s)

	outage := errors.New("connection refused")
	dir.EXPECT().Membership(gomock.Any(), memberID, domain.GroupRef(groupID)).Return(nil, outage)

	err = engine.Router().Handle(context.Background(), s, []byte(`{"event_type":"group_connect","group_id":12}`))
	assert.ErrorIs(t, err, outage)
	assert.NotErrorIs(t, err, ErrPermissionDenied)
}

func TestGroup_MembershipCachedOnConnect(t *testing.T) {
	ctrl := gomock.NewController(t)
	dir := mocks.NewMockDirectory(ctrl)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ps := pubsub.NewMemoryPubSub(logger)
	defer ps.Close()
	engine := NewEngine(Config{PubSub: ps, Presence: presence.NewMemoryTracker(), Directory: dir, Logger: logger})

	s, err := engine.Open(context.Background(), ownerID, newRecorder())
	require.NoError(t, err)
	defer engine.Close(context.Background(), s)

	owner := &domain.Membership{Ref: domain.GroupRef(groupID), UserID: ownerID, Role: &domain.Role{IsOwner: true}}
	dir.EXPECT().Membership(gomock.Any(), ownerID, domain.GroupRef(groupID)).Return(owner, nil).Times(1)

	require.NoError(t, engine.Router().Handle(context.Background(), s, []byte(`{"event_type":"group_connect","group_id":12}`)))

	// delete is authorized from the cache, without asking the directory again
	require.NoError(t, engine.Router().Handle(context.Background(), s, []byte(`{"event_type":"group_deleted","group_id":12,"people":[2]}`)))
}
