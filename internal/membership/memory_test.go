package membership

import (
	"context"
	"testing"

	"github.com/observer/chatwire/internal/domain"
	"github.com/observer/chatwire/internal/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDirectory_ChatMembership(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory(presence.NewMemoryTracker())
	dir.AddChat(7, 1, 2)

	m, err := dir.Membership(ctx, 1, domain.ChatRef(7))
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.CompanionID)

	companion, err := dir.ChatCompanionID(ctx, 7, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), companion)

	_, err = dir.Membership(ctx, 3, domain.ChatRef(7))
	assert.ErrorIs(t, err, domain.ErrNotMember)

	_, err = dir.Membership(ctx, 1, domain.ChatRef(8))
	assert.ErrorIs(t, err, domain.ErrNotMember)
}

func TestMemoryDirectory_GroupRoles(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory(presence.NewMemoryTracker())
	dir.AddGroup(12, 1)
	modRole, err := dir.AddRole(12, 10, domain.PermBanUser|domain.PermKickUser)
	require.NoError(t, err)
	require.NoError(t, dir.AddMember(12, 2, modRole))
	require.NoError(t, dir.AddMember(12, 3, 0))

	owner, err := dir.Role(ctx, 1, 12)
	require.NoError(t, err)
	assert.True(t, owner.IsOwner)

	mod, err := dir.Role(ctx, 2, 12)
	require.NoError(t, err)
	assert.True(t, mod.Has(domain.PermBanUser))

	member, err := dir.Role(ctx, 3, 12)
	require.NoError(t, err)
	assert.True(t, member.IsDefault)
	assert.False(t, member.Has(domain.PermSendMsg))

	require.NoError(t, dir.SetDefaultPermissions(12, domain.PermSendMsg))
	member, _ = dir.Role(ctx, 3, 12)
	assert.True(t, member.Has(domain.PermSendMsg))
}

func TestMemoryDirectory_BanExcludesMembership(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory(presence.NewMemoryTracker())
	dir.AddGroup(12, 1)
	require.NoError(t, dir.AddMember(12, 2, 0))

	require.NoError(t, dir.Ban(12, 2, 1))

	_, err := dir.Membership(ctx, 2, domain.GroupRef(12))
	assert.ErrorIs(t, err, domain.ErrBanned)
	assert.ErrorIs(t, dir.AddMember(12, 2, 0), domain.ErrBanned)

	dir.Unban(12, 2)
	_, err = dir.Membership(ctx, 2, domain.GroupRef(12))
	assert.ErrorIs(t, err, domain.ErrNotMember, "unban does not restore membership")
}

func TestMemoryDirectory_OnlineMemberIDs(t *testing.T) {
	ctx := context.Background()
	tracker := presence.NewMemoryTracker()
	dir := NewMemoryDirectory(tracker)
	dir.AddGroup(12, 1)
	require.NoError(t, dir.AddMember(12, 2, 0))
	require.NoError(t, dir.AddMember(12, 3, 0))

	tracker.Connect(ctx, 3)
	tracker.Connect(ctx, 1)
	tracker.Connect(ctx, 99)

	online, err := dir.OnlineMemberIDs(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, online)

	_, err = dir.OnlineMemberIDs(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
