package database

import (
	"context"
	"os"
	"testing"

	"github.com/observer/chatwire/internal/domain"
	"github.com/observer/chatwire/internal/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Embedded(t *testing.T) {
	got, err := migrations(migrationFS)
	require.NoError(t, err)
	require.NotEmpty(t, got)

	assert.Equal(t, int64(1), got[0].version)
	assert.Equal(t, "000001_membership.up.sql", got[0].file)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].version, got[i].version)
	}
}

// testDB connects to CHATWIRE_TEST_DATABASE_URL, applies migrations and
// empties the membership tables. Tests are skipped when it is unset.
func testDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("CHATWIRE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CHATWIRE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, EnsureSchema(ctx, db))
	_, err = db.Pool.Exec(ctx, `TRUNCATE chats, groups, group_roles, group_members, group_bans RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return db
}

func TestMembershipRepository(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	exec := func(sql string, args ...any) {
		t.Helper()
		_, err := db.Pool.Exec(ctx, sql, args...)
		require.NoError(t, err)
	}
	exec(`INSERT INTO chats (id, user_a, user_b) VALUES (7, 1, 2)`)
	exec(`INSERT INTO groups (id, name, owner_id) VALUES (12, 'g', 1)`)
	exec(`INSERT INTO group_roles (id, group_id, name, priority, permissions, is_owner) VALUES (1, 12, 'owner', 0, 0, TRUE)`)
	exec(`INSERT INTO group_roles (id, group_id, name, priority, permissions, is_default) VALUES (2, 12, 'member', 10, $1, TRUE)`, int64(domain.PermSendMsg))
	exec(`INSERT INTO group_members (group_id, user_id, role_id) VALUES (12, 1, 1), (12, 2, 2), (12, 3, 2)`)
	exec(`INSERT INTO group_bans (group_id, user_id, banned_by) VALUES (12, 3, 1)`)

	tracker := presence.NewMemoryTracker()
	repo := NewMembershipRepository(db, tracker)

	t.Run("chat companion", func(t *testing.T) {
		id, err := repo.ChatCompanionID(ctx, 7, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(1), id)

		_, err = repo.ChatCompanionID(ctx, 7, 5)
		assert.ErrorIs(t, err, domain.ErrNotMember)
	})

	t.Run("group roles", func(t *testing.T) {
		owner, err := repo.Role(ctx, 1, 12)
		require.NoError(t, err)
		assert.True(t, owner.IsOwner)

		member, err := repo.Role(ctx, 2, 12)
		require.NoError(t, err)
		assert.True(t, member.Has(domain.PermSendMsg))
		assert.False(t, member.Has(domain.PermBanUser))
		assert.True(t, owner.Outranks(member))
	})

	t.Run("banned and absent", func(t *testing.T) {
		_, err := repo.Membership(ctx, 3, domain.GroupRef(12))
		assert.ErrorIs(t, err, domain.ErrBanned)

		_, err = repo.Membership(ctx, 9, domain.GroupRef(12))
		assert.ErrorIs(t, err, domain.ErrNotMember)

		_, err = repo.Membership(ctx, 1, domain.GroupRef(99))
		assert.ErrorIs(t, err, domain.ErrNotMember)
	})

	t.Run("online members skip offline and banned", func(t *testing.T) {
		for _, id := range []int64{2, 3} {
			_, err := tracker.Connect(ctx, id)
			require.NoError(t, err)
		}

		ids, err := repo.OnlineMemberIDs(ctx, 12)
		require.NoError(t, err)
		assert.Equal(t, []int64{2}, ids)
	})
}
