package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/observer/chatwire/internal/domain"
	"github.com/observer/chatwire/internal/membership"
	"github.com/observer/chatwire/internal/presence"
)

// MembershipRepository answers membership questions from Postgres. The
// tables are written by the REST service; this side only reads.
type MembershipRepository struct {
	db       *DB
	presence presence.Tracker
}

var _ membership.Directory = (*MembershipRepository)(nil)

func NewMembershipRepository(db *DB, tracker presence.Tracker) *MembershipRepository {
	return &MembershipRepository{db: db, presence: tracker}
}

func (r *MembershipRepository) Membership(ctx context.Context, userID int64, ref domain.Ref) (*domain.Membership, error) {
	switch ref.Kind {
	case domain.KindChat:
		return r.chatMembership(ctx, userID, ref.ID)
	case domain.KindGroup:
		return r.groupMembership(ctx, userID, ref.ID)
	}
	return nil, fmt.Errorf("unknown conversation kind %q", ref.Kind)
}

func (r *MembershipRepository) chatMembership(ctx context.Context, userID, chatID int64) (*domain.Membership, error) {
	m := &domain.Membership{Ref: domain.ChatRef(chatID), UserID: userID}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT CASE WHEN user_a = $2 THEN user_b ELSE user_a END, created_at
		FROM chats
		WHERE id = $1 AND (user_a = $2 OR user_b = $2)
	`, chatID, userID).Scan(&m.CompanionID, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("chat %d: %w", chatID, domain.ErrNotMember)
	}
	if err != nil {
		return nil, fmt.Errorf("chat %d membership: %w", chatID, err)
	}
	return m, nil
}

// groupMembership reads the member row and checks bans in one round trip.
func (r *MembershipRepository) groupMembership(ctx context.Context, userID, groupID int64) (*domain.Membership, error) {
	var (
		banned bool
		member bool
		perms  int64
		role   domain.Role
		m      = &domain.Membership{Ref: domain.GroupRef(groupID), UserID: userID}
	)
	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			EXISTS(SELECT 1 FROM group_bans b WHERE b.group_id = $1 AND b.user_id = $2),
			gm.user_id IS NOT NULL,
			COALESCE(gr.id, 0), COALESCE(gr.priority, 0), COALESCE(gr.permissions, 0),
			COALESCE(gr.is_owner, FALSE), COALESCE(gr.is_default, FALSE),
			COALESCE(gm.joined_at, NOW())
		FROM groups g
		LEFT JOIN group_members gm ON gm.group_id = g.id AND gm.user_id = $2
		LEFT JOIN group_roles gr ON gr.id = gm.role_id
		WHERE g.id = $1
	`, groupID, userID).Scan(
		&banned, &member,
		&role.ID, &role.Priority, &perms,
		&role.IsOwner, &role.IsDefault,
		&m.JoinedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("group %d: %w", groupID, domain.ErrNotMember)
	}
	if err != nil {
		return nil, fmt.Errorf("group %d membership: %w", groupID, err)
	}

	switch {
	case banned:
		return nil, fmt.Errorf("group %d: %w", groupID, domain.ErrBanned)
	case !member:
		return nil, fmt.Errorf("group %d: %w", groupID, domain.ErrNotMember)
	}

	role.GroupID = groupID
	role.Permissions = domain.Permission(perms)
	m.Role = &role
	return m, nil
}

func (r *MembershipRepository) Role(ctx context.Context, userID, groupID int64) (*domain.Role, error) {
	m, err := r.groupMembership(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	return m.Role, nil
}

// OnlineMemberIDs lists the group's non-banned members and keeps those with
// an open session.
func (r *MembershipRepository) OnlineMemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT gm.user_id
		FROM group_members gm
		WHERE gm.group_id = $1
		  AND NOT EXISTS (SELECT 1 FROM group_bans b WHERE b.group_id = gm.group_id AND b.user_id = gm.user_id)
		ORDER BY gm.user_id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("group %d members: %w", groupID, err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("group %d members: %w", groupID, err)
	}
	return r.presence.Online(ctx, ids)
}

func (r *MembershipRepository) ChatCompanionID(ctx context.Context, chatID, userID int64) (int64, error) {
	m, err := r.chatMembership(ctx, userID, chatID)
	if err != nil {
		return 0, err
	}
	return m.CompanionID, nil
}
