// Package membership defines the read-only view of chats, groups, roles and
// bans the realtime layer consults before joining topics or fanning out.
package membership

import (
	"context"

	"github.com/observer/chatwire/internal/domain"
)

//go:generate mockgen -source=directory.go -destination=../mocks/mock_directory.go -package=mocks

// Directory answers membership questions. Writes happen elsewhere; by the time
// an event reaches the realtime layer the Directory already reflects it.
type Directory interface {
	// Membership returns the user's participation in a chat or group.
	// Absent or banned users yield an error wrapping domain.ErrNotMember or domain.ErrBanned.
	Membership(ctx context.Context, userID int64, ref domain.Ref) (*domain.Membership, error)

	// Role returns the user's role in a group.
	Role(ctx context.Context, userID, groupID int64) (*domain.Role, error)

	// OnlineMemberIDs returns members of a group that currently have an open session.
	OnlineMemberIDs(ctx context.Context, groupID int64) ([]int64, error)

	// ChatCompanionID returns the other participant of a 1:1 chat.
	ChatCompanionID(ctx context.Context, chatID, userID int64) (int64, error)
}
