package domain

import "time"

type ConversationKind string

const (
	KindChat  ConversationKind = "chat"
	KindGroup ConversationKind = "group"
)

// Ref identifies a chat or a group
type Ref struct {
	Kind ConversationKind
	ID   int64
}

func ChatRef(id int64) Ref  { return Ref{Kind: KindChat, ID: id} }
func GroupRef(id int64) Ref { return Ref{Kind: KindGroup, ID: id} }

// Permission is a bit in a group role's permission mask
type Permission uint64

const (
	PermSendMsg Permission = 1 << iota
	PermDeleteMsg
	PermKickUser
	PermBanUser
	PermUnbanUser
	PermAddUser
	PermEditGroup
	PermManageRole
)

// Role is the part of a group role the realtime layer needs
type Role struct {
	ID          int64      `json:"id"`
	GroupID     int64      `json:"group_id"`
	Priority    int        `json:"priority"` // lower outranks higher
	Permissions Permission `json:"permissions"`
	IsOwner     bool       `json:"is_owner"`
	IsDefault   bool       `json:"is_default"`
}

// Has reports whether the role grants p. Owners hold every permission.
func (r *Role) Has(p Permission) bool {
	if r == nil {
		return false
	}
	return r.IsOwner || r.Permissions&p == p
}

// Outranks reports whether r may act on a member holding other
func (r *Role) Outranks(other *Role) bool {
	if r == nil {
		return false
	}
	if r.IsOwner {
		return true
	}
	return other != nil && !other.IsOwner && r.Priority < other.Priority
}

// Membership is a user's participation in a chat or group.
// For chats CompanionID is the other participant; for groups Role is set.
type Membership struct {
	Ref         Ref
	UserID      int64
	CompanionID int64
	Role        *Role
	JoinedAt    time.Time
}

// Ban records that a user may not take part in a group
type Ban struct {
	GroupID  int64
	UserID   int64
	BannedBy int64
	Reason   string
	BannedAt time.Time
}
