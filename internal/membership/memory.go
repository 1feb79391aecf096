package membership

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/observer/chatwire/internal/domain"
	"github.com/observer/chatwire/internal/presence"
)

type memoryGroup struct {
	ownerID       int64
	defaultRoleID int64
	roles         map[int64]*domain.Role
	members       map[int64]int64 // user -> role
	joined        map[int64]time.Time
	bans          map[int64]domain.Ban
}

// MemoryDirectory keeps memberships in process memory.
// It backs development mode and tests.
type MemoryDirectory struct {
	mu         sync.RWMutex
	chats      map[int64][2]int64
	groups     map[int64]*memoryGroup
	nextRoleID int64
	presence   presence.Tracker
}

func NewMemoryDirectory(tracker presence.Tracker) *MemoryDirectory {
	return &MemoryDirectory{
		chats:    make(map[int64][2]int64),
		groups:   make(map[int64]*memoryGroup),
		presence: tracker,
	}
}

// AddChat registers a 1:1 chat between two users
func (d *MemoryDirectory) AddChat(chatID, userA, userB int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chats[chatID] = [2]int64{userA, userB}
}

// AddGroup creates a group with an owner role held by ownerID and an empty default role.
// It returns the ids of both roles.
func (d *MemoryDirectory) AddGroup(groupID, ownerID int64) (ownerRoleID, defaultRoleID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	g := &memoryGroup{
		ownerID: ownerID,
		roles:   make(map[int64]*domain.Role),
		members: make(map[int64]int64),
		joined:  make(map[int64]time.Time),
		bans:    make(map[int64]domain.Ban),
	}
	d.groups[groupID] = g

	owner := d.newRole(g, groupID, domain.Role{Priority: 0, IsOwner: true})
	def := d.newRole(g, groupID, domain.Role{Priority: 1000, IsDefault: true})
	g.defaultRoleID = def.ID

	g.members[ownerID] = owner.ID
	g.joined[ownerID] = time.Now()
	return owner.ID, def.ID
}

// AddRole creates a role in a group and returns its id
func (d *MemoryDirectory) AddRole(groupID int64, priority int, perms domain.Permission) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	g, ok := d.groups[groupID]
	if !ok {
		return 0, fmt.Errorf("group %d: %w", groupID, domain.ErrNotFound)
	}
	return d.newRole(g, groupID, domain.Role{Priority: priority, Permissions: perms}).ID, nil
}

// SetDefaultPermissions changes what members holding the default role may do
func (d *MemoryDirectory) SetDefaultPermissions(groupID int64, perms domain.Permission) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	g, ok := d.groups[groupID]
	if !ok {
		return fmt.Errorf("group %d: %w", groupID, domain.ErrNotFound)
	}
	g.roles[g.defaultRoleID].Permissions = perms
	return nil
}

func (d *MemoryDirectory) newRole(g *memoryGroup, groupID int64, r domain.Role) *domain.Role {
	d.nextRoleID++
	r.ID = d.nextRoleID
	r.GroupID = groupID
	g.roles[r.ID] = &r
	return &r
}

// AddMember puts a user in a group. roleID 0 selects the default role.
func (d *MemoryDirectory) AddMember(groupID, userID, roleID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	g, ok := d.groups[groupID]
	if !ok {
		return fmt.Errorf("group %d: %w", groupID, domain.ErrNotFound)
	}
	if _, banned := g.bans[userID]; banned {
		return domain.ErrBanned
	}
	if roleID == 0 {
		roleID = g.defaultRoleID
	}
	if _, ok := g.roles[roleID]; !ok {
		return fmt.Errorf("role %d: %w", roleID, domain.ErrNotFound)
	}
	g.members[userID] = roleID
	g.joined[userID] = time.Now()
	return nil
}

// RemoveMember takes a user out of a group
func (d *MemoryDirectory) RemoveMember(groupID, userID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if g, ok := d.groups[groupID]; ok {
		delete(g.members, userID)
		delete(g.joined, userID)
	}
}

// Ban removes a user from a group and records the ban
func (d *MemoryDirectory) Ban(groupID, userID, bannedBy int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	g, ok := d.groups[groupID]
	if !ok {
		return fmt.Errorf("group %d: %w", groupID, domain.ErrNotFound)
	}
	delete(g.members, userID)
	delete(g.joined, userID)
	g.bans[userID] = domain.Ban{GroupID: groupID, UserID: userID, BannedBy: bannedBy, BannedAt: time.Now()}
	return nil
}

// Unban lifts a ban; the user still has to join again
func (d *MemoryDirectory) Unban(groupID, userID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if g, ok := d.groups[groupID]; ok {
		delete(g.bans, userID)
	}
}

// DeleteGroup forgets a group and everything in it
func (d *MemoryDirectory) DeleteGroup(groupID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.groups, groupID)
}

func (d *MemoryDirectory) Membership(_ context.Context, userID int64, ref domain.Ref) (*domain.Membership, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch ref.Kind {
	case domain.KindChat:
		pair, ok := d.chats[ref.ID]
		if !ok {
			return nil, fmt.Errorf("chat %d: %w", ref.ID, domain.ErrNotMember)
		}
		switch userID {
		case pair[0]:
			return &domain.Membership{Ref: ref, UserID: userID, CompanionID: pair[1]}, nil
		case pair[1]:
			return &domain.Membership{Ref: ref, UserID: userID, CompanionID: pair[0]}, nil
		}
		return nil, fmt.Errorf("chat %d: %w", ref.ID, domain.ErrNotMember)

	case domain.KindGroup:
		g, ok := d.groups[ref.ID]
		if !ok {
			return nil, fmt.Errorf("group %d: %w", ref.ID, domain.ErrNotMember)
		}
		if _, banned := g.bans[userID]; banned {
			return nil, fmt.Errorf("group %d: %w", ref.ID, domain.ErrBanned)
		}
		roleID, ok := g.members[userID]
		if !ok {
			return nil, fmt.Errorf("group %d: %w", ref.ID, domain.ErrNotMember)
		}
		role := *g.roles[roleID]
		return &domain.Membership{Ref: ref, UserID: userID, Role: &role, JoinedAt: g.joined[userID]}, nil
	}

	return nil, fmt.Errorf("unknown conversation kind %q", ref.Kind)
}

func (d *MemoryDirectory) Role(ctx context.Context, userID, groupID int64) (*domain.Role, error) {
	m, err := d.Membership(ctx, userID, domain.GroupRef(groupID))
	if err != nil {
		return nil, err
	}
	return m.Role, nil
}

func (d *MemoryDirectory) OnlineMemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	d.mu.RLock()
	g, ok := d.groups[groupID]
	if !ok {
		d.mu.RUnlock()
		return nil, fmt.Errorf("group %d: %w", groupID, domain.ErrNotFound)
	}
	ids := make([]int64, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	d.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return d.presence.Online(ctx, ids)
}

func (d *MemoryDirectory) ChatCompanionID(ctx context.Context, chatID, userID int64) (int64, error) {
	m, err := d.Membership(ctx, userID, domain.ChatRef(chatID))
	if err != nil {
		return 0, err
	}
	return m.CompanionID, nil
}
