package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/observer/chatwire/internal/pubsub"
)

// WatchManager subscribes sessions to other users' presence and profile changes.
type WatchManager struct {
	fan *Fanout
}

// NewWatchManager creates a WatchManager.
func NewWatchManager(fan *Fanout) *WatchManager {
	return &WatchManager{fan: fan}
}

// Watch subscribes the session to a user's presence announcements.
func (m *WatchManager) Watch(ctx context.Context, s *Session, userID int64) error {
	return s.join(ctx, pubsub.Topics.Watch(userID), nil)
}

// Unwatch stops following a user. A session always follows itself.
func (m *WatchManager) Unwatch(_ context.Context, s *Session, userID int64) error {
	if userID == s.UserID {
		return fmt.Errorf("%w: cannot unwatch yourself", ErrPermissionDenied)
	}
	return s.leave(pubsub.Topics.Watch(userID))
}

// ProfileEdited tells the user's watchers, and their other sessions, about a profile change.
func (m *WatchManager) ProfileEdited(ctx context.Context, s *Session, data json.RawMessage) error {
	return m.fan.publish(ctx, pubsub.Topics.Watch(s.UserID), FamilyUser, EventProfileEdited,
		watchData{UserID: s.UserID, Data: data}, publishOptions{origin: s.ID, exclude: true})
}

func (m *WatchManager) announce(ctx context.Context, s *Session, event string) error {
	return m.fan.publish(ctx, pubsub.Topics.Watch(s.UserID), FamilyUser, event,
		watchData{UserID: s.UserID}, publishOptions{origin: s.ID, exclude: true})
}
