package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/observer/chatwire/internal/pubsub"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentNotifications bounds the per-event fan-out to user topics.
const maxConcurrentNotifications = 32

// actor is who an event is published on behalf of. Triggers from the REST
// service have no session.
type actor struct {
	session *Session
}

func (a actor) origin() string {
	if a.session == nil {
		return ""
	}
	return a.session.ID
}

// Fanout publishes envelopes through the registry.
type Fanout struct {
	ps     pubsub.PubSub
	logger *slog.Logger
}

// NewFanout creates a Fanout publishing through ps.
func NewFanout(ps pubsub.PubSub, logger *slog.Logger) *Fanout {
	return &Fanout{ps: ps, logger: logger.With("component", "fanout")}
}

func (f *Fanout) publish(ctx context.Context, topic string, family Family, event string, data any, opts publishOptions) error {
	msg, err := encode(topic, family, event, data, opts)
	if err != nil {
		return err
	}
	if err := f.ps.Publish(ctx, topic, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, topic, err)
	}
	return nil
}

// SendTopicEvent publishes to a chat or group topic. With requireSubscribed the
// acting session must have joined the topic.
func (f *Fanout) SendTopicEvent(ctx context.Context, a actor, topic string, family Family, event string, data any, exclude, requireSubscribed bool) error {
	if requireSubscribed && a.session != nil && !a.session.Subscribed(topic) {
		return fmt.Errorf("%s: %w", topic, ErrNotSubscribed)
	}
	return f.publish(ctx, topic, family, event, data, publishOptions{origin: a.origin(), exclude: exclude})
}

// NotifyUser publishes a user event to every session of userID except the acting one.
// Receivers leave the drop topics.
func (f *Fanout) NotifyUser(ctx context.Context, a actor, userID int64, event string, data any, drop ...string) error {
	err := f.publish(ctx, pubsub.Topics.User(userID), FamilyUser, event, data, publishOptions{
		origin:  a.origin(),
		exclude: true,
		drop:    drop,
	})
	if err != nil {
		return fmt.Errorf("%w: user %d: %w", ErrRecipientUnreachable, userID, err)
	}
	return nil
}

// NotifyUsers notifies each user concurrently. Failures are logged per
// recipient and never stop the others.
func (f *Fanout) NotifyUsers(ctx context.Context, a actor, ids []int64, event string, data any, drop ...string) {
	var g errgroup.Group
	g.SetLimit(maxConcurrentNotifications)

	for _, id := range lo.Uniq(ids) {
		id := id
		g.Go(func() error {
			if err := f.NotifyUser(ctx, a, id, event, data, drop...); err != nil {
				f.logger.Warn("notification not delivered", "event", event, "user_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// gather runs independent notifications concurrently and waits for all of
// them. It returns every failure joined.
func gather(ctx context.Context, tasks ...func(context.Context) error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if err := task(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
