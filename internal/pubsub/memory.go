package pubsub

import (
	"context"
	"log/slog"
)

// MemoryPubSub implements PubSub using an in-memory map.
// Suitable for single-instance deployments.
type MemoryPubSub struct {
	reg    *registry
	logger *slog.Logger
}

// NewMemoryPubSub creates a new in-memory pub/sub instance
func NewMemoryPubSub(logger *slog.Logger) *MemoryPubSub {
	return &MemoryPubSub{
		reg:    newRegistry(),
		logger: logger.With("component", "pubsub", "backend", "memory"),
	}
}

// Publish sends a message to all subscribers of the topic
func (ps *MemoryPubSub) Publish(ctx context.Context, topic string, msg *Message) error {
	if ps.reg.isClosed() {
		return ErrClosed
	}

	n := ps.reg.deliver(ctx, topic, msg)
	ps.logger.Debug("published to topic", "topic", topic, "msg_type", msg.Type, "subscriber_count", n)
	return nil
}

// Subscribe registers a handler for the given topic
func (ps *MemoryPubSub) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	id, _, err := ps.reg.add(topic, handler)
	if err != nil {
		return nil, err
	}

	return subscriptionFunc(func() error {
		_, err := ps.reg.remove(topic, id)
		return err
	}), nil
}

// Close shuts down the pub/sub and prevents new operations
func (ps *MemoryPubSub) Close() error {
	ps.reg.close()
	return nil
}

// SubscriberCount returns the number of subscribers for a topic (useful for testing)
func (ps *MemoryPubSub) SubscriberCount(topic string) int {
	return ps.reg.count(topic)
}

// TopicCount returns the number of active topics (useful for testing)
func (ps *MemoryPubSub) TopicCount() int {
	return len(ps.reg.topics())
}
