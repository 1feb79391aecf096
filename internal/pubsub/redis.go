package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis parses url and verifies the server is reachable.
// url should be in the format: redis://host:port or redis://:password@host:port
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisPubSub implements PubSub using Redis pub/sub for horizontal scaling.
// Messages published on one instance are received by subscribers on all instances.
// All local subscriptions share one Redis connection; a Redis channel is
// subscribed while at least one local handler listens on it.
type RedisPubSub struct {
	client *redis.Client
	conn   *redis.PubSub
	reg    *registry
	// serializes SUBSCRIBE/UNSUBSCRIBE against local first/last transitions
	subMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewRedisPubSub creates a Redis-backed pub/sub on top of an existing client.
// The caller keeps ownership of client.
func NewRedisPubSub(client *redis.Client, logger *slog.Logger) *RedisPubSub {
	ctx, cancel := context.WithCancel(context.Background())
	ps := &RedisPubSub{
		client: client,
		conn:   client.Subscribe(ctx),
		reg:    newRegistry(),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logger.With("component", "pubsub", "backend", "redis"),
	}

	go ps.receiveMessages(ctx)
	return ps
}

// Publish sends a message to all subscribers of the topic across all instances.
func (ps *RedisPubSub) Publish(ctx context.Context, topic string, msg *Message) error {
	if ps.reg.isClosed() {
		return ErrClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	result := ps.client.Publish(ctx, topic, data)
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	ps.logger.Debug("published to topic", "topic", topic, "msg_type", msg.Type, "instances", result.Val())
	return nil
}

// Subscribe registers a handler for messages on the given topic.
func (ps *RedisPubSub) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	ps.subMu.Lock()
	defer ps.subMu.Unlock()

	id, first, err := ps.reg.add(topic, handler)
	if err != nil {
		return nil, err
	}

	if first {
		if err := ps.conn.Subscribe(ctx, topic); err != nil {
			_, _ = ps.reg.remove(topic, id)
			return nil, fmt.Errorf("failed to subscribe to redis channel: %w", err)
		}
		ps.logger.Debug("subscribed to channel", "topic", topic)
	}

	return subscriptionFunc(func() error {
		return ps.unsubscribe(topic, id)
	}), nil
}

func (ps *RedisPubSub) unsubscribe(topic string, id uint64) error {
	ps.subMu.Lock()
	defer ps.subMu.Unlock()

	last, err := ps.reg.remove(topic, id)
	if err != nil {
		return err
	}
	if last {
		if err := ps.conn.Unsubscribe(context.Background(), topic); err != nil {
			return fmt.Errorf("failed to unsubscribe from redis channel: %w", err)
		}
		ps.logger.Debug("unsubscribed from channel", "topic", topic)
	}
	return nil
}

// receiveMessages reads the shared connection and dispatches to local handlers
func (ps *RedisPubSub) receiveMessages(ctx context.Context) {
	defer close(ps.done)
	ch := ps.conn.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case redisMsg, ok := <-ch:
			if !ok {
				return
			}

			var msg Message
			if err := json.Unmarshal([]byte(redisMsg.Payload), &msg); err != nil {
				ps.logger.Error("failed to unmarshal message", "error", err, "topic", redisMsg.Channel)
				continue
			}

			ps.reg.deliver(ctx, redisMsg.Channel, &msg)
		}
	}
}

// Close shuts down the shared subscription connection
func (ps *RedisPubSub) Close() error {
	if !ps.reg.close() {
		return nil
	}

	ps.cancel()
	err := ps.conn.Close()
	<-ps.done
	if err != nil {
		return fmt.Errorf("failed to close redis subscription: %w", err)
	}

	ps.logger.Info("redis pubsub closed")
	return nil
}

// SubscriberCount returns the number of local subscribers for a topic.
// Note: This only counts subscribers on this instance, not across the cluster.
func (ps *RedisPubSub) SubscriberCount(topic string) int {
	return ps.reg.count(topic)
}
