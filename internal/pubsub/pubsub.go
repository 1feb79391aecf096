// Package pubsub provides the topic registry that realtime sessions subscribe to.
// The in-memory implementation serves a single instance; the Redis implementation
// lets sessions on different instances share topics.
package pubsub

import (
	"context"
	"encoding/json"
	"strconv"
)

// Delivery types carried by every message.
const (
	// TypeJSON is delivered to every subscriber of the topic.
	TypeJSON = "send.json"
	// TypeExclude is delivered to every subscriber except the session named in Sender.
	TypeExclude = "send.exclude"
)

// Message is what travels through the registry. Payload is the client frame,
// encoded once by the publisher.
type Message struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Sender  string          `json:"sender,omitempty"`
	Payload json.RawMessage `json:"payload"`

	// Drop lists topics every receiving session must leave once the
	// message has been handled.
	Drop []string `json:"drop,omitempty"`
}

// Handler is a callback for processing messages.
// Handlers run on the delivering goroutine in publish order and must not block.
type Handler func(ctx context.Context, msg *Message)

// Subscription represents an active subscription that can be closed
type Subscription interface {
	// Unsubscribe removes the subscription. A second call returns ErrNotSubscribed.
	Unsubscribe() error
}

// PubSub defines the interface for publish/subscribe operations.
// All implementations must be safe for concurrent use.
type PubSub interface {
	// Publish sends a message to the subscribers of the topic at call time.
	// Local handlers run synchronously in publish order and must not block.
	Publish(ctx context.Context, topic string, msg *Message) error

	// Subscribe registers a handler for messages on the given topic.
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)

	// Close shuts down the pub/sub system and releases resources.
	Close() error
}

// TopicBuilder helps construct consistent topic names
type TopicBuilder struct{}

// User returns the topic every session of a user listens on
func (t TopicBuilder) User(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// Watch returns the presence and profile topic of a user
func (t TopicBuilder) Watch(userID int64) string {
	return "watch:" + strconv.FormatInt(userID, 10)
}

// Chat returns the topic of a 1:1 chat
func (t TopicBuilder) Chat(chatID int64) string {
	return "chat:" + strconv.FormatInt(chatID, 10)
}

// Group returns the topic of a group
func (t TopicBuilder) Group(groupID int64) string {
	return "group:" + strconv.FormatInt(groupID, 10)
}

// Topics is a helper for building topic names
var Topics = TopicBuilder{}
