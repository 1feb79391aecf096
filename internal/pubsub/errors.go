package pubsub

import "errors"

var (
	// ErrClosed is returned when operations are attempted on a closed PubSub
	ErrClosed = errors.New("pubsub: closed")

	// ErrNotSubscribed is returned when a subscription is removed twice
	ErrNotSubscribed = errors.New("pubsub: not subscribed")
)
