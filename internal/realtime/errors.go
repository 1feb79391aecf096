package realtime

import (
	"errors"
	"fmt"

	"github.com/observer/chatwire/internal/domain"
	"github.com/observer/chatwire/internal/pubsub"
)

var (
	ErrAlreadyJoined        = errors.New("realtime: already joined")
	ErrNotJoined            = errors.New("realtime: not joined")
	ErrPermissionDenied     = errors.New("realtime: permission denied")
	ErrUnknownEvent         = errors.New("realtime: unknown event")
	ErrMalformedEnvelope    = errors.New("realtime: malformed envelope")
	ErrRecipientUnreachable = errors.New("realtime: recipient unreachable")
	ErrSessionClosed        = errors.New("realtime: session closed")

	// ErrNotSubscribed is returned when an event targets a topic the session has not joined.
	ErrNotSubscribed = pubsub.ErrNotSubscribed
)

// denied turns a membership miss into ErrPermissionDenied and passes other
// directory failures through.
func denied(err error) error {
	if errors.Is(err, domain.ErrNotMember) || errors.Is(err, domain.ErrBanned) || errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	return err
}
