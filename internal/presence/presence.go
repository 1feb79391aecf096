// Package presence counts open sessions per user and reports when a user
// comes online or goes offline.
package presence

import "context"

// Tracker is shared by every session. Connect and Disconnect must be called
// exactly once per session.
type Tracker interface {
	// Connect registers a session and reports whether it is the user's first.
	Connect(ctx context.Context, userID int64) (first bool, err error)

	// Disconnect unregisters a session and reports whether it was the user's last.
	Disconnect(ctx context.Context, userID int64) (last bool, err error)

	// Count returns the number of open sessions of a user.
	Count(ctx context.Context, userID int64) (int, error)

	// Online filters ids down to users with at least one open session,
	// preserving order.
	Online(ctx context.Context, ids []int64) ([]int64, error)
}
