package domain

import "errors"

// Domain errors - use these for consistent error handling
var (
	ErrNotFound    = errors.New("not found")
	ErrNotMember   = errors.New("user is not a member of this conversation")
	ErrBanned      = errors.New("user is banned from this group")
	ErrNoCompanion = errors.New("chat has no companion")
)
