// Package breakout implements a caller's breakout-room session: room lookup,
// join URL requests, audio transfers between the parent meeting and a room,
// and moderator time extensions.
package breakout

import "errors"

// Errors returned by session operations. None of them ends the session.
var (
	ErrNotFound              = errors.New("breakout room not found")
	ErrConflictingTransfer   = errors.New("audio is attached to another room")
	ErrInvalidExtension      = errors.New("extension must be a positive number of minutes")
	ErrWouldExceedParentTime = errors.New("extension would exceed the parent meeting's remaining time")
	ErrNotAttached           = errors.New("audio is not attached to a breakout room")
	ErrSuperseded            = errors.New("join request superseded")
	ErrTransferInterrupted   = errors.New("audio transfer interrupted by connection loss")
	ErrSessionNotFound       = errors.New("session not found")
)
