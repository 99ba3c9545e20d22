package domain

import "errors"

var (
	// ErrEmptyWindow is returned when reading head/tail of a window that
	// retains no samples. It marks a local contract violation, not a remote
	// failure.
	ErrEmptyWindow = errors.New("time window is empty")

	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrBadResponse  = errors.New("unexpected webhook response")
)
