package at

import "errors"

var (
	// ErrAlreadyClosed is returned by operations on a Client after Close.
	ErrAlreadyClosed = errors.New("at: client already closed")

	// ErrLoopRunning is returned when Loop is started twice.
	ErrLoopRunning = errors.New("at: loop already running")

	// ErrCommandFailed wraps an ERROR or +CME ERROR final result. The
	// module's text follows the colon.
	ErrCommandFailed = errors.New("at: command failed")

	// ErrTimeout is returned when no final result arrives before the
	// command's deadline.
	ErrTimeout = errors.New("at: command timeout")
)
