package edm

import "errors"

var (
	// ErrPayloadTooLarge is returned when a frame body exceeds
	// MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("edm: payload too large")

	// ErrClosed is returned by operations on a closed Stream.
	ErrClosed = errors.New("edm: stream closed")

	// ErrLoopRunning is returned when Loop is started twice.
	ErrLoopRunning = errors.New("edm: loop already running")
)
