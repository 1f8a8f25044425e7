package shortrange

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a handle does not refer to a live
	// instance or connection, or a module type is not in the catalog.
	ErrNotFound = errors.New("shortrange: not found")

	// ErrInvalidMode is returned when the link is not in a mode that
	// permits the operation, for example an attention probe while the
	// module streams raw data.
	ErrInvalidMode = errors.New("shortrange: invalid mode")

	// ErrBusy is returned when another operation is already changing the
	// mode of the same instance. It wraps ErrInvalidMode.
	ErrBusy = fmt.Errorf("%w: transition in progress", ErrInvalidMode)

	// ErrNotConfigured is returned when the Registry has not been
	// initialised with Init.
	ErrNotConfigured = errors.New("shortrange: registry not initialised")

	// ErrTemporaryFailure is returned when link recovery ran out of
	// attempts. The caller may back off and retry, possibly after power
	// cycling the module.
	ErrTemporaryFailure = errors.New("shortrange: module not responding")

	// ErrResourceExhausted is returned when an instance's connection table
	// is full.
	ErrResourceExhausted = errors.New("shortrange: connection table full")

	// ErrAlreadyExists is returned when a connection handle is inserted
	// twice.
	ErrAlreadyExists = errors.New("shortrange: already exists")

	// ErrInvalidConfig is returned by Config validation and for out of
	// range settings such as a non-positive send timeout.
	ErrInvalidConfig = errors.New("shortrange: invalid config")
)

// Numeric result codes. Callers that need the signed-integer convention
// (non-negative success, negative error kind) use Code.
const (
	CodeSuccess           = 0
	CodeUnknown           = -1
	CodeNotConfigured     = -2
	CodeInvalidParameter  = -5
	CodeResourceExhausted = -6
	CodeNotFound          = -11
	CodeTemporaryFailure  = -13
	CodeInvalidMode       = -20
)

// Code maps err to its numeric result code.
func Code(err error) int {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, ErrNotConfigured):
		return CodeNotConfigured
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrAlreadyExists):
		return CodeInvalidParameter
	case errors.Is(err, ErrResourceExhausted):
		return CodeResourceExhausted
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrTemporaryFailure):
		return CodeTemporaryFailure
	case errors.Is(err, ErrInvalidMode):
		return CodeInvalidMode
	}
	return CodeUnknown
}
