package device

import "errors"

// Domain errors for the device package.
//
// ErrLoading and ErrUnavailable are guard violations: they are returned by
// Store operations that cannot run in the current lifecycle state and are
// never caused by the operation's own arguments.
//
//	if device.IsUnavailable(err) {
//	    // store not ready, try again later (or never, if unavailable)
//	}
var (
	// ErrLoading is returned by mutating operations while the initial load
	// is still in progress.
	ErrLoading = errors.New("device: database is currently loading")

	// ErrUnavailable is returned by every operation once the initial load
	// has failed. The store does not recover from this state.
	ErrUnavailable = errors.New("device: database is unavailable")

	// ErrDecode is returned when a backing document cannot be decoded.
	ErrDecode = errors.New("device: invalid document")

	// ErrClosed is returned by Flush after the store has been closed.
	ErrClosed = errors.New("device: store closed")
)

// IsUnavailable reports whether err is a lifecycle guard violation
// (ErrLoading or ErrUnavailable).
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrLoading) || errors.Is(err, ErrUnavailable)
}
