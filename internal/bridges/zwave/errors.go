package zwave

import "errors"

// Domain errors for the Z-Wave bridge package.
var (
	// ErrNodeNotFound is returned when the gateway has not reported the node.
	ErrNodeNotFound = errors.New("zwave: node not found")

	// ErrValueNotFound is returned when the node has no value with the label.
	ErrValueNotFound = errors.New("zwave: value not found")

	// ErrReadOnly is returned when writing a value the gateway marked read-only.
	ErrReadOnly = errors.New("zwave: value is read-only")

	// ErrNotStarted is returned by WriteValue before Start or after Stop.
	ErrNotStarted = errors.New("zwave: bridge not started")

	// ErrInvalidPayload is returned for gateway messages that cannot be decoded.
	ErrInvalidPayload = errors.New("zwave: invalid payload")
)
