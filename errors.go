package hellogpu

import "errors"

var (
	// ErrUnknownVariant is returned for a Variant outside the closed set.
	ErrUnknownVariant = errors.New("hellogpu: unknown variant")

	// ErrBadSize is returned for a non-positive back buffer size.
	ErrBadSize = errors.New("hellogpu: width and height must be positive")

	// ErrNotInitialized is returned when rendering before Init.
	ErrNotInitialized = errors.New("hellogpu: sample not initialized")

	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("hellogpu: sample already initialized")

	// ErrClosed is returned by operations on a closed sample.
	ErrClosed = errors.New("hellogpu: sample closed")
)
