package services

import "errors"

var (
	// ErrServiceUnavailable is a transport-level failure reaching an external
	// boundary (parser service, scheme directory). Never retried here; the
	// caller re-submits after correction.
	ErrServiceUnavailable = errors.New("external service unreachable")

	// ErrAmbiguousResponse means an external boundary answered with a shape
	// we could not interpret.
	ErrAmbiguousResponse = errors.New("malformed response from external service")

	// ErrResolutionInProgress rejects a duplicate scheme selection while an
	// earlier one is still in flight for the same pending registration.
	ErrResolutionInProgress = errors.New("scheme resolution already in progress")
)
