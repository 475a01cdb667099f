package processors

import "errors"

// Caller-correctable input problems, as opposed to the service-level errors
// in the services package. Handlers map these to 4xx responses.
var (
	ErrValidation  = errors.New("validation failed")
	ErrEmptyLedger = errors.New("no usable contribution rows")
)
