// Package apperr holds sentinel errors shared across layers.
package apperr

import "errors"

var (
	// ErrNotFound means no stored or upstream data exists for the request.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput means the request cannot be served as given, such as
	// an identifier without digits.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable means the record service rejected or could not serve
	// the call, including while the circuit breaker is open.
	ErrUnavailable = errors.New("upstream unavailable")
)
