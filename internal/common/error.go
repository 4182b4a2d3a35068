// Package common defines sentinel errors shared by the price alert
// pipeline. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrorNotFound     = errors.New("not found")
	ErrorNotPersisted = errors.New("not persisted")

	// Service-level errors.
	ErrorValidation = errors.New("validation error")

	// Transport errors. A transient error means the operation can be
	// retried without side effects beyond what already happened.
	ErrTransientTransport = errors.New("transient transport error")

	// ErrMalformedEvent marks a queue payload that could not be decoded.
	ErrMalformedEvent = errors.New("malformed event")
)

// ErrorAlreadyExists is returned when a preference id is already taken
// within the user's list.
var ErrorAlreadyExists = errors.New("already exists")
