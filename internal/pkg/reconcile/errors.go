package reconcile

import (
	"errors"
	"fmt"
)

// AuthenticationError means the payload signature could not be verified.
// The caller must reject the request without touching any downstream
// component.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "webhook authentication failed: " + e.Reason
}

// NormalizationError means the provider payload is missing data the event
// type demands (typically the club id). Retrying won't fix the payload, so
// the caller acknowledges the delivery and logs instead.
type NormalizationError struct {
	EventID   string
	EventType string
	Reason    string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("cannot normalize %s event %s: %s", e.EventType, e.EventID, e.Reason)
}

// TransientError wraps a datastore or network blip worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient persistence error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError wraps a permission, schema or programmer error. It is surfaced
// immediately so the provider redelivers and an operator gets alerted.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal persistence error: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// IsAuthentication reports whether err is an AuthenticationError.
func IsAuthentication(err error) bool {
	var target *AuthenticationError
	return errors.As(err, &target)
}

// IsNormalization reports whether err is a NormalizationError.
func IsNormalization(err error) bool {
	var target *NormalizationError
	return errors.As(err, &target)
}

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}
