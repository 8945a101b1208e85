package shared

import (
	"errors"
	"fmt"
	"time"
)

// ThrottlingError marks a provider-side rejection caused by exceeding a request quota.
// It is the only error kind the retry layer waits out.
type ThrottlingError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *ThrottlingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: throttled", e.Provider)
	}
	return fmt.Sprintf("%s: throttled: %v", e.Provider, e.Err)
}

func (e *ThrottlingError) Unwrap() error { return e.Err }

// ValidationError reports data that failed a sanity check, such as a
// non-positive quote or an empty embedding vector.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UnavailableError reports a resource that cannot be used right now: missing
// credentials, a disabled client, or a storage namespace that no longer exists.
type UnavailableError struct {
	Resource string
	Err      error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s unavailable", e.Resource)
	}
	return fmt.Sprintf("%s unavailable: %v", e.Resource, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// FatalError is a configuration or programmer error raised at initialization.
type FatalError struct {
	Msg string
	Err error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatalf builds a FatalError from a format string.
func Fatalf(format string, args ...any) error {
	return &FatalError{Msg: fmt.Sprintf(format, args...)}
}

// IsThrottling reports whether err, or anything it wraps, is a ThrottlingError.
func IsThrottling(err error) bool {
	var te *ThrottlingError
	return errors.As(err, &te)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsUnavailable reports whether err wraps an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// IsFatal reports whether err wraps a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
