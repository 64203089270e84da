package recurrence

import (
	"errors"
	"fmt"
)

// Validation failure reasons. Every error returned by Parse wraps exactly one
// of these, so callers can branch with errors.Is without string matching.
var (
	// ErrUnknownFrequency reports a Frequency outside the recognized set.
	ErrUnknownFrequency = errors.New("unknown frequency")

	// ErrInvalidInterval reports an interval below 1.
	ErrInvalidInterval = errors.New("invalid interval")

	// ErrConflictingBounds reports a spec that sets both Count and Until.
	ErrConflictingBounds = errors.New("count and until are mutually exclusive")

	// ErrOutOfRangeConstraint reports a constraint value outside its valid
	// domain. The ValidationError carries the offending field name.
	ErrOutOfRangeConstraint = errors.New("constraint value out of range")

	// ErrMalformedInstant reports a date-time token that could not be
	// decoded by one of the codecs.
	ErrMalformedInstant = errors.New("malformed instant")

	// ErrUnsupportedRule reports an RFC 2445 feature that the codecs
	// recognize but this package does not evaluate, such as BYSETPOS or
	// ordinal weekdays like 2MO.
	ErrUnsupportedRule = errors.New("unsupported rule feature")

	// ErrMalformedRule reports RECUR text or an XML fragment that the
	// codecs could not decode at all.
	ErrMalformedRule = errors.New("malformed rule text")

	// ErrNoRecurrence reports a calendar component that carries no RRULE
	// property at all.
	ErrNoRecurrence = errors.New("no recurrence rule present")
)

// ValidationError describes why a spec was rejected.
type ValidationError struct {
	Reason  error  // one of the Err* sentinels above
	Field   string // offending constraint for out-of-range reasons, e.g. "BYMONTH"
	Message string
	Err     error // underlying cause when the failure came from a codec
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recurrence: %s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("recurrence: %s: %s", e.Reason, e.Message)
}

// Unwrap exposes both the sentinel reason and the underlying cause to
// errors.Is and errors.As.
func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Reason, e.Err}
	}
	return []error{e.Reason}
}

func newValidationError(reason error, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
	}
}

func newFieldError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Reason:  ErrOutOfRangeConstraint,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

func wrapValidationError(reason error, cause error, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}
