package scheduler

import "fmt"

// ErrorType represents the type of scheduler error
type ErrorType string

const (
	// ErrScheduleExists is returned by a strict-names registry when the
	// requested name is already taken by a live schedule.
	ErrScheduleExists ErrorType = "schedule_exists"
	// ErrInvalidName is returned when a schedule name is unusable.
	ErrInvalidName ErrorType = "invalid_name"
	// ErrInvalidConfig is returned by New when a required collaborator is
	// missing from the registry configuration.
	ErrInvalidConfig ErrorType = "invalid_config"
)

// Error represents a scheduler-specific error
type Error struct {
	Type     ErrorType
	Schedule string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Schedule != "" {
		msg = fmt.Sprintf("schedule %q: %s", e.Schedule, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}
