package scheduler

import (
	"context"
	"time"
)

// Event carries one due occurrence from a handle to the consumer.
type Event struct {
	// Schedule is the registry name the handle was added under. Handles
	// created outside a registry leave it empty.
	Schedule string

	// Name is the consumer-facing event name the schedule targets.
	Name string

	// Args are the arguments given when the schedule was added, passed
	// through untouched.
	Args []any

	// ScheduledAt is the occurrence instant this dispatch is for. Wall-clock
	// delivery may lag it; the value is the instant the rule produced.
	ScheduledAt time.Time

	// HandleID identifies the dispatching handle.
	HandleID string
}

// Dispatcher receives due occurrences. Dispatch runs on the timer host's
// callback goroutine, so a slow dispatcher delays every other schedule on
// the same host. Returning an error marks the delivery failed in the log;
// it never stops the handle from arming the next occurrence.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, ev Event) error

// Dispatch calls f(ctx, ev).
func (f DispatcherFunc) Dispatch(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
