package scheduler

import "time"

// TimerID identifies one outstanding single-shot timer registration with a
// TimerHost. The zero value never identifies a live registration.
type TimerID uint64

// TimerHost is the event-loop collaborator a schedule arms its timers
// against. Implementations must be safe for concurrent use and must never
// run a callback while holding locks that RegisterTimer or CancelTimer
// acquire, since callbacks re-enter the host to arm the next occurrence.
//
// The package provides two implementations: Loop, a real-time host running
// callbacks serially on one goroutine, and ManualHost, a simulated clock for
// tests.
type TimerHost interface {
	// RegisterTimer arms fn to run once at the given instant. A registration
	// whose instant is already in the past fires as soon as the host can run
	// it. fn must not be invoked synchronously from inside RegisterTimer;
	// callers arm timers while holding their own locks.
	RegisterTimer(at time.Time, fn func()) TimerID

	// CancelTimer revokes a registration before it fires. It reports whether
	// the registration was revoked; false means the timer already fired, is
	// currently firing, or was never known.
	CancelTimer(id TimerID) bool

	// Now is the host's reading of the current instant. Schedules use it to
	// resolve specs without an anchor.
	Now() time.Time
}
