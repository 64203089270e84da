package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cyp0633/libtempora/recurrence"
)

// State is the lifecycle state of a Handle.
type State int

const (
	// StateArmed means a timer is registered for the next occurrence.
	StateArmed State = iota
	// StateExhausted means the rule produced its final occurrence and the
	// handle will never fire again.
	StateExhausted
	// StateCancelled means the handle was stopped before its rule ran out.
	StateCancelled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateArmed:
		return "Armed"
	case StateExhausted:
		return "Exhausted"
	case StateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Handle is one live schedule: a recurrence rule bound to a timer host and a
// dispatcher. It walks the rule's occurrence sequence one timer at a time,
// arming occurrence N+1 only after the dispatch for occurrence N returned.
//
// A handle is in exactly one of three states. It starts Armed (or Exhausted
// when the rule has no occurrence at all), moves to Exhausted when the
// sequence runs out, and to Cancelled when Cancel is called first. Both
// terminal states are final.
//
// All methods are safe for concurrent use.
type Handle struct {
	id         string
	name       string
	event      string
	args       []any
	rule       *recurrence.Rule
	host       TimerHost
	dispatcher Dispatcher
	logger     *slog.Logger
	ctx        context.Context
	onTerminal func(*Handle)

	mu      sync.Mutex
	state   State
	seq     *recurrence.Sequence
	timerID TimerID
	nextAt  time.Time
	fired   int
}

type handleConfig struct {
	name       string
	event      string
	args       []any
	rule       *recurrence.Rule
	host       TimerHost
	dispatcher Dispatcher
	logger     *slog.Logger
	ctx        context.Context
	onTerminal func(*Handle)
}

// newHandle binds the rule's sequence and arms the first occurrence. When
// the rule has no occurrence at all the handle is born Exhausted and never
// registers a timer. The timer may fire before newHandle returns; fire
// blocks on h.mu until the registration is recorded, so the handle is
// consistent by the time the callback proceeds.
func newHandle(config handleConfig) *Handle {
	if config.logger == nil {
		config.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.ctx == nil {
		config.ctx = context.Background()
	}

	h := &Handle{
		id:         uuid.New().String(),
		name:       config.name,
		event:      config.event,
		args:       config.args,
		rule:       config.rule,
		host:       config.host,
		dispatcher: config.dispatcher,
		logger:     config.logger,
		ctx:        config.ctx,
		onTerminal: config.onTerminal,
		seq:        config.rule.Sequence(),
	}

	h.mu.Lock()
	next, ok := h.seq.Next()
	if !ok {
		h.state = StateExhausted
		h.mu.Unlock()
		return h
	}
	h.armLocked(next)
	h.mu.Unlock()
	return h
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() string {
	return h.id
}

// Name returns the registry name the handle was added under, or the empty
// string for handles created outside a registry.
func (h *Handle) Name() string {
	return h.name
}

// Event returns the event name dispatched on every occurrence.
func (h *Handle) Event() string {
	return h.event
}

// Rule returns the recurrence rule driving the handle.
func (h *Handle) Rule() *recurrence.Rule {
	return h.rule
}

// State returns the handle's current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// NextAt returns the occurrence instant the handle is armed for. The second
// return is false when the handle is in a terminal state.
func (h *Handle) NextAt() (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateArmed {
		return time.Time{}, false
	}
	return h.nextAt, true
}

// Fired returns how many occurrences have been dispatched so far.
func (h *Handle) Fired() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fired
}

// Cancel stops the schedule. The pending timer is revoked, no further
// occurrence fires, and the state becomes Cancelled. A dispatch already in
// flight when Cancel is called runs to completion, but the handle will not
// re-arm after it. Cancel on a handle already in a terminal state does
// nothing.
func (h *Handle) Cancel() {
	if h.cancel() {
		h.terminal()
	}
}

// cancel performs the Cancelled transition without notifying onTerminal,
// for callers that manage registry membership themselves. It reports
// whether this call performed the transition.
func (h *Handle) cancel() bool {
	h.mu.Lock()
	if h.state != StateArmed {
		h.mu.Unlock()
		return false
	}
	h.state = StateCancelled
	id := h.timerID
	h.mu.Unlock()

	h.host.CancelTimer(id)
	h.logger.Debug("schedule cancelled", "schedule", h.name, "event", h.event, "handle", h.id)
	return true
}

// armLocked records the next occurrence and registers its timer. The caller
// holds h.mu.
func (h *Handle) armLocked(next time.Time) {
	h.state = StateArmed
	h.nextAt = next
	h.timerID = h.host.RegisterTimer(next, h.fire)
}

// fire runs on the timer host when the armed occurrence is due. It
// dispatches with no locks held, then arms the next occurrence. Exhaustion
// of the sequence is only ever discovered here or in newHandle.
func (h *Handle) fire() {
	h.mu.Lock()
	if h.state != StateArmed {
		// Cancelled between the timer being dequeued and this callback
		// running.
		h.mu.Unlock()
		return
	}
	at := h.nextAt
	h.fired++
	h.mu.Unlock()

	h.dispatch(at)

	h.mu.Lock()
	if h.state != StateArmed {
		// Cancelled while dispatching; the canceller owns the terminal
		// notification.
		h.mu.Unlock()
		return
	}
	next, ok := h.seq.Next()
	if !ok {
		h.state = StateExhausted
		fired := h.fired
		h.mu.Unlock()
		h.logger.Debug("schedule exhausted", "schedule", h.name, "event", h.event, "fired", fired)
		h.terminal()
		return
	}
	h.armLocked(next)
	h.mu.Unlock()
}

// dispatch delivers one occurrence. Consumer failures are logged and never
// interrupt re-arming.
func (h *Handle) dispatch(at time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("dispatch panicked", "schedule", h.name, "event", h.event, "panic", rec)
		}
	}()

	ev := Event{
		Schedule:    h.name,
		Name:        h.event,
		Args:        h.args,
		ScheduledAt: at,
		HandleID:    h.id,
	}
	if err := h.dispatcher.Dispatch(h.ctx, ev); err != nil {
		h.logger.Error("dispatch failed", "schedule", h.name, "event", h.event, "error", err)
	}
}

// terminal notifies the owner of a transition into Exhausted or Cancelled.
// It is always called with h.mu released, so the callback may take registry
// locks or call back into the handle.
func (h *Handle) terminal() {
	if h.onTerminal != nil {
		h.onTerminal(h)
	}
}
