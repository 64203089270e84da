package scheduler

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/libtempora/recurrence"
)

func secondlyRule(t *testing.T, count int) *recurrence.Rule {
	t.Helper()
	rule, err := recurrence.Parse(recurrence.Spec{
		Frequency: recurrence.Secondly,
		Interval:  1,
		DTStart:   testEpoch,
		Count:     count,
	})
	require.NoError(t, err)
	return rule
}

func newTestHandle(t *testing.T, host TimerHost, dispatcher Dispatcher, rule *recurrence.Rule, onTerminal func(*Handle)) *Handle {
	t.Helper()
	return newHandle(handleConfig{
		name:       "test",
		event:      "tick",
		rule:       rule,
		host:       host,
		dispatcher: dispatcher,
		onTerminal: onTerminal,
	})
}

func TestHandle_ReArmsUntilExhaustion(t *testing.T) {
	host := NewManualHost(testEpoch)
	rec := &RecordingDispatcher{}

	h := newTestHandle(t, host, rec, secondlyRule(t, 3), nil)
	require.Equal(t, StateArmed, h.State())

	next, ok := h.NextAt()
	require.True(t, ok)
	assert.True(t, next.Equal(testEpoch.Add(time.Second)), "armed for the first occurrence")

	host.Advance(time.Second)
	assert.Equal(t, 1, rec.Count())
	assert.Equal(t, StateArmed, h.State(), "re-armed after the first fire")
	next, ok = h.NextAt()
	require.True(t, ok)
	assert.True(t, next.Equal(testEpoch.Add(2*time.Second)))

	host.Advance(2 * time.Second)
	assert.Equal(t, 3, rec.Count())
	assert.Equal(t, StateExhausted, h.State())
	assert.Equal(t, 3, h.Fired())

	_, ok = h.NextAt()
	assert.False(t, ok, "terminal handles report no next instant")
	assert.Zero(t, host.Pending(), "no timer left behind")

	// Exhaustion is permanent.
	host.Advance(time.Minute)
	assert.Equal(t, 3, rec.Count())
}

func TestHandle_DispatchPayload(t *testing.T) {
	host := NewManualHost(testEpoch)
	rec := &RecordingDispatcher{}

	rule := secondlyRule(t, 1)
	h := newHandle(handleConfig{
		name:       "heartbeat",
		event:      "ping",
		args:       []any{"payload", 7},
		rule:       rule,
		host:       host,
		dispatcher: rec,
	})

	host.Advance(time.Second)
	events := rec.Events()
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "heartbeat", ev.Schedule)
	assert.Equal(t, "ping", ev.Name)
	assert.Equal(t, []any{"payload", 7}, ev.Args)
	assert.True(t, ev.ScheduledAt.Equal(testEpoch.Add(time.Second)))
	assert.Equal(t, h.ID(), ev.HandleID)
}

func TestHandle_BornExhausted(t *testing.T) {
	host := NewManualHost(testEpoch)
	rec := &RecordingDispatcher{}

	// Until elapses before the first occurrence, so the rule never produces
	// anything.
	rule, err := recurrence.Parse(recurrence.Spec{
		Frequency: recurrence.Daily,
		Interval:  1,
		DTStart:   testEpoch,
		Until:     testEpoch.Add(time.Hour),
	})
	require.NoError(t, err)

	h := newTestHandle(t, host, rec, rule, nil)
	assert.Equal(t, StateExhausted, h.State())
	assert.Zero(t, host.Pending(), "no timer is ever registered")

	_, ok := h.NextAt()
	assert.False(t, ok)

	host.Advance(48 * time.Hour)
	assert.Zero(t, rec.Count())
}

func TestHandle_CancelWhileArmed(t *testing.T) {
	host := NewManualHost(testEpoch)
	rec := &RecordingDispatcher{}

	var terminated []*Handle
	h := newTestHandle(t, host, rec, secondlyRule(t, 0), func(h *Handle) {
		terminated = append(terminated, h)
	})
	require.Equal(t, StateArmed, h.State())
	require.Equal(t, 1, host.Pending())

	h.Cancel()
	assert.Equal(t, StateCancelled, h.State())
	assert.Zero(t, host.Pending(), "pending timer is revoked")
	require.Len(t, terminated, 1)
	assert.Same(t, h, terminated[0])

	// Terminal states are final and Cancel is idempotent.
	h.Cancel()
	assert.Equal(t, StateCancelled, h.State())
	assert.Len(t, terminated, 1, "onTerminal runs once")

	host.Advance(time.Minute)
	assert.Zero(t, rec.Count(), "no dispatch after Cancel")
}

func TestHandle_CancelAfterExhaustionIsNoOp(t *testing.T) {
	host := NewManualHost(testEpoch)
	rec := &RecordingDispatcher{}

	calls := 0
	h := newTestHandle(t, host, rec, secondlyRule(t, 1), func(*Handle) { calls++ })

	host.Advance(time.Second)
	require.Equal(t, StateExhausted, h.State())
	require.Equal(t, 1, calls)

	h.Cancel()
	assert.Equal(t, StateExhausted, h.State(), "exhaustion is not overwritten")
	assert.Equal(t, 1, calls)
}

func TestHandle_CancelDuringDispatchStopsReArming(t *testing.T) {
	host := NewManualHost(testEpoch)

	var h *Handle
	rec := &RecordingDispatcher{}
	rec.OnDispatch = func(Event) { h.Cancel() }

	var terminated int
	h = newTestHandle(t, host, rec, secondlyRule(t, 0), func(*Handle) { terminated++ })

	host.Advance(time.Second)
	assert.Equal(t, 1, rec.Count(), "the in-flight dispatch completes")
	assert.Equal(t, StateCancelled, h.State())
	assert.Equal(t, 1, terminated)
	assert.Zero(t, host.Pending(), "no re-arm after a mid-dispatch cancel")

	host.Advance(time.Minute)
	assert.Equal(t, 1, rec.Count())
}

func TestHandle_DispatcherErrorDoesNotStopSchedule(t *testing.T) {
	host := NewManualHost(testEpoch)
	rec := &RecordingDispatcher{Err: errors.New("consumer exploded")}

	var logBuf bytes.Buffer
	h := newHandle(handleConfig{
		name:       "flaky",
		event:      "tick",
		rule:       secondlyRule(t, 3),
		host:       host,
		dispatcher: rec,
		logger:     slog.New(slog.NewTextHandler(&logBuf, nil)),
	})

	host.Advance(3 * time.Second)
	assert.Equal(t, 3, rec.Count(), "every occurrence is still attempted")
	assert.Equal(t, StateExhausted, h.State())
	assert.Contains(t, logBuf.String(), "dispatch failed")
}

func TestHandle_DispatcherPanicDoesNotStopSchedule(t *testing.T) {
	host := NewManualHost(testEpoch)
	rec := &RecordingDispatcher{}
	rec.OnDispatch = func(ev Event) {
		if len(rec.Events())%2 == 1 {
			panic("consumer bug")
		}
	}

	var logBuf bytes.Buffer
	h := newHandle(handleConfig{
		name:       "panicky",
		event:      "tick",
		rule:       secondlyRule(t, 4),
		host:       host,
		dispatcher: rec,
		logger:     slog.New(slog.NewTextHandler(&logBuf, nil)),
	})

	host.Advance(4 * time.Second)
	assert.Equal(t, 4, rec.Count())
	assert.Equal(t, StateExhausted, h.State())
	assert.Contains(t, logBuf.String(), "dispatch panicked")
}

func TestHandle_NextArmedOnlyAfterDispatchReturns(t *testing.T) {
	host := NewManualHost(testEpoch)

	rec := &RecordingDispatcher{}
	rec.OnDispatch = func(Event) {
		// Mid-dispatch there must be no outstanding registration: the next
		// occurrence is armed only after this callback returns.
		assert.Zero(t, host.Pending(), "occurrence N+1 armed before N finished")
	}

	newTestHandle(t, host, rec, secondlyRule(t, 3), nil)
	host.Advance(3 * time.Second)
	assert.Equal(t, 3, rec.Count())
}

func TestHandle_UniqueIDs(t *testing.T) {
	host := NewManualHost(testEpoch)
	rec := &RecordingDispatcher{}

	a := newTestHandle(t, host, rec, secondlyRule(t, 0), nil)
	b := newTestHandle(t, host, rec, secondlyRule(t, 0), nil)
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())

	assert.Equal(t, "test", a.Name())
	assert.Equal(t, "tick", a.Event())
	assert.NotNil(t, a.Rule())

	a.Cancel()
	b.Cancel()
}

// queuedHost models an event loop that cannot revoke a callback it has
// already queued: CancelTimer always reports false and the test fires the
// captured callbacks by hand.
type queuedHost struct {
	mu  sync.Mutex
	now time.Time
	fns []func()
}

func (q *queuedHost) RegisterTimer(at time.Time, fn func()) TimerID {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fns = append(q.fns, fn)
	return TimerID(len(q.fns))
}

func (q *queuedHost) CancelTimer(TimerID) bool { return false }

func (q *queuedHost) Now() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.now
}

func (q *queuedHost) fireAll() {
	q.mu.Lock()
	fns := q.fns
	q.fns = nil
	q.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func TestHandle_LateFireAfterCancelIsNoOp(t *testing.T) {
	host := &queuedHost{now: testEpoch}
	rec := &RecordingDispatcher{}

	h := newTestHandle(t, host, rec, secondlyRule(t, 0), nil)
	require.Equal(t, StateArmed, h.State())

	// The host could not revoke the queued callback, so it still runs after
	// Cancel; the handle must swallow it.
	h.Cancel()
	host.fireAll()

	assert.Zero(t, rec.Count(), "no dispatch may happen after Cancel")
	assert.Equal(t, StateCancelled, h.State())
}
