package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/libtempora/recurrence"
)

func newTestRegistry(t *testing.T, options ...Option) (*Registry, *ManualHost, *RecordingDispatcher) {
	t.Helper()
	host := NewManualHost(testEpoch)
	rec := &RecordingDispatcher{}
	reg, err := New(host, rec, options...)
	require.NoError(t, err)
	return reg, host, rec
}

func secondlySpec(count int) recurrence.Spec {
	return recurrence.Spec{Frequency: recurrence.Secondly, Interval: 1, Count: count}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	host := NewManualHost(testEpoch)
	rec := &RecordingDispatcher{}

	_, err := New(nil, rec)
	var schedErr *Error
	require.ErrorAs(t, err, &schedErr)
	assert.Equal(t, ErrInvalidConfig, schedErr.Type)

	_, err = New(host, nil)
	require.ErrorAs(t, err, &schedErr)
	assert.Equal(t, ErrInvalidConfig, schedErr.Type)
}

// Three secondly occurrences dispatch one by one, the handle exhausts and
// removes itself, and a late Remove finds nothing.
func TestRegistry_EndToEndCountedSchedule(t *testing.T) {
	reg, host, rec := newTestRegistry(t)

	h, err := reg.AddSchedule("tick", "tick", secondlySpec(3))
	require.NoError(t, err)
	require.Equal(t, StateArmed, h.State())

	host.Advance(3 * time.Second)

	assert.Equal(t, []string{"tick", "tick", "tick"}, rec.Names())
	times := rec.Times()
	for i, at := range times {
		want := testEpoch.Add(time.Duration(i+1) * time.Second)
		assert.True(t, at.Equal(want), "dispatch %d at %v, want %v", i, at, want)
	}

	assert.Equal(t, StateExhausted, h.State())
	_, found := reg.Lookup("tick")
	assert.False(t, found, "exhausted schedules unregister themselves")
	assert.False(t, reg.Remove("tick"), "nothing left to remove")

	// Nothing fires afterwards.
	host.Advance(time.Minute)
	assert.Equal(t, 3, rec.Count())
}

func TestRegistry_RemoveCancelsArmedSchedule(t *testing.T) {
	reg, host, rec := newTestRegistry(t)

	h, err := reg.AddSchedule("job", "run", secondlySpec(0))
	require.NoError(t, err)
	require.Equal(t, 1, host.Pending())

	assert.True(t, reg.Remove("job"))
	assert.Equal(t, StateCancelled, h.State())
	assert.Zero(t, host.Pending(), "pending registration is revoked")

	// Even advancing exactly onto the due instant dispatches nothing.
	host.Advance(time.Second)
	assert.Zero(t, rec.Count())

	assert.False(t, reg.Remove("job"), "second remove finds nothing")
}

// A due-but-unrevokable callback must still not dispatch once the schedule
// was removed; hosts that cannot revoke queued callbacks rely on the handle's
// own cancelled check.
func TestRegistry_RemoveBeatsQueuedFire(t *testing.T) {
	host := &queuedHost{now: testEpoch}
	rec := &RecordingDispatcher{}
	reg, err := New(host, rec)
	require.NoError(t, err)

	_, err = reg.AddSchedule("job", "run", secondlySpec(0))
	require.NoError(t, err)

	require.True(t, reg.Remove("job"))
	host.fireAll()
	assert.Zero(t, rec.Count(), "no dispatch after Remove")
}

func TestRegistry_InvalidSpecLeavesRegistryUnchanged(t *testing.T) {
	reg, host, rec := newTestRegistry(t)

	_, err := reg.AddSchedule("bad", "tick", recurrence.Spec{
		Frequency: recurrence.Secondly,
		Interval:  0,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, recurrence.ErrInvalidInterval)

	var verr *recurrence.ValidationError
	assert.ErrorAs(t, err, &verr, "validation detail passes through untouched")

	assert.Empty(t, reg.Names())
	assert.Zero(t, host.Pending(), "no timer was registered")
	host.Advance(time.Minute)
	assert.Zero(t, rec.Count())
}

func TestRegistry_ConflictingBoundsRejected(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	_, err := reg.AddSchedule("bad", "tick", recurrence.Spec{
		Frequency: recurrence.Daily,
		Interval:  1,
		Count:     3,
		Until:     testEpoch.AddDate(1, 0, 0),
	})
	assert.ErrorIs(t, err, recurrence.ErrConflictingBounds)
	assert.Empty(t, reg.Names())
}

func TestRegistry_FloatingSpecAnchorsAtHostNow(t *testing.T) {
	reg, host, _ := newTestRegistry(t)
	host.Advance(time.Hour)

	h, err := reg.AddSchedule("tick", "tick", secondlySpec(0))
	require.NoError(t, err)

	next, ok := h.NextAt()
	require.True(t, ok)
	assert.True(t, next.Equal(host.Now().Add(time.Second)),
		"first occurrence is one period after the host clock, got %v", next)
}

func TestRegistry_ReplaceCancelsPrior(t *testing.T) {
	reg, host, rec := newTestRegistry(t)

	first, err := reg.AddSchedule("job", "alpha", secondlySpec(0))
	require.NoError(t, err)

	second, err := reg.AddSchedule("job", "beta", secondlySpec(0))
	require.NoError(t, err)

	assert.Equal(t, StateCancelled, first.State(), "replaced schedule is cancelled, not leaked")
	assert.Equal(t, StateArmed, second.State())
	assert.Equal(t, 1, host.Pending(), "exactly one live registration")

	got, found := reg.Lookup("job")
	require.True(t, found)
	assert.Same(t, second, got)

	host.Advance(time.Second)
	require.Equal(t, 1, rec.Count())
	assert.Equal(t, "beta", rec.Events()[0].Name, "only the replacement dispatches")
}

func TestRegistry_StrictNamesRejectsDuplicate(t *testing.T) {
	reg, host, _ := newTestRegistry(t, WithStrictNames())

	first, err := reg.AddSchedule("job", "alpha", secondlySpec(0))
	require.NoError(t, err)

	_, err = reg.AddSchedule("job", "beta", secondlySpec(0))
	var schedErr *Error
	require.ErrorAs(t, err, &schedErr)
	assert.Equal(t, ErrScheduleExists, schedErr.Type)
	assert.Equal(t, "job", schedErr.Schedule)

	assert.Equal(t, StateArmed, first.State(), "original schedule is untouched")
	assert.Equal(t, 1, host.Pending())

	// The name frees up once the original is removed.
	require.True(t, reg.Remove("job"))
	_, err = reg.AddSchedule("job", "beta", secondlySpec(0))
	assert.NoError(t, err)
}

func TestRegistry_EmptyNameRejected(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	_, err := reg.AddSchedule("", "tick", secondlySpec(0))
	var schedErr *Error
	require.ErrorAs(t, err, &schedErr)
	assert.Equal(t, ErrInvalidName, schedErr.Type)
}

func TestRegistry_AddNamesScheduleAfterEvent(t *testing.T) {
	reg, host, rec := newTestRegistry(t)

	h, err := reg.Add("report", secondlySpec(1))
	require.NoError(t, err)
	assert.Equal(t, "report", h.Name())
	assert.Equal(t, "report", h.Event())

	_, found := reg.Lookup("report")
	assert.True(t, found)

	host.Advance(time.Second)
	require.Equal(t, 1, rec.Count())
	ev := rec.Events()[0]
	assert.Equal(t, "report", ev.Schedule)
	assert.Equal(t, "report", ev.Name)
}

func TestRegistry_AddRRule(t *testing.T) {
	reg, host, rec := newTestRegistry(t)

	_, err := reg.AddRRule("tick", "tick", "FREQ=SECONDLY;COUNT=2")
	require.NoError(t, err)

	host.Advance(2 * time.Second)
	assert.Equal(t, 2, rec.Count())

	// Malformed text fails before anything is registered.
	_, err = reg.AddRRule("bad", "tick", "FREQ=SOMETIMES")
	assert.ErrorIs(t, err, recurrence.ErrUnknownFrequency)
	assert.NotContains(t, reg.Names(), "bad")
}

func TestRegistry_BornExhaustedScheduleIsNotRegistered(t *testing.T) {
	reg, host, _ := newTestRegistry(t)

	// Until elapses before the first occurrence.
	h, err := reg.AddSchedule("dead", "tick", recurrence.Spec{
		Frequency: recurrence.Daily,
		Interval:  1,
		Until:     testEpoch.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, h.State())

	_, found := reg.Lookup("dead")
	assert.False(t, found)
	assert.Empty(t, reg.Names())
	assert.Zero(t, host.Pending())
}

func TestRegistry_SharedStoreKeysAreNamespaced(t *testing.T) {
	shared := NewMemoryStore()
	shared.Set("user:alice", "unrelated state")

	host := NewManualHost(testEpoch)
	rec := &RecordingDispatcher{}
	reg, err := New(host, rec, WithStore(shared), WithKeyPrefix("cron:"))
	require.NoError(t, err)

	_, err = reg.AddSchedule("job", "run", secondlySpec(0))
	require.NoError(t, err)

	_, ok := shared.Get("cron:job")
	assert.True(t, ok, "registry writes under its prefix")
	assert.Equal(t, []string{"job"}, reg.Names(), "foreign keys are invisible to the registry")

	require.True(t, reg.Remove("job"))
	_, ok = shared.Get("cron:job")
	assert.False(t, ok)

	v, ok := shared.Get("user:alice")
	require.True(t, ok, "unrelated state survives")
	assert.Equal(t, "unrelated state", v)
}

func TestRegistry_NamesAndSnapshot(t *testing.T) {
	reg, host, _ := newTestRegistry(t)

	_, err := reg.AddSchedule("beta", "b", secondlySpec(0))
	require.NoError(t, err)
	_, err = reg.AddSchedule("alpha", "a", secondlySpec(2))
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "beta"}, reg.Names())

	host.Advance(time.Second)

	statuses := reg.Snapshot()
	require.Len(t, statuses, 2)
	assert.Equal(t, "alpha", statuses[0].Name)
	assert.Equal(t, "a", statuses[0].Event)
	assert.Equal(t, StateArmed, statuses[0].State)
	assert.Equal(t, 1, statuses[0].Fired)
	assert.True(t, statuses[0].NextAt.Equal(testEpoch.Add(2*time.Second)))
	assert.Equal(t, "beta", statuses[1].Name)
	assert.Equal(t, 1, statuses[1].Fired)

	// The counted schedule exhausts and drops out of the snapshot.
	host.Advance(time.Second)
	statuses = reg.Snapshot()
	require.Len(t, statuses, 1)
	assert.Equal(t, "beta", statuses[0].Name)
}

func TestRegistry_CancelAll(t *testing.T) {
	reg, host, rec := newTestRegistry(t)

	for _, name := range []string{"a", "b", "c"} {
		_, err := reg.AddSchedule(name, name, secondlySpec(0))
		require.NoError(t, err)
	}
	require.Equal(t, 3, host.Pending())

	assert.Equal(t, 3, reg.CancelAll())
	assert.Empty(t, reg.Names())
	assert.Zero(t, host.Pending())

	host.Advance(time.Minute)
	assert.Zero(t, rec.Count())

	assert.Zero(t, reg.CancelAll(), "nothing left to cancel")
}

func TestRegistry_DispatchContext(t *testing.T) {
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "marker")

	host := NewManualHost(testEpoch)
	var seen any
	dispatcher := DispatcherFunc(func(ctx context.Context, ev Event) error {
		seen = ctx.Value(ctxKey{})
		return nil
	})
	reg, err := New(host, dispatcher, WithContext(ctx))
	require.NoError(t, err)

	_, err = reg.AddSchedule("job", "run", secondlySpec(1))
	require.NoError(t, err)
	host.Advance(time.Second)

	assert.Equal(t, "marker", seen, "dispatch receives the registry context")
}

func TestRegistry_ArgsPassedThrough(t *testing.T) {
	reg, host, rec := newTestRegistry(t)

	_, err := reg.AddSchedule("job", "run", secondlySpec(1), "alpha", 42)
	require.NoError(t, err)
	host.Advance(time.Second)

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, []any{"alpha", 42}, events[0].Args)
}

func TestRegistry_MockedDispatcher(t *testing.T) {
	host := NewManualHost(testEpoch)
	dispatcher := &MockDispatcher{}
	dispatcher.ExpectEvent("tick").Times(3)

	reg, err := New(host, dispatcher)
	require.NoError(t, err)

	_, err = reg.AddSchedule("tick", "tick", secondlySpec(3))
	require.NoError(t, err)
	host.Advance(3 * time.Second)

	dispatcher.AssertExpectations(t)
	dispatcher.AssertNumberOfCalls(t, "Dispatch", 3)
}

func TestRegistry_MockedDispatcherErrorStillExhausts(t *testing.T) {
	host := NewManualHost(testEpoch)
	dispatcher := &MockDispatcher{}
	dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(errors.New("downstream failure"))

	reg, err := New(host, dispatcher)
	require.NoError(t, err)

	h, err := reg.AddSchedule("tick", "tick", secondlySpec(2))
	require.NoError(t, err)
	host.Advance(2 * time.Second)

	assert.Equal(t, StateExhausted, h.State())
	dispatcher.AssertNumberOfCalls(t, "Dispatch", 2)
}
