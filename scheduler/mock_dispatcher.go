package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockDispatcher implements the Dispatcher interface for testing
type MockDispatcher struct {
	mock.Mock
}

// Dispatch implements the Dispatcher interface
func (m *MockDispatcher) Dispatch(ctx context.Context, ev Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

// ExpectEvent registers an expectation for any dispatch of the named event,
// returning nil from Dispatch.
func (m *MockDispatcher) ExpectEvent(name string) *mock.Call {
	return m.On("Dispatch", mock.Anything, mock.MatchedBy(func(ev Event) bool {
		return ev.Name == name
	})).Return(nil)
}

// --- Recording helper for dispatch-order assertions ---

// RecordingDispatcher collects every event it receives, in order. Failing or
// slow consumers are simulated through the Err and Block hooks.
type RecordingDispatcher struct {
	mu     sync.Mutex
	events []Event

	// Err, when set, is returned from every Dispatch call.
	Err error

	// OnDispatch, when set, runs inside Dispatch after the event is
	// recorded. Tests use it to cancel or mutate mid-dispatch.
	OnDispatch func(ev Event)
}

// Dispatch records the event and returns Err.
func (d *RecordingDispatcher) Dispatch(_ context.Context, ev Event) error {
	d.mu.Lock()
	d.events = append(d.events, ev)
	hook := d.OnDispatch
	d.mu.Unlock()

	if hook != nil {
		hook(ev)
	}
	return d.Err
}

// Events returns a copy of everything dispatched so far.
func (d *RecordingDispatcher) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}

// Names returns the event names dispatched so far, in order.
func (d *RecordingDispatcher) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.events))
	for i, ev := range d.events {
		out[i] = ev.Name
	}
	return out
}

// Times returns the ScheduledAt instants dispatched so far, in order.
func (d *RecordingDispatcher) Times() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]time.Time, len(d.events))
	for i, ev := range d.events {
		out[i] = ev.ScheduledAt
	}
	return out
}

// Count returns how many events have been dispatched.
func (d *RecordingDispatcher) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}
