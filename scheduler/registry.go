package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cyp0633/libtempora/recurrence"
)

// DefaultKeyPrefix namespaces registry entries inside a shared Store.
const DefaultKeyPrefix = "schedule:"

// Config holds the collaborators and tuning for a Registry. Callers
// normally build it through New and the With options rather than directly.
type Config struct {
	// Host arms and revokes the timers behind every handle. Required.
	Host TimerHost

	// Dispatcher receives every due occurrence. Required.
	Dispatcher Dispatcher

	// Store keeps the live handles, keyed by KeyPrefix+name. Defaults to a
	// fresh MemoryStore.
	Store Store

	// KeyPrefix namespaces the registry's keys inside Store. Defaults to
	// DefaultKeyPrefix.
	KeyPrefix string

	// StrictNames makes adding a schedule under a taken name fail with
	// ErrScheduleExists instead of replacing the prior schedule.
	StrictNames bool

	// Context is passed to every dispatch. Defaults to context.Background.
	Context context.Context

	// Logger receives registry and handle activity. Defaults to a discard
	// logger.
	Logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Config)

// WithStore uses an existing store instead of a fresh MemoryStore.
func WithStore(store Store) Option {
	return func(c *Config) {
		c.Store = store
	}
}

// WithKeyPrefix overrides the key namespace inside the store.
func WithKeyPrefix(prefix string) Option {
	return func(c *Config) {
		c.KeyPrefix = prefix
	}
}

// WithStrictNames rejects duplicate schedule names instead of replacing the
// prior schedule.
func WithStrictNames() Option {
	return func(c *Config) {
		c.StrictNames = true
	}
}

// WithContext sets the base context passed to every dispatch.
func WithContext(ctx context.Context) Option {
	return func(c *Config) {
		c.Context = ctx
	}
}

// WithLogger sets the logger for registry and handle activity.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Registry owns a set of named schedules for one consumer. Adding a
// schedule under a name that is already taken cancels and replaces the
// prior schedule, unless WithStrictNames was set. Handles that exhaust
// their rule remove themselves from the registry.
//
// All methods are safe for concurrent use.
type Registry struct {
	host       TimerHost
	dispatcher Dispatcher
	store      Store
	keyPrefix  string
	strict     bool
	ctx        context.Context
	logger     *slog.Logger

	// mu serializes every read-modify-write of the store's schedule keys.
	mu sync.Mutex
}

// ScheduleStatus is a point-in-time view of one registry entry, as returned
// by Snapshot.
type ScheduleStatus struct {
	Name   string
	Event  string
	State  State
	NextAt time.Time // zero unless State is Armed
	Fired  int
}

// New creates a registry dispatching through dispatcher and arming timers
// on host.
func New(host TimerHost, dispatcher Dispatcher, options ...Option) (*Registry, error) {
	config := Config{
		Host:       host,
		Dispatcher: dispatcher,
		KeyPrefix:  DefaultKeyPrefix,
	}
	for _, option := range options {
		option(&config)
	}

	if config.Host == nil {
		return nil, &Error{Type: ErrInvalidConfig, Message: "timer host is required"}
	}
	if config.Dispatcher == nil {
		return nil, &Error{Type: ErrInvalidConfig, Message: "dispatcher is required"}
	}
	if config.Store == nil {
		config.Store = NewMemoryStore()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}
	if config.Context == nil {
		config.Context = context.Background()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Registry{
		host:       config.Host,
		dispatcher: config.Dispatcher,
		store:      config.Store,
		keyPrefix:  config.KeyPrefix,
		strict:     config.StrictNames,
		ctx:        config.Context,
		logger:     config.Logger,
	}, nil
}

// AddSchedule validates spec, binds it to a new handle, and registers the
// handle under name. A spec without an anchor is anchored at the host's
// current time, so its first occurrence falls one rule period later.
//
// When name is already taken the prior schedule is cancelled and replaced;
// with WithStrictNames the call fails with ErrScheduleExists instead. A
// validation error leaves the registry unchanged.
//
// A rule that can never produce an occurrence yields a handle that is
// already Exhausted; it is returned but not registered.
func (r *Registry) AddSchedule(name, event string, spec recurrence.Spec, args ...any) (*Handle, error) {
	if name == "" {
		return nil, &Error{Type: ErrInvalidName, Message: "schedule name must not be empty"}
	}
	if spec.DTStart.IsZero() {
		spec.DTStart = r.host.Now()
	}

	rule, err := recurrence.Parse(spec)
	if err != nil {
		return nil, err
	}

	key := r.key(name)
	r.mu.Lock()
	prior, hadPrior := r.lookupLocked(name)
	if hadPrior && r.strict {
		r.mu.Unlock()
		return nil, &Error{Type: ErrScheduleExists, Schedule: name, Message: "name already registered"}
	}
	if hadPrior {
		prior.cancel()
		r.logger.Info("replacing schedule", "schedule", name, "event", prior.Event())
	}

	h := newHandle(handleConfig{
		name:       name,
		event:      event,
		args:       args,
		rule:       rule,
		host:       r.host,
		dispatcher: r.dispatcher,
		logger:     r.logger,
		ctx:        r.ctx,
		onTerminal: r.handleTerminated,
	})

	// The first occurrence may already have fired and exhausted the handle
	// by now; registering it would leave a dead entry behind.
	if h.State() == StateArmed {
		r.store.Set(key, h)
	} else {
		r.store.Delete(key)
	}
	r.mu.Unlock()

	if next, ok := h.NextAt(); ok {
		r.logger.Info("schedule added", "schedule", name, "event", event, "next_at", next)
	} else {
		r.logger.Info("schedule added", "schedule", name, "event", event, "state", h.State().String())
	}
	return h, nil
}

// Add registers a schedule named after its own event: it is shorthand for
// AddSchedule(event, event, spec, args...).
func (r *Registry) Add(event string, spec recurrence.Spec, args ...any) (*Handle, error) {
	return r.AddSchedule(event, event, spec, args...)
}

// AddRRule is AddSchedule for textual rules: rule is parsed as an RFC 2445
// RECUR line before registration.
func (r *Registry) AddRRule(name, event, rule string, args ...any) (*Handle, error) {
	spec, err := recurrence.ParseRRule(rule)
	if err != nil {
		return nil, err
	}
	return r.AddSchedule(name, event, spec, args...)
}

// Remove cancels and unregisters the named schedule. It reports whether a
// schedule existed under name. After Remove returns no new dispatch for the
// schedule will start, even if its timer was already due.
func (r *Registry) Remove(name string) bool {
	key := r.key(name)
	r.mu.Lock()
	h, ok := r.lookupLocked(name)
	if !ok {
		r.mu.Unlock()
		return false
	}
	r.store.Delete(key)
	r.mu.Unlock()

	h.cancel()
	r.logger.Info("schedule removed", "schedule", name, "event", h.Event())
	return true
}

// Lookup returns the live handle registered under name.
func (r *Registry) Lookup(name string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(name)
}

// Names returns the names of all live schedules, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []string
	for _, key := range r.store.Keys() {
		name, ok := strings.CutPrefix(key, r.keyPrefix)
		if !ok {
			continue
		}
		if _, ok := r.lookupLocked(name); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Snapshot returns the status of every live schedule, sorted by name.
func (r *Registry) Snapshot() []ScheduleStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	var statuses []ScheduleStatus
	for _, key := range r.store.Keys() {
		name, ok := strings.CutPrefix(key, r.keyPrefix)
		if !ok {
			continue
		}
		h, ok := r.lookupLocked(name)
		if !ok {
			continue
		}
		status := ScheduleStatus{
			Name:  name,
			Event: h.Event(),
			State: h.State(),
			Fired: h.Fired(),
		}
		if next, ok := h.NextAt(); ok {
			status.NextAt = next
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

// CancelAll cancels and unregisters every schedule, returning how many were
// still armed.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	var handles []*Handle
	for _, key := range r.store.Keys() {
		name, ok := strings.CutPrefix(key, r.keyPrefix)
		if !ok {
			continue
		}
		if h, ok := r.lookupLocked(name); ok {
			handles = append(handles, h)
			r.store.Delete(key)
		}
	}
	r.mu.Unlock()

	cancelled := 0
	for _, h := range handles {
		if h.cancel() {
			cancelled++
		}
	}
	if cancelled > 0 {
		r.logger.Info("cancelled all schedules", "count", cancelled)
	}
	return cancelled
}

func (r *Registry) key(name string) string {
	return r.keyPrefix + name
}

// lookupLocked resolves name to its live handle. The caller holds r.mu.
func (r *Registry) lookupLocked(name string) (*Handle, bool) {
	value, ok := r.store.Get(r.key(name))
	if !ok {
		return nil, false
	}
	h, ok := value.(*Handle)
	return h, ok
}

// handleTerminated is the onTerminal callback for every handle the registry
// creates. It unregisters the handle unless the name was already replaced
// or removed. Handles call it with no locks of their own held.
func (r *Registry) handleTerminated(h *Handle) {
	key := r.key(h.Name())
	r.mu.Lock()
	if current, ok := r.lookupLocked(h.Name()); ok && current == h {
		r.store.Delete(key)
		r.logger.Debug("schedule finished", "schedule", h.Name(), "event", h.Event(), "state", h.State().String(), "fired", h.Fired())
	}
	r.mu.Unlock()
}
