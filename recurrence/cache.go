package recurrence

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Expander answers repeated window queries ("what fires between a and b",
// "the next n runs") over rules, memoizing results. Expanding the same rule
// for the same window is common when schedules are listed in a UI or synced
// on every reload, and expansion of sparse rules is not free, so results are
// kept for a TTL and evicted least-recently-used past MaxEntries.
//
// Rules without an anchor resolve "now" on every expansion, so their results
// are never cached.
type Expander struct {
	entries map[string]*windowEntry
	mutex   sync.RWMutex
	config  ExpanderConfig

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

type windowEntry struct {
	occurrences []time.Time
	expiresAt   time.Time
	accessedAt  time.Time
}

// ExpanderConfig holds caching knobs for an Expander.
type ExpanderConfig struct {
	CacheEnabled    bool
	TTL             time.Duration // how long entries stay valid
	MaxEntries      int           // maximum number of entries before eviction
	CleanupInterval time.Duration // how often expired entries are swept
}

// DefaultExpanderConfig provides sensible defaults for production use.
var DefaultExpanderConfig = ExpanderConfig{
	CacheEnabled:    true,
	TTL:             15 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: 5 * time.Minute,
}

// NoCacheExpanderConfig turns off caching entirely; every query expands.
var NoCacheExpanderConfig = ExpanderConfig{
	CacheEnabled: false,
}

// NewExpander creates an Expander with the given configuration. Zero values
// for TTL, MaxEntries and CleanupInterval fall back to the defaults. Call
// Close when done with a caching expander to stop its sweep goroutine.
func NewExpander(config ExpanderConfig) *Expander {
	if config.TTL <= 0 {
		config.TTL = DefaultExpanderConfig.TTL
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultExpanderConfig.MaxEntries
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultExpanderConfig.CleanupInterval
	}
	e := &Expander{
		config:      config,
		stopCleanup: make(chan struct{}),
	}
	if config.CacheEnabled {
		e.entries = make(map[string]*windowEntry)
		go e.cleanupLoop()
	}
	return e
}

// Window returns the occurrences of rule inside [start, end], bounds
// included. The returned slice is owned by the caller.
func (e *Expander) Window(rule *Rule, start, end time.Time) []time.Time {
	key, cacheable := e.cacheKey(rule, "window", start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano))
	if cacheable {
		if occ, ok := e.lookup(key); ok {
			return occ
		}
	}
	occ := rule.Between(start, end, true)
	if cacheable {
		e.store(key, occ)
	}
	return cloneTimes(occ)
}

// Upcoming returns up to n occurrences of rule at or after from. The
// returned slice is owned by the caller.
func (e *Expander) Upcoming(rule *Rule, from time.Time, n int) []time.Time {
	key, cacheable := e.cacheKey(rule, "upcoming", from.Format(time.RFC3339Nano), strconv.Itoa(n))
	if cacheable {
		if occ, ok := e.lookup(key); ok {
			return occ
		}
	}
	occ := rule.Upcoming(from, n)
	if cacheable {
		e.store(key, occ)
	}
	return cloneTimes(occ)
}

// cacheKey hashes the rule identity and query parameters. The second return
// is false when the result must not be cached (caching disabled or the rule
// floats).
func (e *Expander) cacheKey(rule *Rule, op string, params ...string) (string, bool) {
	if !e.config.CacheEnabled {
		return "", false
	}
	dtstart, anchored := rule.DTStart()
	if !anchored {
		return "", false
	}
	hasher := sha256.New()
	hasher.Write([]byte(op))
	hasher.Write([]byte(rule.String()))
	hasher.Write([]byte(dtstart.Format(time.RFC3339Nano)))
	for _, p := range params {
		hasher.Write([]byte(p))
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), true
}

func (e *Expander) lookup(key string) ([]time.Time, bool) {
	e.mutex.RLock()
	entry, exists := e.entries[key]
	e.mutex.RUnlock()
	if !exists {
		return nil, false
	}

	now := time.Now()
	if now.After(entry.expiresAt) {
		e.mutex.Lock()
		delete(e.entries, key)
		e.mutex.Unlock()
		return nil, false
	}

	e.mutex.Lock()
	entry.accessedAt = now
	occ := cloneTimes(entry.occurrences)
	e.mutex.Unlock()
	return occ, true
}

func (e *Expander) store(key string, occurrences []time.Time) {
	now := time.Now()
	entry := &windowEntry{
		occurrences: cloneTimes(occurrences),
		expiresAt:   now.Add(e.config.TTL),
		accessedAt:  now,
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.entries[key] = entry
	if len(e.entries) > e.config.MaxEntries {
		e.evict()
	}
}

// evict removes expired entries and, if still over the limit, the least
// recently accessed ones. Callers hold the write lock.
func (e *Expander) evict() {
	now := time.Now()
	for key, entry := range e.entries {
		if now.After(entry.expiresAt) {
			delete(e.entries, key)
		}
	}
	if len(e.entries) <= e.config.MaxEntries {
		return
	}

	type keyAccess struct {
		key        string
		accessedAt time.Time
	}
	byAge := make([]keyAccess, 0, len(e.entries))
	for key, entry := range e.entries {
		byAge = append(byAge, keyAccess{key, entry.accessedAt})
	}
	sort.Slice(byAge, func(i, j int) bool { return byAge[i].accessedAt.Before(byAge[j].accessedAt) })
	excess := len(e.entries) - e.config.MaxEntries
	for i := 0; i < excess && i < len(byAge); i++ {
		delete(e.entries, byAge[i].key)
	}
}

func (e *Expander) cleanupLoop() {
	ticker := time.NewTicker(e.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.mutex.Lock()
			now := time.Now()
			for key, entry := range e.entries {
				if now.After(entry.expiresAt) {
					delete(e.entries, key)
				}
			}
			e.mutex.Unlock()
		case <-e.stopCleanup:
			return
		}
	}
}

// Close stops the sweep goroutine and drops all cached entries. Safe to
// call more than once.
func (e *Expander) Close() {
	e.closeOnce.Do(func() { close(e.stopCleanup) })
	e.mutex.Lock()
	e.entries = make(map[string]*windowEntry)
	e.mutex.Unlock()
}

// Stats reports the cache population.
func (e *Expander) Stats() CacheStats {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	now := time.Now()
	stats := CacheStats{TotalEntries: len(e.entries)}
	for _, entry := range e.entries {
		if now.After(entry.expiresAt) {
			stats.ExpiredEntries++
		}
	}
	stats.ActiveEntries = stats.TotalEntries - stats.ExpiredEntries
	return stats
}

// CacheStats provides information about the expander cache.
type CacheStats struct {
	TotalEntries   int
	ExpiredEntries int
	ActiveEntries  int
}

func cloneTimes(in []time.Time) []time.Time {
	if in == nil {
		return nil
	}
	out := make([]time.Time, len(in))
	copy(out, in)
	return out
}
