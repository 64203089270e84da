package recurrence

import (
	"fmt"
	"sort"
	"time"

	"github.com/samber/mo"
)

// Rule is a validated, immutable recurrence pattern. Once constructed it
// never changes: generating occurrences happens through Sequence values,
// which carry all mutable cursor state themselves. A single Rule is safe for
// concurrent use by any number of goroutines and sequences.
type Rule struct {
	spec Spec     // normalized private copy
	gen  *genSpec // bound generation parameters; nil while the anchor floats
}

// genSpec holds the fully resolved generation parameters for one anchor:
// the explicit constraints of the spec merged with the implicit ones derived
// from the anchor instant. Constraint slices are sorted ascending and
// duplicate free; an empty slice (or zero mask) means unconstrained.
type genSpec struct {
	freq     Frequency
	interval int
	dtstart  time.Time
	loc      *time.Location
	count    int
	until    time.Time
	wkst     time.Weekday

	months    []int
	monthDays []int
	yearDays  []int
	weekdays  uint8 // bit i set means time.Weekday(i) is allowed; 0 means any
	hours     []int
	minutes   []int
	seconds   []int
}

// Parse validates spec and builds a Rule from it. The returned error, when
// non-nil, is always a *ValidationError wrapping one of the Err* sentinels.
// Parse has no side effects: it does not consult the clock, so a spec with a
// zero DTStart parses into a "floating" rule whose anchor is resolved to the
// current instant when its first Sequence is created.
func Parse(spec Spec) (*Rule, error) {
	if err := validate(spec); err != nil {
		return nil, err
	}
	r := &Rule{spec: normalize(spec)}
	if !r.spec.DTStart.IsZero() {
		r.gen = bind(r.spec, r.spec.DTStart)
	}
	return r, nil
}

// TryParse is Parse with a result-typed return, for callers composing
// validation into pipelines instead of branching on err.
func TryParse(spec Spec) mo.Result[*Rule] {
	r, err := Parse(spec)
	if err != nil {
		return mo.Err[*Rule](err)
	}
	return mo.Ok(r)
}

// Valid reports whether Parse would accept spec. Use Parse or TryParse when
// the error detail matters.
func Valid(spec Spec) bool {
	return validate(spec) == nil
}

// MustParse is Parse that panics on invalid specs. Intended for fixed rules
// in package initialization and tests.
func MustParse(spec Spec) *Rule {
	r, err := Parse(spec)
	if err != nil {
		panic(fmt.Sprintf("recurrence: MustParse: %v", err))
	}
	return r
}

func validate(spec Spec) *ValidationError {
	if !spec.Frequency.valid() {
		return newValidationError(ErrUnknownFrequency, "frequency value %d is not recognized", int(spec.Frequency))
	}
	if spec.Interval < 1 {
		return newValidationError(ErrInvalidInterval, "interval must be a positive integer, got %d", spec.Interval)
	}
	if spec.Count < 0 {
		return newFieldError("COUNT", "count must not be negative, got %d", spec.Count)
	}
	if spec.Count > 0 && !spec.Until.IsZero() {
		return newValidationError(ErrConflictingBounds, "spec sets both count (%d) and until (%s)", spec.Count, spec.Until.Format(time.RFC3339))
	}
	if spec.WeekStart != nil && (*spec.WeekStart < time.Sunday || *spec.WeekStart > time.Saturday) {
		return newFieldError("WKST", "week start %d is not a weekday", int(*spec.WeekStart))
	}
	for _, m := range spec.ByMonth {
		if m < 1 || m > 12 {
			return newFieldError("BYMONTH", "month %d outside 1..12", m)
		}
	}
	for _, d := range spec.ByMonthDay {
		if d == 0 || d < -31 || d > 31 {
			return newFieldError("BYMONTHDAY", "month day %d outside 1..31 or -31..-1", d)
		}
	}
	for _, d := range spec.ByYearDay {
		if d == 0 || d < -366 || d > 366 {
			return newFieldError("BYYEARDAY", "year day %d outside 1..366 or -366..-1", d)
		}
	}
	for _, wd := range spec.ByWeekday {
		if wd < time.Sunday || wd > time.Saturday {
			return newFieldError("BYDAY", "weekday value %d is not a weekday", int(wd))
		}
	}
	for _, h := range spec.ByHour {
		if h < 0 || h > 23 {
			return newFieldError("BYHOUR", "hour %d outside 0..23", h)
		}
	}
	for _, m := range spec.ByMinute {
		if m < 0 || m > 59 {
			return newFieldError("BYMINUTE", "minute %d outside 0..59", m)
		}
	}
	for _, s := range spec.BySecond {
		if s < 0 || s > 59 {
			return newFieldError("BYSECOND", "second %d outside 0..59", s)
		}
	}
	return nil
}

// normalize deep-copies the spec and brings it to canonical form: constraint
// slices sorted and duplicate free, instants truncated to whole seconds.
// Occurrence arithmetic works at second granularity throughout.
func normalize(spec Spec) Spec {
	out := spec.clone()
	out.ByMonth = sortedUnique(out.ByMonth)
	out.ByMonthDay = sortedUnique(out.ByMonthDay)
	out.ByYearDay = sortedUnique(out.ByYearDay)
	out.ByHour = sortedUnique(out.ByHour)
	out.ByMinute = sortedUnique(out.ByMinute)
	out.BySecond = sortedUnique(out.BySecond)
	if len(out.ByWeekday) > 0 {
		sort.Slice(out.ByWeekday, func(i, j int) bool { return out.ByWeekday[i] < out.ByWeekday[j] })
		dst := out.ByWeekday[:1]
		for _, wd := range out.ByWeekday[1:] {
			if wd != dst[len(dst)-1] {
				dst = append(dst, wd)
			}
		}
		out.ByWeekday = dst
	}
	if !out.DTStart.IsZero() {
		out.DTStart = out.DTStart.Truncate(time.Second)
	}
	if !out.Until.IsZero() {
		out.Until = out.Until.Truncate(time.Second)
	}
	return out
}

func sortedUnique(in []int) []int {
	if len(in) == 0 {
		return in
	}
	sort.Ints(in)
	dst := in[:1]
	for _, v := range in[1:] {
		if v != dst[len(dst)-1] {
			dst = append(dst, v)
		}
	}
	return dst
}

// bind resolves the generation parameters for a normalized spec against a
// concrete anchor. Constraints the spec leaves open are pinned from the
// anchor the way RFC 2445 prescribes: a yearly rule inherits the anchor's
// month and day, a monthly rule its day, a weekly rule its weekday, and any
// frequency coarser than the hour/minute/second level inherits the anchor's
// time-of-day fields.
func bind(spec Spec, dtstart time.Time) *genSpec {
	dtstart = dtstart.Truncate(time.Second)
	g := &genSpec{
		freq:      spec.Frequency,
		interval:  spec.Interval,
		dtstart:   dtstart,
		loc:       dtstart.Location(),
		count:     spec.Count,
		until:     spec.Until,
		wkst:      time.Monday,
		months:    spec.ByMonth,
		monthDays: spec.ByMonthDay,
		yearDays:  spec.ByYearDay,
		hours:     spec.ByHour,
		minutes:   spec.ByMinute,
		seconds:   spec.BySecond,
	}
	if spec.WeekStart != nil {
		g.wkst = *spec.WeekStart
	}
	for _, wd := range spec.ByWeekday {
		g.weekdays |= 1 << uint(wd)
	}

	dayConstrained := len(g.monthDays) > 0 || len(g.yearDays) > 0 || g.weekdays != 0
	if !dayConstrained {
		switch g.freq {
		case Yearly:
			if len(g.months) == 0 {
				g.months = []int{int(dtstart.Month())}
			}
			g.monthDays = []int{dtstart.Day()}
		case Monthly:
			g.monthDays = []int{dtstart.Day()}
		case Weekly:
			g.weekdays = 1 << uint(dtstart.Weekday())
		}
	}
	if g.freq > Hourly && len(g.hours) == 0 {
		g.hours = []int{dtstart.Hour()}
	}
	if g.freq > Minutely && len(g.minutes) == 0 {
		g.minutes = []int{dtstart.Minute()}
	}
	if g.freq > Secondly && len(g.seconds) == 0 {
		g.seconds = []int{dtstart.Second()}
	}
	return g
}

// Frequency returns the rule's base repetition unit.
func (r *Rule) Frequency() Frequency { return r.spec.Frequency }

// Interval returns the rule's interval (always at least 1).
func (r *Rule) Interval() int { return r.spec.Interval }

// Count returns the total-occurrence bound and whether one is set.
func (r *Rule) Count() (int, bool) { return r.spec.Count, r.spec.Count > 0 }

// Until returns the inclusive end bound and whether one is set.
func (r *Rule) Until() (time.Time, bool) { return r.spec.Until, !r.spec.Until.IsZero() }

// DTStart returns the anchor instant and whether the rule carries one. A
// floating rule (zero DTStart in its spec) reports false until a Sequence
// resolves the anchor, which never mutates the rule itself.
func (r *Rule) DTStart() (time.Time, bool) { return r.spec.DTStart, !r.spec.DTStart.IsZero() }

// WeekStart returns the first day of the week used for weekly grouping.
func (r *Rule) WeekStart() time.Weekday {
	if r.spec.WeekStart != nil {
		return *r.spec.WeekStart
	}
	return time.Monday
}

// Spec returns a deep copy of the rule's normalized spec. Mutating the copy
// does not affect the rule.
func (r *Rule) Spec() Spec { return r.spec.clone() }

// String renders the rule in RFC 2445 RECUR text form, e.g.
// "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE". The anchor is not part of the text;
// RFC 2445 carries it in a separate DTSTART property.
func (r *Rule) String() string { return FormatRRule(r.spec) }

// Sequence creates a fresh occurrence stream anchored at the rule's DTStart.
// The first value produced is the first occurrence strictly after the
// anchor; the anchor itself is never emitted. For floating rules the anchor
// is resolved to the current instant, once, for this sequence.
func (r *Rule) Sequence() *Sequence {
	return r.sequence(time.Time{}, false)
}

// SequenceFrom creates an occurrence stream that skips everything before
// notBefore: the first value produced is the earliest occurrence at or after
// notBefore (and still strictly after the anchor). A Count bound applies to
// the occurrences this sequence emits, so rebuilding a sequence from a later
// starting point restarts the bound.
func (r *Rule) SequenceFrom(notBefore time.Time) *Sequence {
	return r.sequence(notBefore, true)
}

func (r *Rule) sequence(notBefore time.Time, haveNotBefore bool) *Sequence {
	g := r.gen
	if g == nil {
		g = bind(r.spec, time.Now())
	}
	s := &Sequence{gen: g, cursor: g.dtstart, remaining: -1}
	if g.count > 0 {
		s.remaining = g.count
	}
	if haveNotBefore && notBefore.After(g.dtstart) {
		s.cursor = notBefore.Truncate(time.Second)
		s.inclusive = true
	}
	return s
}

// Between collects the occurrences falling between start and end. When
// inclusive is true the bounds themselves qualify; otherwise both are
// excluded. Count and Until bounds of the rule still apply, counted from the
// beginning of the window.
func (r *Rule) Between(start, end time.Time, inclusive bool) []time.Time {
	if end.Before(start) {
		return nil
	}
	var out []time.Time
	seq := r.SequenceFrom(start)
	for {
		occ, ok := seq.Next()
		if !ok {
			return out
		}
		if !inclusive && occ.Equal(start) {
			continue
		}
		if occ.After(end) || (!inclusive && occ.Equal(end)) {
			return out
		}
		out = append(out, occ)
	}
}

// Upcoming collects up to n occurrences at or after from. Fewer than n are
// returned when the rule exhausts first.
func (r *Rule) Upcoming(from time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	seq := r.SequenceFrom(from)
	for len(out) < n {
		occ, ok := seq.Next()
		if !ok {
			break
		}
		out = append(out, occ)
	}
	return out
}
