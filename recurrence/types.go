// Package recurrence implements parsing, validation and lazy expansion of
// RFC 2445 style recurrence rules. A Spec describes a repetition pattern
// (frequency, interval, bounds and BY-style constraints); Parse turns it into
// an immutable Rule, and a Rule produces Sequence values that enumerate the
// occurrence instants one at a time in strictly increasing order.
//
// The package is pure computation: it performs no I/O, spawns no goroutines
// (except the optional Expander cache) and never consults the wall clock
// unless a rule is anchored to "now" on purpose.
package recurrence

import (
	"time"
)

// Frequency designates the base repetition unit of a rule.
type Frequency int

const (
	// Secondly repeats every Interval seconds.
	Secondly Frequency = iota + 1
	// Minutely repeats every Interval minutes.
	Minutely
	// Hourly repeats every Interval hours.
	Hourly
	// Daily repeats every Interval days.
	Daily
	// Weekly repeats every Interval weeks.
	Weekly
	// Monthly repeats every Interval months.
	Monthly
	// Yearly repeats every Interval years.
	Yearly
)

var frequencyNames = map[Frequency]string{
	Secondly: "SECONDLY",
	Minutely: "MINUTELY",
	Hourly:   "HOURLY",
	Daily:    "DAILY",
	Weekly:   "WEEKLY",
	Monthly:  "MONTHLY",
	Yearly:   "YEARLY",
}

// String returns the RFC 2445 name of the frequency (e.g. "DAILY").
func (f Frequency) String() string {
	if name, ok := frequencyNames[f]; ok {
		return name
	}
	return "UNKNOWN"
}

// valid reports whether f is one of the seven recognized frequencies.
func (f Frequency) valid() bool {
	return f >= Secondly && f <= Yearly
}

// subDaily reports whether the frequency steps in units finer than a day.
func (f Frequency) subDaily() bool {
	return f <= Hourly
}

// ParseFrequency parses an RFC 2445 frequency name. Matching is
// case-insensitive; unrecognized names return an UnknownFrequency error.
func ParseFrequency(s string) (Frequency, error) {
	for f, name := range frequencyNames {
		if equalFold(s, name) {
			return f, nil
		}
	}
	return 0, newValidationError(ErrUnknownFrequency, "frequency %q is not recognized", s)
}

// equalFold is an allocation-free ASCII case-insensitive comparison. RFC 2445
// tokens are plain ASCII, so full Unicode folding is unnecessary.
func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'a' <= ca && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if 'a' <= cb && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Spec is the user-supplied description of a recurrence pattern. It is plain
// data: construct one with a struct literal (or via ParseRRule /
// SpecFromComponent) and hand it to Parse for validation.
//
// The zero value of every optional field means "not constrained". Count and
// Until are mutually exclusive; when neither is set the rule repeats forever.
type Spec struct {
	// Frequency selects the base repetition unit. Required.
	Frequency Frequency

	// Interval stretches the base unit: every Interval-th period recurs.
	// Must be at least 1. The text codecs fill in 1 when the rule omits
	// INTERVAL; a struct literal has to set it explicitly.
	Interval int

	// DTStart anchors the pattern. Its wall-clock fields seed the implicit
	// constraints (a monthly rule anchored on the 14th recurs on the 14th)
	// and its location defines the wall clock used by BY-style filters.
	// When zero the anchor is resolved to the current instant at the moment
	// the first Sequence is created.
	DTStart time.Time

	// Count bounds the sequence to a total number of emitted occurrences.
	// Zero means unbounded. Mutually exclusive with Until.
	Count int

	// Until bounds the sequence to instants at or before this one
	// (inclusive). Zero means unbounded. Mutually exclusive with Count.
	Until time.Time

	// WeekStart sets the day on which weeks begin, which changes the week
	// grouping of weekly rules with Interval > 1. Defaults to Monday.
	WeekStart *time.Weekday

	// ByMonth restricts occurrences to the listed months.
	ByMonth []int

	// ByMonthDay restricts occurrences to the listed days of the month.
	// Negative values count from the end of the month (-1 is the last day).
	ByMonthDay []int

	// ByYearDay restricts occurrences to the listed days of the year.
	// Negative values count from the end of the year.
	ByYearDay []int

	// ByWeekday restricts occurrences to the listed days of the week.
	ByWeekday []time.Weekday

	// ByHour, ByMinute and BySecond restrict the time of day.
	ByHour   []int
	ByMinute []int
	BySecond []int
}

// clone returns a deep copy of the spec so that a Rule never aliases
// caller-owned slices.
func (s Spec) clone() Spec {
	out := s
	out.ByMonth = cloneInts(s.ByMonth)
	out.ByMonthDay = cloneInts(s.ByMonthDay)
	out.ByYearDay = cloneInts(s.ByYearDay)
	out.ByHour = cloneInts(s.ByHour)
	out.ByMinute = cloneInts(s.ByMinute)
	out.BySecond = cloneInts(s.BySecond)
	if s.ByWeekday != nil {
		out.ByWeekday = make([]time.Weekday, len(s.ByWeekday))
		copy(out.ByWeekday, s.ByWeekday)
	}
	if s.WeekStart != nil {
		ws := *s.WeekStart
		out.WeekStart = &ws
	}
	return out
}

func cloneInts(in []int) []int {
	if in == nil {
		return nil
	}
	out := make([]int, len(in))
	copy(out, in)
	return out
}

// Weekday pointer helper for building Spec literals.
func Weekday(d time.Weekday) *time.Weekday { return &d }
