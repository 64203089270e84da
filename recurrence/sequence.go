package recurrence

import (
	"time"
)

// Generation limits. The calendar ends at year 9999 like RFC 2445's DATE
// grammar; the scan budget bounds the work a single Next call may do when a
// rule's constraints are unsatisfiable (BYMONTHDAY=30 with BYMONTH=2 and the
// like), in which case the sequence reports exhaustion instead of spinning.
const (
	maxYear    = 9999
	scanBudget = 1 << 20

	// maxLatticeSpan keeps sub-daily candidate arithmetic clear of
	// time.Duration overflow (about 292 years).
	maxLatticeSpan = 250 * 365 * 24 * time.Hour
)

// Sequence is a lazy, single-use stream of occurrence instants for one Rule.
// Each call to Next returns the following occurrence in strictly increasing
// order; once Next has reported exhaustion it reports exhaustion forever.
//
// A Sequence holds only cursor state (last emission, remaining count) and is
// cheap to construct, so restarting after an interruption is done by asking
// the Rule for a fresh sequence rather than persisting this one. It is not
// safe for concurrent use; rules are, sequences are not.
type Sequence struct {
	gen       *genSpec
	cursor    time.Time
	inclusive bool
	remaining int // emissions left under a Count bound; -1 when unbounded
	exhausted bool
}

// Next returns the next occurrence and true, or the zero time and false when
// the sequence is exhausted (Count consumed, Until passed, calendar horizon
// reached, or the constraints admit no further instant within the scan
// budget).
func (s *Sequence) Next() (time.Time, bool) {
	if s.exhausted {
		return time.Time{}, false
	}
	occ, ok := s.gen.next(s.cursor, s.inclusive)
	if !ok {
		s.exhausted = true
		return time.Time{}, false
	}
	if !s.gen.until.IsZero() && occ.After(s.gen.until) {
		s.exhausted = true
		return time.Time{}, false
	}
	s.cursor = occ
	s.inclusive = false
	if s.remaining > 0 {
		s.remaining--
		if s.remaining == 0 {
			s.exhausted = true
		}
	}
	return occ, true
}

// Exhausted reports whether the sequence can produce no further occurrences.
func (s *Sequence) Exhausted() bool { return s.exhausted }

// Remaining returns how many emissions are left under the rule's Count bound
// and whether such a bound exists.
func (s *Sequence) Remaining() (int, bool) {
	if s.remaining < 0 {
		return 0, false
	}
	return s.remaining, true
}

// next finds the earliest occurrence strictly after the given instant (at or
// after it when inclusive is set). The zero return with false means no such
// occurrence exists within the generation limits.
func (g *genSpec) next(after time.Time, inclusive bool) (time.Time, bool) {
	if after.Before(g.dtstart) {
		after, inclusive = g.dtstart, false
	}
	after = after.In(g.loc)
	if g.freq.subDaily() {
		return g.nextSubDaily(after, inclusive)
	}
	return g.nextDaily(after, inclusive)
}

// nextDaily drives the daily, weekly, monthly and yearly frequencies. It
// scans civil days starting at the candidate's day, keeping the day aligned
// to the interval grid of the frequency and jumping over excluded months,
// then picks the first admissible time of day on the first admissible day.
// Time-of-day sets are always populated here: bind pins them from the anchor
// when the spec leaves them open.
func (g *genSpec) nextDaily(after time.Time, inclusive bool) (time.Time, bool) {
	y0, m0, d0 := g.dtstart.Date()
	anchorDay := daysFromCivil(y0, m0, d0)
	anchorWeek := g.weekFloor(anchorDay)
	anchorMonth := y0*12 + int(m0) - 1

	ay, am, ad := after.Date()
	day := daysFromCivil(ay, am, ad)

	budget := scanBudget
	for {
		if budget <= 0 {
			return time.Time{}, false
		}
		budget--

		y, m, d := civilFromDays(day)
		if y > maxYear {
			return time.Time{}, false
		}

		// Interval alignment at the frequency's own granularity. Jumps
		// land on the first day of the next aligned period; filters run
		// again from there.
		switch g.freq {
		case Daily:
			if rem := (day - anchorDay) % g.interval; rem != 0 {
				day += g.interval - rem
				continue
			}
		case Weekly:
			weeks := (g.weekFloor(day) - anchorWeek) / 7
			if rem := weeks % g.interval; rem != 0 {
				day = g.weekFloor(day) + (g.interval-rem)*7
				continue
			}
		case Monthly:
			mi := y*12 + int(m) - 1
			if rem := (mi - anchorMonth) % g.interval; rem != 0 {
				mi += g.interval - rem
				day = daysFromCivil(mi/12, time.Month(mi%12+1), 1)
				continue
			}
		case Yearly:
			if rem := (y - y0) % g.interval; rem != 0 {
				day = daysFromCivil(y+g.interval-rem, time.January, 1)
				continue
			}
		}

		if len(g.months) > 0 && !containsInt(g.months, int(m)) {
			ny, nm := nextAllowedMonth(y, m, g.months)
			day = daysFromCivil(ny, nm, 1)
			continue
		}

		if !g.dayMatches(y, m, d, weekdayOfCivil(day)) {
			day++
			continue
		}

		if occ, ok := g.timeOnDayAfter(y, m, d, after, inclusive); ok {
			return occ, true
		}
		day++
	}
}

// nextSubDaily drives the secondly, minutely and hourly frequencies. Their
// occurrences live on an absolute-time lattice dtstart + k*step, so DST
// transitions never stretch or shrink the gap between occurrences; the BY
// constraints then filter lattice points by their wall-clock reading in the
// rule's location. Mismatches jump the lattice index past the excluded
// region rather than testing point by point.
func (g *genSpec) nextSubDaily(after time.Time, inclusive bool) (time.Time, bool) {
	step := g.stepDuration()
	maxK := int64(maxLatticeSpan / step)

	k := int64(after.Sub(g.dtstart) / step)
	for ; k <= maxK; k++ {
		c := g.dtstart.Add(time.Duration(k) * step)
		if c.After(after) || (inclusive && c.Equal(after)) {
			break
		}
	}
	if k < 1 {
		k = 1
	}

	budget := scanBudget
	for {
		if budget <= 0 || k > maxK {
			return time.Time{}, false
		}
		budget--

		c := g.dtstart.Add(time.Duration(k) * step).In(g.loc)
		y, m, d := c.Date()
		if y > maxYear {
			return time.Time{}, false
		}

		if len(g.months) > 0 && !containsInt(g.months, int(m)) {
			ny, nm := nextAllowedMonth(y, m, g.months)
			k = g.realign(time.Date(ny, nm, 1, 0, 0, 0, 0, g.loc), step, k)
			continue
		}
		if !g.dayMatches(y, m, d, c.Weekday()) {
			k = g.realign(time.Date(y, m, d+1, 0, 0, 0, 0, g.loc), step, k)
			continue
		}
		if len(g.hours) > 0 && !containsInt(g.hours, c.Hour()) {
			if h, ok := nextAllowedValue(g.hours, c.Hour()); ok {
				k = g.realign(time.Date(y, m, d, h, 0, 0, 0, g.loc), step, k)
			} else {
				k = g.realign(time.Date(y, m, d+1, 0, 0, 0, 0, g.loc), step, k)
			}
			continue
		}
		if len(g.minutes) > 0 && !containsInt(g.minutes, c.Minute()) {
			if mm, ok := nextAllowedValue(g.minutes, c.Minute()); ok {
				k = g.realign(time.Date(y, m, d, c.Hour(), mm, 0, 0, g.loc), step, k)
			} else {
				k = g.realign(time.Date(y, m, d, c.Hour()+1, 0, 0, 0, g.loc), step, k)
			}
			continue
		}
		if len(g.seconds) > 0 && !containsInt(g.seconds, c.Second()) {
			k++
			continue
		}
		return c, true
	}
}

// realign advances the lattice index to the first point at or beyond target,
// always making progress past the current index.
func (g *genSpec) realign(target time.Time, step time.Duration, k int64) int64 {
	next := int64(target.Sub(g.dtstart) / step)
	if g.dtstart.Add(time.Duration(next) * step).Before(target) {
		next++
	}
	if next <= k {
		next = k + 1
	}
	return next
}

func (g *genSpec) stepDuration() time.Duration {
	switch g.freq {
	case Secondly:
		return time.Duration(g.interval) * time.Second
	case Minutely:
		return time.Duration(g.interval) * time.Minute
	default:
		return time.Duration(g.interval) * time.Hour
	}
}

// dayMatches applies the day-level constraints to one civil date.
func (g *genSpec) dayMatches(y int, m time.Month, d int, wd time.Weekday) bool {
	if len(g.monthDays) > 0 {
		n := daysInMonth(y, m)
		matched := false
		for _, md := range g.monthDays {
			if (md > 0 && md == d) || (md < 0 && n+md+1 == d) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(g.yearDays) > 0 {
		yd := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).YearDay()
		n := 365
		if isLeap(y) {
			n = 366
		}
		matched := false
		for _, v := range g.yearDays {
			if (v > 0 && v == yd) || (v < 0 && n+v+1 == yd) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if g.weekdays != 0 && g.weekdays&(1<<uint(wd)) == 0 {
		return false
	}
	return true
}

// timeOnDayAfter returns the earliest admissible instant on the given civil
// date that is after the bound (at or after it when inclusive). The
// time-of-day sets are sorted, so combinations are tried in wall-clock
// order.
func (g *genSpec) timeOnDayAfter(y int, m time.Month, d int, bound time.Time, inclusive bool) (time.Time, bool) {
	for _, hh := range g.hours {
		for _, mm := range g.minutes {
			for _, ss := range g.seconds {
				cand := time.Date(y, m, d, hh, mm, ss, 0, g.loc)
				if cand.After(bound) || (inclusive && cand.Equal(bound)) {
					return cand, true
				}
			}
		}
	}
	return time.Time{}, false
}

// weekFloor returns the civil day number of the first day of the week
// containing day, weeks beginning on the rule's week start.
func (g *genSpec) weekFloor(day int) int {
	shift := (int(weekdayOfCivil(day)) - int(g.wkst) + 7) % 7
	return day - shift
}

// Civil-day arithmetic after Howard Hinnant's algorithms: a proleptic
// Gregorian date maps to the number of days since 1970-01-01. Day-number
// differences are immune to DST because no clock is involved.

func daysFromCivil(y int, m time.Month, d int) int {
	if m <= time.February {
		y--
	}
	era := floorDiv(y, 400)
	yoe := y - era*400
	doy := (153*((int(m)+9)%12)+2)/5 + d - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}

func civilFromDays(z int) (int, time.Month, int) {
	z += 719468
	era := floorDiv(z, 146097)
	doe := z - era*146097
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365
	y := yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100)
	mp := (5*doy + 2) / 153
	d := doy - (153*mp+2)/5 + 1
	m := mp + 3
	if mp >= 10 {
		m = mp - 9
		y++
	}
	return y, time.Month(m), d
}

func weekdayOfCivil(z int) time.Weekday {
	wd := (z + 4) % 7
	if wd < 0 {
		wd += 7
	}
	return time.Weekday(wd)
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func daysInMonth(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func isLeap(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

func containsInt(sorted []int, v int) bool {
	for _, x := range sorted {
		if x == v {
			return true
		}
		if x > v {
			return false
		}
	}
	return false
}

// nextAllowedValue returns the smallest element of the sorted set strictly
// greater than v.
func nextAllowedValue(sorted []int, v int) (int, bool) {
	for _, x := range sorted {
		if x > v {
			return x, true
		}
	}
	return 0, false
}

// nextAllowedMonth returns the first (year, month) strictly after month m of
// year y whose month is in the sorted allowed set.
func nextAllowedMonth(y int, m time.Month, months []int) (int, time.Month) {
	for _, am := range months {
		if am > int(m) {
			return y, time.Month(am)
		}
	}
	return y + 1, time.Month(months[0])
}
