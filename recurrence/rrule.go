package recurrence

import (
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// RECUR text codec. Parsing leans on rrule-go's grammar so the accepted
// syntax stays aligned with the wider iCalendar ecosystem; serialization is
// canonical (fixed part order, defaults omitted) so equal rules render to
// equal strings.

const untilLayout = "20060102T150405Z"

var toRRuleFreq = map[Frequency]rrule.Frequency{
	Secondly: rrule.SECONDLY,
	Minutely: rrule.MINUTELY,
	Hourly:   rrule.HOURLY,
	Daily:    rrule.DAILY,
	Weekly:   rrule.WEEKLY,
	Monthly:  rrule.MONTHLY,
	Yearly:   rrule.YEARLY,
}

var fromRRuleFreq = map[rrule.Frequency]Frequency{
	rrule.SECONDLY: Secondly,
	rrule.MINUTELY: Minutely,
	rrule.HOURLY:   Hourly,
	rrule.DAILY:    Daily,
	rrule.WEEKLY:   Weekly,
	rrule.MONTHLY:  Monthly,
	rrule.YEARLY:   Yearly,
}

// rrule-go numbers weekdays from Monday=0; time.Weekday from Sunday=0.
var toRRuleWeekday = [7]rrule.Weekday{
	rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA,
}

var weekdayTokens = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// ParseRRule decodes an RFC 2445 RECUR value such as
// "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE" into a Spec. A leading "RRULE:" is
// tolerated. The resulting spec has no anchor; set DTStart before parsing it
// into a Rule, or leave it zero for a rule anchored at first use.
//
// Grammar features this package does not evaluate (BYSETPOS, BYWEEKNO,
// ordinal weekdays like 2MO) are rejected with ErrUnsupportedRule rather
// than silently dropped.
func ParseRRule(text string) (Spec, error) {
	value := strings.TrimSpace(text)
	value = strings.TrimPrefix(value, "RRULE:")
	if value == "" {
		return Spec{}, newValidationError(ErrMalformedRule, "empty rule text")
	}

	// Surface a missing or unknown FREQ under its own reason before handing
	// the text to the grammar, which reports the former as yearly (its zero
	// frequency) and the latter as a generic parse failure.
	sawFreq, sawInterval := false, false
	for _, part := range strings.Split(value, ";") {
		name, val, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch {
		case equalFold(strings.TrimSpace(name), "FREQ"):
			sawFreq = true
			if _, err := ParseFrequency(strings.TrimSpace(val)); err != nil {
				return Spec{}, err
			}
		case equalFold(strings.TrimSpace(name), "INTERVAL"):
			sawInterval = true
		}
	}
	if !sawFreq {
		return Spec{}, newValidationError(ErrMalformedRule, "rule text %q has no FREQ part", value)
	}

	opt, err := rrule.StrToROption(value)
	if err != nil {
		return Spec{}, wrapValidationError(ErrMalformedRule, err, "cannot parse %q", value)
	}

	if len(opt.Bysetpos) > 0 {
		return Spec{}, newValidationError(ErrUnsupportedRule, "BYSETPOS is not supported")
	}
	if len(opt.Byweekno) > 0 {
		return Spec{}, newValidationError(ErrUnsupportedRule, "BYWEEKNO is not supported")
	}
	if len(opt.Byeaster) > 0 {
		return Spec{}, newValidationError(ErrUnsupportedRule, "BYEASTER is not supported")
	}

	freq, ok := fromRRuleFreq[opt.Freq]
	if !ok {
		return Spec{}, newValidationError(ErrUnknownFrequency, "frequency value %d is not recognized", int(opt.Freq))
	}

	spec := Spec{
		Frequency:  freq,
		Interval:   opt.Interval,
		Count:      opt.Count,
		Until:      opt.Until,
		ByMonth:    opt.Bymonth,
		ByMonthDay: opt.Bymonthday,
		ByYearDay:  opt.Byyearday,
		ByHour:     opt.Byhour,
		ByMinute:   opt.Byminute,
		BySecond:   opt.Bysecond,
	}
	// An absent INTERVAL defaults to 1; an explicit INTERVAL=0 is kept so
	// that Parse rejects it.
	if spec.Interval == 0 && !sawInterval {
		spec.Interval = 1
	}
	for _, wd := range opt.Byweekday {
		if wd.N() != 0 {
			return Spec{}, newValidationError(ErrUnsupportedRule, "ordinal weekday %d%s is not supported", wd.N(), weekdayTokens[(wd.Day()+1)%7])
		}
		spec.ByWeekday = append(spec.ByWeekday, time.Weekday((wd.Day()+1)%7))
	}
	ws := time.Weekday((opt.Wkst.Day() + 1) % 7)
	spec.WeekStart = &ws
	return spec, nil
}

// RuleFromRRule parses RECUR text and anchors it at dtstart in one step.
func RuleFromRRule(text string, dtstart time.Time) (*Rule, error) {
	spec, err := ParseRRule(text)
	if err != nil {
		return nil, err
	}
	spec.DTStart = dtstart
	return Parse(spec)
}

// FormatRRule renders a spec as canonical RECUR text. Parts appear in a
// fixed order and defaulted values (INTERVAL=1, WKST=MO) are omitted, so the
// output of equal specs compares equal. The anchor is not part of RECUR
// text and is ignored.
func FormatRRule(spec Spec) string {
	var b strings.Builder
	b.WriteString("FREQ=")
	b.WriteString(spec.Frequency.String())
	if spec.Interval > 1 {
		b.WriteString(";INTERVAL=")
		b.WriteString(strconv.Itoa(spec.Interval))
	}
	if spec.Count > 0 {
		b.WriteString(";COUNT=")
		b.WriteString(strconv.Itoa(spec.Count))
	}
	if !spec.Until.IsZero() {
		b.WriteString(";UNTIL=")
		b.WriteString(spec.Until.UTC().Format(untilLayout))
	}
	writeIntPart(&b, "BYMONTH", spec.ByMonth)
	writeIntPart(&b, "BYMONTHDAY", spec.ByMonthDay)
	writeIntPart(&b, "BYYEARDAY", spec.ByYearDay)
	if len(spec.ByWeekday) > 0 {
		b.WriteString(";BYDAY=")
		for i, wd := range spec.ByWeekday {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(weekdayTokens[wd])
		}
	}
	writeIntPart(&b, "BYHOUR", spec.ByHour)
	writeIntPart(&b, "BYMINUTE", spec.ByMinute)
	writeIntPart(&b, "BYSECOND", spec.BySecond)
	if spec.WeekStart != nil && *spec.WeekStart != time.Monday {
		b.WriteString(";WKST=")
		b.WriteString(weekdayTokens[*spec.WeekStart])
	}
	return b.String()
}

func writeIntPart(b *strings.Builder, name string, values []int) {
	if len(values) == 0 {
		return
	}
	b.WriteByte(';')
	b.WriteString(name)
	b.WriteByte('=')
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
}

// ROption converts the rule into rrule-go's option form, anchor included,
// for callers that interoperate with that package directly.
func (r *Rule) ROption() rrule.ROption {
	opt := rrule.ROption{
		Freq:       toRRuleFreq[r.spec.Frequency],
		Dtstart:    r.spec.DTStart,
		Interval:   r.spec.Interval,
		Count:      r.spec.Count,
		Until:      r.spec.Until,
		Bymonth:    cloneInts(r.spec.ByMonth),
		Bymonthday: cloneInts(r.spec.ByMonthDay),
		Byyearday:  cloneInts(r.spec.ByYearDay),
		Byhour:     cloneInts(r.spec.ByHour),
		Byminute:   cloneInts(r.spec.ByMinute),
		Bysecond:   cloneInts(r.spec.BySecond),
		Wkst:       toRRuleWeekday[r.WeekStart()],
	}
	for _, wd := range r.spec.ByWeekday {
		opt.Byweekday = append(opt.Byweekday, toRRuleWeekday[wd])
	}
	return opt
}
