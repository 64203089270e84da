package recurrence

import (
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
)

// xCal codec (RFC 6321). The XML form of a recurrence rule is an <rrule>
// element wrapping a <recur> element with one child per rule part;
// multi-valued parts repeat their element:
//
//	<rrule>
//	  <recur>
//	    <freq>WEEKLY</freq>
//	    <interval>2</interval>
//	    <byday>MO</byday>
//	    <byday>WE</byday>
//	  </recur>
//	</rrule>
//
// As with RECUR text, the anchor lives outside the rule in its own dtstart
// property, so Spec.DTStart is not encoded here.

const xcalUntilLayout = "2006-01-02T15:04:05Z"

// EncodeXCal renders the spec as a standalone xCal document.
func EncodeXCal(spec Spec) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	AppendXCal(&doc.Element, spec)
	doc.Indent(2)
	return doc
}

// AppendXCal adds an <rrule> element for the spec under parent and returns
// it. Rule parts appear in the element order RFC 6321 prescribes; defaulted
// values (INTERVAL=1, WKST=MO) are omitted.
func AppendXCal(parent *etree.Element, spec Spec) *etree.Element {
	rrule := parent.CreateElement("rrule")
	recur := rrule.CreateElement("recur")

	text := func(name, value string) {
		recur.CreateElement(name).SetText(value)
	}
	texts := func(name string, values []int) {
		for _, v := range values {
			text(name, strconv.Itoa(v))
		}
	}

	text("freq", spec.Frequency.String())
	if spec.Count > 0 {
		text("count", strconv.Itoa(spec.Count))
	}
	if !spec.Until.IsZero() {
		text("until", spec.Until.UTC().Format(xcalUntilLayout))
	}
	if spec.Interval > 1 {
		text("interval", strconv.Itoa(spec.Interval))
	}
	texts("bysecond", spec.BySecond)
	texts("byminute", spec.ByMinute)
	texts("byhour", spec.ByHour)
	for _, wd := range spec.ByWeekday {
		text("byday", weekdayTokens[wd])
	}
	texts("bymonthday", spec.ByMonthDay)
	texts("byyearday", spec.ByYearDay)
	texts("bymonth", spec.ByMonth)
	if spec.WeekStart != nil && *spec.WeekStart != time.Monday {
		text("wkst", weekdayTokens[*spec.WeekStart])
	}
	return rrule
}

// DecodeXCal reads a Spec back out of an <rrule> or <recur> element. The
// result is not validated; pass it to Parse as usual.
func DecodeXCal(el *etree.Element) (Spec, error) {
	recur := el
	if el.Tag == "rrule" {
		recur = el.SelectElement("recur")
		if recur == nil {
			return Spec{}, newValidationError(ErrMalformedRule, "rrule element has no recur child")
		}
	}
	if recur.Tag != "recur" {
		return Spec{}, newValidationError(ErrMalformedRule, "unexpected element <%s>, want <rrule> or <recur>", recur.Tag)
	}
	for _, name := range []string{"bysetpos", "byweekno"} {
		if recur.SelectElement(name) != nil {
			return Spec{}, newValidationError(ErrUnsupportedRule, "%s is not supported", strings.ToUpper(name))
		}
	}

	freqEl := recur.SelectElement("freq")
	if freqEl == nil {
		return Spec{}, newValidationError(ErrMalformedRule, "recur element has no freq child")
	}
	freq, err := ParseFrequency(strings.TrimSpace(freqEl.Text()))
	if err != nil {
		return Spec{}, err
	}

	spec := Spec{Frequency: freq, Interval: 1}
	if v, ok, err := xcalInt(recur, "count"); err != nil {
		return Spec{}, err
	} else if ok {
		spec.Count = v
	}
	if v, ok, err := xcalInt(recur, "interval"); err != nil {
		return Spec{}, err
	} else if ok {
		spec.Interval = v
	}
	if e := recur.SelectElement("until"); e != nil {
		raw := strings.TrimSpace(e.Text())
		until, err := time.Parse(xcalUntilLayout, raw)
		if err != nil {
			// Tolerate the basic iCalendar form some producers emit.
			until, err = time.Parse(untilLayout, raw)
		}
		if err != nil {
			return Spec{}, wrapValidationError(ErrMalformedInstant, err, "cannot decode until %q", raw)
		}
		spec.Until = until
	}

	if spec.BySecond, err = xcalInts(recur, "bysecond"); err != nil {
		return Spec{}, err
	}
	if spec.ByMinute, err = xcalInts(recur, "byminute"); err != nil {
		return Spec{}, err
	}
	if spec.ByHour, err = xcalInts(recur, "byhour"); err != nil {
		return Spec{}, err
	}
	if spec.ByMonthDay, err = xcalInts(recur, "bymonthday"); err != nil {
		return Spec{}, err
	}
	if spec.ByYearDay, err = xcalInts(recur, "byyearday"); err != nil {
		return Spec{}, err
	}
	if spec.ByMonth, err = xcalInts(recur, "bymonth"); err != nil {
		return Spec{}, err
	}
	for _, e := range recur.SelectElements("byday") {
		wd, err := parseWeekdayToken(strings.TrimSpace(e.Text()))
		if err != nil {
			return Spec{}, err
		}
		spec.ByWeekday = append(spec.ByWeekday, wd)
	}
	if e := recur.SelectElement("wkst"); e != nil {
		wd, err := parseWeekdayToken(strings.TrimSpace(e.Text()))
		if err != nil {
			return Spec{}, err
		}
		spec.WeekStart = &wd
	}
	return spec, nil
}

// ParseXCal decodes a Spec from serialized xCal XML whose root is an
// <rrule> or <recur> element.
func ParseXCal(data string) (Spec, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(data); err != nil {
		return Spec{}, wrapValidationError(ErrMalformedRule, err, "cannot parse xCal document")
	}
	root := doc.Root()
	if root == nil {
		return Spec{}, newValidationError(ErrMalformedRule, "empty xCal document")
	}
	return DecodeXCal(root)
}

func xcalInt(recur *etree.Element, name string) (int, bool, error) {
	e := recur.SelectElement(name)
	if e == nil {
		return 0, false, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(e.Text()))
	if err != nil {
		return 0, false, wrapValidationError(ErrMalformedRule, err, "%s value %q is not an integer", name, e.Text())
	}
	return v, true, nil
}

func xcalInts(recur *etree.Element, name string) ([]int, error) {
	elems := recur.SelectElements(name)
	if len(elems) == 0 {
		return nil, nil
	}
	out := make([]int, 0, len(elems))
	for _, e := range elems {
		v, err := strconv.Atoi(strings.TrimSpace(e.Text()))
		if err != nil {
			return nil, wrapValidationError(ErrMalformedRule, err, "%s value %q is not an integer", name, e.Text())
		}
		out = append(out, v)
	}
	return out, nil
}

func parseWeekdayToken(token string) (time.Weekday, error) {
	for i, name := range weekdayTokens {
		if equalFold(token, name) {
			return time.Weekday(i), nil
		}
	}
	if len(token) > 2 {
		return 0, newValidationError(ErrUnsupportedRule, "ordinal weekday %q is not supported", token)
	}
	return 0, newFieldError("BYDAY", "weekday token %q is not recognized", token)
}
