package recurrence

import (
	"time"

	"github.com/emersion/go-ical"
)

// iCalendar bridge. Rules travel inside calendar components as an RRULE
// property anchored by the component's DTSTART; these helpers move them in
// and out of go-ical component trees.

// SpecFromComponent reads the RRULE and DTSTART properties of a component
// into a Spec. A component without an RRULE yields ErrNoRecurrence; a
// DTSTART that cannot be decoded yields ErrMalformedInstant. A missing
// DTSTART is not an error, it just leaves the spec floating.
func SpecFromComponent(comp *ical.Component) (Spec, error) {
	rruleProp := comp.Props.Get(ical.PropRecurrenceRule)
	if rruleProp == nil || rruleProp.Value == "" {
		return Spec{}, newValidationError(ErrNoRecurrence, "component %s has no RRULE property", comp.Name)
	}
	spec, err := ParseRRule(rruleProp.Value)
	if err != nil {
		return Spec{}, err
	}
	if dtProp := comp.Props.Get(ical.PropDateTimeStart); dtProp != nil {
		dtstart, err := comp.Props.DateTime(ical.PropDateTimeStart, nil)
		if err != nil {
			return Spec{}, wrapValidationError(ErrMalformedInstant, err, "cannot decode DTSTART %q", dtProp.Value)
		}
		spec.DTStart = dtstart
	}
	return spec, nil
}

// RuleFromComponent is SpecFromComponent followed by Parse.
func RuleFromComponent(comp *ical.Component) (*Rule, error) {
	spec, err := SpecFromComponent(comp)
	if err != nil {
		return nil, err
	}
	return Parse(spec)
}

// ApplyToComponent writes the rule onto a component as an RRULE property,
// replacing any existing one, and sets DTSTART when the rule carries an
// anchor.
func (r *Rule) ApplyToComponent(comp *ical.Component) {
	prop := ical.NewProp(ical.PropRecurrenceRule)
	prop.Value = r.String()
	comp.Props.Set(prop)
	if dtstart, ok := r.DTStart(); ok {
		comp.Props.SetDateTime(ical.PropDateTimeStart, dtstart)
	}
}

// NewEventComponent builds a minimal VEVENT carrying the rule. DTSTAMP is
// set to the current instant as required for events.
func NewEventComponent(uid, summary string, r *Rule) *ical.Component {
	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropUID, uid)
	comp.Props.SetText(ical.PropSummary, summary)
	comp.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	r.ApplyToComponent(comp)
	return comp
}
