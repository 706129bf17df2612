package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	ics "github.com/emersion/go-ical"
)

// Extended properties written by fieldgrid. Any other X-FIELDGRID-*
// property is surfaced through Event.Props under its lowercased suffix.
const (
	propPrefix   = "X-FIELDGRID-"
	propResource = propPrefix + "RESOURCE"
	propStatus   = propPrefix + "STATUS"
	propSource   = propPrefix + "SOURCE"
)

const (
	dateLayout         = "20060102"
	floatingTimeLayout = "20060102T150405"
)

// occurrenceID makes a per-occurrence ID for an expanded recurring event.
func occurrenceID(uid string, start time.Time) string {
	return fmt.Sprintf("%s_%d", uid, start.Unix())
}

// propTime parses a DTSTART/DTEND style property. date is set for
// VALUE=DATE values.
func propTime(prop *ics.Prop) (t time.Time, date bool, err error) {
	if !strings.Contains(prop.Value, "T") {
		t, err = time.ParseInLocation(dateLayout, prop.Value, time.Local)
		return t, true, err
	}
	t, err = prop.DateTime(time.Local)
	if err != nil {
		// Floating time without TZID.
		t, err = time.ParseInLocation(floatingTimeLayout, prop.Value, time.Local)
	}
	return t, false, err
}

// decodeBase converts the non-time properties of a VEVENT.
func decodeBase(comp *ics.Component, source string) Event {
	ev := Event{Source: source}

	text := func(name string) string {
		if prop := comp.Props.Get(name); prop != nil {
			if s, err := prop.Text(); err == nil {
				return s
			}
			return prop.Value
		}
		return ""
	}

	ev.ID = text(ics.PropUID)
	ev.Title = text(ics.PropSummary)
	ev.Description = text(ics.PropDescription)
	ev.Location = text(ics.PropLocation)
	ev.ResourceID = text(propResource)

	ev.Status = ParseStatus(text(ics.PropStatus))
	if s := text(propStatus); s != "" {
		ev.Status = ParseStatus(s)
	}
	if s := text(propSource); s != "" && ev.Source == "" {
		ev.Source = s
	}

	for name, props := range comp.Props {
		if !strings.HasPrefix(name, propPrefix) || len(props) == 0 {
			continue
		}
		switch name {
		case propResource, propStatus, propSource:
			continue
		}
		if ev.Props == nil {
			ev.Props = make(map[string]string)
		}
		ev.Props[strings.ToLower(strings.TrimPrefix(name, propPrefix))] = props[0].Value
	}

	return ev
}

// decodeTimes reads DTSTART and DTEND (or DURATION). Events without an end
// last one hour.
func decodeTimes(comp *ics.Component) (start time.Time, dur time.Duration, allDay bool, err error) {
	prop := comp.Props.Get(ics.PropDateTimeStart)
	if prop == nil {
		return time.Time{}, 0, false, fmt.Errorf("missing DTSTART")
	}
	start, allDay, err = propTime(prop)
	if err != nil {
		return time.Time{}, 0, false, fmt.Errorf("parse start time: %w", err)
	}

	switch {
	case comp.Props.Get(ics.PropDateTimeEnd) != nil:
		end, _, err := propTime(comp.Props.Get(ics.PropDateTimeEnd))
		if err != nil {
			return time.Time{}, 0, false, fmt.Errorf("parse end time: %w", err)
		}
		dur = end.Sub(start)
	case comp.Props.Get(ics.PropDuration) != nil:
		dur, err = comp.Props.Get(ics.PropDuration).Duration()
		if err != nil {
			return time.Time{}, 0, false, fmt.Errorf("parse duration: %w", err)
		}
	case allDay:
		dur = 24 * time.Hour
	default:
		dur = time.Hour
	}
	return start, dur, allDay, nil
}

// decodeCalendar expands every VEVENT of cal that intersects window.
// Recurring events are expanded with their RRULE set; instances overridden
// by a RECURRENCE-ID component are replaced by the override.
func decodeCalendar(cal *ics.Calendar, source string, window Interval) ([]Event, error) {
	overridden := make(map[string]bool)
	for _, comp := range cal.Children {
		if comp.Name != ics.CompEvent {
			continue
		}
		if rid := comp.Props.Get(ics.PropRecurrenceID); rid != nil {
			if t, _, err := propTime(rid); err == nil {
				overridden[occurrenceID(textValue(comp, ics.PropUID), t)] = true
			}
		}
	}

	var events []Event
	for _, comp := range cal.Children {
		if comp.Name != ics.CompEvent {
			continue
		}
		parsed, err := decodeEvent(comp, source, window, overridden)
		if err != nil {
			// Skip events we can't parse
			continue
		}
		events = append(events, parsed...)
	}
	return events, nil
}

func decodeEvent(comp *ics.Component, source string, window Interval, overridden map[string]bool) ([]Event, error) {
	base := decodeBase(comp, source)
	start, dur, allDay, err := decodeTimes(comp)
	if err != nil {
		return nil, err
	}

	if rid := comp.Props.Get(ics.PropRecurrenceID); rid != nil {
		t, _, err := propTime(rid)
		if err != nil {
			return nil, fmt.Errorf("parse recurrence id: %w", err)
		}
		base.ID = occurrenceID(base.ID, t)
		base.Recurring = true
		base.Start, base.End = start, start.Add(dur)
		base.AllDay = allDay || isEffectivelyAllDay(base.Start, base.End)
		if !intersects(base.Interval, window) {
			return nil, nil
		}
		return []Event{base}, nil
	}

	rset, err := comp.RecurrenceSet(time.Local)
	if err != nil {
		return nil, fmt.Errorf("parse recurrence: %w", err)
	}

	if rset == nil {
		base.Start, base.End = start, start.Add(dur)
		base.AllDay = allDay || isEffectivelyAllDay(base.Start, base.End)
		if !intersects(base.Interval, window) {
			return nil, nil
		}
		return []Event{base}, nil
	}

	// Look back by the duration so occurrences already in progress at the
	// window start are included.
	var events []Event
	for _, occ := range rset.Between(window.Start.Add(-dur), window.End, true) {
		ev := base
		ev.Start, ev.End = occ, occ.Add(dur)
		ev.ID = occurrenceID(base.ID, occ)
		if overridden[ev.ID] || !intersects(ev.Interval, window) {
			continue
		}
		ev.AllDay = allDay || isEffectivelyAllDay(ev.Start, ev.End)
		ev.Recurring = true
		events = append(events, ev)
	}
	return events, nil
}

// intersects is Overlaps that also admits zero-length events starting
// inside the window.
func intersects(iv, window Interval) bool {
	if !iv.Valid() {
		return !iv.Start.Before(window.Start) && iv.Start.Before(window.End)
	}
	return iv.Overlaps(window)
}

func textValue(comp *ics.Component, name string) string {
	if prop := comp.Props.Get(name); prop != nil {
		return prop.Value
	}
	return ""
}

// setInterval rewrites the time properties of comp. DURATION is replaced by
// an explicit DTEND.
func setInterval(comp *ics.Component, iv Interval, allDay bool) {
	delete(comp.Props, ics.PropDuration)
	if allDay {
		comp.Props.SetDate(ics.PropDateTimeStart, iv.Start)
		comp.Props.SetDate(ics.PropDateTimeEnd, iv.End)
		return
	}
	comp.Props.SetDateTime(ics.PropDateTimeStart, iv.Start)
	comp.Props.SetDateTime(ics.PropDateTimeEnd, iv.End)
}

// touch bumps DTSTAMP, LAST-MODIFIED and SEQUENCE after an edit.
func touch(comp *ics.Component, now time.Time) {
	comp.Props.SetDateTime(ics.PropDateTimeStamp, now.UTC())
	comp.Props.SetDateTime(ics.PropLastModified, now.UTC())

	seq := 0
	if prop := comp.Props.Get(ics.PropSequence); prop != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(prop.Value)); err == nil {
			seq = n
		}
	}
	prop := ics.NewProp(ics.PropSequence)
	prop.Value = strconv.Itoa(seq + 1)
	comp.Props.Set(prop)
}

// applyReschedule updates comp to the new interval and assignment.
func applyReschedule(comp *ics.Component, iv Interval, resourceID string, now time.Time) error {
	if comp.Props.Get(ics.PropRecurrenceRule) != nil || comp.Props.Get(ics.PropRecurrenceID) != nil {
		return ErrRecurring
	}
	_, _, allDay, err := decodeTimes(comp)
	if err != nil {
		return err
	}
	setInterval(comp, iv, allDay)
	if resourceID != "" {
		comp.Props.SetText(propResource, resourceID)
	}
	touch(comp, now)
	return nil
}

// encodeEvent builds a VEVENT for ev.
func encodeEvent(ev Event, now time.Time) *ics.Component {
	comp := ics.NewComponent(ics.CompEvent)
	comp.Props.SetText(ics.PropUID, ev.ID)
	comp.Props.SetText(ics.PropSummary, ev.Title)
	comp.Props.SetDateTime(ics.PropDateTimeStamp, now.UTC())

	if ev.Description != "" {
		comp.Props.SetText(ics.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		comp.Props.SetText(ics.PropLocation, ev.Location)
	}
	if ev.ResourceID != "" {
		comp.Props.SetText(propResource, ev.ResourceID)
	}
	if ev.Status != StatusScheduled {
		comp.Props.SetText(propStatus, ev.Status.String())
	}
	if ev.Source != "" {
		comp.Props.SetText(propSource, ev.Source)
	}
	for k, v := range ev.Props {
		comp.Props.SetText(propPrefix+strings.ToUpper(k), v)
	}
	setInterval(comp, ev.Interval, ev.AllDay)
	return comp
}

// findComponent returns the VEVENT with the given UID.
func findComponent(cal *ics.Calendar, uid string) *ics.Component {
	for _, comp := range cal.Children {
		if comp.Name == ics.CompEvent && textValue(comp, ics.PropUID) == uid && comp.Props.Get(ics.PropRecurrenceID) == nil {
			return comp
		}
	}
	return nil
}

// lookupForReschedule finds the component for id. An ID of an expanded
// occurrence resolves to ErrRecurring, an unknown ID to ErrNotFound.
func lookupForReschedule(cal *ics.Calendar, id string) (*ics.Component, error) {
	if comp := findComponent(cal, id); comp != nil {
		return comp, nil
	}
	if i := strings.LastIndexByte(id, '_'); i > 0 {
		if master := findComponent(cal, id[:i]); master != nil && master.Props.Get(ics.PropRecurrenceRule) != nil {
			return nil, ErrRecurring
		}
	}
	return nil, ErrNotFound
}
