package grid

import (
	"fmt"
	"sort"
	"time"

	"github.com/cpuguy83/fieldgrid/internal/calendar"
)

// Kind identifies a calendar view layout.
type Kind int

const (
	KindDay Kind = iota
	KindWeek
	KindTeam
)

func (k Kind) String() string {
	switch k {
	case KindWeek:
		return "week"
	case KindTeam:
		return "team"
	default:
		return "day"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	kind, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseKind maps "day", "week" or "team" to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "day":
		return KindDay, nil
	case "week":
		return KindWeek, nil
	case "team":
		return KindTeam, nil
	default:
		return KindDay, fmt.Errorf("unknown view kind %q", s)
	}
}

// Input is one render pass worth of state.
type Input struct {
	Kind Kind
	// Date is the rendered day; the first day for week views.
	Date time.Time
	// Days is the number of day lanes in a week view (7 if zero).
	Days       int
	Events     []calendar.Event
	Resources  []calendar.Resource
	Highlights []TimeRange
	Now        time.Time
	Policy     WindowPolicy
}

// Lane describes one track of a frame.
type Lane struct {
	Index      int       `json:"index"`
	Date       time.Time `json:"date"`
	ResourceID string    `json:"resource_id,omitempty"`
	Label      string    `json:"label"`
}

// Frame is the complete geometry of one render pass.
type Frame struct {
	Kind        Kind              `json:"kind"`
	Orientation Orientation       `json:"orientation"`
	Extent      float64           `json:"extent"`
	Lanes       []Lane            `json:"lanes"`
	Events      []PositionedEvent `json:"events"`
	AllDay      []calendar.Event  `json:"all_day,omitempty"`
	Slots       []Slot            `json:"slots"`
	Now         NowMarker         `json:"now"`
}

// Render computes the frame for in. Events are bucketed into lanes by
// the calendar day of their start (day and week views) or by ResourceID
// and day (team view). Team events whose resource is missing or unknown
// are left out. All-day events are returned separately and never placed
// on the time grid.
func (a *Axis) Render(in Input) Frame {
	date := a.Day(in.Date)
	f := Frame{
		Kind:   in.Kind,
		Extent: a.TotalHeight(),
		Now:    a.Now(in.Now, date),
	}

	var timed []calendar.Event
	for _, ev := range in.Events {
		if ev.AllDay {
			f.AllDay = append(f.AllDay, ev)
			continue
		}
		timed = append(timed, ev)
	}

	switch in.Kind {
	case KindTeam:
		f.Orientation = Horizontal
		a.renderTeam(&f, date, timed, in)
	case KindWeek:
		days := in.Days
		if days <= 0 {
			days = 7
		}
		a.renderDays(&f, date, days, timed, in)
		f.Now = a.weekNow(in.Now, date, days)
	default:
		a.renderDays(&f, date, 1, timed, in)
	}

	f.AllDay = a.allDayFor(f.AllDay, f.Lanes)
	return f
}

func (a *Axis) renderDays(f *Frame, first time.Time, days int, events []calendar.Event, in Input) {
	buckets := make(map[time.Time][]calendar.Event, days)
	for _, ev := range events {
		day := a.Day(ev.Start)
		buckets[day] = append(buckets[day], ev)
	}

	for i := range days {
		day := first.AddDate(0, 0, i)
		f.Lanes = append(f.Lanes, Lane{Index: i, Date: day, Label: day.Format("Mon Jan 2")})
		for _, pe := range a.PositionLane(day, buckets[day], Vertical, in.Policy) {
			pe.Lane = i
			f.Events = append(f.Events, pe)
		}
		f.Slots = append(f.Slots, a.Slots(i, day, in.Highlights)...)
	}
}

func (a *Axis) renderTeam(f *Frame, date time.Time, events []calendar.Event, in Input) {
	byResource := make(map[string][]calendar.Event, len(in.Resources))
	for _, ev := range events {
		if ev.ResourceID == "" || !a.SameDay(ev.Start, date) {
			continue
		}
		byResource[ev.ResourceID] = append(byResource[ev.ResourceID], ev)
	}

	for i, res := range in.Resources {
		label := res.Name
		if label == "" {
			label = res.ID
		}
		f.Lanes = append(f.Lanes, Lane{Index: i, Date: date, ResourceID: res.ID, Label: label})
		for _, pe := range a.PositionLane(date, byResource[res.ID], Horizontal, in.Policy) {
			pe.Lane = i
			f.Events = append(f.Events, pe)
		}
	}
	f.Slots = a.Slots(0, date, in.Highlights)
}

// weekNow places the indicator on whichever day lane contains now.
func (a *Axis) weekNow(now, first time.Time, days int) NowMarker {
	for i := range days {
		day := first.AddDate(0, 0, i)
		if a.SameDay(now, day) {
			m := a.Now(now, day)
			m.Lane = i
			return m
		}
	}
	return NowMarker{At: now}
}

// allDayFor keeps the all-day events that touch one of the lane days.
func (a *Axis) allDayFor(events []calendar.Event, lanes []Lane) []calendar.Event {
	if len(events) == 0 || len(lanes) == 0 {
		return nil
	}
	first := a.Day(lanes[0].Date)
	last := a.Day(lanes[len(lanes)-1].Date).AddDate(0, 0, 1)
	span := calendar.Interval{Start: first, End: last}

	var out []calendar.Event
	for _, ev := range events {
		if ev.Overlaps(span) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Title < out[j].Title
	})
	return out
}
