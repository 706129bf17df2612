package grid

import (
	"fmt"
	"math"
	"time"

	"github.com/cpuguy83/fieldgrid/internal/calendar"
)

// Orientation selects which screen axis time runs along.
type Orientation int

const (
	// Vertical is the day/week layout: time runs top to bottom, overlapping
	// events share the lane width.
	Vertical Orientation = iota
	// Horizontal is the team layout: time runs left to right, overlapping
	// events share the row height.
	Horizontal
)

func (o Orientation) String() string {
	if o == Horizontal {
		return "horizontal"
	}
	return "vertical"
}

// MarshalText implements encoding.TextMarshaler.
func (o Orientation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Orientation) UnmarshalText(b []byte) error {
	switch string(b) {
	case "vertical":
		*o = Vertical
	case "horizontal":
		*o = Horizontal
	default:
		return fmt.Errorf("unknown orientation %q", b)
	}
	return nil
}

// WindowPolicy decides what happens to events entirely outside the
// visible window.
type WindowPolicy int

const (
	// Omit drops events that do not intersect the visible window.
	Omit WindowPolicy = iota
	// Keep positions every event as computed.
	Keep
)

// ParseWindowPolicy maps "omit" / "keep" to a WindowPolicy. Unknown values
// are Omit.
func ParseWindowPolicy(s string) WindowPolicy {
	if s == "keep" {
		return Keep
	}
	return Omit
}

// PositionedEvent is the render geometry of one event in one pass.
//
// For Vertical geometry Top and Height are pixels along the time axis and
// Left and Width are fractions of the lane width. For Horizontal geometry
// Left and Width are pixels along the time axis and Top and Height are
// fractions of the row height.
type PositionedEvent struct {
	Event        calendar.Event `json:"event"`
	Lane         int            `json:"lane"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Column       int            `json:"column"`
	TotalColumns int            `json:"total_columns"`
	Orientation  Orientation    `json:"orientation"`
	Top          float64        `json:"top"`
	Height       float64        `json:"height"`
	Left         float64        `json:"left"`
	Width        float64        `json:"width"`

	// Clipped is set when the event starts before the visible window and
	// its leading offset was clamped to zero.
	Clipped bool `json:"clipped,omitempty"`
}

// span places an interval on the time axis: the clamped leading offset and
// a length computed from the raw duration with the MinHeight floor.
func (a *Axis) span(iv calendar.Interval, gridStart time.Time) (offset, length float64, clipped bool) {
	offset = a.ToPixels(iv.Start, gridStart)
	clipped = iv.Start.Before(gridStart)
	length = math.Max(a.Length(iv.Duration()), a.MinHeight())
	return offset, length, clipped
}

// inWindow reports whether iv intersects [start, end). Malformed
// intervals count when their start lies inside the window.
func inWindow(iv calendar.Interval, start, end time.Time) bool {
	if !iv.Valid() {
		return !iv.Start.Before(start) && iv.Start.Before(end)
	}
	return iv.Start.Before(end) && iv.End.After(start)
}

// PositionLane lays out the events of one lane on the given date. The
// result preserves the input order of the events that survive policy.
func (a *Axis) PositionLane(date time.Time, events []calendar.Event, orient Orientation, policy WindowPolicy) []PositionedEvent {
	gridStart, gridEnd := a.Window(date)

	lane := events
	if policy == Omit {
		lane = make([]calendar.Event, 0, len(events))
		for _, ev := range events {
			if inWindow(ev.Interval, gridStart, gridEnd) {
				lane = append(lane, ev)
			}
		}
	}
	if len(lane) == 0 {
		return nil
	}

	placements := Resolve(lane)
	out := make([]PositionedEvent, len(lane))
	for i, ev := range lane {
		p := placements[i]
		offset, length, clipped := a.span(ev.Interval, gridStart)
		frac, size := p.Fraction()

		pe := PositionedEvent{
			Event:        ev,
			ResourceID:   ev.ResourceID,
			Column:       p.Column,
			TotalColumns: p.TotalColumns,
			Orientation:  orient,
			Clipped:      clipped,
		}
		if orient == Horizontal {
			pe.Left, pe.Width = offset, length
			pe.Top, pe.Height = frac, size
		} else {
			pe.Top, pe.Height = offset, length
			pe.Left, pe.Width = frac, size
		}
		out[i] = pe
	}
	return out
}
