// Package calendar provides the appointment model and the store sources
// that supply and persist it.
package calendar

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a source does not know the requested event.
	ErrNotFound = errors.New("event not found")

	// ErrRecurring is returned when a single occurrence of a recurring
	// appointment is asked to move. Occurrences are read-only.
	ErrRecurring = errors.New("recurring occurrences cannot be rescheduled individually")
)

// Interval is a span of time. Well-formed intervals have End after Start,
// but nothing in this package rejects one that does not.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns End - Start. It is negative for malformed intervals.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Valid reports whether End is strictly after Start.
func (iv Interval) Valid() bool {
	return iv.End.After(iv.Start)
}

// Overlaps reports whether both half-open intervals share any instant.
func (iv Interval) Overlaps(other Interval) bool {
	return other.Start.Before(iv.End) && other.End.After(iv.Start)
}

// Shift moves both ends by d.
func (iv Interval) Shift(d time.Duration) Interval {
	return Interval{Start: iv.Start.Add(d), End: iv.End.Add(d)}
}

// Event is a scheduled appointment (a job visit, an estimate, a meeting).
// Events are owned by a Source; layout code treats them as read-only.
type Event struct {
	// ID is the unique identifier for this event within its source.
	ID string `json:"id"`

	// Title is the display title.
	Title string `json:"title"`

	Interval

	// Status is the appointment lifecycle state.
	Status Status `json:"status"`

	// ResourceID is the technician or crew the appointment is assigned to.
	// Empty means unassigned.
	ResourceID string `json:"resource_id,omitempty"`

	// AllDay indicates the event has no meaningful clock time.
	AllDay bool `json:"all_day,omitempty"`

	// Description is the full appointment notes.
	Description string `json:"description,omitempty"`

	// Location is the job site address.
	Location string `json:"location,omitempty"`

	// Source is the name of the source this event came from.
	Source string `json:"source,omitempty"`

	// Recurring is set on occurrences expanded from a recurrence rule.
	Recurring bool `json:"recurring,omitempty"`

	// Props carries host-specific extended properties (client name, job number, ...).
	Props map[string]string `json:"props,omitempty"`
}

// IsOngoing returns true if the event is currently happening.
func (e *Event) IsOngoing(now time.Time) bool {
	return now.After(e.Start) && now.Before(e.End)
}

// Resource is a technician or team member row in the team view.
type Resource struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Source is the interface that appointment stores must implement.
type Source interface {
	// Name returns the display name of this source.
	Name() string

	// Fetch retrieves events intersecting the window.
	Fetch(ctx context.Context, window Interval) ([]Event, error)
}

// Rescheduler is implemented by sources that accept interval changes.
// resourceID is empty when the assignment should stay as it is.
type Rescheduler interface {
	Reschedule(ctx context.Context, id string, iv Interval, resourceID string) error
}

// isEffectivelyAllDay reports whether a timed span runs from local midnight
// to local midnight. Some servers encode all-day events that way.
func isEffectivelyAllDay(start, end time.Time) bool {
	if !end.After(start) {
		return false
	}
	s := start.Local()
	e := end.Local()
	midnight := func(t time.Time) bool {
		return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
	}
	return midnight(s) && midnight(e)
}
