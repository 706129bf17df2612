// Package grid computes time-grid geometry for the day, week and team
// calendar views. Everything in it is a pure function of its inputs.
package grid

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidConfig is returned for a ViewConfig no grid can be built from.
var ErrInvalidConfig = errors.New("invalid view config")

// ViewConfig describes the visible window of a rendered view.
type ViewConfig struct {
	StartHour           int     `yaml:"start_hour" json:"start_hour"`
	EndHour             int     `yaml:"end_hour" json:"end_hour"`
	SlotDurationMinutes int     `yaml:"slot_duration_minutes" json:"slot_duration_minutes"`
	SlotHeightPixels    float64 `yaml:"slot_height_pixels" json:"slot_height_pixels"`
}

// DefaultViewConfig is a 06:00-22:00 window with 30 minute slots.
func DefaultViewConfig() ViewConfig {
	return ViewConfig{
		StartHour:           6,
		EndHour:             22,
		SlotDurationMinutes: 30,
		SlotHeightPixels:    48,
	}
}

// Validate checks the config for values that would make the axis meaningless.
func (c ViewConfig) Validate() error {
	switch {
	case c.SlotDurationMinutes <= 0:
		return fmt.Errorf("%w: slot duration must be positive, got %d", ErrInvalidConfig, c.SlotDurationMinutes)
	case c.SlotHeightPixels <= 0 || math.IsNaN(c.SlotHeightPixels) || math.IsInf(c.SlotHeightPixels, 0):
		return fmt.Errorf("%w: slot height must be positive, got %v", ErrInvalidConfig, c.SlotHeightPixels)
	case c.StartHour < 0 || c.StartHour > 23:
		return fmt.Errorf("%w: start hour %d out of range", ErrInvalidConfig, c.StartHour)
	case c.EndHour < 1 || c.EndHour > 24:
		return fmt.Errorf("%w: end hour %d out of range", ErrInvalidConfig, c.EndHour)
	case c.StartHour >= c.EndHour:
		return fmt.Errorf("%w: start hour %d not before end hour %d", ErrInvalidConfig, c.StartHour, c.EndHour)
	}
	return nil
}

// Axis converts between instants and pixel offsets for one ViewConfig.
// An Axis is immutable; a changed ViewConfig needs a new Axis and a full
// recompute of any geometry derived from the old one.
type Axis struct {
	cfg          ViewConfig
	pxPerMinute  float64
	loc          *time.Location
	slotDuration time.Duration
}

// NewAxis builds an Axis. Dates are interpreted in loc (time.Local if nil).
func NewAxis(cfg ViewConfig, loc *time.Location) (*Axis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	return &Axis{
		cfg:          cfg,
		pxPerMinute:  cfg.SlotHeightPixels / float64(cfg.SlotDurationMinutes),
		loc:          loc,
		slotDuration: time.Duration(cfg.SlotDurationMinutes) * time.Minute,
	}, nil
}

// Config returns the ViewConfig the axis was built from.
func (a *Axis) Config() ViewConfig { return a.cfg }

// Location returns the location calendar days are computed in.
func (a *Axis) Location() *time.Location { return a.loc }

// PixelsPerMinute is SlotHeightPixels / SlotDurationMinutes.
func (a *Axis) PixelsPerMinute() float64 { return a.pxPerMinute }

// SlotDuration returns the slot quantum.
func (a *Axis) SlotDuration() time.Duration { return a.slotDuration }

// MinHeight is the rendering floor for very short events: half a slot.
func (a *Axis) MinHeight() float64 { return a.cfg.SlotHeightPixels / 2 }

// Day returns local midnight of the calendar day containing t.
func (a *Axis) Day(t time.Time) time.Time {
	t = t.In(a.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, a.loc)
}

// SameDay reports whether a and b fall on the same calendar day.
func (a *Axis) SameDay(x, y time.Time) bool {
	return a.Day(x).Equal(a.Day(y))
}

// GridStart is the instant at the top of the grid for date: the start of
// the day plus StartHour hours.
func (a *Axis) GridStart(date time.Time) time.Time {
	d := date.In(a.loc)
	return time.Date(d.Year(), d.Month(), d.Day(), a.cfg.StartHour, 0, 0, 0, a.loc)
}

// GridEnd is the instant at the bottom of the grid for date.
func (a *Axis) GridEnd(date time.Time) time.Time {
	d := date.In(a.loc)
	return time.Date(d.Year(), d.Month(), d.Day(), a.cfg.EndHour, 0, 0, 0, a.loc)
}

// Window returns [GridStart, GridEnd) for date.
func (a *Axis) Window(date time.Time) (time.Time, time.Time) {
	return a.GridStart(date), a.GridEnd(date)
}

// Offset returns the unclamped pixel offset of t relative to gridStart.
// It is negative for instants before the grid.
func (a *Axis) Offset(t, gridStart time.Time) float64 {
	return t.Sub(gridStart).Minutes() * a.pxPerMinute
}

// ToPixels returns the pixel offset of t relative to gridStart, clamped
// to zero for instants before the grid. Durations must be computed from
// the raw instants, not from clamped offsets.
func (a *Axis) ToPixels(t, gridStart time.Time) float64 {
	off := a.Offset(t, gridStart)
	if off < 0 {
		return 0
	}
	return off
}

// ToInstant is the inverse of ToPixels, rounded to the nearest minute.
func (a *Axis) ToInstant(offset float64, gridStart time.Time) time.Time {
	minutes := math.Round(offset / a.pxPerMinute)
	return gridStart.Add(time.Duration(minutes) * time.Minute)
}

// SlotAt returns the start of the slot containing offset. Offsets are
// clamped to the grid.
func (a *Axis) SlotAt(offset float64, gridStart time.Time) time.Time {
	slot := int(math.Floor(offset / a.cfg.SlotHeightPixels))
	if last := a.SlotCount() - 1; slot > last {
		slot = last
	}
	if slot < 0 {
		slot = 0
	}
	return gridStart.Add(time.Duration(slot) * a.slotDuration)
}

// Length converts a duration to pixels. Negative durations give negative lengths.
func (a *Axis) Length(d time.Duration) float64 {
	return d.Minutes() * a.pxPerMinute
}

// SlotCount is the number of whole slots in the visible window.
func (a *Axis) SlotCount() int {
	return a.windowMinutes() / a.cfg.SlotDurationMinutes
}

// TotalHeight is the pixel extent of the whole grid.
func (a *Axis) TotalHeight() float64 {
	return float64(a.windowMinutes()) / float64(a.cfg.SlotDurationMinutes) * a.cfg.SlotHeightPixels
}

func (a *Axis) windowMinutes() int {
	return (a.cfg.EndHour - a.cfg.StartHour) * 60
}

// SnapMinutes converts a pixel delta to a whole number of minutes and
// rounds that to the nearest multiple of the slot duration.
func (a *Axis) SnapMinutes(pixelDelta float64) int {
	minutes := math.Round(pixelDelta / a.pxPerMinute)
	slot := float64(a.cfg.SlotDurationMinutes)
	return int(math.Round(minutes/slot)) * a.cfg.SlotDurationMinutes
}
