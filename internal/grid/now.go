package grid

import "time"

// NowMarker is the position of the current-time indicator.
//
// Offset is not clamped: after the window end the marker stays Visible
// with an Offset beyond the grid extent, and AfterWindow is set so hosts
// can hide or pin it.
type NowMarker struct {
	Visible     bool      `json:"visible"`
	Offset      float64   `json:"offset"`
	Lane        int       `json:"lane"`
	At          time.Time `json:"at"`
	AfterWindow bool      `json:"after_window,omitempty"`
}

// Now places the current-time indicator for renderedDate. The marker is
// visible only when now falls on renderedDate and not before the window
// start.
func (a *Axis) Now(now, renderedDate time.Time) NowMarker {
	m := NowMarker{At: now}
	if !a.SameDay(now, renderedDate) {
		return m
	}
	off := a.Offset(now, a.GridStart(renderedDate))
	if off < 0 {
		return m
	}
	m.Visible = true
	m.Offset = off
	m.AfterWindow = off > a.TotalHeight()
	return m
}
