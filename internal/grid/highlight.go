package grid

import "time"

// TimeRange is a highlighted span (business hours, a suggested visit
// window). It has no identity and cannot be dragged.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Slot is one grid cell of a lane.
type Slot struct {
	Lane        int       `json:"lane"`
	Index       int       `json:"index"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Offset      float64   `json:"offset"`
	Highlighted bool      `json:"highlighted,omitempty"`
}

// IsHighlighted reports whether a slot starting at slotStart begins inside
// any of the ranges. Only the slot start is tested.
func IsHighlighted(slotStart time.Time, ranges []TimeRange) bool {
	for _, r := range ranges {
		if !slotStart.Before(r.Start) && slotStart.Before(r.End) {
			return true
		}
	}
	return false
}

// Slots lists the slots of date's window with highlight flags applied.
func (a *Axis) Slots(lane int, date time.Time, ranges []TimeRange) []Slot {
	gridStart := a.GridStart(date)
	n := a.SlotCount()
	out := make([]Slot, n)
	for i := range n {
		start := gridStart.Add(time.Duration(i) * a.slotDuration)
		out[i] = Slot{
			Lane:        lane,
			Index:       i,
			Start:       start,
			End:         start.Add(a.slotDuration),
			Offset:      float64(i) * a.cfg.SlotHeightPixels,
			Highlighted: IsHighlighted(start, ranges),
		}
	}
	return out
}
