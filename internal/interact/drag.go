package interact

import (
	"math"
	"sync"
	"time"

	"github.com/cpuguy83/fieldgrid/internal/calendar"
	"github.com/cpuguy83/fieldgrid/internal/grid"
)

// LaneKind says what crossing a lane boundary means for a drag.
type LaneKind int

const (
	// LaneNone disables cross-lane movement (day view).
	LaneNone LaneKind = iota
	// LaneDays moves the appointment by whole days (week view).
	LaneDays
	// LaneResources reassigns the appointment to another row (team view).
	LaneResources
)

// Lanes describes the lane layout a drag starts in.
type Lanes struct {
	Kind LaneKind
	// Size is the pixel size of one lane across the time axis. Cross-lane
	// movement is disabled when it is not positive.
	Size float64
	// Index is the lane the event starts in.
	Index int
	// Resources lists resource IDs in row order for LaneResources.
	Resources []string
}

// Drag moves a whole appointment.
type Drag struct {
	ctx   *Context
	axis  *grid.Axis
	id    string
	event calendar.Event
	orig  calendar.Interval
	lanes Lanes
	start time.Time

	mu     sync.Mutex
	offset float64
	cross  float64
	done   bool
}

// BeginDrag starts dragging ev. The event's current interval is captured
// as the original; ev itself is never modified.
func (c *Context) BeginDrag(axis *grid.Axis, ev calendar.Event, lanes Lanes) (*Drag, error) {
	g, err := c.begin(ev.ID, func(id string) gesture {
		return &Drag{
			ctx:   c,
			axis:  axis,
			id:    id,
			event: ev,
			orig:  ev.Interval,
			lanes: lanes,
			start: c.now(),
		}
	})
	if err != nil {
		return nil, err
	}
	return g.(*Drag), nil
}

// ID returns the gesture ID.
func (d *Drag) ID() string { return d.id }

func (d *Drag) state() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return State{
		ID:       d.id,
		Kind:     KindDrag,
		Active:   !d.done,
		Event:    d.event,
		Original: d.orig,
		Started:  d.start,
	}
}

// Move records the uncommitted visual displacement. offset runs along the
// time axis, cross runs across lanes. No times are computed.
func (d *Drag) Move(offset, cross float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return ErrGestureDone
	}
	d.offset, d.cross = offset, cross
	return nil
}

// Displacement returns the last recorded visual displacement.
func (d *Drag) Displacement() (offset, cross float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.offset, d.cross
}

// End finishes the drag with the final displacement. When the pointer
// moved less than the context threshold the drag is cancelled and ok is
// false. Otherwise the snapped proposal is returned.
func (d *Drag) End(offset, cross float64) (p Proposal, ok bool, err error) {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return Proposal{}, false, ErrGestureDone
	}
	d.done = true
	d.mu.Unlock()
	defer d.ctx.release(d.id, d.event.ID)

	if math.Hypot(offset, cross) < d.ctx.threshold {
		return Proposal{}, false, nil
	}

	minutes := d.axis.SnapMinutes(offset)
	shift := time.Duration(minutes) * time.Minute
	p = Proposal{
		ID:             d.id,
		EventID:        d.event.ID,
		Kind:           KindDrag,
		Original:       d.orig,
		Interval:       d.orig.Shift(shift),
		SnappedMinutes: minutes,
	}

	delta := d.laneDelta(cross)
	switch d.lanes.Kind {
	case LaneDays:
		if delta != 0 {
			p.DayDelta = delta
			p.Interval.Start = p.Interval.Start.AddDate(0, 0, delta)
			p.Interval.End = p.Interval.End.AddDate(0, 0, delta)
		}
	case LaneResources:
		if target := d.targetResource(delta); target != "" && target != d.event.ResourceID {
			p.ResourceID = target
		}
	}

	return p, true, nil
}

// Cancel discards the drag without a proposal.
func (d *Drag) Cancel() {
	d.mu.Lock()
	already := d.done
	d.done = true
	d.mu.Unlock()
	if !already {
		d.ctx.release(d.id, d.event.ID)
	}
}

func (d *Drag) laneDelta(cross float64) int {
	if d.lanes.Kind == LaneNone || d.lanes.Size <= 0 {
		return 0
	}
	return int(math.Round(cross / d.lanes.Size))
}

func (d *Drag) targetResource(delta int) string {
	res := d.lanes.Resources
	if len(res) == 0 {
		return ""
	}
	i := d.lanes.Index + delta
	if i < 0 {
		i = 0
	}
	if i >= len(res) {
		i = len(res) - 1
	}
	return res[i]
}
