package interact

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/cpuguy83/fieldgrid/internal/calendar"
	"github.com/cpuguy83/fieldgrid/internal/grid"
)

// Resize moves one edge of an appointment along the time axis.
type Resize struct {
	ctx   *Context
	axis  *grid.Axis
	id    string
	event calendar.Event
	orig  calendar.Interval
	edge  Edge
	start time.Time

	mu     sync.Mutex
	offset float64
	done   bool
}

// BeginResize starts resizing ev from the given edge.
func (c *Context) BeginResize(axis *grid.Axis, ev calendar.Event, edge Edge) (*Resize, error) {
	if edge != EdgeStart && edge != EdgeEnd {
		return nil, errors.New("resize needs a start or end edge")
	}
	g, err := c.begin(ev.ID, func(id string) gesture {
		return &Resize{
			ctx:   c,
			axis:  axis,
			id:    id,
			event: ev,
			orig:  ev.Interval,
			edge:  edge,
			start: c.now(),
		}
	})
	if err != nil {
		return nil, err
	}
	return g.(*Resize), nil
}

// ID returns the gesture ID.
func (r *Resize) ID() string { return r.id }

// Edge returns the edge being moved.
func (r *Resize) Edge() Edge { return r.edge }

func (r *Resize) state() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{
		ID:       r.id,
		Kind:     KindResize,
		Active:   !r.done,
		Event:    r.event,
		Original: r.orig,
		Edge:     r.edge,
		Started:  r.start,
	}
}

// Move records the uncommitted displacement of the edge.
func (r *Resize) Move(offset float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return ErrGestureDone
	}
	r.offset = r.clamp(offset)
	return nil
}

// Preview returns the visual length of the event for the last recorded
// displacement. It never drops below the axis minimum height.
func (r *Resize) Preview() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	length := r.origLength()
	if r.edge == EdgeStart {
		length -= r.offset
	} else {
		length += r.offset
	}
	return math.Max(length, r.axis.MinHeight())
}

// End finishes the resize. Displacements under the threshold cancel the
// gesture and ok is false.
func (r *Resize) End(offset float64) (p Proposal, ok bool, err error) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return Proposal{}, false, ErrGestureDone
	}
	r.done = true
	r.mu.Unlock()
	defer r.ctx.release(r.id, r.event.ID)

	if math.Abs(offset) < r.ctx.threshold {
		return Proposal{}, false, nil
	}

	minutes := r.axis.SnapMinutes(r.clamp(offset))
	iv := r.resized(minutes)

	// Snapping a clamped edge can land on the other edge. Step back toward
	// the original a slot at a time so a valid interval stays valid.
	slot := int(r.axis.SlotDuration() / time.Minute)
	for minutes != 0 && r.orig.Valid() && !iv.Valid() {
		if minutes > 0 {
			minutes -= slot
		} else {
			minutes += slot
		}
		iv = r.resized(minutes)
	}

	return Proposal{
		ID:             r.id,
		EventID:        r.event.ID,
		Kind:           KindResize,
		Edge:           r.edge,
		Original:       r.orig,
		Interval:       iv,
		SnappedMinutes: minutes,
	}, true, nil
}

// Cancel discards the resize without a proposal.
func (r *Resize) Cancel() {
	r.mu.Lock()
	already := r.done
	r.done = true
	r.mu.Unlock()
	if !already {
		r.ctx.release(r.id, r.event.ID)
	}
}

func (r *Resize) resized(minutes int) calendar.Interval {
	shift := time.Duration(minutes) * time.Minute
	iv := r.orig
	if r.edge == EdgeStart {
		iv.Start = iv.Start.Add(shift)
	} else {
		iv.End = iv.End.Add(shift)
	}
	return iv
}

func (r *Resize) origLength() float64 {
	return math.Max(r.axis.Length(r.orig.Duration()), r.axis.MinHeight())
}

// clamp limits offset so the visual length stays at or above the minimum
// height.
func (r *Resize) clamp(offset float64) float64 {
	limit := math.Max(r.origLength()-r.axis.MinHeight(), 0)
	if r.edge == EdgeStart {
		return math.Min(offset, limit)
	}
	return math.Max(offset, -limit)
}
