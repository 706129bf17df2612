// Package interact tracks drag and resize gestures on the time grid and
// turns their pixel displacement into proposed appointment intervals.
//
// Gesture state lives in a Context owned by one grid instance, so several
// grids mounted together never see each other's gestures.
package interact

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cpuguy83/fieldgrid/internal/calendar"
	"github.com/cpuguy83/fieldgrid/internal/grid"
)

var (
	// ErrGestureActive is returned when a gesture is started on an event
	// that already has one in progress.
	ErrGestureActive = errors.New("event already has an active gesture")

	// ErrGestureDone is returned when a finished gesture is used again.
	ErrGestureDone = errors.New("gesture already ended")

	// ErrUnknownGesture is returned for a gesture ID the context does not hold.
	ErrUnknownGesture = errors.New("unknown gesture")
)

// DefaultThreshold is the movement in pixels below which a released
// gesture counts as a click and is cancelled.
const DefaultThreshold = 4.0

// Kind distinguishes drags from resizes.
type Kind int

const (
	KindDrag Kind = iota
	KindResize
)

func (k Kind) String() string {
	if k == KindResize {
		return "resize"
	}
	return "drag"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "drag":
		*k = KindDrag
	case "resize":
		*k = KindResize
	default:
		return fmt.Errorf("unknown gesture kind %q", b)
	}
	return nil
}

// Edge is the side of an event a resize moves.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeStart
	EdgeEnd
)

func (e Edge) String() string {
	switch e {
	case EdgeStart:
		return "start"
	case EdgeEnd:
		return "end"
	default:
		return ""
	}
}

// MarshalText implements encoding.TextMarshaler.
func (e Edge) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty value is EdgeNone.
func (e *Edge) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*e = EdgeNone
		return nil
	}
	edge, err := ParseEdge(string(b))
	if err != nil {
		return err
	}
	*e = edge
	return nil
}

// ParseEdge maps "start" / "end" to an Edge.
func ParseEdge(s string) (Edge, error) {
	switch s {
	case "start", "top", "left":
		return EdgeStart, nil
	case "end", "bottom", "right":
		return EdgeEnd, nil
	default:
		return EdgeNone, errors.New("edge must be start or end")
	}
}

// State is a snapshot of an in-progress gesture.
type State struct {
	ID       string            `json:"id"`
	Kind     Kind              `json:"kind"`
	Active   bool              `json:"active"`
	Event    calendar.Event    `json:"event"`
	Original calendar.Interval `json:"original"`
	Edge     Edge              `json:"edge,omitempty"`
	Started  time.Time         `json:"started"`
}

type gesture interface {
	state() State
}

// Context holds the active gestures of one grid instance. At most one
// gesture may be active per event.
type Context struct {
	threshold float64
	now       func() time.Time

	mu      sync.Mutex
	byID    map[string]gesture
	byEvent map[string]string
}

// Option configures a Context.
type Option func(*Context)

// WithThreshold sets the cancel threshold in pixels.
func WithThreshold(px float64) Option {
	return func(c *Context) {
		if px >= 0 {
			c.threshold = px
		}
	}
}

// WithClock overrides the clock used to stamp gesture start times.
func WithClock(now func() time.Time) Option {
	return func(c *Context) {
		if now != nil {
			c.now = now
		}
	}
}

// NewContext creates an empty interaction context.
func NewContext(opts ...Option) *Context {
	c := &Context{
		threshold: DefaultThreshold,
		now:       time.Now,
		byID:      make(map[string]gesture),
		byEvent:   make(map[string]string),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Threshold returns the cancel threshold in pixels.
func (c *Context) Threshold() float64 { return c.threshold }

// Active returns the state of the gesture on eventID, if any.
func (c *Context) Active(eventID string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.byEvent[eventID]
	if !ok {
		return State{}, false
	}
	return c.byID[id].state(), true
}

// Gestures returns a snapshot of every active gesture.
func (c *Context) Gestures() []State {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]State, 0, len(c.byID))
	for _, g := range c.byID {
		out = append(out, g.state())
	}
	return out
}

// Drag returns the active drag with the given gesture ID.
func (c *Context) Drag(id string) (*Drag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.byID[id].(*Drag)
	if !ok {
		return nil, ErrUnknownGesture
	}
	return d, nil
}

// Resize returns the active resize with the given gesture ID.
func (c *Context) Resize(id string) (*Resize, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.byID[id].(*Resize)
	if !ok {
		return nil, ErrUnknownGesture
	}
	return r, nil
}

func (c *Context) begin(eventID string, g func(id string) gesture) (gesture, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, busy := c.byEvent[eventID]; busy {
		return nil, ErrGestureActive
	}
	id := uuid.NewString()
	gs := g(id)
	c.byID[id] = gs
	c.byEvent[eventID] = id
	return gs, nil
}

func (c *Context) release(id, eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.byID, id)
	if c.byEvent[eventID] == id {
		delete(c.byEvent, eventID)
	}
}

// Proposal is a requested interval change produced by a finished gesture.
// The store collaborator decides whether it is accepted.
type Proposal struct {
	ID       string            `json:"id"`
	EventID  string            `json:"event_id"`
	Kind     Kind              `json:"kind"`
	Edge     Edge              `json:"edge,omitempty"`
	Original calendar.Interval `json:"original"`
	Interval calendar.Interval `json:"interval"`

	// ResourceID is the new assignment for cross-row team drags. Empty
	// means unchanged.
	ResourceID string `json:"resource_id,omitempty"`

	// DayDelta is the number of day lanes a week-view drag crossed.
	DayDelta int `json:"day_delta,omitempty"`

	// SnappedMinutes is the slot-rounded time shift applied.
	SnappedMinutes int `json:"snapped_minutes"`
}

// Degenerate reports whether the proposed interval is empty or inverted.
func (p Proposal) Degenerate() bool {
	return !p.Interval.Valid()
}

// OutOfWindow reports whether the proposed interval leaves the visible
// window of its (new) day on axis.
func (p Proposal) OutOfWindow(axis *grid.Axis) bool {
	start, end := axis.Window(p.Interval.Start)
	return p.Interval.Start.Before(start) || p.Interval.End.After(end)
}
