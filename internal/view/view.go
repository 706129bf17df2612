// Package view ties the layout engine to a store and a clock. A Grid is
// one mounted calendar view: it renders store snapshots, routes clicks,
// and turns finished gestures into reschedule proposals.
package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cpuguy83/fieldgrid/internal/calendar"
	"github.com/cpuguy83/fieldgrid/internal/grid"
	"github.com/cpuguy83/fieldgrid/internal/interact"
)

// ErrUnknownEvent is returned for an event ID that was not in the last render.
var ErrUnknownEvent = errors.New("event not rendered")

// Store is the collaborator that owns appointments.
type Store interface {
	ListEvents(ctx context.Context, r calendar.Interval, resources []string) ([]calendar.Event, error)
	ProposeReschedule(ctx context.Context, id string, iv calendar.Interval, resourceID string) error
}

// Clock supplies the current time and a periodic tick.
type Clock interface {
	Now() time.Time
	Subscribe(fn func(time.Time)) (cancel func())
}

// Rejection is a proposal the store refused.
type Rejection struct {
	Proposal interact.Proposal
	Err      error
}

// SlotClick is a click on an empty grid cell.
type SlotClick struct {
	At         time.Time `json:"at"`
	ResourceID string    `json:"resource_id,omitempty"`
}

// Grid is one calendar view instance. Each Grid has its own interaction
// context unless one is shared explicitly.
type Grid struct {
	store     Store
	axis      *grid.Axis
	inter     *interact.Context
	clock     Clock
	resources []calendar.Resource
	days      int
	policy    grid.WindowPolicy
	business  func(date time.Time) []grid.TimeRange
	timeout   time.Duration

	onRejected   func(Rejection)
	onCommitted  func(interact.Proposal)
	onEventClick func(calendar.Event)
	onSlotClick  func(SlotClick)

	mu      sync.Mutex
	now     time.Time
	known   map[string]calendar.Event
	pending map[string]interact.Proposal // by event ID
	stop    func()
	closed  bool

	inflight sync.WaitGroup
}

// Option configures a Grid.
type Option func(*Grid)

// WithInteraction shares an interaction context between grids.
func WithInteraction(c *interact.Context) Option {
	return func(g *Grid) { g.inter = c }
}

// WithClock sets the clock driving the now indicator. Without one the
// wall clock is read on every render.
func WithClock(c Clock) Option {
	return func(g *Grid) { g.clock = c }
}

// WithResources sets the rows of the team view.
func WithResources(r []calendar.Resource) Option {
	return func(g *Grid) { g.resources = r }
}

// WithDays sets the number of lanes in the week view.
func WithDays(n int) Option {
	return func(g *Grid) {
		if n > 0 {
			g.days = n
		}
	}
}

// WithPolicy sets the out-of-window policy.
func WithPolicy(p grid.WindowPolicy) Option {
	return func(g *Grid) { g.policy = p }
}

// WithBusinessHours sets the per-day highlight source.
func WithBusinessHours(fn func(date time.Time) []grid.TimeRange) Option {
	return func(g *Grid) { g.business = fn }
}

// WithProposalTimeout bounds each call to Store.ProposeReschedule.
func WithProposalTimeout(d time.Duration) Option {
	return func(g *Grid) { g.timeout = d }
}

// OnRejected is called when the store refuses a proposal. The optimistic
// state has already been reverted.
func OnRejected(fn func(Rejection)) Option {
	return func(g *Grid) { g.onRejected = fn }
}

// OnCommitted is called when the store accepts a proposal.
func OnCommitted(fn func(interact.Proposal)) Option {
	return func(g *Grid) { g.onCommitted = fn }
}

// OnEventClick is called by EventClick.
func OnEventClick(fn func(calendar.Event)) Option {
	return func(g *Grid) { g.onEventClick = fn }
}

// OnSlotClick is called by SlotClick.
func OnSlotClick(fn func(SlotClick)) Option {
	return func(g *Grid) { g.onSlotClick = fn }
}

// New creates a Grid over store. If a clock is configured the grid
// subscribes to its tick until Close.
func New(store Store, axis *grid.Axis, opts ...Option) *Grid {
	g := &Grid{
		store:   store,
		axis:    axis,
		days:    7,
		timeout: 30 * time.Second,
		known:   make(map[string]calendar.Event),
		pending: make(map[string]interact.Proposal),
	}
	for _, o := range opts {
		o(g)
	}
	if g.inter == nil {
		g.inter = interact.NewContext()
	}
	if g.clock != nil {
		g.now = g.clock.Now()
		g.stop = g.clock.Subscribe(g.tick)
	}
	return g
}

func (g *Grid) tick(t time.Time) {
	g.mu.Lock()
	g.now = t
	g.mu.Unlock()
}

// Axis returns the grid's axis.
func (g *Grid) Axis() *grid.Axis { return g.axis }

// Interaction returns the grid's interaction context.
func (g *Grid) Interaction() *interact.Context { return g.inter }

// Resources returns the team view rows.
func (g *Grid) Resources() []calendar.Resource { return g.resources }

// Now returns the time the now indicator is placed at.
func (g *Grid) Now() time.Time {
	if g.clock == nil {
		return time.Now()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now
}

// Range returns the interval of days a view of kind starting at date covers.
func (g *Grid) Range(kind grid.Kind, date time.Time) calendar.Interval {
	first := g.axis.Day(date)
	days := 1
	if kind == grid.KindWeek {
		days = g.days
	}
	return calendar.Interval{Start: first, End: first.AddDate(0, 0, days)}
}

// Render fetches the events for the view and computes its frame. Pending
// proposals are shown as if accepted. extra highlights are added to the
// business hours.
func (g *Grid) Render(ctx context.Context, kind grid.Kind, date time.Time, extra ...grid.TimeRange) (grid.Frame, error) {
	r := g.Range(kind, date)

	var resources []string
	if kind == grid.KindTeam {
		for _, res := range g.resources {
			resources = append(resources, res.ID)
		}
	}

	events, err := g.store.ListEvents(ctx, r, resources)
	if err != nil {
		return grid.Frame{}, fmt.Errorf("list events: %w", err)
	}

	highlights := append([]grid.TimeRange(nil), extra...)
	if g.business != nil {
		for day := r.Start; day.Before(r.End); day = day.AddDate(0, 0, 1) {
			highlights = append(highlights, g.business(day)...)
		}
	}

	now := g.Now()

	g.mu.Lock()
	events = g.overlay(events)
	g.remember(events)
	g.mu.Unlock()

	return g.axis.Render(grid.Input{
		Kind:       kind,
		Date:       r.Start,
		Days:       g.days,
		Events:     events,
		Resources:  g.resources,
		Highlights: highlights,
		Now:        now,
		Policy:     g.policy,
	}), nil
}

// remember replaces the clickable events with the latest snapshot. Events
// with a proposal in flight are kept so its answer can still be applied.
// Callers hold mu.
func (g *Grid) remember(events []calendar.Event) {
	known := make(map[string]calendar.Event, len(events)+len(g.pending))
	for id := range g.pending {
		if ev, ok := g.known[id]; ok {
			known[id] = ev
		}
	}
	for _, ev := range events {
		known[ev.ID] = ev
	}
	g.known = known
}

// overlay applies pending proposals. Callers hold mu.
func (g *Grid) overlay(events []calendar.Event) []calendar.Event {
	if len(g.pending) == 0 {
		return events
	}
	out := make([]calendar.Event, len(events))
	for i, ev := range events {
		if p, ok := g.pending[ev.ID]; ok {
			ev.Interval = p.Interval
			if p.ResourceID != "" {
				ev.ResourceID = p.ResourceID
			}
		}
		out[i] = ev
	}
	return out
}

// Pending returns the proposals still waiting for the store.
func (g *Grid) Pending() []interact.Proposal {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]interact.Proposal, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, p)
	}
	return out
}

func (g *Grid) lookup(id string) (calendar.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ev, ok := g.known[id]
	if !ok {
		return calendar.Event{}, fmt.Errorf("%w: %s", ErrUnknownEvent, id)
	}
	return ev, nil
}

// EventClick reports a click on a rendered event.
func (g *Grid) EventClick(id string) (calendar.Event, error) {
	ev, err := g.lookup(id)
	if err != nil {
		return calendar.Event{}, err
	}
	if g.onEventClick != nil {
		g.onEventClick(ev)
	}
	return ev, nil
}

// SlotClick resolves a click at offset pixels along the time axis of lane
// in a view of kind starting at date. The instant is the start of the
// clicked slot.
func (g *Grid) SlotClick(kind grid.Kind, date time.Time, lane int, offset float64) (SlotClick, error) {
	day := g.axis.Day(date)
	var sc SlotClick

	switch kind {
	case grid.KindWeek:
		if lane < 0 || lane >= g.days {
			return sc, fmt.Errorf("lane %d out of range", lane)
		}
		day = day.AddDate(0, 0, lane)
	case grid.KindTeam:
		if lane < 0 || lane >= len(g.resources) {
			return sc, fmt.Errorf("lane %d out of range", lane)
		}
		sc.ResourceID = g.resources[lane].ID
	}

	sc.At = g.axis.SlotAt(offset, g.axis.GridStart(day))
	if g.onSlotClick != nil {
		g.onSlotClick(sc)
	}
	return sc, nil
}

// BeginDrag starts dragging a rendered event. laneSize is the pixel size
// of one lane across the time axis (column width or row height).
func (g *Grid) BeginDrag(kind grid.Kind, eventID string, laneSize float64) (*interact.Drag, error) {
	ev, err := g.lookup(eventID)
	if err != nil {
		return nil, err
	}

	lanes := interact.Lanes{Size: laneSize}
	switch kind {
	case grid.KindWeek:
		lanes.Kind = interact.LaneDays
	case grid.KindTeam:
		lanes.Kind = interact.LaneResources
		for i, res := range g.resources {
			lanes.Resources = append(lanes.Resources, res.ID)
			if res.ID == ev.ResourceID {
				lanes.Index = i
			}
		}
	}
	return g.inter.BeginDrag(g.axis, ev, lanes)
}

// BeginResize starts resizing a rendered event from edge.
func (g *Grid) BeginResize(eventID string, edge interact.Edge) (*interact.Resize, error) {
	ev, err := g.lookup(eventID)
	if err != nil {
		return nil, err
	}
	return g.inter.BeginResize(g.axis, ev, edge)
}

// EndDrag finishes a drag. A proposal is emitted unless the drag fell
// under the movement threshold.
func (g *Grid) EndDrag(d *interact.Drag, offset, cross float64) (interact.Proposal, bool, error) {
	p, ok, err := d.End(offset, cross)
	if err != nil || !ok {
		return p, ok, err
	}
	g.emit(p)
	return p, true, nil
}

// EndResize finishes a resize. A proposal is emitted unless the edge
// moved less than the threshold.
func (g *Grid) EndResize(r *interact.Resize, offset float64) (interact.Proposal, bool, error) {
	p, ok, err := r.End(offset)
	if err != nil || !ok {
		return p, ok, err
	}
	g.emit(p)
	return p, true, nil
}

// emit records p as pending and hands it to the store without waiting.
func (g *Grid) emit(p interact.Proposal) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		slog.Warn("dropping proposal from closed grid", "event", p.EventID)
		return
	}
	g.pending[p.EventID] = p
	before, known := g.known[p.EventID]
	if known {
		ev := before
		ev.Interval = p.Interval
		if p.ResourceID != "" {
			ev.ResourceID = p.ResourceID
		}
		g.known[p.EventID] = ev
	}
	g.inflight.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()
		err := g.store.ProposeReschedule(ctx, p.EventID, p.Interval, p.ResourceID)

		g.mu.Lock()
		latest := false
		if cur, ok := g.pending[p.EventID]; ok && cur.ID == p.ID {
			delete(g.pending, p.EventID)
			latest = true
		}
		// A newer proposal owns the optimistic state; leave it alone.
		if _, still := g.known[p.EventID]; err != nil && known && latest && still {
			g.known[p.EventID] = before
		}
		g.mu.Unlock()

		if err != nil {
			slog.Info("proposal rejected", "event", p.EventID, "gesture", p.ID, "error", err)
			if g.onRejected != nil {
				g.onRejected(Rejection{Proposal: p, Err: err})
			}
			return
		}
		slog.Debug("proposal committed", "event", p.EventID, "gesture", p.ID)
		if g.onCommitted != nil {
			g.onCommitted(p)
		}
	}()
}

// Wait blocks until every emitted proposal has been answered.
func (g *Grid) Wait() {
	g.inflight.Wait()
}

// Close stops the clock subscription and waits for in-flight proposals.
func (g *Grid) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	stop := g.stop
	g.mu.Unlock()

	if stop != nil {
		stop()
	}
	g.inflight.Wait()
	return nil
}
