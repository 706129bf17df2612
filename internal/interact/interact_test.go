package interact

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cpuguy83/fieldgrid/internal/calendar"
	"github.com/cpuguy83/fieldgrid/internal/grid"
)

func testAxis(t *testing.T) *grid.Axis {
	t.Helper()
	a, err := grid.NewAxis(grid.DefaultViewConfig(), time.UTC)
	if err != nil {
		t.Fatalf("NewAxis: %v", err)
	}
	return a
}

func at(h, m int) time.Time { return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC) }

func visit(id string, start, end time.Time) calendar.Event {
	return calendar.Event{ID: id, Title: id, Interval: calendar.Interval{Start: start, End: end}}
}

func TestDragSnapsToSlots(t *testing.T) {
	a := testAxis(t)
	ev := visit("v1", at(10, 0), at(11, 0))

	tests := []struct {
		name      string
		offset    float64
		wantStart time.Time
		wantEnd   time.Time
	}{
		{"one hour later", 96, at(11, 0), at(12, 0)},
		{"one hour earlier", -96, at(9, 0), at(10, 0)},
		{"just over half a slot", 30, at(10, 30), at(11, 30)},
		{"under half a slot", 20, at(10, 0), at(11, 0)},
		{"slightly past one hour", 100, at(11, 0), at(12, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewContext()
			d, err := c.BeginDrag(a, ev, Lanes{})
			if err != nil {
				t.Fatal(err)
			}
			p, ok, err := d.End(tt.offset, 0)
			if err != nil || !ok {
				t.Fatalf("End() = %v, %v", ok, err)
			}
			if !p.Interval.Start.Equal(tt.wantStart) || !p.Interval.End.Equal(tt.wantEnd) {
				t.Errorf("interval = %v - %v, want %v - %v", p.Interval.Start, p.Interval.End, tt.wantStart, tt.wantEnd)
			}
			if !p.Original.Start.Equal(at(10, 0)) {
				t.Errorf("original changed: %v", p.Original)
			}
			if p.EventID != "v1" || p.ID != d.ID() {
				t.Errorf("proposal ids = %q/%q", p.EventID, p.ID)
			}
		})
	}
}

func TestDragOnSlotMultiplesIsExact(t *testing.T) {
	a := testAxis(t)
	h := a.Config().SlotHeightPixels
	ev := visit("v1", at(10, 0), at(11, 0))

	for k := -8; k <= 8; k++ {
		if k == 0 {
			continue
		}
		c := NewContext()
		d, _ := c.BeginDrag(a, ev, Lanes{})
		p, ok, err := d.End(float64(k)*h, 0)
		if err != nil || !ok {
			t.Fatalf("k=%d: End() = %v, %v", k, ok, err)
		}
		want := time.Duration(k*a.Config().SlotDurationMinutes) * time.Minute
		if got := p.Interval.Start.Sub(ev.Start); got != want {
			t.Errorf("k=%d: shift = %v, want %v", k, got, want)
		}
		if p.Interval.Duration() != time.Hour {
			t.Errorf("k=%d: duration changed to %v", k, p.Interval.Duration())
		}
	}
}

func TestDragBelowThresholdCancels(t *testing.T) {
	a := testAxis(t)
	c := NewContext()
	ev := visit("v1", at(10, 0), at(11, 0))

	d, err := c.BeginDrag(a, ev, Lanes{})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Move(2, 1); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := d.End(2, 1); ok || err != nil {
		t.Fatalf("End() = %v, %v, want cancelled", ok, err)
	}
	if _, active := c.Active("v1"); active {
		t.Error("gesture still active after cancel")
	}
	if _, _, err := d.End(100, 0); !errors.Is(err, ErrGestureDone) {
		t.Errorf("second End() error = %v, want ErrGestureDone", err)
	}
}

func TestOneGesturePerEvent(t *testing.T) {
	a := testAxis(t)
	c := NewContext()
	ev := visit("v1", at(10, 0), at(11, 0))

	d, err := c.BeginDrag(a, ev, Lanes{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.BeginResize(a, ev, EdgeEnd); !errors.Is(err, ErrGestureActive) {
		t.Fatalf("BeginResize during drag: %v, want ErrGestureActive", err)
	}
	if _, err := c.BeginDrag(a, visit("v2", at(12, 0), at(13, 0)), Lanes{}); err != nil {
		t.Errorf("other event blocked: %v", err)
	}

	got, err := c.Drag(d.ID())
	if err != nil || got != d {
		t.Errorf("Drag(%q) = %v, %v", d.ID(), got, err)
	}
	if _, err := c.Resize(d.ID()); !errors.Is(err, ErrUnknownGesture) {
		t.Errorf("Resize(drag id) error = %v", err)
	}

	d.Cancel()
	if _, err := c.BeginResize(a, ev, EdgeEnd); err != nil {
		t.Errorf("BeginResize after cancel: %v", err)
	}
	if n := len(c.Gestures()); n != 2 {
		t.Errorf("Gestures() = %d, want 2", n)
	}
}

func TestContextsAreIndependent(t *testing.T) {
	a := testAxis(t)
	ev := visit("v1", at(10, 0), at(11, 0))
	first, second := NewContext(), NewContext()

	if _, err := first.BeginDrag(a, ev, Lanes{}); err != nil {
		t.Fatal(err)
	}
	if _, err := second.BeginDrag(a, ev, Lanes{}); err != nil {
		t.Errorf("second context blocked by first: %v", err)
	}
}

func TestConcurrentBeginAdmitsOne(t *testing.T) {
	a := testAxis(t)
	c := NewContext()
	ev := visit("v1", at(10, 0), at(11, 0))

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.BeginDrag(a, ev, Lanes{}); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if won != 1 {
		t.Errorf("%d gestures started, want 1", won)
	}
}

func TestDragAcrossDays(t *testing.T) {
	a := testAxis(t)
	c := NewContext()
	ev := visit("v1", at(10, 0), at(11, 0))

	d, _ := c.BeginDrag(a, ev, Lanes{Kind: LaneDays, Size: 120, Index: 0})
	p, ok, err := d.End(48, 250)
	if err != nil || !ok {
		t.Fatalf("End() = %v, %v", ok, err)
	}
	if p.DayDelta != 2 {
		t.Errorf("DayDelta = %d, want 2", p.DayDelta)
	}
	want := at(10, 30).AddDate(0, 0, 2)
	if !p.Interval.Start.Equal(want) {
		t.Errorf("start = %v, want %v", p.Interval.Start, want)
	}
}

func TestDragAcrossResources(t *testing.T) {
	a := testAxis(t)
	ev := visit("v1", at(10, 0), at(11, 0))
	ev.ResourceID = "tech-1"
	lanes := Lanes{Kind: LaneResources, Size: 80, Index: 0, Resources: []string{"tech-1", "tech-2", "tech-3"}}

	tests := []struct {
		name  string
		cross float64
		want  string
	}{
		{"next row", 85, "tech-2"},
		{"far past the last row clamps", 1000, "tech-3"},
		{"same row", 20, ""},
		{"above the first row clamps", -500, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewContext()
			d, _ := c.BeginDrag(a, ev, lanes)
			p, ok, err := d.End(0, tt.cross)
			if err != nil || !ok {
				t.Fatalf("End() = %v, %v", ok, err)
			}
			if p.ResourceID != tt.want {
				t.Errorf("ResourceID = %q, want %q", p.ResourceID, tt.want)
			}
			if !p.Interval.Start.Equal(ev.Start) {
				t.Errorf("time changed on a pure row move: %v", p.Interval.Start)
			}
		})
	}
}

func TestResize(t *testing.T) {
	a := testAxis(t)
	ev := visit("v1", at(10, 0), at(11, 0))

	tests := []struct {
		name      string
		edge      Edge
		offset    float64
		wantStart time.Time
		wantEnd   time.Time
	}{
		{"extend end by a slot", EdgeEnd, 48, at(10, 0), at(11, 30)},
		{"pull start earlier", EdgeStart, -96, at(9, 0), at(11, 0)},
		{"shrink end", EdgeEnd, -48, at(10, 0), at(10, 30)},
		{"end stops a slot short of the start", EdgeEnd, -500, at(10, 0), at(10, 30)},
		{"start stops a slot short of the end", EdgeStart, 500, at(10, 30), at(11, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewContext()
			r, err := c.BeginResize(a, ev, tt.edge)
			if err != nil {
				t.Fatal(err)
			}
			p, ok, err := r.End(tt.offset)
			if err != nil || !ok {
				t.Fatalf("End() = %v, %v", ok, err)
			}
			if !p.Interval.Start.Equal(tt.wantStart) || !p.Interval.End.Equal(tt.wantEnd) {
				t.Errorf("interval = %v - %v, want %v - %v", p.Interval.Start, p.Interval.End, tt.wantStart, tt.wantEnd)
			}
			if p.Edge != tt.edge || p.Kind != KindResize {
				t.Errorf("edge/kind = %v/%v", p.Edge, p.Kind)
			}
		})
	}
}

func TestResizeFloorKeepsIntervalValid(t *testing.T) {
	a := testAxis(t)

	tests := []struct {
		name    string
		ev      calendar.Event
		edge    Edge
		offset  float64
		want    calendar.Interval
		wantMin int
	}{
		{
			name: "one hour shrunk past the floor", ev: visit("v1", at(10, 0), at(11, 0)),
			edge: EdgeEnd, offset: -500,
			want: calendar.Interval{Start: at(10, 0), End: at(10, 30)}, wantMin: -30,
		},
		{
			// 24px is half a slot; clamped then snapped it would reach the start.
			name: "one slot shrunk by half a slot", ev: visit("v2", at(9, 0), at(9, 30)),
			edge: EdgeEnd, offset: -30,
			want: calendar.Interval{Start: at(9, 0), End: at(9, 30)}, wantMin: 0,
		},
		{
			name: "one slot start pushed down", ev: visit("v3", at(9, 0), at(9, 30)),
			edge: EdgeStart, offset: 40,
			want: calendar.Interval{Start: at(9, 0), End: at(9, 30)}, wantMin: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewContext()
			r, err := c.BeginResize(a, tt.ev, tt.edge)
			if err != nil {
				t.Fatal(err)
			}
			p, ok, err := r.End(tt.offset)
			if err != nil || !ok {
				t.Fatalf("End() = %v, %v", ok, err)
			}
			if p.Degenerate() {
				t.Errorf("proposal %v is degenerate", p.Interval)
			}
			if !p.Interval.Start.Equal(tt.want.Start) || !p.Interval.End.Equal(tt.want.End) || p.SnappedMinutes != tt.wantMin {
				t.Errorf("proposal = %v (%d min), want %v (%d min)", p.Interval, p.SnappedMinutes, tt.want, tt.wantMin)
			}
		})
	}
}

func TestResizeKeepsMalformedAsIs(t *testing.T) {
	a := testAxis(t)
	c := NewContext()
	r, _ := c.BeginResize(a, visit("v1", at(10, 0), at(10, 0)), EdgeEnd)
	p, ok, _ := r.End(-48)
	if !ok {
		t.Fatal("End() should emit")
	}
	if !p.Degenerate() || !p.Interval.End.Equal(at(10, 0)) {
		t.Errorf("proposal = %v, want the zero-length interval unchanged", p.Interval)
	}
}

func TestResizePreviewFloor(t *testing.T) {
	a := testAxis(t)
	c := NewContext()
	r, _ := c.BeginResize(a, visit("v1", at(10, 0), at(11, 0)), EdgeEnd)

	if err := r.Move(-1000); err != nil {
		t.Fatal(err)
	}
	if got := r.Preview(); got != a.MinHeight() {
		t.Errorf("Preview() = %v, want floor %v", got, a.MinHeight())
	}
	if err := r.Move(48); err != nil {
		t.Fatal(err)
	}
	if got := r.Preview(); got != 144 {
		t.Errorf("Preview() = %v, want 144", got)
	}
}

func TestResizeNeedsEdge(t *testing.T) {
	c := NewContext()
	if _, err := c.BeginResize(testAxis(t), visit("v1", at(10, 0), at(11, 0)), EdgeNone); err == nil {
		t.Fatal("BeginResize without an edge should fail")
	}
}

func TestProposalOutOfWindow(t *testing.T) {
	a := testAxis(t)
	c := NewContext()
	d, _ := c.BeginDrag(a, visit("v1", at(21, 0), at(22, 0)), Lanes{})
	p, _, _ := d.End(96, 0)
	if !p.OutOfWindow(a) {
		t.Errorf("%v should be outside the window", p.Interval)
	}
	if p.Degenerate() {
		t.Error("a moved interval is not degenerate")
	}
}

func TestParseEdge(t *testing.T) {
	tests := []struct {
		in      string
		want    Edge
		wantErr bool
	}{
		{"start", EdgeStart, false},
		{"top", EdgeStart, false},
		{"end", EdgeEnd, false},
		{"right", EdgeEnd, false},
		{"middle", EdgeNone, true},
	}
	for _, tt := range tests {
		got, err := ParseEdge(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseEdge(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestWithThreshold(t *testing.T) {
	a := testAxis(t)
	c := NewContext(WithThreshold(50))
	d, _ := c.BeginDrag(a, visit("v1", at(10, 0), at(11, 0)), Lanes{})
	if _, ok, _ := d.End(48, 0); ok {
		t.Error("48px drag should be cancelled under a 50px threshold")
	}
}

func TestProposalJSON(t *testing.T) {
	in := Proposal{
		ID:             "g1",
		EventID:        "v1",
		Kind:           KindResize,
		Edge:           EdgeEnd,
		Original:       calendar.Interval{Start: at(10, 0), End: at(11, 0)},
		Interval:       calendar.Interval{Start: at(10, 0), End: at(11, 30)},
		SnappedMinutes: 30,
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out Proposal
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal(%s): %v", data, err)
	}
	if out.Kind != KindResize || out.Edge != EdgeEnd || !out.Interval.End.Equal(in.Interval.End) {
		t.Errorf("decoded %+v", out)
	}

	drag := Proposal{Kind: KindDrag}
	data, _ = json.Marshal(drag)
	out = Proposal{Kind: KindResize, Edge: EdgeStart}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal(%s): %v", data, err)
	}
	if out.Kind != KindDrag {
		t.Errorf("kind = %v, want drag", out.Kind)
	}
}

func TestKindEdgeUnmarshalText(t *testing.T) {
	var k Kind
	if err := k.UnmarshalText([]byte("pinch")); err == nil {
		t.Error("unknown kind should fail")
	}
	var e Edge
	if err := e.UnmarshalText([]byte("bottom")); err != nil || e != EdgeEnd {
		t.Errorf("UnmarshalText(bottom) = %v, %v", e, err)
	}
	if err := e.UnmarshalText(nil); err != nil || e != EdgeNone {
		t.Errorf("UnmarshalText(empty) = %v, %v", e, err)
	}
	if err := e.UnmarshalText([]byte("middle")); err == nil {
		t.Error("unknown edge should fail")
	}
}
