package grid

import (
	"errors"
	"math"
	"testing"
	"time"
)

func testAxis(t *testing.T) *Axis {
	t.Helper()
	a, err := NewAxis(DefaultViewConfig(), time.UTC)
	if err != nil {
		t.Fatalf("NewAxis: %v", err)
	}
	return a
}

func day() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }

func at(h, m int) time.Time { return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC) }

func TestViewConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ViewConfig
		wantErr bool
	}{
		{"default", DefaultViewConfig(), false},
		{"full day", ViewConfig{StartHour: 0, EndHour: 24, SlotDurationMinutes: 15, SlotHeightPixels: 20}, false},
		{"zero slot duration", ViewConfig{StartHour: 6, EndHour: 22, SlotDurationMinutes: 0, SlotHeightPixels: 48}, true},
		{"negative slot duration", ViewConfig{StartHour: 6, EndHour: 22, SlotDurationMinutes: -30, SlotHeightPixels: 48}, true},
		{"zero slot height", ViewConfig{StartHour: 6, EndHour: 22, SlotDurationMinutes: 30, SlotHeightPixels: 0}, true},
		{"NaN slot height", ViewConfig{StartHour: 6, EndHour: 22, SlotDurationMinutes: 30, SlotHeightPixels: math.NaN()}, true},
		{"start after end", ViewConfig{StartHour: 22, EndHour: 6, SlotDurationMinutes: 30, SlotHeightPixels: 48}, true},
		{"start equals end", ViewConfig{StartHour: 8, EndHour: 8, SlotDurationMinutes: 30, SlotHeightPixels: 48}, true},
		{"end past midnight", ViewConfig{StartHour: 6, EndHour: 25, SlotDurationMinutes: 30, SlotHeightPixels: 48}, true},
		{"negative start", ViewConfig{StartHour: -1, EndHour: 22, SlotDurationMinutes: 30, SlotHeightPixels: 48}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAxis(tt.cfg, time.UTC)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewAxis() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error %v does not wrap ErrInvalidConfig", err)
			}
		})
	}
}

func TestToPixels(t *testing.T) {
	a := testAxis(t)
	gs := a.GridStart(day())

	if !gs.Equal(at(6, 0)) {
		t.Fatalf("GridStart = %v, want 06:00", gs)
	}

	tests := []struct {
		name string
		t    time.Time
		want float64
	}{
		{"grid start", at(6, 0), 0},
		{"nine o'clock", at(9, 0), 288},
		{"ten o'clock", at(10, 0), 384},
		{"before window clamps", at(5, 30), 0},
		{"end of window", at(22, 0), 1536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.ToPixels(tt.t, gs); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ToPixels(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}

	if got := a.Offset(at(5, 30), gs); got >= 0 {
		t.Errorf("Offset before window = %v, want negative", got)
	}
}

func TestTotalHeight(t *testing.T) {
	a := testAxis(t)
	// 16 hours of 30 minute slots at 48px.
	if got := a.TotalHeight(); got != 32*48 {
		t.Errorf("TotalHeight() = %v, want %v", got, 32*48)
	}
	if got := a.SlotCount(); got != 32 {
		t.Errorf("SlotCount() = %d, want 32", got)
	}
}

func TestPixelRoundTrip(t *testing.T) {
	a := testAxis(t)
	gs := a.GridStart(day())
	slot := a.SlotDuration()

	for m := 0; m < 16*60; m += 7 {
		instant := gs.Add(time.Duration(m) * time.Minute)
		back := a.ToInstant(a.ToPixels(instant, gs), gs)
		diff := back.Sub(instant)
		if diff < 0 {
			diff = -diff
		}
		if diff > slot {
			t.Fatalf("round trip of %v drifted by %v", instant, diff)
		}
	}
}

func TestSlotAt(t *testing.T) {
	a := testAxis(t)
	gs := a.GridStart(day())

	tests := []struct {
		name   string
		offset float64
		want   time.Time
	}{
		{"top", 0, at(6, 0)},
		{"inside first slot", 47.9, at(6, 0)},
		{"second slot", 48, at(6, 30)},
		{"nine", 290, at(9, 0)},
		{"negative clamps to top", -10, at(6, 0)},
		{"past bottom clamps to last slot", 99999, at(21, 30)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.SlotAt(tt.offset, gs); !got.Equal(tt.want) {
				t.Errorf("SlotAt(%v) = %v, want %v", tt.offset, got, tt.want)
			}
		})
	}
}

func TestSnapMinutes(t *testing.T) {
	a := testAxis(t)

	tests := []struct {
		pixels float64
		want   int
	}{
		{0, 0},
		{96, 60},
		{-96, -60},
		{48, 30},
		{20, 0},
		{30, 30}, // 19 minutes rounds up to one slot
		{-30, -30},
		{100, 60},
		{1536, 960},
	}

	for _, tt := range tests {
		if got := a.SnapMinutes(tt.pixels); got != tt.want {
			t.Errorf("SnapMinutes(%v) = %d, want %d", tt.pixels, got, tt.want)
		}
	}
}

func TestSnapIsStableOnSlotMultiples(t *testing.T) {
	a := testAxis(t)
	h := a.Config().SlotHeightPixels

	for k := -10; k <= 10; k++ {
		want := k * a.Config().SlotDurationMinutes
		if got := a.SnapMinutes(float64(k) * h); got != want {
			t.Errorf("SnapMinutes(%d slots) = %d, want %d", k, got, want)
		}
	}
}

func TestNowMarker(t *testing.T) {
	a := testAxis(t)

	tests := []struct {
		name        string
		now         time.Time
		date        time.Time
		wantVisible bool
		wantOffset  float64
		wantAfter   bool
	}{
		{"same day inside window", at(9, 0), day(), true, 288, false},
		{"other day", at(9, 0).AddDate(0, 0, 1), day(), false, 0, false},
		{"before window", at(5, 0), day(), false, 0, false},
		{"window start", at(6, 0), day(), true, 0, false},
		{"window end", at(22, 0), day(), true, 1536, false},
		{"after window", at(23, 0), day(), true, 1632, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := a.Now(tt.now, tt.date)
			if m.Visible != tt.wantVisible {
				t.Fatalf("Visible = %v, want %v", m.Visible, tt.wantVisible)
			}
			if math.Abs(m.Offset-tt.wantOffset) > 1e-9 {
				t.Errorf("Offset = %v, want %v", m.Offset, tt.wantOffset)
			}
			if m.AfterWindow != tt.wantAfter {
				t.Errorf("AfterWindow = %v, want %v", m.AfterWindow, tt.wantAfter)
			}
		})
	}
}

func TestNowMarkerMonotonic(t *testing.T) {
	a := testAxis(t)
	prev := -1.0
	for m := 0; m < 16*60; m++ {
		mk := a.Now(at(6, 0).Add(time.Duration(m)*time.Minute), day())
		if !mk.Visible {
			t.Fatalf("marker hidden at minute %d", m)
		}
		if mk.Offset <= prev {
			t.Fatalf("offset %v at minute %d not greater than %v", mk.Offset, m, prev)
		}
		prev = mk.Offset
	}
}

func TestIsHighlighted(t *testing.T) {
	ranges := []TimeRange{
		{Start: at(8, 0), End: at(12, 0)},
		{Start: at(13, 0), End: at(13, 15)},
	}

	tests := []struct {
		name string
		slot time.Time
		want bool
	}{
		{"range start is inside", at(8, 0), true},
		{"inside", at(11, 30), true},
		{"range end is outside", at(12, 0), false},
		{"slot starting inside short range", at(13, 0), true},
		{"before", at(7, 30), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHighlighted(tt.slot, ranges); got != tt.want {
				t.Errorf("IsHighlighted(%v) = %v, want %v", tt.slot, got, tt.want)
			}
		})
	}

	if IsHighlighted(at(9, 0), nil) {
		t.Error("no ranges should never highlight")
	}
}

func TestSlots(t *testing.T) {
	a := testAxis(t)
	slots := a.Slots(2, day(), []TimeRange{{Start: at(8, 0), End: at(9, 0)}})
	if len(slots) != 32 {
		t.Fatalf("got %d slots, want 32", len(slots))
	}

	var lit []time.Time
	for _, s := range slots {
		if s.Lane != 2 {
			t.Fatalf("slot lane = %d, want 2", s.Lane)
		}
		if s.Highlighted {
			lit = append(lit, s.Start)
		}
	}
	if len(lit) != 2 || !lit[0].Equal(at(8, 0)) || !lit[1].Equal(at(8, 30)) {
		t.Errorf("highlighted slots = %v, want 08:00 and 08:30", lit)
	}
	if slots[6].Offset != 288 {
		t.Errorf("slot 6 offset = %v, want 288", slots[6].Offset)
	}
}
