package calendar

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ics "github.com/emersion/go-ical"
)

const fixtureICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//fieldgrid//test//EN
BEGIN:VEVENT
UID:visit-1
DTSTAMP:20260301T000000Z
SUMMARY:Boiler service
DTSTART:20260302T100000Z
DTEND:20260302T110000Z
LOCATION:12 High St
STATUS:TENTATIVE
X-FIELDGRID-RESOURCE:tech-1
X-FIELDGRID-CLIENT:Acme
END:VEVENT
BEGIN:VEVENT
UID:visit-2
DTSTAMP:20260301T000000Z
SUMMARY:Estimate
DTSTART:20260303T140000Z
DURATION:PT45M
X-FIELDGRID-STATUS:in_progress
END:VEVENT
BEGIN:VEVENT
UID:weekly
DTSTAMP:20260301T000000Z
SUMMARY:Weekly route
DTSTART:20260302T090000Z
DTEND:20260302T093000Z
RRULE:FREQ=WEEKLY;COUNT=4
END:VEVENT
BEGIN:VEVENT
UID:weekly
DTSTAMP:20260301T000000Z
RECURRENCE-ID:20260309T090000Z
SUMMARY:Weekly route (moved)
DTSTART:20260309T130000Z
DTEND:20260309T133000Z
END:VEVENT
BEGIN:VEVENT
UID:old
DTSTAMP:20260101T000000Z
SUMMARY:Last month
DTSTART:20260201T100000Z
DTEND:20260201T110000Z
END:VEVENT
END:VCALENDAR
`

var march = Interval{
	Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
}

func writeFixture(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.ics")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func byID(events []Event) map[string]Event {
	m := make(map[string]Event, len(events))
	for _, e := range events {
		m[e.ID] = e
	}
	return m
}

func TestFileStoreFetch(t *testing.T) {
	s := NewFileStore("jobs", writeFixture(t, fixtureICS))
	events, err := s.Fetch(context.Background(), march)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 6 {
		t.Fatalf("got %d events, want 6: %v", len(events), events)
	}
	got := byID(events)

	v1 := got["visit-1"]
	if v1.Title != "Boiler service" || v1.ResourceID != "tech-1" || v1.Status != StatusPending {
		t.Errorf("visit-1 = %+v", v1)
	}
	if v1.Props["client"] != "Acme" {
		t.Errorf("visit-1 props = %v", v1.Props)
	}
	if v1.Source != "jobs" || v1.Recurring {
		t.Errorf("visit-1 source/recurring = %q/%v", v1.Source, v1.Recurring)
	}

	v2 := got["visit-2"]
	if v2.Duration() != 45*time.Minute {
		t.Errorf("visit-2 duration = %v, want 45m", v2.Duration())
	}
	if v2.Status != StatusInProgress {
		t.Errorf("visit-2 status = %v", v2.Status)
	}

	if _, ok := got["old"]; ok {
		t.Error("event outside the window was returned")
	}

	moved := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	o, ok := got[occurrenceID("weekly", moved)]
	if !ok {
		t.Fatalf("override occurrence missing: %v", events)
	}
	if o.Title != "Weekly route (moved)" || o.Start.Hour() != 13 || !o.Recurring {
		t.Errorf("override = %+v", o)
	}

	recurring := 0
	for _, e := range events {
		if strings.HasPrefix(e.ID, "weekly_") {
			recurring++
		}
	}
	if recurring != 4 {
		t.Errorf("weekly occurrences = %d, want 4", recurring)
	}
}

func TestFileStoreReschedule(t *testing.T) {
	path := writeFixture(t, fixtureICS)
	s := NewFileStore("jobs", path)
	ctx := context.Background()

	iv := Interval{
		Start: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC),
	}
	if err := s.Reschedule(ctx, "visit-1", iv, "tech-2"); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}

	events, err := s.Fetch(ctx, march)
	if err != nil {
		t.Fatal(err)
	}
	v1 := byID(events)["visit-1"]
	if !v1.Start.Equal(iv.Start) || !v1.End.Equal(iv.End) {
		t.Errorf("visit-1 interval = %v - %v, want %v - %v", v1.Start, v1.End, iv.Start, iv.End)
	}
	if v1.ResourceID != "tech-2" {
		t.Errorf("visit-1 resource = %q, want tech-2", v1.ResourceID)
	}
	if v1.Props["client"] != "Acme" {
		t.Errorf("extended props lost: %v", v1.Props)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "SEQUENCE:1") {
		t.Error("SEQUENCE was not bumped")
	}

	// An empty resource keeps the assignment.
	if err := s.Reschedule(ctx, "visit-1", iv.Shift(time.Hour), ""); err != nil {
		t.Fatal(err)
	}
	events, _ = s.Fetch(ctx, march)
	if got := byID(events)["visit-1"].ResourceID; got != "tech-2" {
		t.Errorf("resource after move = %q, want tech-2", got)
	}

	// DURATION is replaced by DTEND.
	v2iv := Interval{
		Start: time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC),
	}
	if err := s.Reschedule(ctx, "visit-2", v2iv, ""); err != nil {
		t.Fatal(err)
	}
	events, _ = s.Fetch(ctx, march)
	if got := byID(events)["visit-2"]; got.Duration() != 90*time.Minute {
		t.Errorf("visit-2 duration = %v, want 1h30m", got.Duration())
	}
}

func TestFileStoreRescheduleErrors(t *testing.T) {
	s := NewFileStore("jobs", writeFixture(t, fixtureICS))
	ctx := context.Background()
	iv := march

	tests := []struct {
		name string
		id   string
		want error
	}{
		{"unknown", "nope", ErrNotFound},
		{"series master", "weekly", ErrRecurring},
		{"expanded occurrence", occurrenceID("weekly", time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC)), ErrRecurring},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Reschedule(ctx, tt.id, iv, ""); !errors.Is(err, tt.want) {
				t.Errorf("Reschedule(%q) = %v, want %v", tt.id, err, tt.want)
			}
		})
	}
}

func TestFileStoreMissingFile(t *testing.T) {
	s := NewFileStore("jobs", filepath.Join(t.TempDir(), "none.ics"))
	events, err := s.Fetch(context.Background(), march)
	if err != nil || len(events) != 0 {
		t.Errorf("Fetch() = %v, %v, want empty", events, err)
	}
}

func TestWriteICSRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "jobs.ics")
	in := []Event{
		{
			ID:         "a",
			Title:      "Install",
			Interval:   Interval{Start: time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)},
			Status:     StatusConfirmed,
			ResourceID: "crew-2",
			Location:   "Depot",
			Props:      map[string]string{"job": "J-100"},
		},
	}
	if err := WriteICS(path, in); err != nil {
		t.Fatalf("WriteICS: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	out, err := NewFileStore("jobs", path).Fetch(context.Background(), march)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d events", len(out))
	}
	got := out[0]
	if got.ID != "a" || got.Status != StatusConfirmed || got.ResourceID != "crew-2" || got.Props["job"] != "J-100" {
		t.Errorf("round trip = %+v", got)
	}
	if !got.Start.Equal(in[0].Start) || !got.End.Equal(in[0].End) {
		t.Errorf("interval = %v, want %v", got.Interval, in[0].Interval)
	}
}

func decodeFirst(t *testing.T, data string) *ics.Component {
	t.Helper()
	cal, err := ics.NewDecoder(strings.NewReader(data)).Decode()
	if err != nil {
		t.Fatalf("failed to decode ICS: %v", err)
	}
	for _, child := range cal.Children {
		if child.Name == ics.CompEvent {
			return child
		}
	}
	t.Fatal("no VEVENT")
	return nil
}

func TestParseEvent_EffectivelyAllDay(t *testing.T) {
	// iCloud-style multi-day event encoded with full datetimes at midnight
	comp := decodeFirst(t, `BEGIN:VCALENDAR
BEGIN:VEVENT
UID:test-multiday-allday
SUMMARY:Mid-winter break (no school)
DTSTART:20260216T000000
DTEND:20260221T000000
END:VEVENT
END:VCALENDAR`)

	window := Interval{Start: time.Date(2026, 2, 1, 0, 0, 0, 0, time.Local), End: time.Date(2026, 3, 1, 0, 0, 0, 0, time.Local)}
	events, err := decodeEvent(comp, "test", window, nil)
	if err != nil {
		t.Fatalf("decodeEvent error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !events[0].AllDay {
		t.Errorf("expected AllDay=true for midnight-to-midnight multi-day event, got false")
	}
	if events[0].Title != "Mid-winter break (no school)" {
		t.Errorf("unexpected title: %s", events[0].Title)
	}
}

func TestParseEvent_DateOnlyAllDay(t *testing.T) {
	comp := decodeFirst(t, `BEGIN:VCALENDAR
BEGIN:VEVENT
UID:test-dateonly-allday
SUMMARY:Holiday
DTSTART;VALUE=DATE:20260217
DTEND;VALUE=DATE:20260218
END:VEVENT
END:VCALENDAR`)

	window := Interval{Start: time.Date(2026, 2, 1, 0, 0, 0, 0, time.Local), End: time.Date(2026, 3, 1, 0, 0, 0, 0, time.Local)}
	events, err := decodeEvent(comp, "test", window, nil)
	if err != nil {
		t.Fatalf("decodeEvent error: %v", err)
	}
	if len(events) != 1 || !events[0].AllDay {
		t.Fatalf("events = %+v, want one all-day event", events)
	}
	if events[0].Duration() != 24*time.Hour {
		t.Errorf("duration = %v, want 24h", events[0].Duration())
	}
}

func TestParseEvent_TimedNotAllDay(t *testing.T) {
	comp := decodeFirst(t, `BEGIN:VCALENDAR
BEGIN:VEVENT
UID:test-timed
SUMMARY:Site visit
DTSTART:20260217T090000
DTEND:20260217T100000
END:VEVENT
END:VCALENDAR`)

	window := Interval{Start: time.Date(2026, 2, 1, 0, 0, 0, 0, time.Local), End: time.Date(2026, 3, 1, 0, 0, 0, 0, time.Local)}
	events, err := decodeEvent(comp, "test", window, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].AllDay {
		t.Errorf("events = %+v, want one timed event", events)
	}
}

func TestMerge(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2026, 3, 2, h, 0, 0, 0, time.UTC) }
	a := []Event{{ID: "b", Interval: Interval{Start: at(9), End: at(10)}}, {ID: "c", Interval: Interval{Start: at(11), End: at(12)}}}
	b := []Event{{ID: "a", Interval: Interval{Start: at(9), End: at(10)}}, {ID: "d", Interval: Interval{Start: at(8), End: at(9)}}}

	got := Merge(a, b)
	want := []string{"d", "a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Merge() = %v", got)
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("Merge()[%d] = %s, want %s", i, got[i].ID, want[i])
		}
	}
}
