package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

// maxOccurrences caps recurrence expansion per event.
const maxOccurrences = 5000

// FeedSource reads appointments from an ICS subscription URL. Feeds are
// read-only. Responses are cached in memory and revalidated with
// ETag / Last-Modified.
type FeedSource struct {
	name     string
	url      string
	username string
	password string
	client   *http.Client

	mu           sync.Mutex
	etag         string
	lastModified string
	body         []byte
}

// NewFeedSource creates a new ICS feed source.
func NewFeedSource(name, url, username, password string) *FeedSource {
	return &FeedSource{
		name:     name,
		url:      url,
		username: username,
		password: password,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the display name of this feed.
func (s *FeedSource) Name() string {
	return s.name
}

// Fetch retrieves the feed and returns events intersecting window.
func (s *FeedSource) Fetch(ctx context.Context, window Interval) ([]Event, error) {
	body, err := s.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.parse(body, window)
}

// get performs a conditional GET, falling back to the cached body on
// 304 or on failure.
func (s *FeedSource) get(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}
	if s.etag != "" {
		req.Header.Set("If-None-Match", s.etag)
	}
	if s.lastModified != "" {
		req.Header.Set("If-Modified-Since", s.lastModified)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if len(s.body) > 0 {
			slog.Warn("feed fetch failed, using cached body", "source", s.name, "error", err)
			return s.body, nil
		}
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read feed: %w", err)
		}
		s.body = body
		s.etag = resp.Header.Get("ETag")
		s.lastModified = resp.Header.Get("Last-Modified")
		return body, nil
	case http.StatusNotModified:
		if len(s.body) == 0 {
			return nil, errors.New("feed returned 304 but nothing is cached")
		}
		slog.Debug("feed not modified", "source", s.name)
		return s.body, nil
	default:
		if len(s.body) > 0 {
			slog.Warn("feed fetch non-OK, using cached body", "source", s.name, "status", resp.StatusCode)
			return s.body, nil
		}
		return nil, fmt.Errorf("fetch feed: status %d", resp.StatusCode)
	}
}

func (s *FeedSource) parse(body []byte, window Interval) ([]Event, error) {
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	overridden := make(map[string]bool)
	for _, ve := range cal.Events() {
		if rid := ve.GetProperty("RECURRENCE-ID"); rid != nil {
			if t, err := parseFeedTime(rid); err == nil {
				overridden[occurrenceID(feedValue(ve, ical.ComponentPropertyUniqueId), t)] = true
			}
		}
	}

	var events []Event
	for _, ve := range cal.Events() {
		parsed, err := s.expand(ve, window, overridden)
		if err != nil {
			slog.Debug("skip feed event", "source", s.name, "error", err)
			continue
		}
		events = append(events, parsed...)
	}
	return events, nil
}

func (s *FeedSource) expand(ve *ical.VEvent, window Interval, overridden map[string]bool) ([]Event, error) {
	base := Event{
		ID:          feedValue(ve, ical.ComponentPropertyUniqueId),
		Title:       feedValue(ve, ical.ComponentPropertySummary),
		Description: feedValue(ve, ical.ComponentPropertyDescription),
		Location:    feedValue(ve, ical.ComponentPropertyLocation),
		ResourceID:  feedValue(ve, ical.ComponentProperty(propResource)),
		Status:      ParseStatus(feedValue(ve, ical.ComponentPropertyStatus)),
		Source:      s.name,
	}
	if base.ID == "" {
		return nil, errors.New("missing UID")
	}
	if st := feedValue(ve, ical.ComponentProperty(propStatus)); st != "" {
		base.Status = ParseStatus(st)
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("parse start: %w", err)
	}
	end, err := ve.GetEndAt()
	if err != nil {
		end = start.Add(time.Hour)
	}
	allDay := false
	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		allDay = !strings.Contains(p.Value, "T")
	}
	dur := end.Sub(start)

	if rid := ve.GetProperty("RECURRENCE-ID"); rid != nil {
		t, err := parseFeedTime(rid)
		if err != nil {
			return nil, fmt.Errorf("parse recurrence id: %w", err)
		}
		base.ID = occurrenceID(base.ID, t)
		base.Recurring = true
		base.Start, base.End = start, end
		base.AllDay = allDay || isEffectivelyAllDay(start, end)
		if !intersects(base.Interval, window) {
			return nil, nil
		}
		return []Event{base}, nil
	}

	rule := ve.GetProperty(ical.ComponentPropertyRrule)
	if rule == nil {
		base.Start, base.End = start, end
		base.AllDay = allDay || isEffectivelyAllDay(start, end)
		if !intersects(base.Interval, window) {
			return nil, nil
		}
		return []Event{base}, nil
	}

	r, err := rrule.StrToRRule(rule.Value)
	if err != nil {
		return nil, fmt.Errorf("parse RRULE %q: %w", rule.Value, err)
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			ex := *p
			ex.Value = strings.TrimSpace(part)
			if t, err := parseFeedTime(&ex); err == nil {
				set.ExDate(t.In(start.Location()))
			}
		}
	}

	occs := set.Between(window.Start.Add(-dur).In(start.Location()), window.End.In(start.Location()), true)
	if len(occs) > maxOccurrences {
		slog.Warn("truncated recurrence expansion", "source", s.name, "uid", base.ID, "cap", maxOccurrences)
		occs = occs[:maxOccurrences]
	}

	events := make([]Event, 0, len(occs))
	for _, occ := range occs {
		ev := base
		ev.Start, ev.End = occ, occ.Add(dur)
		ev.ID = occurrenceID(base.ID, occ)
		if overridden[ev.ID] || !intersects(ev.Interval, window) {
			continue
		}
		ev.AllDay = allDay || isEffectivelyAllDay(ev.Start, ev.End)
		ev.Recurring = true
		events = append(events, ev)
	}
	return events, nil
}

func feedValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return p.Value
	}
	return ""
}

// parseFeedTime parses a DATE or DATE-TIME property honoring TZID.
func parseFeedTime(p *ical.IANAProperty) (time.Time, error) {
	v := strings.TrimSpace(p.Value)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	loc := time.Local
	if tz, ok := p.ICalParameters["TZID"]; ok && len(tz) > 0 {
		if l, err := time.LoadLocation(tz[0]); err == nil {
			loc = l
		}
	}

	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation(floatingTimeLayout, v, loc)
	default:
		return time.ParseInLocation(dateLayout, v, loc)
	}
}

var _ Source = (*FeedSource)(nil)
