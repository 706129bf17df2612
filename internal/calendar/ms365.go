package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cpuguy83/fieldgrid/internal/auth"
)

const (
	// DefaultGraphEndpoint is the MS Graph v1.0 root.
	DefaultGraphEndpoint = "https://graph.microsoft.com/v1.0"

	// MS365Scope is the Graph scope needed to read and move events.
	MS365Scope = "Calendars.ReadWrite"

	// Category prefixes carrying fieldgrid metadata on Graph events.
	resourceCategory = "resource:"
	statusCategory   = "status:"

	graphTimeLayout = "2006-01-02T15:04:05.0000000"
)

// MS365Source reads and reschedules events in a Microsoft 365 calendar
// through the Graph API.
type MS365Source struct {
	name     string
	endpoint string
	client   *http.Client

	authOnce sync.Once
	auth     auth.TokenProvider
	authErr  error

	mu    sync.Mutex
	known map[string]graphEvent
}

// MS365Option configures an MS365Source.
type MS365Option func(*MS365Source)

// WithGraphEndpoint points the source at a different Graph root.
func WithGraphEndpoint(endpoint string) MS365Option {
	return func(s *MS365Source) {
		if endpoint != "" {
			s.endpoint = strings.TrimSuffix(endpoint, "/")
		}
	}
}

// WithTokenProvider sets the token provider. By default the device code
// flow is used.
func WithTokenProvider(p auth.TokenProvider) MS365Option {
	return func(s *MS365Source) { s.auth = p }
}

// NewMS365Source creates a new MS365 calendar source.
func NewMS365Source(name string, opts ...MS365Option) *MS365Source {
	s := &MS365Source{
		name:     name,
		endpoint: DefaultGraphEndpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		known: make(map[string]graphEvent),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// initAuth sets up the device code provider unless one was injected.
func (s *MS365Source) initAuth() error {
	s.authOnce.Do(func() {
		if s.auth != nil {
			return
		}
		dc, err := auth.NewDeviceCodeAuth([]string{MS365Scope})
		if err != nil {
			s.authErr = fmt.Errorf("initialize device code auth: %w", err)
			return
		}
		s.auth = dc
	})
	return s.authErr
}

func (s *MS365Source) token(ctx context.Context) (string, error) {
	if err := s.initAuth(); err != nil {
		return "", err
	}
	tok, err := s.auth.GetToken(ctx)
	if err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	return tok.AccessToken, nil
}

// Name returns the display name of this calendar source.
func (s *MS365Source) Name() string {
	return s.name
}

// Close cleans up resources.
func (s *MS365Source) Close() error {
	if s.auth != nil {
		return s.auth.Close()
	}
	return nil
}

// Fetch retrieves events intersecting window via calendarView, which
// expands recurring series server side.
func (s *MS365Source) Fetch(ctx context.Context, window Interval) ([]Event, error) {
	accessToken, err := s.token(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("startDateTime", window.Start.UTC().Format(time.RFC3339))
	params.Set("endDateTime", window.End.UTC().Format(time.RFC3339))
	params.Set("$orderby", "start/dateTime")
	params.Set("$top", "500")
	params.Set("$select", "id,subject,bodyPreview,body,start,end,location,isAllDay,isCancelled,showAs,categories,type,seriesMasterId")

	reqURL := s.endpoint + "/me/calendarView?" + params.Encode()

	var all []graphEvent
	for reqURL != "" {
		page, nextLink, err := s.fetchPage(ctx, accessToken, reqURL)
		if err != nil {
			return nil, fmt.Errorf("fetch calendar: %w", err)
		}
		all = append(all, page...)
		reqURL = nextLink
	}

	known := make(map[string]graphEvent, len(all))
	events := make([]Event, 0, len(all))
	for _, ge := range all {
		event, err := s.convertEvent(ge)
		if err != nil {
			slog.Warn("skip event conversion error", "id", ge.ID, "error", err)
			continue
		}
		known[ge.ID] = ge
		events = append(events, event)
	}

	s.mu.Lock()
	s.known = known
	s.mu.Unlock()

	slog.Debug("fetched MS365 events", "source", s.name, "count", len(events))
	return events, nil
}

// Reschedule PATCHes the event's start, end and resource category.
func (s *MS365Source) Reschedule(ctx context.Context, id string, iv Interval, resourceID string) error {
	s.mu.Lock()
	ge, ok := s.known[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if ge.recurring() {
		return ErrRecurring
	}

	accessToken, err := s.token(ctx)
	if err != nil {
		return err
	}

	patch := graphPatch{
		Start: graphDateTime{DateTime: iv.Start.UTC().Format(graphTimeLayout), TimeZone: "UTC"},
		End:   graphDateTime{DateTime: iv.End.UTC().Format(graphTimeLayout), TimeZone: "UTC"},
	}
	if resourceID != "" {
		patch.Categories = withResourceCategory(ge.Categories, resourceID)
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}

	reqURL := s.endpoint + "/me/events/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("patch event: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode/100 != 2:
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("graph API error: status %d: %s", resp.StatusCode, string(msg))
	}

	s.mu.Lock()
	ge.Start, ge.End = patch.Start, patch.End
	if patch.Categories != nil {
		ge.Categories = patch.Categories
	}
	s.known[id] = ge
	s.mu.Unlock()
	return nil
}

// graphCalendarResponse is the MS Graph API response for calendar events.
type graphCalendarResponse struct {
	Value    []graphEvent `json:"value"`
	NextLink string       `json:"@odata.nextLink,omitempty"`
}

// graphEvent represents an event from MS Graph API.
type graphEvent struct {
	ID             string         `json:"id"`
	Subject        string         `json:"subject"`
	BodyPreview    string         `json:"bodyPreview"`
	Body           *graphBody     `json:"body,omitempty"`
	Start          graphDateTime  `json:"start"`
	End            graphDateTime  `json:"end"`
	Location       *graphLocation `json:"location,omitempty"`
	IsAllDay       bool           `json:"isAllDay"`
	IsCancelled    bool           `json:"isCancelled"`
	ShowAs         string         `json:"showAs"`
	Categories     []string       `json:"categories,omitempty"`
	Type           string         `json:"type,omitempty"`
	SeriesMasterID string         `json:"seriesMasterId,omitempty"`
}

func (ge graphEvent) recurring() bool {
	return ge.SeriesMasterID != "" || ge.Type == "occurrence" || ge.Type == "exception" || ge.Type == "seriesMaster"
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphLocation struct {
	DisplayName string `json:"displayName"`
}

type graphPatch struct {
	Start      graphDateTime `json:"start"`
	End        graphDateTime `json:"end"`
	Categories []string      `json:"categories,omitempty"`
}

// fetchPage fetches a single page of events.
func (s *MS365Source) fetchPage(ctx context.Context, accessToken, reqURL string) ([]graphEvent, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	// Request times in UTC and body as plain text
	req.Header.Set("Prefer", `outlook.timezone="UTC", outlook.body-content-type="text"`)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, "", fmt.Errorf("graph API error: status %d: %s", resp.StatusCode, string(body))
	}

	var graphResp graphCalendarResponse
	if err := json.NewDecoder(resp.Body).Decode(&graphResp); err != nil {
		return nil, "", fmt.Errorf("decode response: %w", err)
	}
	return graphResp.Value, graphResp.NextLink, nil
}

// convertEvent converts a Graph API event to our Event type.
func (s *MS365Source) convertEvent(ge graphEvent) (Event, error) {
	event := Event{
		ID:        ge.ID,
		Title:     ge.Subject,
		Source:    s.name,
		AllDay:    ge.IsAllDay,
		Recurring: ge.recurring(),
	}

	start, err := parseGraphDateTime(ge.Start)
	if err != nil {
		return event, fmt.Errorf("parse start: %w", err)
	}
	end, err := parseGraphDateTime(ge.End)
	if err != nil {
		return event, fmt.Errorf("parse end: %w", err)
	}
	event.Start, event.End = start, end

	if ge.Location != nil {
		event.Location = ge.Location.DisplayName
	}
	if ge.Body != nil && ge.Body.Content != "" {
		event.Description = ge.Body.Content
	} else {
		event.Description = ge.BodyPreview
	}

	switch {
	case ge.IsCancelled:
		event.Status = StatusCancelled
	case ge.ShowAs == "tentative":
		event.Status = StatusPending
	}
	for _, c := range ge.Categories {
		switch {
		case strings.HasPrefix(c, resourceCategory):
			event.ResourceID = strings.TrimPrefix(c, resourceCategory)
		case strings.HasPrefix(c, statusCategory):
			event.Status = ParseStatus(strings.TrimPrefix(c, statusCategory))
		}
	}

	return event, nil
}

// withResourceCategory replaces the resource category in cats.
func withResourceCategory(cats []string, resourceID string) []string {
	out := make([]string, 0, len(cats)+1)
	for _, c := range cats {
		if !strings.HasPrefix(c, resourceCategory) {
			out = append(out, c)
		}
	}
	return append(out, resourceCategory+resourceID)
}

// parseGraphDateTime parses a Graph API datetime value.
func parseGraphDateTime(gdt graphDateTime) (time.Time, error) {
	loc := time.UTC
	if gdt.TimeZone != "" && gdt.TimeZone != "UTC" {
		if l, err := time.LoadLocation(gdt.TimeZone); err == nil {
			loc = l
		}
	}

	formats := []string{
		graphTimeLayout,
		"2006-01-02T15:04:05",
		"2006-01-02",
	}

	for _, format := range formats {
		t, err := time.ParseInLocation(format, gdt.DateTime, loc)
		if err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("cannot parse datetime: %s", gdt.DateTime)
}

var (
	_ Source      = (*MS365Source)(nil)
	_ Rescheduler = (*MS365Source)(nil)
)
