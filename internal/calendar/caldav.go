package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-webdav/caldav"
)

// CalDAVSource reads and reschedules appointments on a CalDAV server.
type CalDAVSource struct {
	name      string
	url       string
	username  string
	password  string
	calendars []string // Optional: specific calendars to sync
	now       func() time.Time

	clientOnce sync.Once
	client     *caldav.Client
	clientErr  error

	mu    sync.Mutex
	paths map[string]string // event ID -> calendar object path
}

// NewCalDAVSource creates a new CalDAV calendar source.
func NewCalDAVSource(name, url, username, password string, calendars []string) *CalDAVSource {
	return &CalDAVSource{
		name:      name,
		url:       url,
		username:  username,
		password:  password,
		calendars: calendars,
		now:       time.Now,
		paths:     make(map[string]string),
	}
}

// iCloudCalDAVURL is the base URL for iCloud CalDAV.
const iCloudCalDAVURL = "https://caldav.icloud.com"

// NewICloudSource creates a new iCloud calendar source.
// iCloud uses CalDAV with a specific server URL.
func NewICloudSource(name, username, password string, calendars []string) *CalDAVSource {
	return NewCalDAVSource(name, iCloudCalDAVURL, username, password, calendars)
}

// Name returns the display name of this calendar source.
func (s *CalDAVSource) Name() string {
	return s.name
}

func (s *CalDAVSource) davClient() (*caldav.Client, error) {
	s.clientOnce.Do(func() {
		httpClient := &http.Client{
			Timeout: 60 * time.Second,
			Transport: &basicAuthTransport{
				username: s.username,
				password: s.password,
				base:     http.DefaultTransport,
			},
		}
		s.client, s.clientErr = caldav.NewClient(httpClient, s.url)
		if s.clientErr != nil {
			s.clientErr = fmt.Errorf("create caldav client: %w", s.clientErr)
		}
	})
	return s.client, s.clientErr
}

// Fetch retrieves events intersecting window from the CalDAV server.
func (s *CalDAVSource) Fetch(ctx context.Context, window Interval) ([]Event, error) {
	client, err := s.davClient()
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find calendar home: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	var allEvents []Event
	paths := make(map[string]string)

	for _, cal := range cals {
		if len(s.calendars) > 0 && !s.shouldSyncCalendar(cal.Name) {
			continue
		}

		events, err := s.fetchCalendarEvents(ctx, client, cal, window, paths)
		if err != nil {
			slog.Warn("caldav calendar fetch failed", "source", s.name, "calendar", cal.Name, "error", err)
			continue
		}

		allEvents = append(allEvents, events...)
	}

	s.mu.Lock()
	s.paths = paths
	s.mu.Unlock()

	return allEvents, nil
}

// shouldSyncCalendar checks if a calendar should be synced based on config.
func (s *CalDAVSource) shouldSyncCalendar(name string) bool {
	for _, c := range s.calendars {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// fetchCalendarEvents fetches events from a single calendar and records the
// object path of each one in paths.
func (s *CalDAVSource) fetchCalendarEvents(ctx context.Context, client *caldav.Client, cal caldav.Calendar, window Interval, paths map[string]string) ([]Event, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: "VCALENDAR",
			Comps: []caldav.CalendarCompRequest{{
				Name:     "VEVENT",
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: window.Start,
				End:   window.End,
			}},
		},
	}

	objects, err := client.QueryCalendar(ctx, cal.Path, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar %s: %w", cal.Name, err)
	}

	source := fmt.Sprintf("%s/%s", s.name, cal.Name)
	var events []Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}

		parsed, err := decodeCalendar(obj.Data, source, window)
		if err != nil {
			continue
		}
		for _, ev := range parsed {
			paths[ev.ID] = obj.Path
		}
		events = append(events, parsed...)
	}

	return events, nil
}

// Reschedule rewrites the calendar object holding id with the new interval.
func (s *CalDAVSource) Reschedule(ctx context.Context, id string, iv Interval, resourceID string) error {
	s.mu.Lock()
	path, ok := s.paths[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	client, err := s.davClient()
	if err != nil {
		return err
	}

	obj, err := client.GetCalendarObject(ctx, path)
	if err != nil {
		return fmt.Errorf("get calendar object %s: %w", path, err)
	}

	comp, err := lookupForReschedule(obj.Data, id)
	if err != nil {
		return err
	}
	if err := applyReschedule(comp, iv, resourceID, s.now()); err != nil {
		return err
	}

	if _, err := client.PutCalendarObject(ctx, path, obj.Data); err != nil {
		return fmt.Errorf("put calendar object %s: %w", path, err)
	}
	slog.Debug("rescheduled caldav event", "source", s.name, "id", id, "path", path)
	return nil
}

// basicAuthTransport adds basic auth to HTTP requests.
type basicAuthTransport struct {
	username string
	password string
	base     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return t.base.RoundTrip(req)
}

var (
	_ Source      = (*CalDAVSource)(nil)
	_ Rescheduler = (*CalDAVSource)(nil)
)
