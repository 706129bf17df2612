// Package sync keeps a merged, filtered view of every appointment source
// and routes reschedule proposals back to the source that owns the event.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cpuguy83/fieldgrid/internal/auth"
	"github.com/cpuguy83/fieldgrid/internal/calendar"
	"github.com/cpuguy83/fieldgrid/internal/config"
	"github.com/cpuguy83/fieldgrid/internal/filter"
)

var (
	// ErrUnknownEvent is returned for an ID no source produced in the last sync.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrReadOnly is returned when the owning source cannot reschedule.
	ErrReadOnly = errors.New("source is read-only")

	// ErrInvalidInterval is returned for a proposal whose end is not after its start.
	ErrInvalidInterval = errors.New("interval end must be after start")
)

// sourceWithFilter pairs a calendar source with its optional filter.
type sourceWithFilter struct {
	source calendar.Source
	filter *filter.Filter
}

// Syncer handles calendar synchronization from multiple sources.
type Syncer struct {
	sources  []sourceWithFilter
	global   *filter.Filter
	interval time.Duration
	backfill time.Duration
	horizon  time.Duration
	now      func() time.Time

	mu        sync.RWMutex
	perSource [][]calendar.Event
	events    []calendar.Event
	owner     map[string]int // event ID -> index into sources
	synced    bool
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithSource adds a source. f may be nil.
func WithSource(src calendar.Source, f *filter.Filter) Option {
	return func(s *Syncer) {
		s.sources = append(s.sources, sourceWithFilter{source: src, filter: f})
	}
}

// WithFilter sets the filter applied to the merged result.
func WithFilter(f *filter.Filter) Option {
	return func(s *Syncer) { s.global = f }
}

// WithInterval sets the period of Run.
func WithInterval(d time.Duration) Option {
	return func(s *Syncer) { s.interval = d }
}

// WithWindow sets how far back and ahead of now each sync fetches.
func WithWindow(backfill, horizon time.Duration) Option {
	return func(s *Syncer) {
		s.backfill = backfill
		s.horizon = horizon
	}
}

// WithNow overrides the clock used to place the fetch window.
func WithNow(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// New creates a Syncer from options.
func New(opts ...Option) *Syncer {
	s := &Syncer{
		interval: 5 * time.Minute,
		backfill: 7 * 24 * time.Hour,
		horizon:  30 * 24 * time.Hour,
		now:      time.Now,
		owner:    make(map[string]int),
	}
	for _, o := range opts {
		o(s)
	}
	s.perSource = make([][]calendar.Event, len(s.sources))
	return s
}

// NewSyncer creates a new Syncer from configuration.
func NewSyncer(cfg *config.Config) (*Syncer, error) {
	opts, err := createSources(cfg.Sources)
	if err != nil {
		return nil, err
	}

	global, err := filter.New(cfg.Filters)
	if err != nil {
		return nil, fmt.Errorf("global filters: %w", err)
	}

	opts = append(opts,
		WithFilter(global),
		WithInterval(cfg.Sync.Interval),
		WithWindow(cfg.Sync.Backfill, cfg.Sync.Horizon),
	)
	return New(opts...), nil
}

// Interval returns the configured sync interval.
func (s *Syncer) Interval() time.Duration {
	return s.interval
}

// SourceCount returns the number of configured sources.
func (s *Syncer) SourceCount() int {
	return len(s.sources)
}

// Window returns the interval the next sync will fetch.
func (s *Syncer) Window() calendar.Interval {
	now := s.now()
	return calendar.Interval{Start: now.Add(-s.backfill), End: now.Add(s.horizon)}
}

// Sync fetches all sources, applies filters, and returns merged events.
// A source that fails keeps the events it returned last time.
func (s *Syncer) Sync(ctx context.Context) ([]calendar.Event, error) {
	window := s.Window()
	slog.Info("starting sync", "sources", len(s.sources), "from", window.Start, "to", window.End)

	type result struct {
		index    int
		events   []calendar.Event
		fetched  int // count before filtering
		filtered int // count after filtering
		err      error
	}

	results := make(chan result, len(s.sources))
	var wg sync.WaitGroup

	for i, swf := range s.sources {
		wg.Go(func() {
			name := swf.source.Name()
			slog.Debug("fetching source", "name", name)

			events, err := swf.source.Fetch(ctx, window)
			if err != nil {
				results <- result{index: i, err: err}
				return
			}

			fetched := len(events)
			for j := range events {
				if events[j].Source == "" {
					events[j].Source = name
				}
			}

			if swf.filter != nil {
				events = swf.filter.Apply(events)
			}

			results <- result{
				index:    i,
				events:   events,
				fetched:  fetched,
				filtered: len(events),
			}
		})
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for r := range results {
		name := s.sources[r.index].source.Name()
		if r.err != nil {
			slog.Warn("failed to fetch source", "name", name, "error", r.err)
			errs = append(errs, fmt.Errorf("%s: %w", name, r.err))
			continue
		}
		slog.Info("fetched source", "name", name, "fetched", r.fetched, "after_filter", r.filtered)
		s.perSource[r.index] = r.events
	}

	s.rebuild()
	s.synced = true

	slog.Info("sync complete", "events", len(s.events))

	// Partial success still returns events; the error is only surfaced
	// when there is nothing to show.
	if len(s.events) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s.snapshot(), nil
}

// rebuild re-derives the merged list and ownership index. Callers hold mu.
func (s *Syncer) rebuild() {
	owner := make(map[string]int)
	sets := make([][]calendar.Event, 0, len(s.perSource))
	for i, events := range s.perSource {
		kept := make([]calendar.Event, 0, len(events))
		for _, ev := range events {
			if prev, dup := owner[ev.ID]; dup {
				slog.Warn("duplicate event id across sources", "id", ev.ID,
					"kept", s.sources[prev].source.Name(), "dropped", s.sources[i].source.Name())
				continue
			}
			owner[ev.ID] = i
			kept = append(kept, ev)
		}
		sets = append(sets, kept)
	}

	merged := calendar.Merge(sets...)
	if s.global != nil {
		merged = s.global.Apply(merged)
		filtered := make(map[string]int, len(merged))
		for _, ev := range merged {
			filtered[ev.ID] = owner[ev.ID]
		}
		owner = filtered
	}

	s.events = merged
	s.owner = owner
}

func (s *Syncer) snapshot() []calendar.Event {
	out := make([]calendar.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Events returns the events from the most recent sync.
func (s *Syncer) Events() []calendar.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

// ListEvents returns the cached events intersecting r. When resources is
// non-empty only events assigned to one of them are returned. The first
// call syncs if nothing has been fetched yet.
func (s *Syncer) ListEvents(ctx context.Context, r calendar.Interval, resources []string) ([]calendar.Event, error) {
	s.mu.RLock()
	synced := s.synced
	s.mu.RUnlock()
	if !synced {
		if _, err := s.Sync(ctx); err != nil {
			return nil, err
		}
	}

	var want map[string]bool
	if len(resources) > 0 {
		want = make(map[string]bool, len(resources))
		for _, id := range resources {
			want[id] = true
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []calendar.Event
	for _, ev := range s.events {
		if !intersects(ev.Interval, r) {
			continue
		}
		if want != nil && !want[ev.ResourceID] {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// intersects is Overlaps that also admits zero-length events inside r.
func intersects(iv, r calendar.Interval) bool {
	if iv.Start.Equal(iv.End) {
		return !iv.Start.Before(r.Start) && iv.Start.Before(r.End)
	}
	return iv.Overlaps(r)
}

// ProposeReschedule asks the owning source to move event id to iv and,
// when resourceID is non-empty, to reassign it. On success the cached
// copy is updated before the next sync.
func (s *Syncer) ProposeReschedule(ctx context.Context, id string, iv calendar.Interval, resourceID string) error {
	if !iv.Valid() {
		return fmt.Errorf("%w: %s - %s", ErrInvalidInterval, iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
	}

	s.mu.RLock()
	idx, ok := s.owner[id]
	var ev calendar.Event
	if ok {
		for _, e := range s.events {
			if e.ID == id {
				ev = e
				break
			}
		}
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, id)
	}
	if ev.Recurring {
		return calendar.ErrRecurring
	}

	src := s.sources[idx].source
	rs, ok := src.(calendar.Rescheduler)
	if !ok {
		return fmt.Errorf("%w: %s", ErrReadOnly, src.Name())
	}

	if err := rs.Reschedule(ctx, id, iv, resourceID); err != nil {
		slog.Warn("reschedule rejected", "id", id, "source", src.Name(), "error", err)
		return fmt.Errorf("reschedule %s: %w", id, err)
	}
	slog.Info("rescheduled event", "id", id, "source", src.Name(), "start", iv.Start, "end", iv.End, "resource", resourceID)

	s.mu.Lock()
	defer s.mu.Unlock()
	for j, e := range s.perSource[idx] {
		if e.ID != id {
			continue
		}
		e.Interval = iv
		if resourceID != "" {
			e.ResourceID = resourceID
		}
		s.perSource[idx][j] = e
		break
	}
	s.rebuild()
	return nil
}

// Run starts the sync loop, calling onSync after each sync completes.
// The callback receives the synced events (or nil) and any error.
// Run blocks until the context is cancelled.
func (s *Syncer) Run(ctx context.Context, onSync func([]calendar.Event, error)) {
	// Initial sync
	events, err := s.Sync(ctx)
	onSync(events, err)

	// Periodic sync
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			events, err := s.Sync(ctx)
			onSync(events, err)
		case <-ctx.Done():
			return
		}
	}
}

// Close releases any source that holds resources.
func (s *Syncer) Close() error {
	var errs []error
	for _, swf := range s.sources {
		if c, ok := swf.source.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// createSources creates calendar sources with their per-source filters from configuration.
func createSources(cfgs []config.SourceConfig) ([]Option, error) {
	var opts []Option

	for _, cfg := range cfgs {
		var src calendar.Source

		switch cfg.Type {
		case "file":
			src = calendar.NewFileStore(cfg.Name, cfg.Path)

		case "feed", "ics":
			password, err := cfg.GetPassword()
			if err != nil {
				return nil, err
			}
			src = calendar.NewFeedSource(cfg.Name, cfg.URL, cfg.Username, password)

		case "caldav":
			password, err := cfg.GetPassword()
			if err != nil {
				return nil, err
			}
			src = calendar.NewCalDAVSource(cfg.Name, cfg.URL, cfg.Username, password, cfg.Calendars)

		case "icloud":
			password, err := cfg.GetPassword()
			if err != nil {
				return nil, err
			}
			src = calendar.NewICloudSource(cfg.Name, cfg.Username, password, cfg.Calendars)

		case "ms365":
			var msOpts []calendar.MS365Option
			if cfg.URL != "" {
				msOpts = append(msOpts, calendar.WithGraphEndpoint(cfg.URL))
			}
			if cfg.Tenant != "" {
				dc, err := auth.NewDeviceCodeAuth([]string{calendar.MS365Scope}, auth.WithTenant(cfg.Tenant))
				if err != nil {
					return nil, fmt.Errorf("source %q: %w", cfg.Name, err)
				}
				msOpts = append(msOpts, calendar.WithTokenProvider(dc))
			}
			src = calendar.NewMS365Source(cfg.Name, msOpts...)

		default:
			slog.Warn("unknown source type", "type", cfg.Type, "name", cfg.Name)
			continue
		}

		// Create per-source filter (if no rules, filter passes everything through)
		f, err := filter.New(cfg.Filters)
		if err != nil {
			return nil, fmt.Errorf("source %q filters: %w", cfg.Name, err)
		}

		opts = append(opts, WithSource(src, f))
	}

	return opts, nil
}
