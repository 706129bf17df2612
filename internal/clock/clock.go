// Package clock publishes wall-clock ticks so rendered grids can move
// their current-time marker.
package clock

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// EveryMinute fires at the top of every minute.
const EveryMinute = "* * * * *"

// Ticker fans out cron-scheduled ticks to subscribers.
type Ticker struct {
	cron *cron.Cron
	now  func() time.Time

	mu   sync.Mutex
	subs map[int]func(time.Time)
	next int
}

// Option configures a Ticker.
type Option func(*options)

type options struct {
	schedule string
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

// WithSchedule replaces the default minute schedule. Any robfig/cron spec
// is accepted, including descriptors like "@every 10s".
func WithSchedule(spec string) Option {
	return func(o *options) { o.schedule = spec }
}

// WithLocation sets the location cron specs are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.loc = loc }
}

// WithLogger routes scheduler logs to l.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithNow overrides the time source reported to subscribers.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a stopped Ticker.
func New(opts ...Option) (*Ticker, error) {
	o := options{
		schedule: EveryMinute,
		loc:      time.Local,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	t := &Ticker{
		now:  o.now,
		subs: make(map[int]func(time.Time)),
	}
	t.cron = cron.New(
		cron.WithLocation(o.loc),
		cron.WithLogger(cronLogger{o.logger}),
		cron.WithChain(cron.Recover(cronLogger{o.logger}), cron.SkipIfStillRunning(cronLogger{o.logger})),
	)
	if _, err := t.cron.AddFunc(o.schedule, t.fire); err != nil {
		return nil, fmt.Errorf("invalid tick schedule %q: %w", o.schedule, err)
	}
	return t, nil
}

// Start begins delivering ticks in the background.
func (t *Ticker) Start() { t.cron.Start() }

// Stop halts the scheduler and waits for an in-flight tick to finish.
func (t *Ticker) Stop() {
	<-t.cron.Stop().Done()
}

// Now returns the current time from the ticker's time source.
func (t *Ticker) Now() time.Time { return t.now() }

// Subscribe registers fn for every tick. The returned function removes it.
func (t *Ticker) Subscribe(fn func(time.Time)) (cancel func()) {
	t.mu.Lock()
	id := t.next
	t.next++
	t.subs[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}

// Tick delivers a tick to every subscriber immediately.
func (t *Ticker) Tick() { t.fire() }

func (t *Ticker) fire() {
	now := t.now()

	t.mu.Lock()
	fns := make([]func(time.Time), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(now)
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("clock: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("clock: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
