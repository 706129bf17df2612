// fieldgrid serves a scheduling time grid over HTTP and prints day agendas.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/cpuguy83/fieldgrid/internal/calendar"
	"github.com/cpuguy83/fieldgrid/internal/clock"
	"github.com/cpuguy83/fieldgrid/internal/config"
	"github.com/cpuguy83/fieldgrid/internal/grid"
	"github.com/cpuguy83/fieldgrid/internal/interact"
	"github.com/cpuguy83/fieldgrid/internal/render"
	"github.com/cpuguy83/fieldgrid/internal/sync"
	"github.com/cpuguy83/fieldgrid/internal/view"
	"github.com/cpuguy83/fieldgrid/internal/web"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file (default: ~/.config/fieldgrid/config.yaml)")
		verbose    = flag.Bool("v", false, "verbose logging")
		listen     = flag.String("listen", "", "HTTP listen address (overrides config)")
		agenda     = flag.String("agenda", "", "print the agenda for a day (YYYY-MM-DD or \"today\") and exit")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	setupLogging(level)

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		slog.Debug(fmt.Sprintf(format, args...))
	})); err != nil {
		slog.Warn("failed to set GOMAXPROCS", "error", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if !*verbose && cfg.LogLevel != "" {
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			slog.Warn("invalid log level", "level", cfg.LogLevel, "error", err)
		} else {
			setupLogging(level)
		}
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	app, err := newApp(cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if *agenda != "" {
		if err := app.printAgenda(context.Background(), *agenda); err != nil {
			slog.Error("failed to print agenda", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := app.Run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadConfig reads path, or the default location. A missing default
// config file yields the built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	cfg, err := config.Load()
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("no config file found, using defaults")
		return config.Default()
	}
	return cfg, err
}

// App wires the store, clock, grid and HTTP server together.
type App struct {
	cfg    *config.Config
	loc    *time.Location
	syncer *sync.Syncer
	ticker *clock.Ticker
	grid   *view.Grid
}

func newApp(cfg *config.Config) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	axis, err := grid.NewAxis(cfg.View.ViewConfig, loc)
	if err != nil {
		return nil, fmt.Errorf("create axis: %w", err)
	}

	syncer, err := sync.NewSyncer(cfg)
	if err != nil {
		return nil, fmt.Errorf("create syncer: %w", err)
	}
	if syncer.SourceCount() == 0 {
		slog.Warn("no calendar sources configured")
	}

	ticker, err := clock.New(clock.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("create clock: %w", err)
	}

	opts := []view.Option{
		view.WithInteraction(interact.NewContext(interact.WithThreshold(cfg.Interaction.DragThresholdPixels))),
		view.WithClock(ticker),
		view.WithResources(cfg.Resources),
		view.WithDays(cfg.View.Days),
		view.WithPolicy(cfg.View.Policy()),
		view.OnRejected(func(r view.Rejection) {
			slog.Warn("reschedule rejected", "event", r.Proposal.EventID, "error", r.Err)
		}),
		view.OnCommitted(func(p interact.Proposal) {
			slog.Info("rescheduled", "event", p.EventID, "start", p.Interval.Start, "end", p.Interval.End)
		}),
	}
	if cfg.BusinessHours.Enabled() {
		bh := cfg.BusinessHours
		opts = append(opts, view.WithBusinessHours(func(date time.Time) []grid.TimeRange {
			return bh.Highlights(date, loc)
		}))
	}

	return &App{
		cfg:    cfg,
		loc:    loc,
		syncer: syncer,
		ticker: ticker,
		grid:   view.New(syncer, axis, opts...),
	}, nil
}

// printAgenda writes the text agenda for day to stdout.
func (a *App) printAgenda(ctx context.Context, day string) error {
	now := a.ticker.Now().In(a.loc)
	date := now
	if day != "today" {
		var err error
		date, err = time.ParseInLocation("2006-01-02", day, a.loc)
		if err != nil {
			return fmt.Errorf("invalid date %q: %w", day, err)
		}
	}

	if _, err := a.syncer.Sync(ctx); err != nil {
		return err
	}
	f, err := a.grid.Render(ctx, grid.KindDay, date)
	if err != nil {
		return err
	}
	return render.WriteAgenda(os.Stdout, f, now)
}

// Run serves HTTP until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go a.syncer.Run(ctx, a.onSyncComplete)
	a.ticker.Start()

	var opts []web.Option
	opts = append(opts, web.WithLocation(a.loc))
	if a.cfg.BasicAuth.Enabled() {
		pass, err := a.cfg.BasicAuth.GetPassword()
		if err != nil {
			return fmt.Errorf("basic auth password: %w", err)
		}
		opts = append(opts, web.WithBasicAuth(a.cfg.BasicAuth.Username, pass))
	}
	srv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           web.NewServer(a.grid, a.syncer, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("fieldgrid listening",
			"addr", srv.Addr,
			"sources", a.syncer.SourceCount(),
			"sync_interval", a.syncer.Interval(),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		slog.Info("received signal, shutting down")
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	return srv.Shutdown(shutdownCtx)
}

func (a *App) onSyncComplete(events []calendar.Event, err error) {
	if err != nil {
		slog.Warn("sync failed", "error", err)
		return
	}
	slog.Debug("sync complete", "events", len(events))
}

// Close releases the clock, grid and sources.
func (a *App) Close() {
	a.ticker.Stop()
	if err := a.grid.Close(); err != nil {
		slog.Warn("failed to close grid", "error", err)
	}
	if err := a.syncer.Close(); err != nil {
		slog.Warn("failed to close sources", "error", err)
	}
}
