// Package config provides configuration loading for fieldgrid.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env"
	"gopkg.in/yaml.v3"

	"github.com/cpuguy83/fieldgrid/internal/calendar"
	"github.com/cpuguy83/fieldgrid/internal/grid"
)

// Config is the root configuration structure.
type Config struct {
	Listen        string              `yaml:"listen"`
	Timezone      string              `yaml:"timezone"`
	LogLevel      string              `yaml:"log_level"`
	View          ViewConfig          `yaml:"view"`
	Interaction   InteractionConfig   `yaml:"interaction"`
	BusinessHours BusinessHoursConfig `yaml:"business_hours"`
	Resources     []calendar.Resource `yaml:"resources"`
	Sync          SyncConfig          `yaml:"sync"`
	Sources       []SourceConfig      `yaml:"sources"`
	Filters       FilterConfig        `yaml:"filters"`
	BasicAuth     BasicAuthConfig     `yaml:"basic_auth"`
}

// ViewConfig configures the rendered time grid.
type ViewConfig struct {
	grid.ViewConfig `yaml:",inline"`

	// Days is the number of day lanes in the week view.
	Days int `yaml:"days"`

	// OutOfWindow is "omit" or "keep".
	OutOfWindow string `yaml:"out_of_window"`
}

// Policy returns the parsed out-of-window policy.
func (v ViewConfig) Policy() grid.WindowPolicy {
	return grid.ParseWindowPolicy(v.OutOfWindow)
}

// InteractionConfig configures pointer gestures.
type InteractionConfig struct {
	DragThresholdPixels float64 `yaml:"drag_threshold_pixels"`
}

// BusinessHoursConfig describes the daily highlighted working window.
type BusinessHoursConfig struct {
	Start    string   `yaml:"start"` // "HH:MM"
	End      string   `yaml:"end"`   // "HH:MM"
	Weekdays []string `yaml:"weekdays"`
}

// SyncConfig configures the store refresh loop.
type SyncConfig struct {
	Interval time.Duration `yaml:"interval"`
	Backfill time.Duration `yaml:"backfill"` // how far back to fetch
	Horizon  time.Duration `yaml:"horizon"`  // how far ahead to fetch
}

// SourceConfig configures an appointment source.
type SourceConfig struct {
	Name        string       `yaml:"name"`
	Type        string       `yaml:"type"` // "file", "feed", "caldav", "icloud", "ms365"
	Path        string       `yaml:"path,omitempty"`
	URL         string       `yaml:"url,omitempty"`
	Username    string       `yaml:"username,omitempty"`
	Password    string       `yaml:"password,omitempty"`
	PasswordCmd string       `yaml:"password_cmd,omitempty"`
	Tenant      string       `yaml:"tenant,omitempty"`    // ms365 only
	Calendars   []string     `yaml:"calendars,omitempty"` // For CalDAV: which calendars to sync
	Filters     FilterConfig `yaml:"filters,omitempty"`   // Per-source filters (include)
}

// FilterConfig configures event filtering.
type FilterConfig struct {
	Mode  string       `yaml:"mode"` // "or" or "and"
	Rules []FilterRule `yaml:"rules"`
}

// FilterRule defines a single filter rule.
// Use exactly one of: Contains, Exact, Prefix, Suffix, or Regex.
type FilterRule struct {
	Field           string   `yaml:"field"`              // "title", "status", "resource", "source", "description", "location", "all_day", "recurring" or an extended property
	Contains        string   `yaml:"contains,omitempty"` // Substring match
	Exact           string   `yaml:"exact,omitempty"`    // Exact string match
	Prefix          string   `yaml:"prefix,omitempty"`   // Starts with
	Suffix          string   `yaml:"suffix,omitempty"`   // Ends with
	Regex           string   `yaml:"regex,omitempty"`    // Regular expression
	AnyOf           []string `yaml:"any_of,omitempty"`   // One of several exact values
	Exclude         bool     `yaml:"exclude,omitempty"`  // Invert the rule
	CaseInsensitive bool     `yaml:"case_insensitive"`
}

// BasicAuthConfig protects the HTTP API. It is disabled when Username is empty.
type BasicAuthConfig struct {
	Username    string `yaml:"username"`
	Password    string `yaml:"password,omitempty"`
	PasswordCmd string `yaml:"password_cmd,omitempty"`
}

// Enabled reports whether basic auth is configured.
func (b BasicAuthConfig) Enabled() bool { return b.Username != "" }

// GetPassword returns the password, executing password_cmd if needed.
func (b BasicAuthConfig) GetPassword() (string, error) {
	return resolvePassword(b.Password, b.PasswordCmd)
}

// envOverrides are environment variables that take precedence over the file.
type envOverrides struct {
	Listen   string `env:"FIELDGRID_LISTEN"`
	Timezone string `env:"FIELDGRID_TIMEZONE"`
	LogLevel string `env:"FIELDGRID_LOG_LEVEL"`
}

// DefaultPath returns ~/.config/fieldgrid/config.yaml.
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get config dir: %w", err)
	}
	return filepath.Join(configDir, "fieldgrid", "config.yaml"), nil
}

// Load reads configuration from the default location.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// Default returns a configuration with every default applied and no sources.
func Default() (*Config, error) {
	cfg := newConfig()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFrom reads configuration from a specific path.
func LoadFrom(path string) (*Config, error) {
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and environment
// overrides, and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := newConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newConfig pre-fills fields whose zero value is meaningful.
func newConfig() *Config {
	return &Config{
		View: ViewConfig{ViewConfig: grid.DefaultViewConfig()},
	}
}

func (c *Config) finish() error {
	c.applyDefaults()

	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	if ov.Listen != "" {
		c.Listen = ov.Listen
	}
	if ov.Timezone != "" {
		c.Timezone = ov.Timezone
	}
	if ov.LogLevel != "" {
		c.LogLevel = ov.LogLevel
	}

	for i := range c.Sources {
		c.Sources[i].Path = expandPath(c.Sources[i].Path)
	}

	return c.Validate()
}

// applyDefaults sets default values for unspecified config options.
func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.View.Days == 0 {
		c.View.Days = 7
	}
	if c.View.OutOfWindow == "" {
		c.View.OutOfWindow = "omit"
	}
	if c.Interaction.DragThresholdPixels == 0 {
		c.Interaction.DragThresholdPixels = 4
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 5 * time.Minute
	}
	if c.Sync.Backfill == 0 {
		c.Sync.Backfill = 7 * 24 * time.Hour
	}
	if c.Sync.Horizon == 0 {
		c.Sync.Horizon = 30 * 24 * time.Hour
	}
	if c.Filters.Mode == "" {
		c.Filters.Mode = "or"
	}
	for i := range c.Sources {
		if c.Sources[i].Type == "ics" {
			c.Sources[i].Type = "feed"
		}
		if c.Sources[i].Filters.Mode == "" {
			c.Sources[i].Filters.Mode = "or"
		}
	}
	if len(c.BusinessHours.Weekdays) == 0 && (c.BusinessHours.Start != "" || c.BusinessHours.End != "") {
		c.BusinessHours.Weekdays = []string{"mon", "tue", "wed", "thu", "fri"}
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if err := c.View.ViewConfig.Validate(); err != nil {
		return fmt.Errorf("view: %w", err)
	}
	if c.View.Days < 1 || c.View.Days > 31 {
		return fmt.Errorf("view: days must be between 1 and 31, got %d", c.View.Days)
	}
	switch c.View.OutOfWindow {
	case "omit", "keep":
	default:
		return fmt.Errorf("view: out_of_window must be omit or keep, got %q", c.View.OutOfWindow)
	}
	if c.Interaction.DragThresholdPixels < 0 {
		return errors.New("interaction: drag_threshold_pixels must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if err := c.BusinessHours.validate(); err != nil {
		return fmt.Errorf("business_hours: %w", err)
	}
	if c.Filters.Mode != "or" && c.Filters.Mode != "and" {
		return fmt.Errorf("filters: mode must be or/and, got %q", c.Filters.Mode)
	}

	seen := make(map[string]bool)
	for _, r := range c.Resources {
		if r.ID == "" {
			return errors.New("resources: every resource needs an id")
		}
		if seen[r.ID] {
			return fmt.Errorf("resources: duplicate id %q", r.ID)
		}
		seen[r.ID] = true
	}

	names := make(map[string]bool)
	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if names[s.Name] {
			return fmt.Errorf("sources[%d]: duplicate name %q", i, s.Name)
		}
		names[s.Name] = true

		switch s.Type {
		case "file":
			if s.Path == "" {
				return fmt.Errorf("source %q: path is required", s.Name)
			}
		case "feed", "caldav":
			if s.URL == "" {
				return fmt.Errorf("source %q: url is required", s.Name)
			}
		case "icloud", "ms365":
		default:
			return fmt.Errorf("source %q: unknown type %q", s.Name, s.Type)
		}
	}
	return nil
}

// Location returns the configured timezone, time.Local when unset.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// GetPassword returns the password for a source, executing password_cmd if needed.
func (s *SourceConfig) GetPassword() (string, error) {
	return resolvePassword(s.Password, s.PasswordCmd)
}

func resolvePassword(password, cmdline string) (string, error) {
	if password != "" {
		return password, nil
	}
	if cmdline == "" {
		return "", nil
	}

	cmd := exec.Command("sh", "-c", cmdline)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("execute password_cmd: %w", err)
	}

	return strings.TrimSpace(string(out)), nil
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// parseDuration extends time.ParseDuration with "d" (days) and "w" (weeks)
// suffixes. The empty string is zero.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	unit := time.Duration(0)
	switch {
	case strings.HasSuffix(s, "d"):
		unit = 24 * time.Hour
	case strings.HasSuffix(s, "w"):
		unit = 7 * 24 * time.Hour
	}
	if unit == 0 {
		return time.ParseDuration(s)
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", s)
	}
	return time.Duration(n) * unit, nil
}

// UnmarshalYAML implements custom unmarshaling for duration fields.
func (c *SyncConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Interval string `yaml:"interval"`
		Backfill string `yaml:"backfill"`
		Horizon  string `yaml:"horizon"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	for _, f := range []struct {
		name string
		in   string
		out  *time.Duration
	}{
		{"interval", raw.Interval, &c.Interval},
		{"backfill", raw.Backfill, &c.Backfill},
		{"horizon", raw.Horizon, &c.Horizon},
	} {
		d, err := parseDuration(f.in)
		if err != nil {
			return fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.out = d
	}
	return nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

func parseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 3 {
		return 0, false
	}
	d, ok := weekdays[s[:3]]
	return d, ok
}

// parseClock parses "HH:MM" into minutes after midnight. "24:00" is allowed.
func parseClock(s string) (int, error) {
	if s == "24:00" {
		return 24 * 60, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Enabled reports whether business hours are configured.
func (b BusinessHoursConfig) Enabled() bool {
	return b.Start != "" && b.End != ""
}

func (b BusinessHoursConfig) validate() error {
	if b.Start == "" && b.End == "" {
		return nil
	}
	if !b.Enabled() {
		return errors.New("start and end must both be set")
	}
	start, err := parseClock(b.Start)
	if err != nil {
		return err
	}
	end, err := parseClock(b.End)
	if err != nil {
		return err
	}
	if start >= end {
		return fmt.Errorf("start %s is not before end %s", b.Start, b.End)
	}
	for _, d := range b.Weekdays {
		if _, ok := parseWeekday(d); !ok {
			return fmt.Errorf("unknown weekday %q", d)
		}
	}
	return nil
}

// Highlights returns the business-hours range for the calendar day of date
// in loc. It returns nil when business hours are off or date is not a
// working day.
func (b BusinessHoursConfig) Highlights(date time.Time, loc *time.Location) []grid.TimeRange {
	if !b.Enabled() {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	date = date.In(loc)

	working := false
	for _, d := range b.Weekdays {
		if wd, ok := parseWeekday(d); ok && wd == date.Weekday() {
			working = true
			break
		}
	}
	if !working {
		return nil
	}

	start, err := parseClock(b.Start)
	if err != nil {
		return nil
	}
	end, err := parseClock(b.End)
	if err != nil {
		return nil
	}
	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	return []grid.TimeRange{{
		Start: midnight.Add(time.Duration(start) * time.Minute),
		End:   midnight.Add(time.Duration(end) * time.Minute),
	}}
}
