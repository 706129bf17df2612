// Package filter narrows appointment lists with configured match rules.
package filter

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/cpuguy83/fieldgrid/internal/calendar"
	"github.com/cpuguy83/fieldgrid/internal/config"
)

// Filter applies match rules to events.
type Filter struct {
	all   bool // "and" mode
	rules []rule
}

// rule is one compiled FilterRule.
type rule struct {
	value   func(calendar.Event) string
	match   func(string) bool
	exclude bool
}

// New creates a new filter from configuration.
func New(cfg config.FilterConfig) (*Filter, error) {
	f := &Filter{all: cfg.Mode == "and"}

	for i, r := range cfg.Rules {
		compiled, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		f.rules = append(f.rules, compiled)
	}
	return f, nil
}

// fields maps rule field names to event accessors. Names not listed here
// are read from the event's extended properties.
var fields = map[string]func(calendar.Event) string{
	"title":       func(e calendar.Event) string { return e.Title },
	"summary":     func(e calendar.Event) string { return e.Title },
	"status":      func(e calendar.Event) string { return e.Status.String() },
	"resource":    func(e calendar.Event) string { return e.ResourceID },
	"source":      func(e calendar.Event) string { return e.Source },
	"calendar":    func(e calendar.Event) string { return e.Source },
	"description": func(e calendar.Event) string { return e.Description },
	"location":    func(e calendar.Event) string { return e.Location },
	"all_day":     func(e calendar.Event) string { return strconv.FormatBool(e.AllDay) },
	"recurring":   func(e calendar.Event) string { return strconv.FormatBool(e.Recurring) },
}

func accessor(field string) func(calendar.Event) string {
	if fn, ok := fields[field]; ok {
		return fn
	}
	key := strings.ToLower(strings.TrimPrefix(field, "props."))
	return func(e calendar.Event) string { return e.Props[key] }
}

// compileRule converts a config FilterRule to a rule. Status patterns are
// normalized so "In Progress" and "in_progress" both match in-progress.
func compileRule(r config.FilterRule) (rule, error) {
	compiled := rule{
		value:   accessor(r.Field),
		exclude: r.Exclude,
	}

	norm := func(s string) string { return s }
	switch {
	case r.Field == "status":
		norm = func(s string) string { return calendar.ParseStatus(s).String() }
	case r.CaseInsensitive:
		norm = strings.ToLower
	}

	switch {
	case r.Regex != "":
		pattern := r.Regex
		if r.CaseInsensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return compiled, fmt.Errorf("invalid regex %q: %w", r.Regex, err)
		}
		compiled.match = re.MatchString
		return compiled, nil

	case len(r.AnyOf) > 0:
		set := make([]string, len(r.AnyOf))
		for i, v := range r.AnyOf {
			set[i] = norm(v)
		}
		compiled.match = func(v string) bool { return slices.Contains(set, norm(v)) }

	case r.Exact != "":
		want := norm(r.Exact)
		compiled.match = func(v string) bool { return norm(v) == want }

	case r.Prefix != "":
		want := norm(r.Prefix)
		compiled.match = func(v string) bool { return strings.HasPrefix(norm(v), want) }

	case r.Suffix != "":
		want := norm(r.Suffix)
		compiled.match = func(v string) bool { return strings.HasSuffix(norm(v), want) }

	case r.Contains != "":
		want := norm(r.Contains)
		compiled.match = func(v string) bool { return strings.Contains(norm(v), want) }

	default:
		return compiled, errors.New("no match pattern specified (use contains, exact, prefix, suffix, any_of or regex)")
	}

	return compiled, nil
}

// Apply returns the events that satisfy the rules, preserving order.
// If no rules are defined, all events are returned.
func (f *Filter) Apply(events []calendar.Event) []calendar.Event {
	if f == nil || len(f.rules) == 0 {
		return events
	}

	var filtered []calendar.Event
	for _, event := range events {
		if f.matches(event) {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

func (f *Filter) matches(event calendar.Event) bool {
	for _, r := range f.rules {
		if r.matches(event) != f.all {
			// First failure in "and" mode, first success in "or" mode.
			return !f.all
		}
	}
	return f.all
}

func (r rule) matches(event calendar.Event) bool {
	return r.match(r.value(event)) != r.exclude
}
