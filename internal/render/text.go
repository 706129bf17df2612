package render

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/cpuguy83/fieldgrid/internal/calendar"
	"github.com/cpuguy83/fieldgrid/internal/grid"
)

// Agenda formats a frame as text, one section per lane, followed by the
// all-day events.
func Agenda(f grid.Frame, now time.Time) []string {
	byLane := make(map[int][]calendar.Event, len(f.Lanes))
	for _, pe := range f.Events {
		byLane[pe.Lane] = append(byLane[pe.Lane], pe.Event)
	}

	var lines []string
	for _, l := range f.Lanes {
		events := byLane[l.Index]
		if len(events) == 0 && f.Kind == grid.KindWeek {
			continue
		}
		sort.SliceStable(events, func(i, j int) bool {
			return events[i].Start.Before(events[j].Start)
		})

		label := l.Label
		if l.ResourceID == "" {
			label = getDayLabel(l.Date, now)
		}
		lines = append(lines, fmt.Sprintf("━━━━ %s ━━━━", label))
		if len(events) == 0 {
			lines = append(lines, "  (free)")
		}
		for i := range events {
			lines = append(lines, formatEventLine(&events[i], now))
		}
	}

	if len(f.AllDay) > 0 {
		lines = append(lines, "━━━━ All Day ━━━━")
		for i := range f.AllDay {
			e := &f.AllDay[i]
			line := "  " + e.Title
			if r := formatAllDayRange(e, now); r != "" {
				line += "  " + r
			}
			if e.Source != "" {
				line += fmt.Sprintf(" (%s)", e.Source)
			}
			lines = append(lines, line)
		}
	}

	if len(lines) == 0 {
		lines = append(lines, "No appointments")
	}
	return lines
}

// WriteAgenda writes Agenda(f, now) to w, one line each.
func WriteAgenda(w io.Writer, f grid.Frame, now time.Time) error {
	_, err := io.WriteString(w, strings.Join(Agenda(f, now), "\n")+"\n")
	return err
}

// formatEventLine formats a single timed event for the list.
func formatEventLine(e *calendar.Event, now time.Time) string {
	localStart := e.Start.In(now.Location())

	var timeStr string
	if e.IsOngoing(now) {
		remaining := e.End.Sub(now)
		if remaining < time.Hour {
			timeStr = fmt.Sprintf("NOW (%dm left)", int(remaining.Minutes()))
		} else {
			timeStr = fmt.Sprintf("NOW (%.1fh left)", remaining.Hours())
		}
	} else {
		startsIn := e.Start.Sub(now)
		if startsIn <= 15*time.Minute && startsIn > 0 {
			timeStr = fmt.Sprintf("in %dm", int(startsIn.Minutes()))
		} else {
			timeStr = localStart.Format("15:04")
		}
	}

	prefix := "  "
	if e.Status == calendar.StatusCancelled || e.Status == calendar.StatusNoShow {
		prefix = "✗ "
	}
	line := fmt.Sprintf("%s%s  %s (%s)", prefix, timeStr, truncate(e.Title, 40), formatDuration(e.Duration()))
	if e.Status != calendar.StatusScheduled {
		line += " [" + e.Status.String() + "]"
	}
	if e.ResourceID != "" {
		line += " @" + e.ResourceID
	}
	return line
}

// formatAllDayRange returns "Mon, Jan 2 – Wed, Jan 4" style ranges for
// multi-day events and "" for single-day ones. End is exclusive.
func formatAllDayRange(e *calendar.Event, now time.Time) string {
	loc := now.Location()
	start := e.Start.In(loc)
	last := e.End.In(loc).AddDate(0, 0, -1)

	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	lastDay := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, loc)
	if !lastDay.After(startDay) {
		return ""
	}
	return getDayLabel(startDay, now) + " – " + getDayLabel(lastDay, now)
}

// getDayLabel returns a human-readable day label.
func getDayLabel(t time.Time, now time.Time) string {
	loc := now.Location()
	localTime := t.In(loc)
	localNow := now.In(loc)

	today := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, loc)
	eventDay := time.Date(localTime.Year(), localTime.Month(), localTime.Day(), 0, 0, 0, 0, loc)

	switch {
	case eventDay.Equal(today):
		return "Today"
	case eventDay.Equal(today.AddDate(0, 0, 1)):
		return "Tomorrow"
	default:
		return localTime.Format("Mon, Jan 2")
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	hours := d.Hours()
	if hours == float64(int(hours)) {
		return fmt.Sprintf("%dh", int(hours))
	}
	return fmt.Sprintf("%.1fh", hours)
}

// truncate truncates a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
