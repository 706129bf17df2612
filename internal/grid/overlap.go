package grid

import (
	"sort"
	"time"

	"github.com/cpuguy83/fieldgrid/internal/calendar"
)

// Placement is the lane assignment of one event.
type Placement struct {
	Column       int
	TotalColumns int
}

// Fraction returns the horizontal offset and width of the placement as
// fractions of the lane width.
func (p Placement) Fraction() (offset, width float64) {
	n := float64(p.TotalColumns)
	return float64(p.Column) / n, 1 / n
}

// Resolve assigns non-colliding columns to events sharing one lane. The
// result is index-aligned with events.
//
// Columns come from greedy interval partitioning over a stable start-time
// sort. TotalColumns for an event is one more than the largest column
// among the events it directly overlaps (itself included); it is not
// closed over transitively connected clusters, so two events in the same
// cluster may report different totals.
func Resolve(events []calendar.Event) []Placement {
	if len(events) == 0 {
		return nil
	}

	order := make([]int, len(events))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return events[order[i]].Start.Before(events[order[j]].Start)
	})

	type column struct {
		end  time.Time
		busy bool
	}
	var active []column
	out := make([]Placement, len(events))

	for _, idx := range order {
		ev := events[idx]

		for c := range active {
			if active[c].busy && !active[c].end.After(ev.Start) {
				active[c].busy = false
			}
		}

		col := -1
		for c := range active {
			if !active[c].busy {
				col = c
				break
			}
		}
		if col < 0 {
			active = append(active, column{})
			col = len(active) - 1
		}
		active[col] = column{end: ev.End, busy: true}
		out[idx].Column = col
	}

	for i := range events {
		maxCol := out[i].Column
		for j := range events {
			if i == j {
				continue
			}
			if events[i].Overlaps(events[j].Interval) && out[j].Column > maxCol {
				maxCol = out[j].Column
			}
		}
		out[i].TotalColumns = maxCol + 1
	}

	return out
}
