package calendar

import "strings"

// Status is the closed set of appointment lifecycle states.
type Status int

const (
	StatusScheduled Status = iota
	StatusConfirmed
	StatusInProgress
	StatusCompleted
	StatusCancelled
	StatusPending
	StatusNoShow
)

var statusNames = [...]string{
	StatusScheduled:  "scheduled",
	StatusConfirmed:  "confirmed",
	StatusInProgress: "in-progress",
	StatusCompleted:  "completed",
	StatusCancelled:  "cancelled",
	StatusPending:    "pending",
	StatusNoShow:     "no-show",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return statusNames[StatusScheduled]
	}
	return statusNames[s]
}

// ParseStatus maps a status tag to a Status. Tags are matched case
// insensitively and accept "_" or " " in place of "-". ICS STATUS values
// (TENTATIVE, CONFIRMED, CANCELLED) are understood as well. Anything else
// falls back to StatusScheduled.
func ParseStatus(s string) Status {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", "-", " ", "-").Replace(norm)

	switch norm {
	case "confirmed":
		return StatusConfirmed
	case "in-progress", "inprogress", "started":
		return StatusInProgress
	case "completed", "done", "complete":
		return StatusCompleted
	case "cancelled", "canceled":
		return StatusCancelled
	case "pending", "tentative", "needs-action":
		return StatusPending
	case "no-show", "noshow":
		return StatusNoShow
	default:
		return StatusScheduled
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	*s = ParseStatus(string(b))
	return nil
}
