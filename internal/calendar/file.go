package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	ics "github.com/emersion/go-ical"
)

// FileStore is a read/write appointment store backed by a local ICS file.
type FileStore struct {
	name string
	path string
	now  func() time.Time

	mu sync.Mutex
}

// NewFileStore creates a store for the ICS file at path. The file does not
// have to exist yet; a missing file is an empty calendar.
func NewFileStore(name, path string) *FileStore {
	return &FileStore{name: name, path: path, now: time.Now}
}

// Name returns the display name of this store.
func (s *FileStore) Name() string {
	return s.name
}

// Fetch reads the file and returns the events intersecting window.
func (s *FileStore) Fetch(ctx context.Context, window Interval) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load()
	if err != nil {
		return nil, err
	}
	return decodeCalendar(cal, s.name, window)
}

// Reschedule moves the event with the given UID to iv and, when resourceID
// is set, reassigns it.
func (s *FileStore) Reschedule(ctx context.Context, id string, iv Interval, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load()
	if err != nil {
		return err
	}
	comp, err := lookupForReschedule(cal, id)
	if err != nil {
		return err
	}
	if err := applyReschedule(comp, iv, resourceID, s.now()); err != nil {
		return err
	}
	return writeCalendar(s.path, cal)
}

func (s *FileStore) load() (*ics.Calendar, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return newCalendar(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ICS file: %w", err)
	}
	defer f.Close()

	cal, err := ics.NewDecoder(f).Decode()
	if err == io.EOF {
		return newCalendar(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode ICS: %w", err)
	}
	return cal, nil
}

func newCalendar() *ics.Calendar {
	cal := ics.NewCalendar()
	cal.Props.SetText(ics.PropVersion, "2.0")
	cal.Props.SetText(ics.PropProductID, "-//fieldgrid//fieldgrid//EN")
	return cal
}

// WriteICS writes events to an ICS file atomically.
func WriteICS(path string, events []Event) error {
	cal := newCalendar()
	now := time.Now()
	for _, ev := range events {
		cal.Children = append(cal.Children, encodeEvent(ev, now))
	}
	return writeCalendar(path, cal)
}

// writeCalendar encodes cal to a temp file first, then renames it over path.
func writeCalendar(path string, cal *ics.Calendar) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	var buf bytes.Buffer
	if err := ics.NewEncoder(&buf).Encode(cal); err != nil {
		return fmt.Errorf("encode ICS: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

var (
	_ Source      = (*FileStore)(nil)
	_ Rescheduler = (*FileStore)(nil)
)
