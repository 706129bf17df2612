// Package web exposes a Grid over an HTTP JSON API.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cpuguy83/fieldgrid/internal/calendar"
	"github.com/cpuguy83/fieldgrid/internal/grid"
	"github.com/cpuguy83/fieldgrid/internal/interact"
	"github.com/cpuguy83/fieldgrid/internal/links"
	"github.com/cpuguy83/fieldgrid/internal/render"
	"github.com/cpuguy83/fieldgrid/internal/sync"
	"github.com/cpuguy83/fieldgrid/internal/view"
)

const dateLayout = "2006-01-02"

// Server provides the calendar grid API.
type Server struct {
	grid  *view.Grid
	store view.Store
	loc   *time.Location
	svg   render.SVGOptions
	mux   *http.ServeMux

	username string
	password string
}

// Option configures a Server.
type Option func(*Server)

// WithBasicAuth protects every route but /health. Empty credentials
// leave auth disabled.
func WithBasicAuth(username, password string) Option {
	return func(s *Server) {
		s.username = username
		s.password = password
	}
}

// WithLocation sets the zone date parameters are read in.
func WithLocation(loc *time.Location) Option {
	return func(s *Server) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithSVGOptions sets the drawing options of /api/render.svg.
func WithSVGOptions(o render.SVGOptions) Option {
	return func(s *Server) { s.svg = o }
}

// NewServer constructs a new Server.
func NewServer(g *view.Grid, store view.Store, opts ...Option) *Server {
	s := &Server{
		grid:  g,
		store: store,
		loc:   time.Local,
		svg:   render.DefaultSVGOptions(),
		mux:   http.NewServeMux(),
	}
	for _, o := range opts {
		o(s)
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		slog.Info("HTTP basic auth enabled")
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	return s.username != "" && s.password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, s.username) || !secureCompare(p, s.password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="fieldgrid", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/render", s.handleRender)
	s.mux.HandleFunc("GET /api/render.svg", s.handleRenderSVG)
	s.mux.HandleFunc("POST /api/events/{id}/click", s.handleEventClick)
	s.mux.HandleFunc("POST /api/slots/click", s.handleSlotClick)
	s.mux.HandleFunc("POST /api/gestures", s.handleGestureBegin)
	s.mux.HandleFunc("PATCH /api/gestures/{id}", s.handleGestureMove)
	s.mux.HandleFunc("POST /api/gestures/{id}/end", s.handleGestureEnd)
	s.mux.HandleFunc("DELETE /api/gestures/{id}", s.handleGestureCancel)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type eventsResponse struct {
	From   time.Time        `json:"from"`
	To     time.Time        `json:"to"`
	Events []calendar.Event `json:"events"`
}

// handleEvents lists events between ?from and ?to (dates, to exclusive,
// default one day) optionally narrowed by repeated ?resource.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := s.parseDate(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to := from.AddDate(0, 0, 1)
	if v := q.Get("to"); v != "" {
		if to, err = s.parseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if !to.After(from) {
		writeError(w, http.StatusBadRequest, "to must be after from")
		return
	}

	events, err := s.store.ListEvents(r.Context(), calendar.Interval{Start: from, End: to}, q["resource"])
	if err != nil {
		slog.Error("failed to list events", "error", err)
		writeError(w, http.StatusBadGateway, "failed to list events")
		return
	}
	if events == nil {
		events = []calendar.Event{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{From: from, To: to, Events: events})
}

type renderRequest struct {
	kind       grid.Kind
	date       time.Time
	highlights []grid.TimeRange
}

// parseRender reads ?kind, ?date and repeated ?highlight=start/end (RFC 3339).
func (s *Server) parseRender(r *http.Request) (renderRequest, error) {
	q := r.URL.Query()
	var req renderRequest

	kind, err := grid.ParseKind(q.Get("kind"))
	if err != nil {
		return req, err
	}
	req.kind = kind

	if req.date, err = s.parseDate(q.Get("date")); err != nil {
		return req, err
	}

	for _, h := range q["highlight"] {
		start, end, ok := strings.Cut(h, "/")
		if !ok {
			return req, fmt.Errorf("highlight %q: want start/end", h)
		}
		st, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return req, fmt.Errorf("highlight start: %w", err)
		}
		et, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return req, fmt.Errorf("highlight end: %w", err)
		}
		req.highlights = append(req.highlights, grid.TimeRange{Start: st, End: et})
	}
	return req, nil
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseRender(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := s.grid.Render(r.Context(), req.kind, req.date, req.highlights...)
	if err != nil {
		slog.Error("failed to render", "error", err)
		writeError(w, http.StatusBadGateway, "failed to render")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleRenderSVG(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseRender(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := s.grid.Render(r.Context(), req.kind, req.date, req.highlights...)
	if err != nil {
		slog.Error("failed to render", "error", err)
		writeError(w, http.StatusBadGateway, "failed to render")
		return
	}

	opts := s.svg
	if v := r.URL.Query().Get("lane_size"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			opts.LaneSize = n
		}
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(render.SVG(f, opts)))
}

// eventDetail is a clicked event plus its video visit link, if any.
type eventDetail struct {
	calendar.Event
	Link *links.Link `json:"link,omitempty"`
}

func (s *Server) handleEventClick(w http.ResponseWriter, r *http.Request) {
	ev, err := s.grid.EventClick(r.PathValue("id"))
	if err != nil {
		writeStatusError(w, err)
		return
	}
	resp := eventDetail{Event: ev}
	if l, ok := links.Detect(ev.Location, ev.Description); ok {
		resp.Link = &l
	}
	writeJSON(w, http.StatusOK, resp)
}

type slotClickRequest struct {
	Kind   string  `json:"kind"`
	Date   string  `json:"date"`
	Lane   int     `json:"lane"`
	Offset float64 `json:"offset"`
}

func (s *Server) handleSlotClick(w http.ResponseWriter, r *http.Request) {
	var req slotClickRequest
	if !decode(w, r, &req) {
		return
	}
	kind, err := grid.ParseKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := s.parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sc, err := s.grid.SlotClick(kind, date, req.Lane, req.Offset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

type gestureBeginRequest struct {
	Type     string  `json:"type"` // "drag" or "resize"
	Kind     string  `json:"kind"` // view kind, drags only
	EventID  string  `json:"event_id"`
	Edge     string  `json:"edge,omitempty"`
	LaneSize float64 `json:"lane_size,omitempty"`
}

type gestureResponse struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	EventID string  `json:"event_id"`
	Offset  float64 `json:"offset"`
	Cross   float64 `json:"cross,omitempty"`
	Preview float64 `json:"preview,omitempty"` // resize visual length
}

func (s *Server) handleGestureBegin(w http.ResponseWriter, r *http.Request) {
	var req gestureBeginRequest
	if !decode(w, r, &req) {
		return
	}

	switch req.Type {
	case "drag", "":
		kind, err := grid.ParseKind(req.Kind)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		d, err := s.grid.BeginDrag(kind, req.EventID, req.LaneSize)
		if err != nil {
			writeStatusError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, gestureResponse{ID: d.ID(), Type: "drag", EventID: req.EventID})
	case "resize":
		edge, err := interact.ParseEdge(req.Edge)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rs, err := s.grid.BeginResize(req.EventID, edge)
		if err != nil {
			writeStatusError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, gestureResponse{ID: rs.ID(), Type: "resize", EventID: req.EventID, Preview: rs.Preview()})
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown gesture type %q", req.Type))
	}
}

type moveRequest struct {
	Offset float64 `json:"offset"`
	Cross  float64 `json:"cross"`
}

func (s *Server) handleGestureMove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req moveRequest
	if !decode(w, r, &req) {
		return
	}

	inter := s.grid.Interaction()
	if d, err := inter.Drag(id); err == nil {
		if err := d.Move(req.Offset, req.Cross); err != nil {
			writeStatusError(w, err)
			return
		}
		off, cross := d.Displacement()
		writeJSON(w, http.StatusOK, gestureResponse{ID: id, Type: "drag", Offset: off, Cross: cross})
		return
	}
	rs, err := inter.Resize(id)
	if err != nil {
		writeStatusError(w, err)
		return
	}
	if err := rs.Move(req.Offset); err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gestureResponse{ID: id, Type: "resize", Offset: req.Offset, Preview: rs.Preview()})
}

type endResponse struct {
	// Emitted is false when the gesture fell under the movement threshold.
	Emitted     bool               `json:"emitted"`
	Proposal    *interact.Proposal `json:"proposal,omitempty"`
	Degenerate  bool               `json:"degenerate,omitempty"`
	OutOfWindow bool               `json:"out_of_window,omitempty"`
}

func (s *Server) handleGestureEnd(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req moveRequest
	if !decode(w, r, &req) {
		return
	}

	var (
		p   interact.Proposal
		ok  bool
		err error
	)
	inter := s.grid.Interaction()
	if d, derr := inter.Drag(id); derr == nil {
		p, ok, err = s.grid.EndDrag(d, req.Offset, req.Cross)
	} else if rs, rerr := inter.Resize(id); rerr == nil {
		p, ok, err = s.grid.EndResize(rs, req.Offset)
	} else {
		err = rerr
	}
	if err != nil {
		writeStatusError(w, err)
		return
	}

	resp := endResponse{Emitted: ok}
	if ok {
		resp.Proposal = &p
		resp.Degenerate = p.Degenerate()
		resp.OutOfWindow = p.OutOfWindow(s.grid.Axis())
	}
	status := http.StatusOK
	if ok {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleGestureCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	inter := s.grid.Interaction()
	if d, err := inter.Drag(id); err == nil {
		d.Cancel()
	} else if rs, err := inter.Resize(id); err == nil {
		rs.Cancel()
	} else {
		writeStatusError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseDate reads YYYY-MM-DD in the server location. Empty is today.
func (s *Server) parseDate(v string) (time.Time, error) {
	if v == "" {
		now := s.grid.Now().In(s.loc)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc), nil
	}
	t, err := time.ParseInLocation(dateLayout, v, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", v)
	}
	return t, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeStatusError maps engine errors to HTTP statuses.
func writeStatusError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, view.ErrUnknownEvent), errors.Is(err, interact.ErrUnknownGesture), errors.Is(err, sync.ErrUnknownEvent):
		status = http.StatusNotFound
	case errors.Is(err, interact.ErrGestureActive), errors.Is(err, interact.ErrGestureDone):
		status = http.StatusConflict
	case errors.Is(err, sync.ErrReadOnly), errors.Is(err, calendar.ErrRecurring):
		status = http.StatusForbidden
	default:
		slog.Error("request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
