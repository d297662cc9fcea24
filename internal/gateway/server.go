// Package gateway exposes the scrape service over HTTP: the scrape API,
// task inspection, the WebSocket event stream, and the archive views.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/magpie/internal/drivers"
	"github.com/dohr-michael/magpie/internal/events"
	"github.com/dohr-michael/magpie/internal/gateway/ws"
	"github.com/dohr-michael/magpie/internal/records"
	"github.com/dohr-michael/magpie/internal/storage"
	"github.com/dohr-michael/magpie/internal/tasks"
)

// Manager is the task-manager surface the gateway serves.
type Manager interface {
	ws.TaskAPI
	Stats() tasks.Stats
}

// Server is the magpie gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	manager    Manager
	stats      *storage.StatsTracker
	archive    *storage.Archive
	index      *storage.Index
	host       string
	port       int
}

// NewServer creates a new gateway server.
func NewServer(bus *events.Bus, manager Manager, host string, port int) *Server {
	hub := ws.NewHub(bus, manager)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		hub:     hub,
		bus:     bus,
		manager: manager,
		host:    host,
		port:    port,
	}

	// Scrape API
	r.Post("/scrape", s.handleScrape)
	r.Get("/task/{id}/status", s.handleTaskStatus)
	r.Get("/task/{id}/result", s.handleTaskResult)
	r.Post("/task/{id}/cancel", s.handleTaskCancel)
	r.Post("/task/{id}/kill", s.handleTaskKill)
	r.Get("/tasks", s.handleTasks)
	r.Get("/health", s.handleHealth)

	// Observability
	r.Get("/ws", hub.ServeWS)
	r.Get("/events", s.handleEvents)
	r.Get("/stats", s.handleStats)
	r.Get("/archive", s.handleArchiveList)
	r.Get("/archive/{id}", s.handleArchiveGet)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}

	return s
}

// SetStats wires the daily counters behind GET /stats.
func (s *Server) SetStats(st *storage.StatsTracker) {
	s.stats = st
}

// SetArchive wires the on-disk archive behind the /archive routes.
func (s *Server) SetArchive(a *storage.Archive, idx *storage.Index) {
	s.archive = a
	s.index = idx
}

// Handler returns the configured HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("magpie gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, format string, args ...any) {
	respondJSON(w, code, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// handleScrape validates the request body field by field the way the site
// API documents it, then submits the task and returns its metadata.
func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Address    json.RawMessage `json:"address"`
		Pages      json.RawMessage `json:"pages"`
		NumResults json.RawMessage `json:"num_results"`
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if body.Address == nil || body.Pages == nil || body.NumResults == nil {
		respondError(w, http.StatusBadRequest,
			"missing required fields: expected address, pages and num_results")
		return
	}

	var q records.Query
	if err := json.Unmarshal(body.Address, &q.Address); err != nil {
		respondError(w, http.StatusBadRequest, "address must be [int, str, str]: %v", err)
		return
	}
	if err := json.Unmarshal(body.Pages, &q.Pages); err != nil {
		respondError(w, http.StatusBadRequest, "pages must be a list of strings: %v", err)
		return
	}
	if err := json.Unmarshal(body.NumResults, &q.NumResults); err != nil {
		respondError(w, http.StatusBadRequest, "num_results must be an integer: %v", err)
		return
	}
	if err := q.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "%v", err)
		return
	}

	t, err := s.manager.Submit(q)
	if err != nil {
		if errors.Is(err, tasks.ErrManagerClosed) {
			respondError(w, http.StatusServiceUnavailable, "%v", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "submit failed: %v", err)
		return
	}
	respondJSON(w, t.StatusCode, map[string]any{"metadata": t})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.manager.GetStatus(id)
	if err != nil {
		// The scrape API reports unknown ids on the status route as a
		// server-side failure, not a 404.
		respondError(w, http.StatusInternalServerError, "task not found: %s", id)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"metadata": t})
}

// handleTaskResult returns the metadata with results only once the task is
// terminal. Live tasks get a pending indicator, killed tasks never produce
// a result.
func (s *Server) handleTaskResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.manager.GetStatus(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "task not found: %s", id)
		return
	}
	if !t.Status.Terminal() {
		respondJSON(w, http.StatusAccepted, map[string]any{
			"task_id": t.ID,
			"status":  t.Status,
			"pending": true,
		})
		return
	}
	if t.Status == tasks.StatusKilled {
		respondError(w, http.StatusNotFound, "task %s was killed, no result recorded", id)
		return
	}
	respondJSON(w, t.StatusCode, map[string]any{"metadata": t})
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	s.handleTaskSignal(w, r, s.manager.Cancel)
}

func (s *Server) handleTaskKill(w http.ResponseWriter, r *http.Request) {
	s.handleTaskSignal(w, r, s.manager.Kill)
}

// handleTaskSignal runs a best-effort cancel or kill and always answers
// with the task's current metadata.
func (s *Server) handleTaskSignal(w http.ResponseWriter, r *http.Request, op func(string) (tasks.Task, error)) {
	id := chi.URLParam(r, "id")
	t, err := op(id)
	if err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "task not found: %s", id)
			return
		}
		respondError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"metadata": t})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	var filter []tasks.Status
	for _, raw := range r.URL.Query()["status"] {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			st, ok := tasks.ParseStatus(name)
			if !ok {
				respondError(w, http.StatusBadRequest, "unknown status: %s", name)
				return
			}
			filter = append(filter, st)
		}
	}

	list := s.manager.List(filter...)
	respondJSON(w, http.StatusOK, map[string]any{
		"tasks": list,
		"count": len(list),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.manager.Stats()

	health := "healthy"
	code := http.StatusOK
	if stats.Pool.Capacity == 0 {
		health = "unhealthy"
		code = http.StatusInternalServerError
	}

	respondJSON(w, code, struct {
		Health     string        `json:"health"`
		DriverPool drivers.Stats `json:"driver_pool"`
	}{
		Health:     health,
		DriverPool: stats.Pool,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	limit := 50
	if limitStr != "" {
		fmt.Sscanf(limitStr, "%d", &limit)
	}

	history := s.bus.History(limit)

	// Format timestamps nicely
	type eventJSON struct {
		ID        string             `json:"id"`
		TaskID    string             `json:"task_id,omitempty"`
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Source    events.EventSource `json:"source"`
		Payload   map[string]any     `json:"payload"`
	}

	result := make([]eventJSON, len(history))
	for i, e := range history {
		result[i] = eventJSON{
			ID:        e.ID,
			TaskID:    e.TaskID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		}
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		respondError(w, http.StatusServiceUnavailable, "stats not available")
		return
	}
	if day := r.URL.Query().Get("day"); day != "" {
		respondJSON(w, http.StatusOK, s.stats.Day(day))
		return
	}
	respondJSON(w, http.StatusOK, s.stats.Today())
}

func (s *Server) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		respondError(w, http.StatusServiceUnavailable, "archive not available")
		return
	}

	var (
		entries []storage.IndexEntry
		err     error
	)
	if street := r.URL.Query().Get("street"); street != "" {
		entries, err = s.index.ByStreet(street)
	} else {
		limit := 50
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			fmt.Sscanf(limitStr, "%d", &limit)
		}
		entries, err = s.index.Recent(limit)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "archive query: %v", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleArchiveGet(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		respondError(w, http.StatusServiceUnavailable, "archive not available")
		return
	}
	id := chi.URLParam(r, "id")
	t, err := s.archive.Load(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "archived task not found: %s", id)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"metadata": t})
}
