// Package server exposes the task core over a local HTTP/SSE bridge the
// webview UI attaches to.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kodu-ai/kodu/internal/agent"
	"github.com/kodu-ai/kodu/internal/approval"
	"github.com/kodu-ai/kodu/internal/event"
	"github.com/kodu-ai/kodu/internal/logging"
	"github.com/kodu-ai/kodu/internal/state"
	"github.com/kodu-ai/kodu/pkg/types"
)

// Server routes UI requests into one task's executor and state.
type Server struct {
	router  *chi.Mux
	httpSrv *http.Server

	state *state.Manager
	asks  *approval.AskManager
	exec  *agent.TaskExecutor
	bus   *event.Bus
}

// New wires the bridge over a task's collaborators.
func New(addr string, st *state.Manager, asks *approval.AskManager, exec *agent.TaskExecutor, bus *event.Bus) *Server {
	s := &Server{
		state: st,
		asks:  asks,
		exec:  exec,
		bus:   bus,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/state", s.getState)
	r.Get("/messages", s.getMessages)
	r.Post("/ask/{ts}/response", s.postAskResponse)
	r.Post("/task", s.postTask)
	r.Post("/task/cancel", s.postTaskCancel)
	r.Get("/event", s.events)

	s.router = r
	s.httpSrv = &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// No write timeout: /event streams indefinitely.
	}
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	logging.Info().Str("addr", s.httpSrv.Addr).Msg("http bridge listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"task":          s.state.State(),
		"executorState": s.exec.State(),
		"metrics":       s.state.Metrics.Snapshot(),
	})
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Display.GetAll(false))
}

type askResponseBody struct {
	Response types.AskResponse `json:"response"`
	Text     string            `json:"text,omitempty"`
	Images   []string          `json:"images,omitempty"`
}

func (s *Server) postAskResponse(w http.ResponseWriter, r *http.Request) {
	ts, err := strconv.ParseInt(chi.URLParam(r, "ts"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ts")
		return
	}

	var body askResponseBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if err := s.asks.HandleResponse(ts, body.Response, body.Text, body.Images); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type taskBody struct {
	Task   string   `json:"task"`
	Images []string `json:"images,omitempty"`
}

func (s *Server) postTask(w http.ResponseWriter, r *http.Request) {
	var body taskBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Task == "" {
		writeError(w, http.StatusBadRequest, "task text required")
		return
	}

	// The request loop runs for the task's whole lifetime; detach it from
	// this HTTP request.
	go func() {
		if err := s.exec.StartTask(context.Background(), body.Task, body.Images); err != nil {
			logging.Error().Err(err).Msg("task run failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *Server) postTaskCancel(w http.ResponseWriter, r *http.Request) {
	s.exec.CancelCurrentRequest()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
