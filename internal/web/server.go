// Package web provides the HTTP status page and run/stop endpoints of the
// sequencer daemon.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/gpio-sequencer/internal/control"
	"github.com/sweeney/gpio-sequencer/internal/logging"
	"github.com/sweeney/gpio-sequencer/internal/sequence"
	"github.com/sweeney/gpio-sequencer/internal/status"
)

// Runner starts and stops named sequences. *control.Controller satisfies it.
type Runner interface {
	Start(name string, o control.Overrides) error
	Stop() bool
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	runner     Runner
	logger     *slog.Logger
}

// New creates a Server that reads state from tracker and drives runner.
// metrics is mounted at /metrics when non-nil.
func New(addr string, tracker *status.Tracker, runner Runner, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{tracker: tracker, runner: runner, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /index.html", s.handleIndex)
	mux.HandleFunc("GET /index.json", s.handleJSON)
	mux.HandleFunc("POST /run/{name}", s.handleRun)
	mux.HandleFunc("POST /stop", s.handleStop)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the request router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.logger.Warn("render status page", "error", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// ErrorJSON is the body of every failed run or stop request.
type ErrorJSON struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations,omitempty"`
}

// RunJSON is the body of a successful run request.
type RunJSON struct {
	Started string `json:"started"`
}

// StopJSON is the body of a stop request.
type StopJSON struct {
	Stopped bool `json:"stopped"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	o, err := parseOverrides(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorJSON{Error: err.Error()})
		return
	}

	if err := s.runner.Start(name, o); err != nil {
		s.logger.Info("run request refused", "sequence", name, "error", err)
		code, body := runError(err)
		writeJSON(w, code, body)
		return
	}

	s.logger.Info("run requested over http", "sequence", name, "remote", r.RemoteAddr)
	if isForm(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusAccepted, RunJSON{Started: name})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	stopped := s.runner.Stop()
	if isForm(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, StopJSON{Stopped: stopped})
}

// parseOverrides reads the optional repeat and period_ms query parameters.
func parseOverrides(r *http.Request) (control.Overrides, error) {
	var o control.Overrides
	q := r.URL.Query()
	if v := q.Get("repeat"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return o, fmt.Errorf("repeat: %w", err)
		}
		o.Repeat = &n
	}
	if v := q.Get("period_ms"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return o, fmt.Errorf("period_ms: %w", err)
		}
		period := time.Duration(ms) * time.Millisecond
		o.Period = &period
	}
	return o, nil
}

func runError(err error) (int, ErrorJSON) {
	body := ErrorJSON{Error: err.Error()}

	var verr *sequence.ValidationError
	var cerr *sequence.ConfigError
	switch {
	case errors.Is(err, control.ErrUnknownSequence):
		return http.StatusNotFound, body
	case errors.Is(err, sequence.ErrBusy):
		return http.StatusConflict, body
	case errors.Is(err, control.ErrClosed):
		return http.StatusServiceUnavailable, body
	case errors.As(err, &verr):
		body.Violations = verr.Strings()
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &cerr), errors.Is(err, sequence.ErrInvalidRequest):
		return http.StatusBadRequest, body
	}
	return http.StatusInternalServerError, body
}

func isForm(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
