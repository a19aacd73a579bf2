// Package api serves run status, aggregates and logs over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/maxvaer/hhprobe/internal/aggregate"
	"github.com/maxvaer/hhprobe/internal/model"
	"github.com/maxvaer/hhprobe/internal/store"
)

// LogReader lists a run's log stream incrementally.
type LogReader interface {
	Logs(runID string, afterSeq int64, limit int) ([]model.LogEntry, error)
}

// Stopper stops a running run.
type Stopper interface {
	Stop(runID string) error
}

// Config wires the API to the engine. Stopper and Metrics are optional.
type Config struct {
	Aggregates *aggregate.Service
	Logs       LogReader
	Stopper    Stopper
	Metrics    http.Handler
	Logger     *slog.Logger
}

type server struct {
	cfg    Config
	logger *slog.Logger
}

// NewHandler returns the router serving the read API.
func NewHandler(cfg Config) http.Handler {
	s := &server{cfg: cfg, logger: cfg.Logger}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics).Methods(http.MethodGet)
	}

	r.HandleFunc("/api/runs/{id}", s.handleRun).Methods(http.MethodGet)
	runs := r.PathPrefix("/api/runs/{id}").Subrouter()
	runs.HandleFunc("/aggregates", s.handleAggregates).Methods(http.MethodGet)
	runs.HandleFunc("/aggregates/matrix", s.handleMatrix).Methods(http.MethodGet)
	runs.HandleFunc("/aggregates/421_summary", s.handleSummary421).Methods(http.MethodGet)
	runs.HandleFunc("/sequence", s.handleSequence).Methods(http.MethodGet)
	runs.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
	runs.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.cfg.Aggregates.Run(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *server) handleAggregates(w http.ResponseWriter, r *http.Request) {
	unique, err := boolParam(r, "unique_size_only")
	if err != nil {
		s.writeError(w, err)
		return
	}
	view, err := s.cfg.Aggregates.View(mux.Vars(r)["id"], unique)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *server) handleMatrix(w http.ResponseWriter, r *http.Request) {
	unique, err := boolParam(r, "unique_size_only")
	if err != nil {
		s.writeError(w, err)
		return
	}
	rows, err := s.cfg.Aggregates.Matrix(mux.Vars(r)["id"], r.URL.Query().Get("target_url"), unique)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rows == nil {
		rows = []aggregate.TargetMatrix{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *server) handleSummary421(w http.ResponseWriter, r *http.Request) {
	sum, err := s.cfg.Aggregates.Summary421(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *server) handleSequence(w http.ResponseWriter, r *http.Request) {
	results, err := s.cfg.Aggregates.SequenceResults(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	if results == nil {
		results = []model.SequenceResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

type logsResponse struct {
	Logs    []model.LogEntry `json:"logs"`
	LastSeq int64            `json:"last_seq"`
}

func (s *server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after, err := intParam(q.Get("after"), "after", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	limit, err := intParam(q.Get("limit"), "limit", store.DefaultLogLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries, err := s.cfg.Logs.Logs(mux.Vars(r)["id"], int64(after), store.ClampLogLimit(limit))
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := logsResponse{Logs: entries, LastSeq: int64(after)}
	if resp.Logs == nil {
		resp.Logs = []model.LogEntry{}
	}
	if n := len(entries); n > 0 {
		resp.LastSeq = entries[n-1].Seq
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Stopper == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "runs cannot be stopped through this server"})
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.cfg.Stopper.Stop(id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": string(model.StatusStopping)})
}

// badRequest marks query parameter errors.
type badRequest struct {
	param string
	err   error
}

func (e *badRequest) Error() string { return "invalid " + e.param + ": " + e.err.Error() }

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &badRequest{param: name, err: err}
	}
	return b, nil
}

func intParam(v, name string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &badRequest{param: name, err: err}
	}
	if n < 0 {
		return 0, &badRequest{param: name, err: errors.New("must not be negative")}
	}
	return n, nil
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	var badReq *badRequest
	switch {
	case errors.As(err, &badReq), errors.Is(err, model.ErrNotRunning):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, aggregate.ErrUnknownRun),
		errors.Is(err, aggregate.ErrUnknownTarget):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("api error", "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
