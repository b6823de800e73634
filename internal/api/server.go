// Package api serves the engine over HTTP alongside health and metrics
// endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/liamashdown/amlwatch/internal/aml"
	"github.com/liamashdown/amlwatch/internal/engine"
	"github.com/liamashdown/amlwatch/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Service is the subset of the engine the API needs.
type Service interface {
	Analyze(ctx context.Context, address string, opts engine.Options) (*aml.AnalysisReport, error)
	BlacklistAdd(ctx context.Context, address, reason, actor string) error
	BlacklistRemove(ctx context.Context, address, actor string) error
	Blacklist(ctx context.Context) ([]aml.BlacklistEntry, error)
	ExportBlacklist(ctx context.Context, w io.Writer) error
}

// ReadyFunc reports whether backing stores are reachable.
type ReadyFunc func(ctx context.Context) error

// Server routes HTTP requests to the engine
type Server struct {
	svc   Service
	ready ReadyFunc
	log   *logrus.Logger
}

// NewServer creates a server. ready may be nil.
func NewServer(svc Service, ready ReadyFunc, log *logrus.Logger) *Server {
	return &Server{svc: svc, ready: ready, log: log}
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/analyze/{address}", s.handleAnalyze)
	mux.HandleFunc("GET /v1/blacklist", s.handleListBlacklist)
	mux.HandleFunc("GET /v1/blacklist/export", s.handleExportBlacklist)
	mux.HandleFunc("POST /v1/blacklist", s.handleAddBlacklist)
	mux.HandleFunc("DELETE /v1/blacklist/{address}", s.handleRemoveBlacklist)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		metrics.RecordHealthCheck(true)
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.withRequestLog(mux)
}

// NewHTTPServer wraps handler in a server whose write timeout covers a full
// analysis.
func NewHTTPServer(port int, handler http.Handler, analysisTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: analysisTimeout + 10*time.Second,
		IdleTimeout:  15 * time.Second,
	}
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	opts, err := parseOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	report, err := s.svc.Analyze(r.Context(), r.PathValue("address"), opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type blacklistRequest struct {
	Address string `json:"address"`
	Reason  string `json:"reason"`
	Actor   string `json:"actor"`
}

func (s *Server) handleAddBlacklist(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	if err := s.svc.BlacklistAdd(r.Context(), req.Address, req.Reason, actorFor(r, req.Actor)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.BlacklistRemove(r.Context(), r.PathValue("address"), actorFor(r, "")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListBlacklist(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.Blacklist(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []aml.BlacklistEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleExportBlacklist(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.svc.ExportBlacklist(r.Context(), &buf); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="blacklist.json"`)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			metrics.RecordHealthCheck(false)
			s.log.WithError(err).Warn("Readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
	}
	metrics.RecordHealthCheck(true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func parseOptions(r *http.Request) (engine.Options, error) {
	var opts engine.Options
	q := r.URL.Query()

	if v := q.Get("maxDepth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("invalid maxDepth %q", v)
		}
		opts.MaxDepth = n
	}
	if v := q.Get("maxNodes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("invalid maxNodes %q", v)
		}
		opts.MaxNodes = n
	}
	if v := q.Get("timeBudget"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return opts, fmt.Errorf("invalid timeBudget %q", v)
		}
		opts.TimeBudget = d
	}
	if v := q.Get("refresh"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("invalid refresh %q", v)
		}
		opts.ForceRefresh = b
	}
	return opts, nil
}

func actorFor(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if h := r.Header.Get("X-Actor"); h != "" {
		return h
	}
	return "api"
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, aml.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, aml.ErrBlacklistWriteConflict):
		return http.StatusConflict
	case errors.Is(err, aml.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, aml.ErrCancelled):
		return http.StatusRequestTimeout
	case errors.Is(err, aml.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, aml.ErrGatewayProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"path":       r.URL.Path,
			"request_id": w.Header().Get("X-Request-ID"),
		}).Error("Request failed")
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  id,
		}).Debug("HTTP request")
	})
}
