package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rostilos/codecrow/internal/analysis"
	"github.com/rostilos/codecrow/internal/errors"
	"github.com/rostilos/codecrow/internal/events"
)

// Server is the internal HTTP adapter. Both analysis endpoints stream
// newline-delimited JSON events for the lifetime of the pipeline; the
// connection closing cancels the run through the request context.
type Server struct {
	pr     *analysis.PrProcessor
	branch *analysis.BranchProcessor
	secret string
	logger *slog.Logger
	httpd  *http.Server
}

// New builds the adapter. An empty serviceSecret disables auth (local mode).
func New(addr, serviceSecret string, pr *analysis.PrProcessor, branch *analysis.BranchProcessor, logger *slog.Logger) *Server {
	s := &Server{
		pr:     pr,
		branch: branch,
		secret: serviceSecret,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /analysis/pr", s.handlePrAnalysis)
	mux.HandleFunc("POST /analysis/branch", s.handleBranchAnalysis)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.httpd = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http adapter listening", "addr", s.httpd.Addr)
	return s.httpd.ListenAndServe()
}

// Shutdown drains in-flight streams.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpd.Shutdown(ctx)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.secret == "" {
		return true
	}
	got := r.Header.Get("x-service-secret")
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) == 1
}

func (s *Server) handlePrAnalysis(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid service secret")
		return
	}

	var req analysis.PrAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sink := startStream(w, s.logger)
	if _, err := s.pr.Process(r.Context(), &req, sink); err != nil {
		// The terminal completed event already carries the failure; log for
		// the operator side.
		s.logger.Warn("pr analysis failed",
			"project_id", req.ProjectID, "pr_number", req.PrNumber,
			"kind", errors.KindOf(err).String(), "error", err)
	}
}

func (s *Server) handleBranchAnalysis(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid service secret")
		return
	}

	var req analysis.BranchAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sink := startStream(w, s.logger)
	if _, err := s.branch.Process(r.Context(), &req, sink); err != nil {
		s.logger.Warn("branch analysis failed",
			"project_id", req.ProjectID, "branch", req.TargetBranch,
			"kind", errors.KindOf(err).String(), "error", err)
	}
}

func startStream(w http.ResponseWriter, logger *slog.Logger) events.Sink {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	return events.NewNDJSONSink(w, logger)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
