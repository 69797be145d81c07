// Package httpadapter serves the read-only status endpoints of watch mode.
package httpadapter

import (
    "context"
    "encoding/json"
    "errors"
    "log/slog"
    "net/http"

    "github.com/go-chi/chi/v5"
    "github.com/go-chi/chi/v5/middleware"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/odomlab/odom-data-processing/internal/domain"
    "github.com/odomlab/odom-data-processing/internal/metrics"
    "github.com/odomlab/odom-data-processing/internal/services/completeness"
)

// Checker reports on a run without resubmitting anything.
type Checker interface {
    ConfirmComplete(ctx context.Context, runID string, opts completeness.Options) (completeness.Report, error)
}

// ChainLister lists job chains still waiting for their results.
type ChainLister interface {
    PendingJobChains(ctx context.Context) ([]domain.JobChain, error)
}

type Server struct {
    checker Checker
    chains  ChainLister
    log     *slog.Logger
}

func New(checker Checker, chains ChainLister, logger *slog.Logger) *Server {
    if logger == nil { logger = slog.Default() }
    return &Server{checker: checker, chains: chains, log: logger}
}

// Routes returns the status router.
func (s *Server) Routes() chi.Router {
    r := chi.NewRouter()
    r.Use(middleware.Recoverer)
    r.Use(middleware.RequestID)
    r.Use(middleware.RealIP)

    r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
        writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
    })
    r.Get("/runs/{runID}/completeness", s.handleCompleteness)
    r.Get("/chains/pending", s.handlePendingChains)
    r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
    return r
}

func (s *Server) handleCompleteness(w http.ResponseWriter, r *http.Request) {
    runID := chi.URLParam(r, "runID")
    report, err := s.checker.ConfirmComplete(r.Context(), runID, completeness.Options{})
    if err != nil {
        s.log.Warn("completeness check failed", "run", runID, "error", err, "request_id", middleware.GetReqID(r.Context()))
        writeErr(w, statusFor(err), err)
        return
    }
    writeJSON(w, http.StatusOK, report)
}

type chainResponse struct {
    ID          string   `json:"id"`
    Kind        string   `json:"kind"`
    Run         string   `json:"run"`
    Library     string   `json:"library"`
    Genome      string   `json:"genome"`
    Jobs        []string `json:"jobs"`
    Marker      string   `json:"marker"`
    SubmittedAt string   `json:"submitted_at"`
}

func (s *Server) handlePendingChains(w http.ResponseWriter, r *http.Request) {
    chains, err := s.chains.PendingJobChains(r.Context())
    if err != nil {
        writeErr(w, http.StatusInternalServerError, err)
        return
    }
    out := make([]chainResponse, 0, len(chains))
    for _, c := range chains {
        out = append(out, chainResponse{
            ID: c.ID, Kind: string(c.Kind), Run: c.RunNumber, Library: c.Library, Genome: c.Genome,
            Jobs: c.JobIDs, Marker: c.Marker, SubmittedAt: c.SubmittedAt.UTC().Format("2006-01-02T15:04:05Z"),
        })
    }
    writeJSON(w, http.StatusOK, out)
}

func statusFor(err error) int {
    switch {
    case errors.Is(err, domain.ErrNotFound):
        return http.StatusNotFound
    case domain.IsTransient(err):
        return http.StatusServiceUnavailable
    }
    return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
    writeJSON(w, status, map[string]string{"error": err.Error()})
}
