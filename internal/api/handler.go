// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"repo-grader/internal/model"
	"repo-grader/internal/workspace"
)

// BatchRunner grades a set of repositories and syncs the results into the
// workspace database.
type BatchRunner interface {
	RunBatch(ctx context.Context, refs []model.RepositoryReference, mode model.ProcessingMode, policy workspace.ConflictPolicy) (*model.BatchReport, model.SyncStats, error)
}

// batchStatus is the lifecycle of the most recent batch.
type batchStatus string

const (
	statusRunning   batchStatus = "running"
	statusCompleted batchStatus = "completed"
	statusFailed    batchStatus = "failed"
)

// batchState is the latest batch's progress and results.
type batchState struct {
	Status      batchStatus        `json:"status"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
	TotalItems  int                `json:"total_items"`
	Report      *model.BatchReport `json:"report,omitempty"`
	SyncStats   *model.SyncStats   `json:"sync_stats,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Handler is the container for API dependencies.
type Handler struct {
	runner BatchRunner
	logger *slog.Logger

	mu     sync.Mutex
	latest *batchState
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(runner BatchRunner, logger *slog.Logger) http.Handler {
	h := &Handler{
		runner: runner,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/batches", h.startBatch)
		r.Get("/batches/latest", h.getLatestBatch)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// batchRequest is the POST /v1/batches body.
type batchRequest struct {
	URLs       []string `json:"urls"`
	Mode       string   `json:"mode,omitempty"`
	OnConflict string   `json:"on_conflict,omitempty"`
}

// startBatch validates the request, launches the batch in the background and
// responds immediately. Only one batch runs at a time.
// POST /v1/batches
func (h *Handler) startBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if len(req.URLs) == 0 {
		respondWithError(w, http.StatusBadRequest, "'urls' must contain at least one repository URL")
		return
	}

	mode, err := model.ParseProcessingMode(req.Mode)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	policy, err := parseConflictPolicy(req.OnConflict)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	refs := make([]model.RepositoryReference, 0, len(req.URLs))
	for _, raw := range req.URLs {
		ref, err := model.ParseRepositoryURL(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		refs = append(refs, ref)
	}

	h.mu.Lock()
	if h.latest != nil && h.latest.Status == statusRunning {
		h.mu.Unlock()
		respondWithError(w, http.StatusConflict, "A batch is already running")
		return
	}
	state := &batchState{
		Status:     statusRunning,
		StartedAt:  time.Now(),
		TotalItems: len(refs),
	}
	h.latest = state
	h.mu.Unlock()

	// The batch outlives the HTTP request, so it runs on its own context.
	go h.runBatch(context.Background(), state, refs, mode, policy)

	respondWithJSON(w, http.StatusAccepted, map[string]any{
		"status":      statusRunning,
		"total_items": len(refs),
	})
}

// runBatch executes the batch and records its terminal state.
func (h *Handler) runBatch(ctx context.Context, state *batchState, refs []model.RepositoryReference, mode model.ProcessingMode, policy workspace.ConflictPolicy) {
	report, stats, err := h.runner.RunBatch(ctx, refs, mode, policy)
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()
	state.FinishedAt = &now
	if err != nil {
		h.logger.Error("Batch run failed", "error", err)
		state.Status = statusFailed
		state.Error = err.Error()
		state.Report = report
		return
	}
	state.Status = statusCompleted
	state.Report = report
	state.SyncStats = &stats
}

// getLatestBatch returns the most recent batch's state.
// GET /v1/batches/latest
func (h *Handler) getLatestBatch(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest == nil {
		respondWithError(w, http.StatusNotFound, "No batch has been run yet")
		return
	}
	respondWithJSON(w, http.StatusOK, h.latest)
}

// parseConflictPolicy maps the request field to a policy. Existing rows are
// overridden unless the caller asks to skip them.
func parseConflictPolicy(s string) (workspace.ConflictPolicy, error) {
	switch s {
	case "", "override":
		return workspace.OverrideAll(), nil
	case "skip":
		return workspace.SkipExisting(), nil
	}
	return nil, &invalidConflictError{value: s}
}

type invalidConflictError struct {
	value string
}

func (e *invalidConflictError) Error() string {
	return "invalid 'on_conflict' value: " + e.value + ", expected 'override' or 'skip'"
}
