// Package handlers implements the HTTP handlers for the Conductor API:
// capability snapshot inspection, planning, run execution, and traces.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/conductor-ai/conductor/internal/catalog"
	"github.com/conductor-ai/conductor/internal/executor"
	"github.com/conductor-ai/conductor/internal/planner"
	"github.com/conductor-ai/conductor/internal/store"
	"github.com/conductor-ai/conductor/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store   store.Store
	Catalog *catalog.Catalog
	Planner *planner.Planner
	Engine  *executor.Engine
}

// New creates a Handlers instance with all dependencies.
func New(s store.Store, cat *catalog.Catalog, p *planner.Planner, eng *executor.Engine) *Handlers {
	return &Handlers{
		Store:   s,
		Catalog: cat,
		Planner: p,
		Engine:  eng,
	}
}

// ── Capabilities ─────────────────────────────────────────────

func (h *Handlers) ListCapabilities(w http.ResponseWriter, r *http.Request) {
	snap := h.Catalog.Snapshot()
	if snap.Capabilities == nil {
		snap.Capabilities = []models.Capability{}
	}
	respondJSON(w, http.StatusOK, snap)
}

// ── Planning ─────────────────────────────────────────────────

type goalRequest struct {
	Goal string `json:"goal"`
}

// CreatePlan runs planning only: decomposition fan-out, selection, and
// gap analysis, without executing anything.
func (h *Handlers) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req goalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Goal == "" {
		respondError(w, http.StatusBadRequest, "request must carry a non-empty goal")
		return
	}

	snap := h.Catalog.Snapshot()
	result, err := h.Planner.Plan(r.Context(), req.Goal, snap)
	if err != nil {
		if errors.Is(err, planner.ErrNoViablePlan) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// ── Runs ─────────────────────────────────────────────────────

// CreateRun plans the goal and, when the selected plan is executable,
// starts async execution. The response carries the run and trace IDs;
// poll GET /runs/{id} for progress.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req goalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Goal == "" {
		respondError(w, http.StatusBadRequest, "request must carry a non-empty goal")
		return
	}

	snap := h.Catalog.Snapshot()
	result, err := h.Planner.Plan(r.Context(), req.Goal, snap)
	if err != nil {
		if errors.Is(err, planner.ErrNoViablePlan) {
			// No plan produced, no execution attempted.
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	run := &models.Run{
		ID:        uuid.New().String(),
		Goal:      req.Goal,
		Status:    models.RunPlanning,
		Plan:      result.Selected,
		Gaps:      result.Gaps,
		StartedAt: time.Now().UTC(),
	}

	if !result.Selected.Executable {
		// Below the coverage threshold: record the planning output but
		// do not execute.
		now := time.Now().UTC()
		run.Status = models.RunFailed
		run.Error = "selected plan coverage below executable threshold"
		run.CompletedAt = &now
		if err := h.Store.CreateRun(r.Context(), run); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, run)
		return
	}

	if err := h.Store.CreateRun(r.Context(), run); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.Engine.Start(run, snap)

	log.Info().Str("run_id", run.ID).Str("goal", req.Goal).Msg("run accepted")
	respondJSON(w, http.StatusAccepted, map[string]any{
		"run_id":   run.ID,
		"trace_id": run.TraceID,
		"status":   models.RunRunning,
		"gaps":     len(run.Gaps),
	})
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListRuns(r.Context(), 100)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}
	respondJSON(w, http.StatusOK, runs)
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := h.Store.GetRun(r.Context(), runID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// CancelRun cancels an in-flight run. Accumulated context and step
// results stay on the run record.
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := h.Store.GetRun(r.Context(), runID); err != nil {
		respondStoreError(w, err)
		return
	}

	if !h.Engine.Cancel(runID) {
		respondError(w, http.StatusConflict, "run is not executing")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"run_id": runID, "status": "canceling"})
}

// ── Traces ───────────────────────────────────────────────────

func (h *Handlers) ListTraces(w http.ResponseWriter, r *http.Request) {
	traces, err := h.Store.ListTraces(r.Context(), 100)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if traces == nil {
		traces = []models.Trace{}
	}
	respondJSON(w, http.StatusOK, traces)
}

func (h *Handlers) GetTrace(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceID")
	trace, err := h.Store.GetTrace(r.Context(), traceID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, trace)
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondStoreError(w http.ResponseWriter, err error) {
	var nf *store.ErrNotFound
	if errors.As(err, &nf) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}
