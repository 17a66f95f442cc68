package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/apexboard/prioritizer/internal/orchestrator"
	"github.com/apexboard/prioritizer/internal/scheduler"
	"github.com/apexboard/prioritizer/internal/scoring"
	"github.com/apexboard/prioritizer/internal/store"
)

type ScoringHandler struct {
	store  store.Store
	orch   *orchestrator.Orchestrator
	engine *scoring.Engine
}

func NewScoringHandler(s store.Store, o *orchestrator.Orchestrator, e *scoring.Engine) *ScoringHandler {
	return &ScoringHandler{store: s, orch: o, engine: e}
}

type SubmitRequest struct {
	Mode            string   `json:"mode,omitempty"`
	Project         string   `json:"project"`
	WorkItemIDs     []string `json:"work_item_ids,omitempty"`
	ConfigurationID string   `json:"configuration_id"`
	Priority        string   `json:"priority,omitempty"`
	MaxWaitMs       int      `json:"max_wait_ms,omitempty"`
	CronExpr        string   `json:"cron_expr,omitempty"`
}

// Submit accepts a scoring request. Scheduled-mode requests return the
// registered job; everything else returns the spawned workflow.
func (h *ScoringHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Project == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "project required"})
		return
	}
	cfgID, err := uuid.Parse(req.ConfigurationID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid configuration_id"})
		return
	}

	sreq := &store.ScoringRequest{
		ID:              uuid.New(),
		Mode:            store.Mode(req.Mode),
		Project:         req.Project,
		ConfigurationID: cfgID,
		Priority:        store.Priority(req.Priority),
		MaxWaitMs:       req.MaxWaitMs,
		CronExpr:        req.CronExpr,
	}
	for _, raw := range req.WorkItemIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid work item id: " + raw})
			return
		}
		sreq.WorkItemIDs = append(sreq.WorkItemIDs, id)
	}

	if h.orch.ClassifyMode(sreq) == store.ModeScheduled {
		job, err := h.orch.Schedule(r.Context(), sreq)
		if err != nil {
			writeSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, job)
		return
	}

	wf, err := h.orch.Submit(r.Context(), sreq)
	if err != nil {
		writeSchedulingError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

// Explain re-scores one work item against a configuration and returns the
// full factor breakdown without persisting anything.
func (h *ScoringHandler) Explain(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(chi.URLParam(r, "item_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid item id"})
		return
	}
	cfgID, err := uuid.Parse(r.URL.Query().Get("configuration_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "configuration_id query parameter required"})
		return
	}
	project := r.URL.Query().Get("project")

	cfg, err := h.store.GetConfiguration(r.Context(), cfgID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "configuration not found"})
		return
	}
	run, err := h.engine.NewRun(cfg)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	items, err := h.store.ReadItems(r.Context(), project, []uuid.UUID{itemID})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if len(items) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "work item not found"})
		return
	}

	result, err := run.ScoreItem(r.Context(), items[0], run.Stats(items))
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"configuration_id":      cfg.ID,
		"configuration_version": cfg.Version,
		"result":                result,
	})
}

func writeSchedulingError(w http.ResponseWriter, err error) {
	var schedErr *scheduler.SchedulingError
	if errors.As(err, &schedErr) {
		status := http.StatusUnprocessableEntity
		if strings.Contains(schedErr.Msg, "queue full") {
			status = http.StatusTooManyRequests
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
