package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/apexboard/prioritizer/internal/orchestrator"
	"github.com/apexboard/prioritizer/internal/scheduler"
	"github.com/apexboard/prioritizer/internal/store"
)

type JobsHandler struct {
	store store.Store
	orch  *orchestrator.Orchestrator
	sched *scheduler.Scheduler
}

func NewJobsHandler(s store.Store, o *orchestrator.Orchestrator, sc *scheduler.Scheduler) *JobsHandler {
	return &JobsHandler{store: s, orch: o, sched: sc}
}

type CreateJobRequest struct {
	CronExpr        string `json:"cron_expr"`
	Mode            string `json:"mode,omitempty"`
	Project         string `json:"project"`
	ConfigurationID string `json:"configuration_id"`
}

func (h *JobsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.CronExpr == "" || req.Project == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cron_expr and project required"})
		return
	}
	cfgID, err := uuid.Parse(req.ConfigurationID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid configuration_id"})
		return
	}

	job, err := h.orch.Schedule(r.Context(), &store.ScoringRequest{
		ID:              uuid.New(),
		Mode:            store.Mode(req.Mode),
		Project:         req.Project,
		ConfigurationID: cfgID,
		CronExpr:        req.CronExpr,
	})
	if err != nil {
		writeSchedulingError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	var status *store.JobStatus
	if s := r.URL.Query().Get("status"); s != "" {
		js := store.JobStatus(s)
		status = &js
	}
	jobs, err := h.store.ListScheduledJobs(r.Context(), status)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if jobs == nil {
		jobs = []*store.ScheduledJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid job id"})
		return
	}
	job, err := h.store.GetScheduledJob(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobsHandler) Pause(w http.ResponseWriter, r *http.Request) {
	// The orchestrator also pauses the job's not-yet-dispatched workflows.
	h.setStatus(w, r, h.orch.PauseJob)
}

func (h *JobsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.orch.ResumeJob)
}

func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.sched.CancelJob)
}

func (h *JobsHandler) setStatus(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid job id"})
		return
	}
	if err := op(r.Context(), id); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	job, err := h.store.GetScheduledJob(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// DeadLetters lists jobs paused after exhausting their failure budget.
func (h *JobsHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.DeadLetters())
}
