package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/apexboard/prioritizer/internal/orchestrator"
	"github.com/apexboard/prioritizer/internal/store"
)

type WorkflowsHandler struct {
	store store.Store
	orch  *orchestrator.Orchestrator
}

func NewWorkflowsHandler(s store.Store, o *orchestrator.Orchestrator) *WorkflowsHandler {
	return &WorkflowsHandler{store: s, orch: o}
}

func (h *WorkflowsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := store.WorkflowFilter{Limit: 50}
	if s := r.URL.Query().Get("status"); s != "" {
		status := store.WorkflowStatus(s)
		filter.Status = &status
	}
	if m := r.URL.Query().Get("mode"); m != "" {
		mode := store.Mode(m)
		filter.Mode = &mode
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			filter.Limit = n
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	workflows, err := h.store.ListWorkflows(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if workflows == nil {
		workflows = []*store.Workflow{}
	}
	writeJSON(w, http.StatusOK, workflows)
}

func (h *WorkflowsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid workflow id"})
		return
	}
	wf, err := h.store.GetWorkflow(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "workflow not found"})
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (h *WorkflowsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid workflow id"})
		return
	}
	if err := h.orch.Cancel(r.Context(), id); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (h *WorkflowsHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.QueueStatus())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
