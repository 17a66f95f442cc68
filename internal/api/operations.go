package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/apexboard/prioritizer/internal/monitor"
)

type OperationsHandler struct {
	mon *monitor.Monitor
}

func NewOperationsHandler(m *monitor.Monitor) *OperationsHandler {
	return &OperationsHandler{mon: m}
}

// Metrics returns aggregated stats for tracked series. A name query
// narrows to one series; window defaults to 15 minutes.
func (h *OperationsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	window := 15 * time.Minute
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid window duration"})
			return
		}
		window = d
	}

	if name := r.URL.Query().Get("name"); name != "" {
		writeJSON(w, http.StatusOK, h.mon.Stats(name, window))
		return
	}

	names := h.mon.SeriesNames()
	out := make([]monitor.SeriesStats, 0, len(names))
	for _, name := range names {
		out = append(out, h.mon.Stats(name, window))
	}
	writeJSON(w, http.StatusOK, out)
}

// Active lists in-flight tracked operations, oldest first.
func (h *OperationsHandler) Active(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mon.ActiveOperations())
}

func (h *OperationsHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mon.Alerts())
}

func (h *OperationsHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid alert id"})
		return
	}
	if !h.mon.Acknowledge(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "alert not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}
