package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apexboard/prioritizer/internal/monitor"
	"github.com/apexboard/prioritizer/internal/orchestrator"
	"github.com/apexboard/prioritizer/internal/scheduler"
	"github.com/apexboard/prioritizer/internal/scoring"
	"github.com/apexboard/prioritizer/internal/store"
)

func NewRouter(s store.Store, orch *orchestrator.Orchestrator, sched *scheduler.Scheduler,
	engine *scoring.Engine, mon *monitor.Monitor, adminToken string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(120))

	configs := NewConfigsHandler(s, engine)
	scorings := NewScoringHandler(s, orch, engine)
	workflows := NewWorkflowsHandler(s, orch)
	jobs := NewJobsHandler(s, orch, sched)
	ops := NewOperationsHandler(mon)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/configurations", configs.Create)
		r.Get("/configurations", configs.List)
		r.Get("/configurations/{id}", configs.Get)
		r.Post("/configurations/validate", configs.Validate)

		r.Post("/scoring/requests", scorings.Submit)
		r.Get("/scoring/explain/{item_id}", scorings.Explain)

		r.Get("/workflows", workflows.List)
		r.Get("/workflows/{id}", workflows.Get)
		r.Post("/workflows/{id}/cancel", workflows.Cancel)
		r.Get("/queue", workflows.QueueStatus)

		r.Post("/jobs", jobs.Create)
		r.Get("/jobs", jobs.List)
		r.Get("/jobs/{id}", jobs.Get)
		r.Post("/jobs/{id}/pause", jobs.Pause)
		r.Post("/jobs/{id}/resume", jobs.Resume)
		r.Post("/jobs/{id}/cancel", jobs.Cancel)

		r.Get("/operations", ops.Active)
		r.Get("/operations/metrics", ops.Metrics)
		r.Get("/operations/alerts", ops.Alerts)

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(adminToken))
			r.Get("/jobs/deadletter", jobs.DeadLetters)
			r.Post("/operations/alerts/{id}/ack", ops.Acknowledge)
		})
	})

	return r
}

func NewMetricsRouter(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}
