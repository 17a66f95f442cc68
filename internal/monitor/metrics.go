package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// promMetrics holds the Prometheus view of the engine. The in-memory time
// series in Monitor is the queryable store; these are the scrape surface.
type promMetrics struct {
	operationsStarted   *prometheus.CounterVec
	operationsCompleted *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	itemsScored         prometheus.Counter
	itemsFailed         prometheus.Counter
	queueDepth          prometheus.Gauge
	activeWorkflows     prometheus.Gauge
	alertsFired         prometheus.Counter
}

func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	auto := promauto.With(reg)
	return &promMetrics{
		operationsStarted: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prioritizer",
			Name:      "operations_started_total",
			Help:      "Tracked operations started, by operation name",
		}, []string{"operation"}),
		operationsCompleted: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prioritizer",
			Name:      "operations_completed_total",
			Help:      "Tracked operations completed, by operation name and outcome",
		}, []string{"operation", "outcome"}),
		operationDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "prioritizer",
			Name:      "operation_duration_seconds",
			Help:      "Tracked operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		itemsScored: auto.NewCounter(prometheus.CounterOpts{
			Namespace: "prioritizer",
			Name:      "items_scored_total",
			Help:      "Work items scored successfully",
		}),
		itemsFailed: auto.NewCounter(prometheus.CounterOpts{
			Namespace: "prioritizer",
			Name:      "items_failed_total",
			Help:      "Work items that failed scoring",
		}),
		queueDepth: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: "prioritizer",
			Name:      "queue_depth",
			Help:      "Requests waiting in the scheduler queue",
		}),
		activeWorkflows: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: "prioritizer",
			Name:      "active_workflows",
			Help:      "Workflows currently running",
		}),
		alertsFired: auto.NewCounter(prometheus.CounterOpts{
			Namespace: "prioritizer",
			Name:      "alerts_fired_total",
			Help:      "Alert rules that transitioned to firing",
		}),
	}
}
