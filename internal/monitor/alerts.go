package monitor

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// AlertOp compares a series aggregate against a threshold.
type AlertOp string

const (
	OpGreaterThan AlertOp = "gt"
	OpLessThan    AlertOp = "lt"
)

// AlertRule fires when a series aggregate crosses its threshold. A rule
// fires at most once per breach: while the condition holds the existing
// alert stays active, and a new one fires only after the condition clears.
type AlertRule struct {
	Name      string        `json:"name"`
	Metric    string        `json:"metric"`
	Aggregate string        `json:"aggregate"` // mean, max, p95, count
	Op        AlertOp       `json:"op"`
	Threshold float64       `json:"threshold"`
	Severity  string        `json:"severity"` // info, warning, critical
	Window    time.Duration `json:"window"`
}

// Alert is one firing of a rule.
type Alert struct {
	ID             uuid.UUID  `json:"id"`
	Rule           string     `json:"rule"`
	Severity       string     `json:"severity"`
	Metric         string     `json:"metric"`
	Value          float64    `json:"value"`
	Threshold      float64    `json:"threshold"`
	FiredAt        time.Time  `json:"fired_at"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

// Notifier receives alerts as they fire.
type Notifier func(Alert)

// AddRule registers a rule. Rules are evaluated on the compaction tick.
func (m *Monitor) AddRule(rule AlertRule) {
	if rule.Window <= 0 {
		rule.Window = 5 * time.Minute
	}
	if rule.Aggregate == "" {
		rule.Aggregate = "mean"
	}
	if rule.Severity == "" {
		rule.Severity = "warning"
	}
	m.mu.Lock()
	m.rules = append(m.rules, rule)
	m.mu.Unlock()
}

// Notify sets the callback invoked on each new firing.
func (m *Monitor) Notify(fn Notifier) {
	m.mu.Lock()
	m.notifier = fn
	m.mu.Unlock()
}

// Alerts returns active and acknowledged alerts, newest first.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Acknowledge marks an alert handled. Returns false for an unknown ID.
func (m *Monitor) Acknowledge(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID == id && !a.Acknowledged {
			now := time.Now().UTC()
			a.Acknowledged = true
			a.AcknowledgedAt = &now
			return true
		}
	}
	return false
}

func (m *Monitor) evaluateRules() {
	m.mu.Lock()
	rules := make([]AlertRule, len(m.rules))
	copy(rules, m.rules)
	notifier := m.notifier
	m.mu.Unlock()

	for _, rule := range rules {
		stats := m.Stats(rule.Metric, rule.Window)
		value := aggregateValue(stats, rule.Aggregate)
		breached := stats.Count > 0 && compare(rule.Op, value, rule.Threshold)

		m.mu.Lock()
		existing := m.alerts[rule.Name]
		switch {
		case breached && existing == nil:
			alert := &Alert{
				ID:        uuid.New(),
				Rule:      rule.Name,
				Severity:  rule.Severity,
				Metric:    rule.Metric,
				Value:     value,
				Threshold: rule.Threshold,
				FiredAt:   time.Now().UTC(),
			}
			m.alerts[rule.Name] = alert
			m.metrics.alertsFired.Inc()
			m.mu.Unlock()
			m.logger.Warn("alert fired", "rule", rule.Name, "severity", rule.Severity, "metric", rule.Metric, "value", value, "threshold", rule.Threshold)
			if notifier != nil {
				notifier(*alert)
			}
		case !breached && existing != nil && existing.Acknowledged:
			// Condition cleared and a human saw it; the rule can fire again.
			delete(m.alerts, rule.Name)
			m.mu.Unlock()
		default:
			m.mu.Unlock()
		}
	}
}

func aggregateValue(stats SeriesStats, agg string) float64 {
	switch agg {
	case "max":
		return stats.Max
	case "p95":
		return stats.P95
	case "count":
		return float64(stats.Count)
	default:
		return stats.Mean
	}
}

func compare(op AlertOp, value, threshold float64) bool {
	if op == OpLessThan {
		return value < threshold
	}
	return value > threshold
}
