package scoring

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/apexboard/prioritizer/internal/criteria"
	"github.com/apexboard/prioritizer/internal/finance"
	"github.com/apexboard/prioritizer/internal/semantic"
	"github.com/apexboard/prioritizer/internal/store"
)

// Engine composes the criteria engine, the financial calculator, and the
// semantic analyzer into one composite score per work item.
type Engine struct {
	analyzer *semantic.Policy
	logger   *slog.Logger
}

func NewEngine(analyzer *semantic.Policy, logger *slog.Logger) *Engine {
	return &Engine{analyzer: analyzer, logger: logger}
}

// Run is a per-configuration scoring session. Compiling it validates the
// configuration up front, so a bad model fails before any workflow starts.
type Run struct {
	cfg         *criteria.Configuration
	criteriaEng *criteria.Engine
	calc        *finance.Calculator
	analyzer    *semantic.Policy
	logger      *slog.Logger
}

// NewRun compiles a session for one immutable configuration version.
func (e *Engine) NewRun(cfg *criteria.Configuration) (*Run, error) {
	criteriaEng, err := criteria.NewEngine(cfg, e.logger)
	if err != nil {
		return nil, err
	}
	var calc *finance.Calculator
	if cfg.Financial.Enabled {
		calc = finance.NewCalculator(cfg.Financial.TimeHorizonYears, cfg.Financial.Sensitivity)
	}
	return &Run{
		cfg:         cfg,
		criteriaEng: criteriaEng,
		calc:        calc,
		analyzer:    e.analyzer,
		logger:      e.logger,
	}, nil
}

// Stats computes batch statistics once per item set for the normalization
// methods that need them.
func (r *Run) Stats(items []*store.WorkItem) *criteria.BatchStats {
	attrs := make([]map[string]interface{}, len(items))
	for i, item := range items {
		attrs[i] = item.Attributes
	}
	return criteria.ComputeBatchStats(attrs, r.cfg)
}

// ScoreItem produces the composite result for one work item.
//
// The blend weights cover whichever components actually produced output:
// a financial ComputationError or a disabled semantic path drops that
// component and renormalizes over the rest, reducing confidence instead of
// failing the item. Only a criteria ValidationError fails the item.
func (r *Run) ScoreItem(ctx context.Context, item *store.WorkItem, stats *criteria.BatchStats) (*store.ScoreResult, error) {
	itemScore, err := r.criteriaEng.Score(item.ID.String(), item.Attributes, stats)
	if err != nil {
		return nil, err
	}

	result := &store.ScoreResult{
		WorkItemID:        item.ID,
		CriteriaBreakdown: itemScore.Breakdown,
		ScoredAt:          time.Now().UTC(),
	}

	weights := r.integrationWeights()
	type component struct {
		weight     float64
		score      float64
		confidence float64
	}
	components := []component{{weights.Criteria, itemScore.Total, itemScore.Confidence}}

	if r.calc != nil && weights.Financial > 0 {
		metrics, ok := financialMetrics(item.Attributes, r.cfg.Financial.DiscountRate)
		if ok {
			finRes, err := r.calc.Calculate(metrics)
			var comp *finance.ComputationError
			switch {
			case err == nil:
				result.FinancialBreakdown = finRes
				components = append(components, component{weights.Financial, finRes.FinancialScore, 1.0})
			case errors.As(err, &comp):
				// Financial math domain error downgrades only this component.
				r.logger.Debug("financial component downgraded", "work_item_id", item.ID, "error", err)
				components = append(components, component{weights.Financial, 0, 0})
			default:
				return nil, err
			}
		} else {
			components = append(components, component{weights.Financial, 0, 0})
		}
	}

	if r.analyzer != nil && weights.Semantic > 0 {
		sem := r.analyzer.Analyze(ctx, item.Title+"\n"+item.Description)
		result.Insights = sem.Insights
		result.UsedAI = sem.UsedAI
		components = append(components, component{weights.Semantic, sem.Score, sem.Confidence})
	}

	var weightedScore, weightedConfidence, usedWeight float64
	for _, c := range components {
		if c.confidence <= 0 {
			// Component produced nothing usable; its weight still counts
			// against confidence but not the score.
			continue
		}
		weightedScore += c.score * c.weight
		weightedConfidence += c.confidence * c.weight
		usedWeight += c.weight
	}
	if usedWeight > 0 {
		result.CompositeScore = clamp01(weightedScore / usedWeight)
	}
	var totalWeight float64
	for _, c := range components {
		totalWeight += c.weight
	}
	if totalWeight > 0 {
		result.Confidence = clamp01(weightedConfidence / totalWeight)
	}

	result.Tier = DeriveTier(result.CompositeScore, r.cfg.Tiers)
	return result, nil
}

func (r *Run) integrationWeights() criteria.IntegrationWeights {
	w := r.cfg.Integration
	if w.Criteria+w.Financial+w.Semantic <= 0 {
		return criteria.IntegrationWeights{Criteria: 1}
	}
	return w
}

// DeriveTier buckets a composite score using the configuration's thresholds.
func DeriveTier(score float64, t criteria.TierThresholds) store.Tier {
	high, medium := t.High, t.Medium
	if high <= 0 {
		high = 0.7
	}
	if medium <= 0 {
		medium = 0.4
	}
	switch {
	case score >= high:
		return store.TierHigh
	case score >= medium:
		return store.TierMedium
	default:
		return store.TierLow
	}
}

// financialMetrics pulls the financial inputs off the item's attribute map.
// Returns false when the item carries no financial data at all.
func financialMetrics(attrs map[string]interface{}, defaultRate float64) (finance.Metrics, bool) {
	m := finance.Metrics{DiscountRate: defaultRate, RiskLevel: finance.RiskMedium}
	found := false

	if v, ok := numeric(attrs["initial_investment"]); ok {
		m.InitialInvestment = v
		found = true
	}
	if raw, ok := attrs["cash_flows"].([]interface{}); ok {
		for _, f := range raw {
			if v, ok := numeric(f); ok {
				m.CashFlows = append(m.CashFlows, v)
			}
		}
		if len(m.CashFlows) > 0 {
			found = true
		}
	} else if flows, ok := attrs["cash_flows"].([]float64); ok {
		m.CashFlows = flows
		found = true
	}
	if v, ok := numeric(attrs["discount_rate"]); ok {
		m.DiscountRate = v
	}
	if v, ok := attrs["risk_level"].(string); ok {
		m.RiskLevel = finance.RiskLevel(v)
	}
	if v, ok := numeric(attrs["expected_failure_cost"]); ok {
		m.ExpectedFailureCost = v
	}
	return m, found
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
