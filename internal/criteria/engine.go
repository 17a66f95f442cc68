package criteria

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
)

// SourceStats holds per-data-source statistics computed across one batch.
type SourceStats struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
	Sorted []float64
	Count  int
}

// BatchStats maps data_source keys to their batch statistics. minmax, zscore,
// and percentile normalization all read from here.
type BatchStats struct {
	Sources map[string]SourceStats
}

// ComputeBatchStats scans every item's attributes once and derives the
// statistics each active criterion's normalization method needs.
func ComputeBatchStats(items []map[string]interface{}, cfg *Configuration) *BatchStats {
	stats := &BatchStats{Sources: make(map[string]SourceStats)}
	for _, cr := range cfg.ActiveCriteria() {
		if _, done := stats.Sources[cr.DataSource]; done {
			continue
		}
		var values []float64
		for _, attrs := range items {
			if v, ok := numericAttr(attrs, cr.DataSource); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		sort.Float64s(values)
		var sum float64
		for _, v := range values {
			sum += v
		}
		mean := sum / float64(len(values))
		var variance float64
		for _, v := range values {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(len(values))
		stats.Sources[cr.DataSource] = SourceStats{
			Min:    values[0],
			Max:    values[len(values)-1],
			Mean:   mean,
			StdDev: math.Sqrt(variance),
			Sorted: values,
			Count:  len(values),
		}
	}
	return stats
}

// CriterionScore is one criterion's contribution to an item's total.
type CriterionScore struct {
	CriterionID  string  `json:"criterion_id"`
	Raw          float64 `json:"raw"`
	Normalized   float64 `json:"normalized"`
	Shaped       float64 `json:"shaped"`
	GlobalWeight float64 `json:"global_weight"`
	Weighted     float64 `json:"weighted"`
	Skipped      bool    `json:"skipped"`
	Reason       string  `json:"reason,omitempty"`
}

// ItemScore is the criteria engine's output for one work item.
type ItemScore struct {
	Total      float64                   `json:"total"`
	Confidence float64                   `json:"confidence"`
	Breakdown  map[string]CriterionScore `json:"breakdown"`
}

// Engine applies a configuration's criteria to work-item attributes.
type Engine struct {
	accessors map[string]FieldAccessor
	cfg       *Configuration
	logger    *slog.Logger
}

// NewEngine compiles accessors for the configuration and verifies that every
// category carrying weight has at least one active criterion.
func NewEngine(cfg *Configuration, logger *slog.Logger) (*Engine, error) {
	active := make(map[Category]int)
	for _, cr := range cfg.ActiveCriteria() {
		active[cr.Category]++
	}
	for _, cat := range Categories {
		if cfg.CategoryWeights.Weight(cat) > 0 && active[cat] == 0 {
			return nil, &ConfigurationError{
				Msg: fmt.Sprintf("category %s has weight %.2f but no active criteria", cat, cfg.CategoryWeights.Weight(cat)),
			}
		}
	}
	accessors, err := BuildAccessors(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{accessors: accessors, cfg: cfg, logger: logger}, nil
}

// Score computes the normalized per-criterion breakdown for one item.
//
// Missing optional criteria are skipped with zero contribution and the total
// is renormalized by the sum of global weights actually used, so a skipped
// criterion reduces confidence without biasing the total. When
// RequireAllCriteria is set, a missing criterion fails the item instead.
// A criterion whose source confidence sits below its own data quality
// threshold is skipped even when the attribute is present.
func (e *Engine) Score(itemID string, attrs map[string]interface{}, stats *BatchStats) (*ItemScore, error) {
	breakdown := make(map[string]CriterionScore)
	var weightedSum, usedWeight, totalWeight, confWeight float64

	for _, cr := range e.cfg.ActiveCriteria() {
		gw := cr.GlobalWeight(e.cfg.CategoryWeights)
		totalWeight += gw

		cf := cr.ConfidenceFactor
		if cf <= 0 || cf > 1 {
			cf = 1
		}
		if cr.DataQualityThreshold > 0 && cf < cr.DataQualityThreshold {
			breakdown[cr.ID] = CriterionScore{
				CriterionID:  cr.ID,
				GlobalWeight: gw,
				Skipped:      true,
				Reason:       fmt.Sprintf("source confidence %.2f below data quality threshold %.2f", cf, cr.DataQualityThreshold),
			}
			continue
		}

		raw, ok := e.accessors[cr.ID](attrs)
		if !ok {
			if e.cfg.RequireAllCriteria {
				return nil, &ValidationError{
					WorkItemID: itemID,
					Msg:        fmt.Sprintf("missing required attribute %q for criterion %q", cr.DataSource, cr.ID),
				}
			}
			breakdown[cr.ID] = CriterionScore{
				CriterionID:  cr.ID,
				GlobalWeight: gw,
				Skipped:      true,
				Reason:       "attribute " + cr.DataSource + " missing",
			}
			continue
		}

		normalized := normalize(raw, cr, stats)
		if cr.Direction == LowerIsBetter {
			normalized = 1 - normalized
		}
		shaped := applyShape(normalized, cr.Shape)
		if cr.DiminishingReturns {
			shaped = math.Sqrt(shaped)
		}
		shaped = clamp(shaped, 0, 1)

		weightedSum += shaped * gw
		usedWeight += gw
		confWeight += gw * cf
		breakdown[cr.ID] = CriterionScore{
			CriterionID:  cr.ID,
			Raw:          raw,
			Normalized:   normalized,
			Shaped:       shaped,
			GlobalWeight: gw,
			Weighted:     shaped * gw,
		}
	}

	score := &ItemScore{Breakdown: breakdown, Confidence: 1.0}
	if usedWeight > 0 {
		score.Total = clamp(weightedSum/usedWeight, 0, 1)
	}
	if totalWeight > 0 {
		// Skipped criteria contribute nothing; scored criteria contribute
		// their weight scaled by the source's confidence factor.
		score.Confidence = clamp(confWeight/totalWeight, 0, 1)
	}

	if e.cfg.MinDataQuality > 0 && score.Confidence < e.cfg.MinDataQuality {
		return nil, &ValidationError{
			WorkItemID: itemID,
			Msg: fmt.Sprintf("data quality %.3f below minimum %.3f",
				score.Confidence, e.cfg.MinDataQuality),
		}
	}
	return score, nil
}

func normalize(raw float64, cr Criterion, stats *BatchStats) float64 {
	switch cr.Normalization {
	case NormMinMax:
		min, max, ok := minMaxBounds(cr, stats)
		if !ok || max == min {
			return 0.5
		}
		return clamp((raw-min)/(max-min), 0, 1)
	case NormZScore:
		s, ok := sourceStats(cr, stats)
		if !ok || s.StdDev == 0 {
			return 0.5
		}
		z := (raw - s.Mean) / s.StdDev
		// Map ±3σ onto [0,1].
		return clamp((z+3)/6, 0, 1)
	case NormPercentile:
		s, ok := sourceStats(cr, stats)
		if !ok || s.Count == 0 {
			return 0.5
		}
		rank := sort.SearchFloat64s(s.Sorted, raw+1e-12)
		return clamp(float64(rank)/float64(s.Count), 0, 1)
	default: // NormNone
		return clamp(raw, 0, 1)
	}
}

func minMaxBounds(cr Criterion, stats *BatchStats) (float64, float64, bool) {
	if cr.MinValue != nil && cr.MaxValue != nil {
		return *cr.MinValue, *cr.MaxValue, true
	}
	s, ok := sourceStats(cr, stats)
	if !ok {
		return 0, 0, false
	}
	return s.Min, s.Max, true
}

func sourceStats(cr Criterion, stats *BatchStats) (SourceStats, bool) {
	if stats == nil {
		return SourceStats{}, false
	}
	s, ok := stats.Sources[cr.DataSource]
	return s, ok
}

// applyShape maps a [0,1] value through the criterion's scoring curve. All
// shapes are monotonic and preserve the [0,1] bounds.
func applyShape(x float64, shape CurveShape) float64 {
	switch shape {
	case ShapeLogarithmic:
		return math.Log1p(9*x) / math.Log(10)
	case ShapeExponential:
		const k = 3.0
		return (math.Exp(k*x) - 1) / (math.Exp(k) - 1)
	case ShapeStep:
		switch {
		case x < 0.25:
			return 0
		case x < 0.5:
			return 1.0 / 3.0
		case x < 0.75:
			return 2.0 / 3.0
		default:
			return 1
		}
	default: // ShapeLinear
		return x
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
