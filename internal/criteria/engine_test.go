package criteria

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/google/uuid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *Configuration {
	return &Configuration{
		ID:      uuid.New(),
		Name:    "default",
		Version: 1,
		Criteria: []Criterion{
			{ID: "revenue", Category: CategoryBusinessValue, Weight: 1.0, DataSource: "revenue_impact", Normalization: NormMinMax, Shape: ShapeLinear, Direction: HigherIsBetter, Active: true},
			{ID: "okr", Category: CategoryStrategicAlignment, Weight: 1.0, DataSource: "okr_alignment", Normalization: NormNone, Shape: ShapeLinear, Direction: HigherIsBetter, Active: true},
			{ID: "nps", Category: CategoryCustomerValue, Weight: 1.0, DataSource: "customer_requests", Normalization: NormPercentile, Shape: ShapeLogarithmic, Direction: HigherIsBetter, Active: true},
			{ID: "effort", Category: CategoryImplementationComplexity, Weight: 1.0, DataSource: "story_points", Normalization: NormMinMax, Shape: ShapeLinear, Direction: LowerIsBetter, Active: true},
			{ID: "risk", Category: CategoryRiskAssessment, Weight: 1.0, DataSource: "risk_level", Normalization: NormNone, Shape: ShapeLinear, Direction: LowerIsBetter, Active: true},
		},
		CategoryWeights:      DefaultCategoryWeights(),
		ConsistencyThreshold: 0.10,
		Tiers:                TierThresholds{High: 0.7, Medium: 0.4},
	}
}

func testItems() []map[string]interface{} {
	return []map[string]interface{}{
		{"revenue_impact": 10000.0, "okr_alignment": 0.9, "customer_requests": 42.0, "story_points": 3.0, "risk_level": 0.2},
		{"revenue_impact": 500.0, "okr_alignment": 0.2, "customer_requests": 3.0, "story_points": 13.0, "risk_level": 0.8},
		{"revenue_impact": 4000.0, "okr_alignment": 0.5, "customer_requests": 17.0, "story_points": 8.0, "risk_level": 0.5},
	}
}

func TestDefaultCategoryWeightsValid(t *testing.T) {
	w := DefaultCategoryWeights()
	if err := w.Validate(); err != nil {
		t.Errorf("default weights invalid: %v", err)
	}
	if math.Abs(w.Sum()-1.0) > weightTolerance {
		t.Errorf("default weights sum to %f, expected 1.0", w.Sum())
	}
}

func TestNormalizePreservesRatios(t *testing.T) {
	w := CategoryWeights{
		BusinessValue:            0.5,
		StrategicAlignment:       0.5,
		CustomerValue:            0.2,
		ImplementationComplexity: 0.15,
		RiskAssessment:           0.15,
	}
	normalized, err := w.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if math.Abs(normalized.Sum()-1.0) > weightTolerance {
		t.Errorf("normalized sum = %f, expected 1.0", normalized.Sum())
	}
	// Ratios preserved: business/customer was 0.5/0.2 = 2.5.
	ratio := normalized.BusinessValue / normalized.CustomerValue
	if math.Abs(ratio-2.5) > 1e-9 {
		t.Errorf("ratio not preserved: got %f, want 2.5", ratio)
	}
}

func TestNormalizeZeroSum(t *testing.T) {
	if _, err := (CategoryWeights{}).Normalize(); err == nil {
		t.Error("expected error normalizing zero weights")
	}
}

func TestScoreWithinBounds(t *testing.T) {
	cfg := testConfig()
	eng, err := NewEngine(cfg, discardLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	items := testItems()
	stats := ComputeBatchStats(items, cfg)

	for i, attrs := range items {
		score, err := eng.Score("item", attrs, stats)
		if err != nil {
			t.Fatalf("score item %d: %v", i, err)
		}
		if score.Total < 0 || score.Total > 1 {
			t.Errorf("item %d total %f out of [0,1]", i, score.Total)
		}
		if score.Confidence != 1.0 {
			t.Errorf("item %d with full data: confidence %f, want 1.0", i, score.Confidence)
		}
		if len(score.Breakdown) != 5 {
			t.Errorf("item %d: %d breakdown entries, want 5", i, len(score.Breakdown))
		}
	}
}

func TestScoreSkipsMissingOptionalCriterion(t *testing.T) {
	cfg := testConfig()
	cfg.RequireAllCriteria = false
	eng, err := NewEngine(cfg, discardLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	items := testItems()
	attrs := map[string]interface{}{
		// customer_requests missing
		"revenue_impact": 4000.0, "okr_alignment": 0.5, "story_points": 8.0, "risk_level": 0.5,
	}
	stats := ComputeBatchStats(items, cfg)

	score, err := eng.Score("item", attrs, stats)
	if err != nil {
		t.Fatalf("expected item scored, got %v", err)
	}
	if score.Total < 0 || score.Total > 1 {
		t.Errorf("total %f out of [0,1]", score.Total)
	}
	cs := score.Breakdown["nps"]
	if !cs.Skipped {
		t.Error("expected nps criterion skipped")
	}
	if cs.Weighted != 0 {
		t.Errorf("skipped criterion weighted %f, want 0", cs.Weighted)
	}
	// Confidence reduced by exactly the skipped global weight share (0.20).
	want := 1.0 - 0.20
	if math.Abs(score.Confidence-want) > 1e-9 {
		t.Errorf("confidence %f, want %f", score.Confidence, want)
	}
}

func TestScoreRequireAllCriteria(t *testing.T) {
	cfg := testConfig()
	cfg.RequireAllCriteria = true
	eng, err := NewEngine(cfg, discardLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	_, err = eng.Score("wi-1", map[string]interface{}{"revenue_impact": 100.0}, nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.WorkItemID != "wi-1" {
		t.Errorf("error carries item %q, want wi-1", verr.WorkItemID)
	}
}

func TestScoreDeterministic(t *testing.T) {
	cfg := testConfig()
	eng, _ := NewEngine(cfg, discardLogger())
	items := testItems()
	stats := ComputeBatchStats(items, cfg)

	first, err := eng.Score("item", items[0], stats)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := eng.Score("item", items[0], stats)
		if err != nil {
			t.Fatal(err)
		}
		if again.Total != first.Total {
			t.Fatalf("run %d: total %f != %f", i, again.Total, first.Total)
		}
	}
}

func TestConfidenceFactorScalesConfidence(t *testing.T) {
	cfg := testConfig()
	// revenue (business_value, global weight 0.30) from a half-trusted source.
	cfg.Criteria[0].ConfidenceFactor = 0.5
	eng, err := NewEngine(cfg, discardLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	items := testItems()
	stats := ComputeBatchStats(items, cfg)

	score, err := eng.Score("item", items[0], stats)
	if err != nil {
		t.Fatal(err)
	}
	if score.Breakdown["revenue"].Skipped {
		t.Fatal("half-trusted criterion must still score")
	}
	// Full data, but revenue contributes 0.30*0.5 instead of 0.30.
	want := 1.0 - 0.30*0.5
	if math.Abs(score.Confidence-want) > 1e-9 {
		t.Errorf("confidence %f, want %f", score.Confidence, want)
	}
}

func TestDataQualityThresholdSkipsCriterion(t *testing.T) {
	cfg := testConfig()
	cfg.Criteria[0].ConfidenceFactor = 0.3
	cfg.Criteria[0].DataQualityThreshold = 0.5
	eng, err := NewEngine(cfg, discardLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	items := testItems()
	stats := ComputeBatchStats(items, cfg)

	score, err := eng.Score("item", items[0], stats)
	if err != nil {
		t.Fatal(err)
	}
	cs := score.Breakdown["revenue"]
	if !cs.Skipped {
		t.Fatal("criterion below its quality threshold must be skipped")
	}
	if cs.Weighted != 0 {
		t.Errorf("skipped criterion weighted %f, want 0", cs.Weighted)
	}
	// Confidence loses the skipped criterion's full global weight (0.30).
	want := 1.0 - 0.30
	if math.Abs(score.Confidence-want) > 1e-9 {
		t.Errorf("confidence %f, want %f", score.Confidence, want)
	}
}

func TestNewEngineRejectsEmptyCategory(t *testing.T) {
	cfg := testConfig()
	// Deactivate the only risk criterion while its category keeps weight.
	for i := range cfg.Criteria {
		if cfg.Criteria[i].Category == CategoryRiskAssessment {
			cfg.Criteria[i].Active = false
		}
	}
	_, err := NewEngine(cfg, discardLogger())
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestNewEngineRejectsBadDataSource(t *testing.T) {
	cfg := testConfig()
	cfg.Criteria[0].DataSource = ""
	if _, err := NewEngine(cfg, discardLogger()); err == nil {
		t.Error("expected error for empty data_source")
	}
}

func TestShapesPreserveBounds(t *testing.T) {
	shapes := []CurveShape{ShapeLinear, ShapeLogarithmic, ShapeExponential, ShapeStep}
	for _, shape := range shapes {
		prev := -1.0
		for x := 0.0; x <= 1.0; x += 0.05 {
			y := applyShape(x, shape)
			if y < 0 || y > 1 {
				t.Errorf("shape %s at %f: %f out of [0,1]", shape, x, y)
			}
			if y < prev {
				t.Errorf("shape %s not monotonic at %f", shape, x)
			}
			prev = y
		}
		if applyShape(1.0, shape) != 1.0 {
			t.Errorf("shape %s at 1.0: %f, want 1.0", shape, applyShape(1.0, shape))
		}
	}
}

func TestZScoreNormalization(t *testing.T) {
	cfg := testConfig()
	cfg.Criteria[0].Normalization = NormZScore
	eng, _ := NewEngine(cfg, discardLogger())
	items := testItems()
	stats := ComputeBatchStats(items, cfg)

	score, err := eng.Score("item", items[0], stats)
	if err != nil {
		t.Fatal(err)
	}
	cs := score.Breakdown["revenue"]
	if cs.Normalized <= 0.5 {
		t.Errorf("max revenue should z-score above the mean, got %f", cs.Normalized)
	}
}
