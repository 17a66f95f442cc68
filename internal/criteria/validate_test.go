package criteria

import (
	"math"
	"testing"
)

func weightsFromList(v [5]float64) CategoryWeights {
	return CategoryWeights{
		BusinessValue:            v[0],
		StrategicAlignment:       v[1],
		CustomerValue:            v[2],
		ImplementationComplexity: v[3],
		RiskAssessment:           v[4],
	}
}

func TestValidateAcceptsBalancedWeights(t *testing.T) {
	cfg := testConfig()
	cfg.CategoryWeights = weightsFromList([5]float64{0.30, 0.25, 0.20, 0.15, 0.10})

	res := Validate(cfg)
	if !res.IsValid {
		t.Fatalf("expected valid, issues: %v", res.Issues)
	}
	if res.NormalizedWeights != nil {
		t.Error("no normalization suggestion expected for valid weights")
	}
}

func TestValidateSuggestsNormalizedWeights(t *testing.T) {
	cfg := testConfig()
	cfg.CategoryWeights = weightsFromList([5]float64{0.5, 0.5, 0.2, 0.15, 0.15})

	res := Validate(cfg)
	if res.IsValid {
		t.Fatal("expected invalid for weights summing to 1.5")
	}
	if res.NormalizedWeights == nil {
		t.Fatal("expected normalized_weights suggestion")
	}
	if math.Abs(res.NormalizedWeights.Sum()-1.0) > weightTolerance {
		t.Errorf("suggested weights sum to %f, want 1.0", res.NormalizedWeights.Sum())
	}
	// Input ratio business/customer = 0.5/0.2 must survive normalization.
	ratio := res.NormalizedWeights.BusinessValue / res.NormalizedWeights.CustomerValue
	if math.Abs(ratio-2.5) > 1e-9 {
		t.Errorf("suggestion broke ratios: got %f, want 2.5", ratio)
	}
	if len(res.Suggestions) == 0 {
		t.Error("expected a suggestion describing the rescale")
	}
}

func TestValidateFlagsEmptyWeightedCategory(t *testing.T) {
	cfg := testConfig()
	for i := range cfg.Criteria {
		if cfg.Criteria[i].Category == CategoryCustomerValue {
			cfg.Criteria[i].Active = false
		}
	}
	res := Validate(cfg)
	if res.IsValid {
		t.Error("expected invalid when a weighted category has no active criteria")
	}
}

func TestConsistencyRatioIdentity(t *testing.T) {
	// Perfectly consistent matrix: all comparisons transitive.
	m := [][]float64{
		{1, 2, 4},
		{0.5, 1, 2},
		{0.25, 0.5, 1},
	}
	cr, err := ConsistencyRatio(m)
	if err != nil {
		t.Fatalf("consistency ratio: %v", err)
	}
	if cr > 0.001 {
		t.Errorf("consistent matrix scored CR %f, want ~0", cr)
	}
}

func TestConsistencyRatioInconsistent(t *testing.T) {
	// a>b, b>c, but c>a: strongly intransitive.
	m := [][]float64{
		{1, 3, 1.0 / 5.0},
		{1.0 / 3.0, 1, 3},
		{5, 1.0 / 3.0, 1},
	}
	cr, err := ConsistencyRatio(m)
	if err != nil {
		t.Fatalf("consistency ratio: %v", err)
	}
	if cr < 0.10 {
		t.Errorf("intransitive matrix scored CR %f, want > 0.10", cr)
	}
}

func TestConsistencyRatioRejectsBadMatrix(t *testing.T) {
	tests := []struct {
		name string
		m    [][]float64
	}{
		{"ragged", [][]float64{{1, 2}, {0.5}}},
		{"nonpositive", [][]float64{{1, 0}, {2, 1}}},
		{"too small", [][]float64{{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ConsistencyRatio(tt.m); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestValidateInconsistentComparisons(t *testing.T) {
	cfg := testConfig()
	cfg.Comparisons = [][]float64{
		{1, 3, 0.2, 1, 1},
		{1.0 / 3.0, 1, 3, 1, 1},
		{5, 1.0 / 3.0, 1, 1, 1},
		{1, 1, 1, 1, 1},
		{1, 1, 1, 1, 1},
	}
	res := Validate(cfg)
	if res.IsValid {
		t.Fatal("expected invalid for inconsistent comparisons")
	}
	if res.ConsistencyRatio == nil {
		t.Fatal("expected consistency ratio reported")
	}
	if len(res.Suggestions) == 0 {
		t.Error("expected a suggestion naming comparisons to revise")
	}
}
