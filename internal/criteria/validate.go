package criteria

import (
	"fmt"
	"math"
)

// ValidationResult reports whether a configuration is usable, what is wrong
// with it, and how to fix it. NormalizedWeights is populated whenever the
// category weights do not sum to 1.0 but can be rescaled.
type ValidationResult struct {
	IsValid           bool             `json:"is_valid"`
	Issues            []string         `json:"issues,omitempty"`
	Suggestions       []string         `json:"suggestions,omitempty"`
	NormalizedWeights *CategoryWeights `json:"normalized_weights,omitempty"`
	ConsistencyRatio  *float64         `json:"consistency_ratio,omitempty"`
}

// Validate checks a configuration without side effects: category weight sum,
// per-category criterion weights, category coverage, and — when a pairwise
// comparison matrix is supplied — the AHP consistency ratio.
func Validate(cfg *Configuration) *ValidationResult {
	res := &ValidationResult{IsValid: true}

	if err := cfg.CategoryWeights.Validate(); err != nil {
		res.IsValid = false
		res.Issues = append(res.Issues, err.Error())
		if normalized, nerr := cfg.CategoryWeights.Normalize(); nerr == nil {
			res.NormalizedWeights = &normalized
			res.Suggestions = append(res.Suggestions,
				fmt.Sprintf("rescale category weights proportionally (sum %.4f -> 1.0)", cfg.CategoryWeights.Sum()))
		}
	}

	active := make(map[Category]int)
	catWeightSum := make(map[Category]float64)
	for _, cr := range cfg.Criteria {
		if cr.Weight < 0 {
			res.IsValid = false
			res.Issues = append(res.Issues, fmt.Sprintf("criterion %q has negative weight %.4f", cr.ID, cr.Weight))
		}
		if !cr.Active {
			continue
		}
		active[cr.Category]++
		catWeightSum[cr.Category] += cr.Weight
	}
	for _, cat := range Categories {
		cw := cfg.CategoryWeights.Weight(cat)
		if cw > 0 && active[cat] == 0 {
			res.IsValid = false
			res.Issues = append(res.Issues,
				fmt.Sprintf("category %s has weight %.2f but no active criteria", cat, cw))
			res.Suggestions = append(res.Suggestions,
				fmt.Sprintf("activate a criterion in %s or set its weight to zero", cat))
		}
		if n := active[cat]; n > 0 && math.Abs(catWeightSum[cat]-1.0) > 0.001 {
			res.Issues = append(res.Issues,
				fmt.Sprintf("criterion weights in %s sum to %.4f, expected 1.0", cat, catWeightSum[cat]))
			res.Suggestions = append(res.Suggestions,
				fmt.Sprintf("rescale the %d criteria in %s proportionally", n, cat))
		}
	}

	if len(cfg.Comparisons) > 0 {
		cr, err := ConsistencyRatio(cfg.Comparisons)
		if err != nil {
			res.IsValid = false
			res.Issues = append(res.Issues, err.Error())
		} else {
			res.ConsistencyRatio = &cr
			threshold := cfg.ConsistencyThreshold
			if threshold <= 0 {
				threshold = 0.10
			}
			if cr > threshold {
				res.IsValid = false
				res.Issues = append(res.Issues,
					fmt.Sprintf("pairwise comparisons are inconsistent: ratio %.4f exceeds threshold %.2f", cr, threshold))
				i, j := worstComparison(cfg.Comparisons)
				res.Suggestions = append(res.Suggestions,
					fmt.Sprintf("revise the %s vs %s comparison (largest deviation from transitivity)", Categories[i], Categories[j]))
			}
		}
	}

	return res
}

// Saaty random consistency index, indexed by matrix size.
var randomIndex = []float64{0, 0, 0, 0.58, 0.90, 1.12, 1.24, 1.32, 1.41, 1.45}

// ConsistencyRatio computes the AHP consistency ratio of a pairwise
// comparison matrix using the geometric-mean approximation of the principal
// eigenvector: row geometric means give the priority vector, then
// λmax ≈ mean of (A·w)i/wi and CR = ((λmax−n)/(n−1))/RI.
func ConsistencyRatio(m [][]float64) (float64, error) {
	n := len(m)
	if n < 2 {
		return 0, fmt.Errorf("comparison matrix must be at least 2x2, got %d rows", n)
	}
	for i, row := range m {
		if len(row) != n {
			return 0, fmt.Errorf("comparison matrix row %d has %d columns, expected %d", i, len(row), n)
		}
		for j, v := range row {
			if v <= 0 {
				return 0, fmt.Errorf("comparison matrix entry [%d][%d] must be positive, got %f", i, j, v)
			}
		}
	}
	if n >= len(randomIndex) {
		return 0, fmt.Errorf("comparison matrix size %d exceeds supported maximum %d", n, len(randomIndex)-1)
	}

	// Priority vector from row geometric means.
	w := make([]float64, n)
	var wSum float64
	for i := range m {
		prod := 1.0
		for _, v := range m[i] {
			prod *= v
		}
		w[i] = math.Pow(prod, 1.0/float64(n))
		wSum += w[i]
	}
	for i := range w {
		w[i] /= wSum
	}

	var lambda float64
	for i := range m {
		var row float64
		for j := range m[i] {
			row += m[i][j] * w[j]
		}
		lambda += row / w[i]
	}
	lambda /= float64(n)

	ci := (lambda - float64(n)) / float64(n-1)
	ri := randomIndex[n]
	if ri == 0 {
		return 0, nil
	}
	return ci / ri, nil
}

// worstComparison finds the cell that deviates most from transitive
// consistency, i.e. where a[i][j] disagrees most with a[i][k]*a[k][j].
func worstComparison(m [][]float64) (int, int) {
	n := len(m)
	worstI, worstJ := 0, 1
	var worst float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			var dev float64
			for k := 0; k < n; k++ {
				implied := m[i][k] * m[k][j]
				dev += math.Abs(math.Log(m[i][j]) - math.Log(implied))
			}
			if dev > worst {
				worst = dev
				worstI, worstJ = i, j
			}
		}
	}
	return worstI, worstJ
}
