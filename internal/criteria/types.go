package criteria

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Category is one of the five fixed criterion categories.
type Category string

const (
	CategoryBusinessValue            Category = "business_value"
	CategoryStrategicAlignment       Category = "strategic_alignment"
	CategoryCustomerValue            Category = "customer_value"
	CategoryImplementationComplexity Category = "implementation_complexity"
	CategoryRiskAssessment           Category = "risk_assessment"
)

// Categories lists the fixed categories in canonical order.
var Categories = []Category{
	CategoryBusinessValue,
	CategoryStrategicAlignment,
	CategoryCustomerValue,
	CategoryImplementationComplexity,
	CategoryRiskAssessment,
}

type Normalization string

const (
	NormMinMax     Normalization = "minmax"
	NormZScore     Normalization = "zscore"
	NormPercentile Normalization = "percentile"
	NormNone       Normalization = "none"
)

type CurveShape string

const (
	ShapeLinear      CurveShape = "linear"
	ShapeLogarithmic CurveShape = "logarithmic"
	ShapeExponential CurveShape = "exponential"
	ShapeStep        CurveShape = "step"
)

type Direction string

const (
	HigherIsBetter Direction = "higher"
	LowerIsBetter  Direction = "lower"
)

// Criterion is one weighted scoring dimension within a category.
type Criterion struct {
	ID                   string        `json:"id" yaml:"id"`
	Category             Category      `json:"category" yaml:"category"`
	Weight               float64       `json:"weight" yaml:"weight"`
	DataSource           string        `json:"data_source" yaml:"data_source"`
	DataType             string        `json:"data_type" yaml:"data_type"`
	Normalization        Normalization `json:"normalization" yaml:"normalization"`
	Shape                CurveShape    `json:"shape" yaml:"shape"`
	DiminishingReturns   bool          `json:"diminishing_returns" yaml:"diminishing_returns"`
	Direction            Direction     `json:"direction" yaml:"direction"`
	ConfidenceFactor     float64       `json:"confidence_factor" yaml:"confidence_factor"`
	DataQualityThreshold float64       `json:"data_quality_threshold" yaml:"data_quality_threshold"`
	Active               bool          `json:"active" yaml:"active"`

	// Configured normalization bounds for minmax when no batch is available.
	MinValue *float64 `json:"min_value,omitempty" yaml:"min_value,omitempty"`
	MaxValue *float64 `json:"max_value,omitempty" yaml:"max_value,omitempty"`
}

// GlobalWeight is the criterion's effective weight across the whole model:
// within-category weight scaled by the category's weight.
func (c Criterion) GlobalWeight(cw CategoryWeights) float64 {
	return c.Weight * cw.Weight(c.Category)
}

// CategoryWeights defines the relative importance of the five categories.
// All weights must sum to 1.0 (±1e-6 tolerance).
type CategoryWeights struct {
	BusinessValue            float64 `json:"business_value" yaml:"business_value"`
	StrategicAlignment       float64 `json:"strategic_alignment" yaml:"strategic_alignment"`
	CustomerValue            float64 `json:"customer_value" yaml:"customer_value"`
	ImplementationComplexity float64 `json:"implementation_complexity" yaml:"implementation_complexity"`
	RiskAssessment           float64 `json:"risk_assessment" yaml:"risk_assessment"`
}

// DefaultCategoryWeights returns the default weight distribution.
func DefaultCategoryWeights() CategoryWeights {
	return CategoryWeights{
		BusinessValue:            0.30,
		StrategicAlignment:       0.25,
		CustomerValue:            0.20,
		ImplementationComplexity: 0.15,
		RiskAssessment:           0.10,
	}
}

// Sum returns the total of all category weights.
func (w CategoryWeights) Sum() float64 {
	return w.BusinessValue + w.StrategicAlignment + w.CustomerValue +
		w.ImplementationComplexity + w.RiskAssessment
}

// Weight returns the weight for one category.
func (w CategoryWeights) Weight(c Category) float64 {
	switch c {
	case CategoryBusinessValue:
		return w.BusinessValue
	case CategoryStrategicAlignment:
		return w.StrategicAlignment
	case CategoryCustomerValue:
		return w.CustomerValue
	case CategoryImplementationComplexity:
		return w.ImplementationComplexity
	case CategoryRiskAssessment:
		return w.RiskAssessment
	}
	return 0
}

func (w CategoryWeights) asList() []float64 {
	return []float64{
		w.BusinessValue, w.StrategicAlignment, w.CustomerValue,
		w.ImplementationComplexity, w.RiskAssessment,
	}
}

const weightTolerance = 1e-6

// Validate checks that weights sum to 1.0 and none are negative.
func (w CategoryWeights) Validate() error {
	if math.Abs(w.Sum()-1.0) > weightTolerance {
		return fmt.Errorf("category weights sum to %.6f, must sum to 1.0", w.Sum())
	}
	for _, v := range w.asList() {
		if v < 0 {
			return fmt.Errorf("negative category weight: %f", v)
		}
	}
	return nil
}

// Normalize rescales the weights proportionally so they sum to 1.0.
// Relative ratios are preserved. Returns an error when the input sum is zero.
func (w CategoryWeights) Normalize() (CategoryWeights, error) {
	sum := w.Sum()
	if sum <= 0 {
		return CategoryWeights{}, fmt.Errorf("cannot normalize weights with sum %.6f", sum)
	}
	return CategoryWeights{
		BusinessValue:            w.BusinessValue / sum,
		StrategicAlignment:       w.StrategicAlignment / sum,
		CustomerValue:            w.CustomerValue / sum,
		ImplementationComplexity: w.ImplementationComplexity / sum,
		RiskAssessment:           w.RiskAssessment / sum,
	}, nil
}

// FinancialOptions enables and parameterizes the financial modeling component.
type FinancialOptions struct {
	Enabled          bool    `json:"enabled" yaml:"enabled"`
	DiscountRate     float64 `json:"discount_rate" yaml:"discount_rate"`
	TimeHorizonYears int     `json:"time_horizon_years" yaml:"time_horizon_years"`
	Sensitivity      bool    `json:"sensitivity" yaml:"sensitivity"`
}

// IntegrationWeights blends the criteria, financial, and semantic contributions
// into the composite score.
type IntegrationWeights struct {
	Criteria  float64 `json:"criteria" yaml:"criteria"`
	Financial float64 `json:"financial" yaml:"financial"`
	Semantic  float64 `json:"semantic" yaml:"semantic"`
}

// TierThresholds defines the composite-score cutoffs for priority tiers.
type TierThresholds struct {
	High   float64 `json:"high" yaml:"high"`
	Medium float64 `json:"medium" yaml:"medium"`
}

// PerformanceLimits bounds a single scoring operation.
type PerformanceLimits struct {
	MaxItems  int `json:"max_items" yaml:"max_items"`
	TimeoutMs int `json:"timeout_ms" yaml:"timeout_ms"`
}

// Configuration is one immutable, versioned scoring model. Edits never mutate
// in place; saving produces a new version (copy-on-write), so workflows can
// read it without locks.
type Configuration struct {
	ID                   uuid.UUID          `json:"id"`
	Name                 string             `json:"name"`
	Version              int                `json:"version"`
	Criteria             []Criterion        `json:"criteria"`
	CategoryWeights      CategoryWeights    `json:"category_weights"`
	ConsistencyThreshold float64            `json:"consistency_threshold"`
	RequireAllCriteria   bool               `json:"require_all_criteria"`
	MinDataQuality       float64            `json:"min_data_quality"`
	Financial            FinancialOptions   `json:"financial"`
	Integration          IntegrationWeights `json:"integration"`
	Tiers                TierThresholds     `json:"tiers"`
	Limits               PerformanceLimits  `json:"limits"`

	// Optional 5x5 pairwise comparison matrix over the categories, row/column
	// order matching Categories. When present it is checked for consistency
	// instead of trusting the direct weights blindly.
	Comparisons [][]float64 `json:"comparisons,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ActiveCriteria returns the active criteria in declaration order.
func (c *Configuration) ActiveCriteria() []Criterion {
	out := make([]Criterion, 0, len(c.Criteria))
	for _, cr := range c.Criteria {
		if cr.Active {
			out = append(out, cr)
		}
	}
	return out
}

// ConfigurationError reports an invalid scoring model. It fails fast, before
// any workflow starts.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "configuration: " + e.Msg }

// ValidationError reports a single item whose data quality is below threshold.
// The item is marked failed; the batch continues.
type ValidationError struct {
	WorkItemID string
	Msg        string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: item %s: %s", e.WorkItemID, e.Msg)
}
