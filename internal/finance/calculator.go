package finance

import (
	"fmt"
	"math"
)

// RiskLevel parameterizes failure probability and risk discounting.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// failureProbability drives the cost-of-poor-quality estimate.
var failureProbability = map[RiskLevel]float64{
	RiskLow:      0.05,
	RiskMedium:   0.15,
	RiskHigh:     0.30,
	RiskCritical: 0.50,
}

// riskMultiplier scales NPV/ROI down as risk rises.
var riskMultiplier = map[RiskLevel]float64{
	RiskLow:      1.00,
	RiskMedium:   0.90,
	RiskHigh:     0.75,
	RiskCritical: 0.60,
}

// Metrics are the financial inputs read off a work item.
type Metrics struct {
	InitialInvestment   float64   `json:"initial_investment"`
	CashFlows           []float64 `json:"cash_flows"`
	DiscountRate        float64   `json:"discount_rate"`
	RiskLevel           RiskLevel `json:"risk_level"`
	ExpectedFailureCost float64   `json:"expected_failure_cost,omitempty"`
}

// Sensitivity reports the NPV/ROI spread across a small perturbation grid of
// discount rates and cash-flow scalings.
type Sensitivity struct {
	NPVMin    float64 `json:"npv_min"`
	NPVMax    float64 `json:"npv_max"`
	NPVSpread float64 `json:"npv_spread"`
	ROIMin    float64 `json:"roi_min"`
	ROIMax    float64 `json:"roi_max"`
	ROISpread float64 `json:"roi_spread"`
}

// Result is the full financial assessment for one work item.
// PaybackPeriod is in years; -1 means the investment is never recovered
// within the modeled cash flows.
type Result struct {
	NPV               float64      `json:"npv"`
	ROI               float64      `json:"roi"`
	PaybackPeriod     float64      `json:"payback_period"`
	COPQ              float64      `json:"copq"`
	RiskAdjustedValue float64      `json:"risk_adjusted_value"`
	FinancialScore    float64      `json:"financial_score"`
	Sensitivity       *Sensitivity `json:"sensitivity,omitempty"`
}

// ComputationError reports a financial math domain error. Callers downgrade
// the financial component's contribution and confidence rather than failing
// the whole item.
type ComputationError struct {
	Msg string
}

func (e *ComputationError) Error() string { return "computation: " + e.Msg }

// Calculator computes discounted-cash-flow metrics over a bounded horizon.
type Calculator struct {
	HorizonYears int
	Sensitivity  bool
}

// NewCalculator returns a calculator with the given time horizon (years).
// A zero horizon means the full cash-flow series is used.
func NewCalculator(horizonYears int, sensitivity bool) *Calculator {
	return &Calculator{HorizonYears: horizonYears, Sensitivity: sensitivity}
}

// Calculate derives NPV, ROI, payback, COPQ, the risk-adjusted valuation,
// and the composite financial score in [0,1].
func (c *Calculator) Calculate(m Metrics) (*Result, error) {
	if len(m.CashFlows) == 0 {
		return nil, &ComputationError{Msg: "cash flow series is empty"}
	}
	if m.DiscountRate <= -1 {
		return nil, &ComputationError{Msg: fmt.Sprintf("discount rate %.4f out of (-1, inf)", m.DiscountRate)}
	}

	flows := m.CashFlows
	if c.HorizonYears > 0 && len(flows) > c.HorizonYears {
		flows = flows[:c.HorizonYears]
	}

	npv := netPresentValue(m.InitialInvestment, flows, m.DiscountRate)
	roi := returnOnInvestment(m.InitialInvestment, flows)
	payback := paybackPeriod(m.InitialInvestment, flows)
	copq := costOfPoorQuality(m)

	mult, ok := riskMultiplier[m.RiskLevel]
	if !ok {
		mult = riskMultiplier[RiskMedium]
	}

	res := &Result{
		NPV:               npv,
		ROI:               roi,
		PaybackPeriod:     payback,
		COPQ:              copq,
		RiskAdjustedValue: npv * mult,
	}
	res.FinancialScore = compositeScore(res, m, mult, c.HorizonYears)

	if c.Sensitivity {
		res.Sensitivity = c.sensitivity(m, flows)
	}
	return res, nil
}

func netPresentValue(investment float64, flows []float64, rate float64) float64 {
	npv := -investment
	for t, cf := range flows {
		npv += cf / math.Pow(1+rate, float64(t+1))
	}
	return npv
}

func returnOnInvestment(investment float64, flows []float64) float64 {
	if investment == 0 {
		return 0
	}
	var cumulative float64
	for _, cf := range flows {
		cumulative += cf
	}
	return (cumulative - investment) / investment
}

// paybackPeriod interpolates within the recovery year for a fractional
// result. Returns -1 when the flows never recover the investment.
func paybackPeriod(investment float64, flows []float64) float64 {
	if investment <= 0 {
		return 0
	}
	var cumulative float64
	for t, cf := range flows {
		prev := cumulative
		cumulative += cf
		if cumulative >= investment {
			if cf == 0 {
				return float64(t + 1)
			}
			return float64(t) + (investment-prev)/cf
		}
	}
	return -1
}

func costOfPoorQuality(m Metrics) float64 {
	p, ok := failureProbability[m.RiskLevel]
	if !ok {
		p = failureProbability[RiskMedium]
	}
	cost := m.ExpectedFailureCost
	if cost == 0 {
		// Without an explicit estimate, assume a tenth of the investment is
		// at stake when quality fails.
		cost = m.InitialInvestment * 0.10
	}
	return cost * p
}

// compositeScore min-max-normalizes each metric into [0,1] and blends them
// into a single scalar for the scoring engine.
func compositeScore(r *Result, m Metrics, mult float64, horizon int) float64 {
	base := math.Max(m.InitialInvestment, 1)

	npvNorm := clamp(0.5+r.NPV/(2*base), 0, 1)
	roiNorm := clamp((r.ROI+1)/3, 0, 1)

	h := float64(horizon)
	if h <= 0 {
		h = float64(len(m.CashFlows))
	}
	paybackNorm := 0.0
	if r.PaybackPeriod >= 0 {
		paybackNorm = clamp(1-r.PaybackPeriod/h, 0, 1)
	}
	copqNorm := clamp(1-r.COPQ/base, 0, 1)

	score := 0.40*npvNorm + 0.30*roiNorm + 0.15*paybackNorm + 0.15*copqNorm
	return clamp(score*mult, 0, 1)
}

// sensitivity re-runs NPV/ROI across discount-rate and cash-flow
// perturbations. The grid is fixed, so results stay deterministic.
func (c *Calculator) sensitivity(m Metrics, flows []float64) *Sensitivity {
	rateDeltas := []float64{-0.02, 0, 0.02}
	flowScales := []float64{0.9, 1.0, 1.1}

	s := &Sensitivity{
		NPVMin: math.Inf(1), NPVMax: math.Inf(-1),
		ROIMin: math.Inf(1), ROIMax: math.Inf(-1),
	}
	scaled := make([]float64, len(flows))
	for _, dr := range rateDeltas {
		rate := m.DiscountRate + dr
		if rate <= -1 {
			continue
		}
		for _, fs := range flowScales {
			for i, cf := range flows {
				scaled[i] = cf * fs
			}
			npv := netPresentValue(m.InitialInvestment, scaled, rate)
			roi := returnOnInvestment(m.InitialInvestment, scaled)
			s.NPVMin = math.Min(s.NPVMin, npv)
			s.NPVMax = math.Max(s.NPVMax, npv)
			s.ROIMin = math.Min(s.ROIMin, roi)
			s.ROIMax = math.Max(s.ROIMax, roi)
		}
	}
	s.NPVSpread = s.NPVMax - s.NPVMin
	s.ROISpread = s.ROIMax - s.ROIMin
	return s
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
