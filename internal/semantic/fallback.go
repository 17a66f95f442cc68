package semantic

import (
	"context"
	"sort"
	"strings"
)

// signal is one keyword group the fallback analyzer scores on.
type signal struct {
	name     string
	weight   float64
	keywords []string
}

// Deterministic keyword groups, matched case-insensitively. Weights favor
// revenue and risk language the way the AI path tends to.
var signals = []signal{
	{"revenue impact", 0.25, []string{"revenue", "sales", "monetize", "upsell", "conversion"}},
	{"customer demand", 0.20, []string{"customer", "churn", "complaint", "requested", "nps"}},
	{"compliance or security", 0.20, []string{"compliance", "security", "audit", "regulatory", "gdpr", "vulnerability"}},
	{"strategic initiative", 0.15, []string{"strategic", "okr", "roadmap", "initiative", "launch"}},
	{"operational urgency", 0.20, []string{"outage", "incident", "blocker", "critical", "urgent", "deadline"}},
}

// FallbackAnalyzer is the deterministic, always-available analysis path.
// It scores sub-100ms on keyword signals and returns the same result shape
// as the runtime analyzer with UsedAI=false.
type FallbackAnalyzer struct{}

func NewFallbackAnalyzer() *FallbackAnalyzer { return &FallbackAnalyzer{} }

func (f *FallbackAnalyzer) Analyze(_ context.Context, text string) (*Result, error) {
	lower := strings.ToLower(text)

	var score float64
	var insights []string
	for _, sig := range signals {
		hits := 0
		for _, kw := range sig.keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		// First hit earns the full group weight, extra hits add a little.
		contribution := sig.weight * (1 + 0.25*float64(hits-1))
		if contribution > sig.weight*1.5 {
			contribution = sig.weight * 1.5
		}
		score += contribution
		insights = append(insights, sig.name+" signals present")
	}
	sort.Strings(insights)

	return &Result{
		Score:      clamp01(score),
		Confidence: 0.6,
		Insights:   insights,
		UsedAI:     false,
	}, nil
}

func (f *FallbackAnalyzer) Healthy(context.Context) bool { return true }
