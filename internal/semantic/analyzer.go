package semantic

import "context"

// Result is the one shape both analysis paths return. Callers cannot tell
// which implementation produced it except through UsedAI.
type Result struct {
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Insights   []string `json:"insights,omitempty"`
	UsedAI     bool     `json:"used_ai"`
}

// Analyzer scores free-text work-item content. Implementations: the
// AI-assisted runtime client and the deterministic fallback.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*Result, error)
	Healthy(ctx context.Context) bool
}

// AIUnavailableError is internal only: it triggers the fallback path and is
// never surfaced to callers.
type AIUnavailableError struct {
	Reason string
}

func (e *AIUnavailableError) Error() string { return "analysis runtime unavailable: " + e.Reason }
