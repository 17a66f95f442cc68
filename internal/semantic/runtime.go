package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// RuntimeAnalyzer calls a local text-analysis runtime over HTTP. Calls can
// take 1-5 seconds and the runtime may be down entirely; every failure maps
// to AIUnavailableError so the policy can fall back.
type RuntimeAnalyzer struct {
	baseURL    string
	httpClient *http.Client

	healthMu      sync.Mutex
	healthyUntil  time.Time
	healthOK      bool
	healthTTL     time.Duration
}

func NewRuntimeAnalyzer(baseURL string, timeout time.Duration) *RuntimeAnalyzer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RuntimeAnalyzer{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		healthTTL:  10 * time.Second,
	}
}

type analyzeRequest struct {
	Text string `json:"text"`
}

type analyzeResponse struct {
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Insights   []string `json:"insights"`
}

func (a *RuntimeAnalyzer) Analyze(ctx context.Context, text string) (*Result, error) {
	body, err := json.Marshal(analyzeRequest{Text: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &AIUnavailableError{Reason: err.Error()}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AIUnavailableError{Reason: err.Error()}
	}
	if resp.StatusCode >= 400 {
		return nil, &AIUnavailableError{Reason: fmt.Sprintf("analyze: %d %s", resp.StatusCode, string(data))}
	}

	var out analyzeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &AIUnavailableError{Reason: "malformed analyze response: " + err.Error()}
	}
	return &Result{
		Score:      clamp01(out.Score),
		Confidence: clamp01(out.Confidence),
		Insights:   out.Insights,
		UsedAI:     true,
	}, nil
}

// Healthy probes the runtime's health endpoint, caching the answer briefly so
// batch workers do not hammer it.
func (a *RuntimeAnalyzer) Healthy(ctx context.Context) bool {
	a.healthMu.Lock()
	defer a.healthMu.Unlock()
	if time.Now().Before(a.healthyUntil) {
		return a.healthOK
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/healthz", nil)
	if err != nil {
		a.cacheHealth(false)
		return false
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.cacheHealth(false)
		return false
	}
	resp.Body.Close()
	ok := resp.StatusCode < 400
	a.cacheHealth(ok)
	return ok
}

func (a *RuntimeAnalyzer) cacheHealth(ok bool) {
	a.healthOK = ok
	a.healthyUntil = time.Now().Add(a.healthTTL)
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
