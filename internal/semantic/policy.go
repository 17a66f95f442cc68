package semantic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Policy selects between the AI path and the fallback. The AI path is tried
// first when enabled and healthy; any timeout, error, or failed health check
// falls through to the fallback transparently. Successful AI results are
// cached by content hash (TTL + size bounded).
type Policy struct {
	ai       Analyzer
	fallback Analyzer
	enabled  bool
	timeout  time.Duration
	cache    *expirable.LRU[string, *Result]
	logger   *slog.Logger
}

type PolicyOptions struct {
	Enabled   bool
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

func NewPolicy(ai Analyzer, fallback Analyzer, opts PolicyOptions, logger *slog.Logger) *Policy {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 15 * time.Minute
	}
	return &Policy{
		ai:       ai,
		fallback: fallback,
		enabled:  opts.Enabled,
		timeout:  opts.Timeout,
		cache:    expirable.NewLRU[string, *Result](opts.CacheSize, nil, opts.CacheTTL),
		logger:   logger,
	}
}

// Analyze never fails: the fallback is always available, so an error here
// would be a programming bug, not an operational condition.
func (p *Policy) Analyze(ctx context.Context, text string) *Result {
	if p.enabled && p.ai != nil {
		key := contentHash(text)
		if cached, ok := p.cache.Get(key); ok {
			return cached
		}
		if p.ai.Healthy(ctx) {
			aiCtx, cancel := context.WithTimeout(ctx, p.timeout)
			res, err := p.ai.Analyze(aiCtx, text)
			cancel()
			if err == nil {
				p.cache.Add(key, res)
				return res
			}
			p.logger.Debug("analysis runtime failed, using fallback", "error", err)
		}
	}

	res, err := p.fallback.Analyze(ctx, text)
	if err != nil {
		// The fallback is deterministic and cannot fail; keep the contract
		// anyway and return a neutral result.
		p.logger.Error("fallback analyzer error", "error", err)
		return &Result{Score: 0.5, Confidence: 0.1, UsedAI: false}
	}
	return res
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
