package workflow

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/apexboard/prioritizer/internal/criteria"
	"github.com/apexboard/prioritizer/internal/scoring"
	"github.com/apexboard/prioritizer/internal/store"
)

// Progress is reported after each chunk completes.
type Progress struct {
	Processed int
	Succeeded int
	Failed    int
	Total     int
}

// BatchResult accounts for every input item exactly once:
// len(Results) + len(Failed) equals the input size.
type BatchResult struct {
	Results []*store.ScoreResult
	Failed  []ItemFailure
}

// ItemFailure records one item that could not be scored.
type ItemFailure struct {
	WorkItemID string `json:"work_item_id"`
	Reason     string `json:"reason"`
}

// BatchProcessor scores item sets in bounded-concurrency chunks.
//
// Cancellation is cooperative: chunks already in flight finish, no new
// chunk starts after the context is done, and partial results are
// returned rather than discarded.
type BatchProcessor struct {
	chunkSize   int
	concurrency int64
	logger      *slog.Logger
}

func NewBatchProcessor(chunkSize, concurrency int, logger *slog.Logger) *BatchProcessor {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	return &BatchProcessor{chunkSize: chunkSize, concurrency: int64(concurrency), logger: logger}
}

// Process scores all items with the given run. Batch statistics are
// computed once over the full set so min-max and percentile normalization
// see the same population regardless of chunking.
func (p *BatchProcessor) Process(ctx context.Context, run *scoring.Run, items []*store.WorkItem, onProgress func(Progress)) *BatchResult {
	out := &BatchResult{}
	if len(items) == 0 {
		return out
	}
	stats := run.Stats(items)

	var mu sync.Mutex
	var processed int
	sem := semaphore.NewWeighted(p.concurrency)
	g, gctx := errgroup.WithContext(ctx)

	for start := 0; start < len(items); start += p.chunkSize {
		end := start + p.chunkSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		// Acquire before spawning so cancellation stops new chunks here.
		if err := sem.Acquire(ctx, 1); err != nil {
			p.failRemaining(out, items[start:], &mu, "workflow cancelled before chunk started")
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			results, failures := p.processChunk(gctx, run, chunk, stats)

			mu.Lock()
			out.Results = append(out.Results, results...)
			out.Failed = append(out.Failed, failures...)
			processed += len(chunk)
			prog := Progress{
				Processed: processed,
				Succeeded: len(out.Results),
				Failed:    len(out.Failed),
				Total:     len(items),
			}
			mu.Unlock()
			if onProgress != nil {
				onProgress(prog)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (p *BatchProcessor) processChunk(ctx context.Context, run *scoring.Run, chunk []*store.WorkItem, stats *criteria.BatchStats) ([]*store.ScoreResult, []ItemFailure) {
	results := make([]*store.ScoreResult, 0, len(chunk))
	var failures []ItemFailure
	for _, item := range chunk {
		res, err := run.ScoreItem(ctx, item, stats)
		if err != nil {
			p.logger.Warn("item scoring failed", "work_item_id", item.ID, "error", err)
			failures = append(failures, ItemFailure{WorkItemID: item.ID.String(), Reason: err.Error()})
			continue
		}
		results = append(results, res)
	}
	return results, failures
}

func (p *BatchProcessor) failRemaining(out *BatchResult, remaining []*store.WorkItem, mu *sync.Mutex, reason string) {
	mu.Lock()
	defer mu.Unlock()
	for _, item := range remaining {
		out.Failed = append(out.Failed, ItemFailure{WorkItemID: item.ID.String(), Reason: reason})
	}
}
