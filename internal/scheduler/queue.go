package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apexboard/prioritizer/internal/store"
)

// SchedulingError reports a queue or scheduling rejection.
type SchedulingError struct {
	RequestID uuid.UUID
	Msg       string
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("scheduling request %s: %s", e.RequestID, e.Msg)
}

type queued struct {
	req        *store.ScoringRequest
	enqueuedAt time.Time
	deadline   time.Time // zero when the request has no max wait
}

// Queue is a fixed-band priority queue. Bands drain strictly in priority
// order and FIFO within a band, so a flood of low-priority work can never
// delay an urgent request behind it.
type Queue struct {
	mu      sync.Mutex
	bands   map[store.Priority][]*queued
	expired []*store.ScoringRequest // awaiting Reap
	maxLen  int
}

func NewQueue(maxLen int) *Queue {
	if maxLen <= 0 {
		maxLen = 10000
	}
	bands := make(map[store.Priority][]*queued, len(store.Priorities))
	for _, p := range store.Priorities {
		bands[p] = nil
	}
	return &Queue{bands: bands, maxLen: maxLen}
}

// Enqueue adds a request to its band. Unknown priorities fall into the
// normal band rather than being rejected.
func (q *Queue) Enqueue(req *store.ScoringRequest) error {
	prio := req.Priority
	if _, ok := q.bands[prio]; !ok {
		prio = store.PriorityNormal
	}

	entry := &queued{req: req, enqueuedAt: time.Now().UTC()}
	if req.MaxWaitMs > 0 {
		entry.deadline = entry.enqueuedAt.Add(time.Duration(req.MaxWaitMs) * time.Millisecond)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.depthLocked() >= q.maxLen {
		return &SchedulingError{RequestID: req.ID, Msg: "queue full"}
	}
	q.bands[prio] = append(q.bands[prio], entry)
	return nil
}

// Dequeue removes and returns the oldest request in the most urgent
// non-empty band, or nil when the queue is empty. Expired requests are
// skipped and returned through Reap.
func (q *Queue) Dequeue() *store.ScoringRequest {
	now := time.Now().UTC()
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, prio := range store.Priorities {
		band := q.bands[prio]
		for len(band) > 0 {
			head := band[0]
			band = band[1:]
			q.bands[prio] = band
			if !head.deadline.IsZero() && now.After(head.deadline) {
				q.expired = append(q.expired, head.req)
				continue
			}
			return head.req
		}
	}
	return nil
}

// Reap removes every request that has waited past its max wait and
// returns them so callers can fail the corresponding workflows.
func (q *Queue) Reap(now time.Time) []*store.ScoringRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	expired := q.expired
	q.expired = nil
	for prio, band := range q.bands {
		kept := band[:0]
		for _, entry := range band {
			if !entry.deadline.IsZero() && now.After(entry.deadline) {
				expired = append(expired, entry.req)
				continue
			}
			kept = append(kept, entry)
		}
		q.bands[prio] = kept
	}
	return expired
}

// OldestWait reports how long the longest-waiting request has been queued,
// or zero when the queue is empty.
func (q *Queue) OldestWait(now time.Time) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	var oldest time.Time
	for _, band := range q.bands {
		for _, entry := range band {
			if oldest.IsZero() || entry.enqueuedAt.Before(oldest) {
				oldest = entry.enqueuedAt
			}
		}
	}
	if oldest.IsZero() {
		return 0
	}
	return now.Sub(oldest)
}

// Depth reports the total number of waiting requests.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depthLocked()
}

// DepthByBand reports waiting requests per priority band.
func (q *Queue) DepthByBand() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int, len(q.bands))
	for prio, band := range q.bands {
		out[string(prio)] = len(band)
	}
	return out
}

func (q *Queue) depthLocked() int {
	n := 0
	for _, band := range q.bands {
		n += len(band)
	}
	return n
}
