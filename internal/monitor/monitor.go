package monitor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/apexboard/prioritizer/internal/store"
)

// SampleSink persists compacted samples. The postgres store satisfies it.
type SampleSink interface {
	InsertMetricSamples(ctx context.Context, samples []store.MetricSample) error
}

// Options tunes retention and the background loop.
type Options struct {
	Retention      time.Duration // drop samples older than this
	CompactionTick time.Duration // loop cadence
	FlushBatchSize int
}

func (o Options) withDefaults() Options {
	if o.Retention <= 0 {
		o.Retention = 24 * time.Hour
	}
	if o.CompactionTick <= 0 {
		o.CompactionTick = time.Minute
	}
	if o.FlushBatchSize <= 0 {
		o.FlushBatchSize = 1000
	}
	return o
}

// Monitor tracks operation timings and counters as append-only in-memory
// series, mirrors them to Prometheus, and evaluates alert rules over them.
type Monitor struct {
	opts    Options
	sink    SampleSink
	metrics *promMetrics
	logger  *slog.Logger

	mu       sync.Mutex
	series   map[string][]store.MetricSample
	pending  []store.MetricSample // awaiting flush to the sink
	active   map[uuid.UUID]*Operation
	rules    []AlertRule
	alerts   map[string]*Alert // keyed by rule name, one active alert per rule
	notifier Notifier

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(sink SampleSink, reg prometheus.Registerer, opts Options, logger *slog.Logger) *Monitor {
	return &Monitor{
		opts:    opts.withDefaults(),
		sink:    sink,
		metrics: newPromMetrics(reg),
		logger:  logger,
		series:  make(map[string][]store.MetricSample),
		active:  make(map[uuid.UUID]*Operation),
		alerts:  make(map[string]*Alert),
		stopCh:  make(chan struct{}),
	}
}

// Operation is a scoped handle for one tracked operation.
type Operation struct {
	m       *Monitor
	id      uuid.UUID
	name    string
	started time.Time
	done    bool
}

// Track starts timing one named operation and registers it as in flight
// until Done is called.
func (m *Monitor) Track(name string) *Operation {
	m.metrics.operationsStarted.WithLabelValues(name).Inc()
	op := &Operation{m: m, id: uuid.New(), name: name, started: time.Now()}
	m.mu.Lock()
	m.active[op.id] = op
	m.mu.Unlock()
	return op
}

// Done finishes the operation. Calling it again is a no-op.
func (op *Operation) Done(err error) {
	if op.done {
		return
	}
	op.done = true
	op.m.mu.Lock()
	delete(op.m.active, op.id)
	op.m.mu.Unlock()
	elapsed := time.Since(op.started)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	op.m.metrics.operationsCompleted.WithLabelValues(op.name, outcome).Inc()
	op.m.metrics.operationDuration.WithLabelValues(op.name).Observe(elapsed.Seconds())
	op.m.Observe(op.name+".duration_ms", float64(elapsed.Milliseconds()), map[string]string{"outcome": outcome})
}

// Elapsed reports time since the operation started.
func (op *Operation) Elapsed() time.Duration { return time.Since(op.started) }

// ActiveOperation describes one in-flight tracked operation.
type ActiveOperation struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	StartedAt time.Time `json:"started_at"`
	ElapsedMs float64   `json:"elapsed_ms"`
}

// ActiveOperations lists operations that have started but not finished,
// oldest first.
func (m *Monitor) ActiveOperations() []ActiveOperation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ActiveOperation, 0, len(m.active))
	for _, op := range m.active {
		out = append(out, ActiveOperation{
			ID:        op.id,
			Name:      op.name,
			StartedAt: op.started,
			ElapsedMs: float64(time.Since(op.started).Milliseconds()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Observe appends one point to a named series.
func (m *Monitor) Observe(name string, value float64, tags map[string]string) {
	sample := store.MetricSample{Name: name, Value: value, Timestamp: time.Now().UTC(), Tags: tags}
	m.mu.Lock()
	m.series[name] = append(m.series[name], sample)
	m.pending = append(m.pending, sample)
	m.mu.Unlock()
}

// RecordItems updates the item throughput counters.
func (m *Monitor) RecordItems(scored, failed int) {
	m.metrics.itemsScored.Add(float64(scored))
	m.metrics.itemsFailed.Add(float64(failed))
	m.Observe("items.scored", float64(scored), nil)
	if failed > 0 {
		m.Observe("items.failed", float64(failed), nil)
	}
}

// SetQueueDepth mirrors the scheduler queue depth gauge.
func (m *Monitor) SetQueueDepth(depth int) {
	m.metrics.queueDepth.Set(float64(depth))
	m.Observe("queue.depth", float64(depth), nil)
}

// SetActiveWorkflows mirrors the running-workflow gauge.
func (m *Monitor) SetActiveWorkflows(n int) {
	m.metrics.activeWorkflows.Set(float64(n))
}

// SeriesStats is an on-demand aggregation over one named series.
type SeriesStats struct {
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P95   float64 `json:"p95"`
}

// Stats aggregates a series over the window ending now.
func (m *Monitor) Stats(name string, window time.Duration) SeriesStats {
	cutoff := time.Now().UTC().Add(-window)
	m.mu.Lock()
	defer m.mu.Unlock()

	out := SeriesStats{Name: name}
	values := make([]float64, 0)
	for _, s := range m.series[name] {
		if window > 0 && s.Timestamp.Before(cutoff) {
			continue
		}
		values = append(values, s.Value)
	}
	if len(values) == 0 {
		return out
	}
	sort.Float64s(values)
	out.Count = len(values)
	out.Min = values[0]
	out.Max = values[len(values)-1]
	var sum float64
	for _, v := range values {
		sum += v
	}
	out.Mean = sum / float64(len(values))
	idx := int(float64(len(values))*0.95) - 1
	if idx < 0 {
		idx = 0
	}
	out.P95 = values[idx]
	return out
}

// SeriesNames lists the series observed so far.
func (m *Monitor) SeriesNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.series))
	for name := range m.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches the compaction and flush loop.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.opts.CompactionTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.compact()
				m.flush(ctx)
				m.evaluateRules()
			}
		}
	}()
}

// Stop halts the loop and flushes remaining samples.
func (m *Monitor) Stop(ctx context.Context) {
	close(m.stopCh)
	m.wg.Wait()
	m.flush(ctx)
}

// compact drops samples past retention so memory stays bounded.
func (m *Monitor) compact() {
	cutoff := time.Now().UTC().Add(-m.opts.Retention)
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, samples := range m.series {
		idx := sort.Search(len(samples), func(i int) bool {
			return samples[i].Timestamp.After(cutoff)
		})
		if idx == 0 {
			continue
		}
		if idx == len(samples) {
			delete(m.series, name)
			continue
		}
		kept := make([]store.MetricSample, len(samples)-idx)
		copy(kept, samples[idx:])
		m.series[name] = kept
	}
}

func (m *Monitor) flush(ctx context.Context) {
	if m.sink == nil {
		m.mu.Lock()
		m.pending = nil
		m.mu.Unlock()
		return
	}
	m.mu.Lock()
	batch := m.pending
	if len(batch) > m.opts.FlushBatchSize {
		batch = batch[:m.opts.FlushBatchSize]
		m.pending = m.pending[m.opts.FlushBatchSize:]
	} else {
		m.pending = nil
	}
	m.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := m.sink.InsertMetricSamples(ctx, batch); err != nil {
		// Samples stay in memory for querying; persistence is best effort.
		m.logger.Warn("metric flush failed", "samples", len(batch), "error", err)
	}
}
