package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/apexboard/prioritizer/internal/criteria"
	"github.com/apexboard/prioritizer/internal/monitor"
	"github.com/apexboard/prioritizer/internal/scheduler"
	"github.com/apexboard/prioritizer/internal/scoring"
	"github.com/apexboard/prioritizer/internal/semantic"
	"github.com/apexboard/prioritizer/internal/store"
	"github.com/apexboard/prioritizer/internal/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockStore is an in-memory Store for orchestrator tests.
type mockStore struct {
	mu        sync.Mutex
	configs   map[uuid.UUID]*criteria.Configuration
	workflows map[uuid.UUID]*store.Workflow
	jobs      map[uuid.UUID]*store.ScheduledJob
	items     []*store.WorkItem
	written   []*store.ScoreResult

	readErr  error
	writeErr error
	readHook func() // runs at the top of ReadItems, outside the lock
}

func newMockStore() *mockStore {
	return &mockStore{
		configs:   make(map[uuid.UUID]*criteria.Configuration),
		workflows: make(map[uuid.UUID]*store.Workflow),
		jobs:      make(map[uuid.UUID]*store.ScheduledJob),
	}
}

func (m *mockStore) ReadItems(_ context.Context, _ string, ids []uuid.UUID) ([]*store.WorkItem, error) {
	if m.readHook != nil {
		m.readHook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	if len(ids) == 0 {
		return m.items, nil
	}
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []*store.WorkItem
	for _, item := range m.items {
		if want[item.ID] {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *mockStore) WriteScores(_ context.Context, results []*store.ScoreResult) (*store.WriteAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return nil, m.writeErr
	}
	m.written = append(m.written, results...)
	return &store.WriteAck{Written: len(results)}, nil
}

func (m *mockStore) GetConfiguration(_ context.Context, id uuid.UUID) (*criteria.Configuration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[id]
	if !ok {
		return nil, errors.New("configuration not found")
	}
	return cfg, nil
}

func (m *mockStore) ListConfigurations(context.Context) ([]*criteria.Configuration, error) {
	return nil, nil
}

func (m *mockStore) SaveConfiguration(_ context.Context, cfg *criteria.Configuration) (*criteria.Configuration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.ID] = cfg
	return cfg, nil
}

func (m *mockStore) CreateWorkflow(_ context.Context, wf *store.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *wf
	m.workflows[wf.ID] = &cp
	return nil
}

func (m *mockStore) GetWorkflow(_ context.Context, id uuid.UUID) (*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, errors.New("workflow not found")
	}
	cp := *wf
	return &cp, nil
}

func (m *mockStore) UpdateWorkflow(_ context.Context, wf *store.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *wf
	m.workflows[wf.ID] = &cp
	return nil
}

func (m *mockStore) ListWorkflows(_ context.Context, f store.WorkflowFilter) ([]*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Workflow
	for _, wf := range m.workflows {
		if f.Status != nil && wf.Status != *f.Status {
			continue
		}
		if f.Mode != nil && wf.Mode != *f.Mode {
			continue
		}
		cp := *wf
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockStore) PruneWorkflows(context.Context, time.Time) (int64, error) { return 0, nil }

func (m *mockStore) CreateScheduledJob(_ context.Context, job *store.ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *mockStore) GetScheduledJob(_ context.Context, id uuid.UUID) (*store.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, errors.New("job not found")
	}
	cp := *job
	return &cp, nil
}

func (m *mockStore) UpdateScheduledJob(_ context.Context, job *store.ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *mockStore) ListScheduledJobs(context.Context, *store.JobStatus) ([]*store.ScheduledJob, error) {
	return nil, nil
}
func (m *mockStore) InsertMetricSamples(context.Context, []store.MetricSample) error { return nil }
func (m *mockStore) Close() error                                                   { return nil }

func (m *mockStore) workflowStatus(id uuid.UUID) store.WorkflowStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wf, ok := m.workflows[id]; ok {
		return wf.Status
	}
	return ""
}

func (m *mockStore) writtenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.written)
}

func testConfiguration() *criteria.Configuration {
	return &criteria.Configuration{
		ID:      uuid.New(),
		Name:    "default",
		Version: 1,
		Criteria: []criteria.Criterion{
			{ID: "revenue", Category: criteria.CategoryBusinessValue, Weight: 1.0, DataSource: "revenue_impact", Normalization: criteria.NormMinMax, Shape: criteria.ShapeLinear, Direction: criteria.HigherIsBetter, Active: true},
			{ID: "okr", Category: criteria.CategoryStrategicAlignment, Weight: 1.0, DataSource: "okr_alignment", Normalization: criteria.NormNone, Shape: criteria.ShapeLinear, Direction: criteria.HigherIsBetter, Active: true},
			{ID: "requests", Category: criteria.CategoryCustomerValue, Weight: 1.0, DataSource: "customer_requests", Normalization: criteria.NormPercentile, Shape: criteria.ShapeLinear, Direction: criteria.HigherIsBetter, Active: true},
			{ID: "effort", Category: criteria.CategoryImplementationComplexity, Weight: 1.0, DataSource: "story_points", Normalization: criteria.NormMinMax, Shape: criteria.ShapeLinear, Direction: criteria.LowerIsBetter, Active: true},
			{ID: "risk", Category: criteria.CategoryRiskAssessment, Weight: 1.0, DataSource: "risk_score", Normalization: criteria.NormNone, Shape: criteria.ShapeLinear, Direction: criteria.LowerIsBetter, Active: true},
		},
		CategoryWeights: criteria.DefaultCategoryWeights(),
		Integration:     criteria.IntegrationWeights{Criteria: 0.8, Semantic: 0.2},
	}
}

func makeItems(n int) []*store.WorkItem {
	items := make([]*store.WorkItem, n)
	for i := range items {
		items[i] = &store.WorkItem{
			ID:    uuid.New(),
			Title: "item",
			Attributes: map[string]interface{}{
				"revenue_impact":    float64(100 * (i + 1)),
				"okr_alignment":     0.5,
				"customer_requests": float64(i),
				"story_points":      3.0,
				"risk_score":        0.2,
			},
		}
	}
	return items
}

func testOrchestrator(st *mockStore, opts Options) *Orchestrator {
	logger := testLogger()
	policy := semantic.NewPolicy(nil, semantic.NewFallbackAnalyzer(), semantic.PolicyOptions{Enabled: false}, logger)
	engine := scoring.NewEngine(policy, logger)
	batch := workflow.NewBatchProcessor(10, 2, logger)
	queue := scheduler.NewQueue(0)
	mon := monitor.New(nil, prometheus.NewRegistry(), monitor.Options{}, logger)
	return New(st, engine, batch, queue, nil, mon, nil, opts, logger)
}

func waitForStatus(t *testing.T, st *mockStore, id uuid.UUID, want store.WorkflowStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if st.workflowStatus(id) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("workflow never reached %s, stuck at %s", want, st.workflowStatus(id))
}

func TestClassifyMode(t *testing.T) {
	o := testOrchestrator(newMockStore(), Options{RealtimeItemLimit: 5})
	tests := []struct {
		req  store.ScoringRequest
		want store.Mode
	}{
		{store.ScoringRequest{Mode: store.ModeFullRecalc}, store.ModeFullRecalc},
		{store.ScoringRequest{CronExpr: "0 2 * * *"}, store.ModeScheduled},
		{store.ScoringRequest{WorkItemIDs: []uuid.UUID{uuid.New()}}, store.ModeRealtime},
		{store.ScoringRequest{WorkItemIDs: make([]uuid.UUID, 6)}, store.ModeBatch},
		{store.ScoringRequest{}, store.ModeBatch},
	}
	for i, tt := range tests {
		if got := o.ClassifyMode(&tt.req); got != tt.want {
			t.Errorf("case %d: mode %s, want %s", i, got, tt.want)
		}
	}
}

func TestSubmitRealtimeRunsInline(t *testing.T) {
	st := newMockStore()
	cfg := testConfiguration()
	st.configs[cfg.ID] = cfg
	items := makeItems(3)
	st.items = items
	o := testOrchestrator(st, Options{})

	req := &store.ScoringRequest{
		ID:              uuid.New(),
		Project:         "p",
		WorkItemIDs:     []uuid.UUID{items[0].ID, items[1].ID},
		ConfigurationID: cfg.ID,
	}
	wf, err := o.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if wf.Status != store.WorkflowCompleted {
		t.Fatalf("status %s, want completed", wf.Status)
	}
	if wf.SucceededItems != 2 {
		t.Errorf("succeeded %d, want 2", wf.SucceededItems)
	}
	if st.writtenCount() != 2 {
		t.Errorf("wrote %d scores, want 2", st.writtenCount())
	}
}

func TestSubmitUnknownConfiguration(t *testing.T) {
	o := testOrchestrator(newMockStore(), Options{})
	req := &store.ScoringRequest{ID: uuid.New(), Mode: store.ModeBatch, ConfigurationID: uuid.New()}
	if _, err := o.Submit(context.Background(), req); err == nil {
		t.Error("expected error for unknown configuration")
	}
}

func TestSubmitScheduledRejected(t *testing.T) {
	o := testOrchestrator(newMockStore(), Options{})
	req := &store.ScoringRequest{ID: uuid.New(), CronExpr: "0 2 * * *"}
	_, err := o.Submit(context.Background(), req)
	var schedErr *scheduler.SchedulingError
	if !errors.As(err, &schedErr) {
		t.Fatalf("expected SchedulingError, got %v", err)
	}
}

func TestDispatchExecutesQueuedWorkflow(t *testing.T) {
	st := newMockStore()
	cfg := testConfiguration()
	st.configs[cfg.ID] = cfg
	st.items = makeItems(30)
	o := testOrchestrator(st, Options{})

	req := &store.ScoringRequest{
		ID:              uuid.New(),
		Mode:            store.ModeBatch,
		Project:         "p",
		ConfigurationID: cfg.ID,
	}
	wf, err := o.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if wf.Status != store.WorkflowPending {
		t.Fatalf("queued workflow status %s, want pending", wf.Status)
	}

	o.dispatchTick(context.Background())
	waitForStatus(t, st, wf.ID, store.WorkflowCompleted)
	o.wg.Wait()

	if st.writtenCount() != 30 {
		t.Errorf("wrote %d scores, want 30", st.writtenCount())
	}
}

func TestWriteBackExhaustionFailsWorkflow(t *testing.T) {
	st := newMockStore()
	cfg := testConfiguration()
	st.configs[cfg.ID] = cfg
	st.items = makeItems(5)
	st.writeErr = errors.New("tracker down")
	o := testOrchestrator(st, Options{WriteBackRetries: 2, RetryBackoff: time.Millisecond})

	req := &store.ScoringRequest{
		ID:              uuid.New(),
		Project:         "p",
		WorkItemIDs:     []uuid.UUID{st.items[0].ID},
		ConfigurationID: cfg.ID,
	}
	wf, err := o.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if wf.Status != store.WorkflowFailed {
		t.Fatalf("status %s, want failed after write-back exhaustion", wf.Status)
	}
	if len(wf.Errors) == 0 {
		t.Error("failure reason missing from workflow errors")
	}
}

func TestReadRetryOnIntegrationError(t *testing.T) {
	st := newMockStore()
	cfg := testConfiguration()
	st.configs[cfg.ID] = cfg
	st.items = makeItems(2)
	st.readErr = &store.IntegrationError{Op: "read", Err: errors.New("flaky")}
	o := testOrchestrator(st, Options{ReadRetries: 3, RetryBackoff: time.Millisecond})

	// Clear the error after the first attempt sees it.
	go func() {
		time.Sleep(2 * time.Millisecond)
		st.mu.Lock()
		st.readErr = nil
		st.mu.Unlock()
	}()

	req := &store.ScoringRequest{
		ID:              uuid.New(),
		Project:         "p",
		WorkItemIDs:     []uuid.UUID{st.items[0].ID},
		ConfigurationID: cfg.ID,
	}
	wf, err := o.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if wf.Status != store.WorkflowCompleted {
		t.Fatalf("status %s, want completed after retry", wf.Status)
	}
}

func TestCancelQueuedWorkflow(t *testing.T) {
	st := newMockStore()
	cfg := testConfiguration()
	st.configs[cfg.ID] = cfg
	o := testOrchestrator(st, Options{})

	req := &store.ScoringRequest{
		ID:              uuid.New(),
		Mode:            store.ModeBatch,
		Project:         "p",
		ConfigurationID: cfg.ID,
	}
	wf, err := o.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Cancel(context.Background(), wf.ID); err != nil {
		t.Fatal(err)
	}
	if got := st.workflowStatus(wf.ID); got != store.WorkflowCancelled {
		t.Fatalf("status %s, want cancelled", got)
	}

	// Dispatch must not run the cancelled workflow.
	o.dispatchTick(context.Background())
	o.wg.Wait()
	if st.writtenCount() != 0 {
		t.Error("cancelled workflow must not produce scores")
	}
}

func TestRealtimeSubmitsRespectWorkflowCeiling(t *testing.T) {
	st := newMockStore()
	cfg := testConfiguration()
	st.configs[cfg.ID] = cfg
	items := makeItems(5)
	st.items = items

	var mu sync.Mutex
	var current, peak int
	st.readHook = func() {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		current--
		mu.Unlock()
	}
	o := testOrchestrator(st, Options{MaxConcurrentWorkflows: 2})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := &store.ScoringRequest{
				ID:              uuid.New(),
				Project:         "p",
				WorkItemIDs:     []uuid.UUID{items[i].ID},
				ConfigurationID: cfg.ID,
			}
			wf, err := o.Submit(context.Background(), req)
			if err != nil {
				t.Errorf("submit %d: %v", i, err)
				return
			}
			if wf.Status != store.WorkflowCompleted {
				t.Errorf("submit %d: status %s, want completed", i, wf.Status)
			}
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("%d workflows ran concurrently, ceiling is 2", peak)
	}
}

func TestMaxItemsLimitFailsWorkflow(t *testing.T) {
	st := newMockStore()
	cfg := testConfiguration()
	cfg.Limits.MaxItems = 2
	st.configs[cfg.ID] = cfg
	items := makeItems(3)
	st.items = items
	o := testOrchestrator(st, Options{})

	req := &store.ScoringRequest{
		ID:              uuid.New(),
		Project:         "p",
		WorkItemIDs:     []uuid.UUID{items[0].ID, items[1].ID, items[2].ID},
		ConfigurationID: cfg.ID,
	}
	wf, err := o.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if wf.Status != store.WorkflowFailed {
		t.Fatalf("status %s, want failed when item set exceeds the limit", wf.Status)
	}
	if len(wf.Errors) == 0 {
		t.Error("limit violation missing from workflow errors")
	}
	if st.writtenCount() != 0 {
		t.Error("over-limit workflow must not write scores")
	}
}

func TestWorkflowObservesQualityMetrics(t *testing.T) {
	st := newMockStore()
	cfg := testConfiguration()
	st.configs[cfg.ID] = cfg
	items := makeItems(3)
	st.items = items
	o := testOrchestrator(st, Options{})

	req := &store.ScoringRequest{
		ID:              uuid.New(),
		Project:         "p",
		WorkItemIDs:     []uuid.UUID{items[0].ID, items[1].ID},
		ConfigurationID: cfg.ID,
	}
	wf, err := o.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if wf.Status != store.WorkflowCompleted {
		t.Fatalf("status %s, want completed", wf.Status)
	}

	conf := o.mon.Stats("score.confidence", time.Minute)
	if conf.Count == 0 {
		t.Error("mean confidence not observed")
	}
	ai := o.mon.Stats("score.ai_usage", time.Minute)
	if ai.Count == 0 {
		t.Error("AI usage rate not observed")
	}
	if ai.Max != 0 {
		t.Errorf("AI usage %f with analysis disabled, want 0", ai.Max)
	}
}

func TestPauseJobPausesPendingWorkflow(t *testing.T) {
	st := newMockStore()
	cfg := testConfiguration()
	st.configs[cfg.ID] = cfg
	st.items = makeItems(3)
	o := testOrchestrator(st, Options{})
	sched := scheduler.New(st, o.FireScheduledJob, scheduler.Options{}, testLogger())
	o.AttachScheduler(sched)
	ctx := context.Background()

	job, err := o.Schedule(ctx, &store.ScoringRequest{
		ID:              uuid.New(),
		Project:         "p",
		ConfigurationID: cfg.ID,
		CronExpr:        "0 2 * * *",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := o.FireScheduledJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	var wfID uuid.UUID
	st.mu.Lock()
	for _, wf := range st.workflows {
		if wf.ScheduledJobID != nil && *wf.ScheduledJobID == job.ID {
			wfID = wf.ID
		}
	}
	st.mu.Unlock()
	if wfID == uuid.Nil {
		t.Fatal("fired job spawned no workflow")
	}
	if got := st.workflowStatus(wfID); got != store.WorkflowPending {
		t.Fatalf("spawned workflow status %s, want pending", got)
	}

	if err := o.PauseJob(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if got := st.workflowStatus(wfID); got != store.WorkflowPaused {
		t.Fatalf("status %s after job pause, want paused", got)
	}

	// Dispatch must not run the paused workflow.
	o.dispatchTick(ctx)
	o.wg.Wait()
	if st.writtenCount() != 0 {
		t.Error("paused workflow must not produce scores")
	}

	if err := o.ResumeJob(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if got := st.workflowStatus(wfID); got != store.WorkflowPending {
		t.Fatalf("status %s after job resume, want pending", got)
	}
	o.dispatchTick(ctx)
	waitForStatus(t, st, wfID, store.WorkflowCompleted)
	o.wg.Wait()
}

func TestQueueStatusReportsDepth(t *testing.T) {
	st := newMockStore()
	cfg := testConfiguration()
	st.configs[cfg.ID] = cfg
	o := testOrchestrator(st, Options{})

	for i := 0; i < 3; i++ {
		req := &store.ScoringRequest{
			ID:              uuid.New(),
			Mode:            store.ModeBatch,
			Project:         "p",
			ConfigurationID: cfg.ID,
			Priority:        store.PriorityHigh,
		}
		if _, err := o.Submit(context.Background(), req); err != nil {
			t.Fatal(err)
		}
	}
	status := o.QueueStatus()
	if status.Depth != 3 {
		t.Errorf("depth %d, want 3", status.Depth)
	}
	if status.ByBand[string(store.PriorityHigh)] != 3 {
		t.Errorf("high band %d, want 3", status.ByBand[string(store.PriorityHigh)])
	}
}
