package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/apexboard/prioritizer/internal/events"
	"github.com/apexboard/prioritizer/internal/monitor"
	"github.com/apexboard/prioritizer/internal/scheduler"
	"github.com/apexboard/prioritizer/internal/scoring"
	"github.com/apexboard/prioritizer/internal/store"
	"github.com/apexboard/prioritizer/internal/workflow"
)

// Options tunes dispatch, write-back, and retention.
type Options struct {
	MaxConcurrentWorkflows int
	RealtimeItemLimit      int // at most this many explicit items runs inline
	DispatchTick           time.Duration
	ReadRetries            int
	WriteBackRetries       int
	RetryBackoff           time.Duration
	WorkflowRetention      time.Duration
	PruneTick              time.Duration
	Thresholds             scheduler.Thresholds
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrentWorkflows <= 0 {
		o.MaxConcurrentWorkflows = 8
	}
	if o.RealtimeItemLimit <= 0 {
		o.RealtimeItemLimit = 25
	}
	if o.DispatchTick <= 0 {
		o.DispatchTick = time.Second
	}
	if o.ReadRetries <= 0 {
		o.ReadRetries = 3
	}
	if o.WriteBackRetries <= 0 {
		o.WriteBackRetries = 5
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	if o.WorkflowRetention <= 0 {
		o.WorkflowRetention = 30 * 24 * time.Hour
	}
	if o.PruneTick <= 0 {
		o.PruneTick = time.Hour
	}
	return o
}

// Orchestrator owns the scoring pipeline end to end: it classifies
// requests, runs workflows through the batch processor under a bounded
// worker pool, and writes results back to the work item store.
type Orchestrator struct {
	store     store.Store
	engine    *scoring.Engine
	batch     *workflow.BatchProcessor
	queue     *scheduler.Queue
	sched     *scheduler.Scheduler
	resources scheduler.ResourceMonitor
	mon       *monitor.Monitor
	bus       events.Client
	opts      Options
	logger    *slog.Logger

	slots *semaphore.Weighted

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	pending map[uuid.UUID]uuid.UUID // request ID -> workflow ID, while queued

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(st store.Store, engine *scoring.Engine, batch *workflow.BatchProcessor, queue *scheduler.Queue,
	resources scheduler.ResourceMonitor, mon *monitor.Monitor, bus events.Client,
	opts Options, logger *slog.Logger) *Orchestrator {
	opts = opts.withDefaults()
	o := &Orchestrator{
		store:     st,
		engine:    engine,
		batch:     batch,
		queue:     queue,
		resources: resources,
		mon:       mon,
		bus:       bus,
		opts:      opts,
		logger:    logger,
		slots:     semaphore.NewWeighted(int64(opts.MaxConcurrentWorkflows)),
		cancels:   make(map[uuid.UUID]context.CancelFunc),
		pending:   make(map[uuid.UUID]uuid.UUID),
		stopCh:    make(chan struct{}),
	}
	return o
}

// AttachScheduler wires the recurring-job scheduler. Its firings flow
// through the same queue as ad hoc requests.
func (o *Orchestrator) AttachScheduler(sched *scheduler.Scheduler) {
	o.sched = sched
}

// ClassifyMode resolves the effective mode for a request. An explicit
// mode wins; otherwise a cron expression means scheduled, a small
// explicit item list means realtime, and everything else is batch.
func (o *Orchestrator) ClassifyMode(req *store.ScoringRequest) store.Mode {
	if req.Mode != "" {
		return req.Mode
	}
	if req.CronExpr != "" {
		return store.ModeScheduled
	}
	if n := len(req.WorkItemIDs); n > 0 && n <= o.opts.RealtimeItemLimit {
		return store.ModeRealtime
	}
	return store.ModeBatch
}

// Submit accepts one scoring request. Realtime requests run inline and
// return a terminal workflow; other modes return a pending workflow that
// the dispatch loop will pick up. Scheduled requests must go through
// Schedule instead.
func (o *Orchestrator) Submit(ctx context.Context, req *store.ScoringRequest) (*store.Workflow, error) {
	req.Mode = o.ClassifyMode(req)
	if req.Mode == store.ModeScheduled {
		return nil, &scheduler.SchedulingError{RequestID: req.ID, Msg: "scheduled requests are registered as jobs"}
	}

	cfg, err := o.store.GetConfiguration(ctx, req.ConfigurationID)
	if err != nil {
		return nil, err
	}
	if _, err := o.engine.NewRun(cfg); err != nil {
		return nil, err
	}

	wf := workflow.New(req, workflow.ConfigurationRef{ID: cfg.ID, Version: cfg.Version})
	if err := o.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	o.publish(events.SubjectWorkflowCreated(wf.ID.String()), o.workflowEvent(wf))

	if req.Mode == store.ModeRealtime {
		// Inline execution still occupies a pool slot: the running-workflow
		// ceiling holds across modes, so a burst of realtime requests waits
		// for capacity instead of stampeding past it.
		if err := o.slots.Acquire(ctx, 1); err != nil {
			wf.Errors = append(wf.Errors, err.Error())
			_ = workflow.Transition(wf, store.WorkflowFailed)
			_ = o.store.UpdateWorkflow(ctx, wf)
			return nil, err
		}
		o.execute(ctx, wf, req)
		o.slots.Release(1)
		return wf, nil
	}

	if err := o.queue.Enqueue(req); err != nil {
		wf.Errors = append(wf.Errors, err.Error())
		_ = workflow.Transition(wf, store.WorkflowFailed)
		_ = o.store.UpdateWorkflow(ctx, wf)
		return nil, err
	}
	o.mu.Lock()
	o.pending[req.ID] = wf.ID
	o.mu.Unlock()
	o.mon.SetQueueDepth(o.queue.Depth())
	return wf, nil
}

// Schedule registers a recurring job from a scheduled-mode request.
func (o *Orchestrator) Schedule(ctx context.Context, req *store.ScoringRequest) (*store.ScheduledJob, error) {
	if o.sched == nil {
		return nil, &scheduler.SchedulingError{RequestID: req.ID, Msg: "scheduler not running"}
	}
	if _, err := o.store.GetConfiguration(ctx, req.ConfigurationID); err != nil {
		return nil, err
	}
	job, err := o.sched.AddJob(ctx, req)
	if err != nil {
		return nil, err
	}
	o.publish(events.SubjectJobFired(job.ID.String()), events.JobEvent{
		JobID: job.ID.String(), CronExpr: job.CronExpr, Project: job.Project, NextFireTime: &job.NextFireTime,
	})
	return job, nil
}

// FireScheduledJob spawns and enqueues a workflow for one job firing.
// The scheduler calls this; an error feeds its failure backoff.
func (o *Orchestrator) FireScheduledJob(ctx context.Context, job *store.ScheduledJob) error {
	req := &store.ScoringRequest{
		ID:              uuid.New(),
		Mode:            job.JobType,
		Project:         job.Project,
		ConfigurationID: job.ConfigurationID,
		Priority:        store.PriorityNormal,
	}
	if req.Mode == store.ModeScheduled || req.Mode == "" {
		req.Mode = store.ModeBatch
	}

	cfg, err := o.store.GetConfiguration(ctx, job.ConfigurationID)
	if err != nil {
		return err
	}
	wf := workflow.New(req, workflow.ConfigurationRef{ID: cfg.ID, Version: cfg.Version})
	wf.ScheduledJobID = &job.ID
	if err := o.store.CreateWorkflow(ctx, wf); err != nil {
		return err
	}
	if err := o.queue.Enqueue(req); err != nil {
		wf.Errors = append(wf.Errors, err.Error())
		_ = workflow.Transition(wf, store.WorkflowFailed)
		_ = o.store.UpdateWorkflow(ctx, wf)
		return err
	}
	o.mu.Lock()
	o.pending[req.ID] = wf.ID
	o.mu.Unlock()
	o.publish(events.SubjectJobFired(job.ID.String()), events.JobEvent{JobID: job.ID.String(), Project: job.Project})
	return nil
}

// PauseJob pauses a recurring job along with any of its spawned workflows
// still waiting to run.
func (o *Orchestrator) PauseJob(ctx context.Context, id uuid.UUID) error {
	if o.sched == nil {
		return &scheduler.SchedulingError{RequestID: id, Msg: "scheduler not running"}
	}
	if err := o.sched.PauseJob(ctx, id); err != nil {
		return err
	}
	for _, wf := range o.jobWorkflows(ctx, id, store.WorkflowPending) {
		if err := workflow.Transition(wf, store.WorkflowPaused); err != nil {
			continue
		}
		_ = o.store.UpdateWorkflow(ctx, wf)
	}
	o.publish(events.SubjectJobPaused(id.String()), events.JobEvent{JobID: id.String()})
	return nil
}

// ResumeJob reactivates a paused job and re-queues its paused workflows.
func (o *Orchestrator) ResumeJob(ctx context.Context, id uuid.UUID) error {
	if o.sched == nil {
		return &scheduler.SchedulingError{RequestID: id, Msg: "scheduler not running"}
	}
	if err := o.sched.ResumeJob(ctx, id); err != nil {
		return err
	}
	for _, wf := range o.jobWorkflows(ctx, id, store.WorkflowPaused) {
		if err := workflow.Transition(wf, store.WorkflowPending); err != nil {
			continue
		}
		_ = o.store.UpdateWorkflow(ctx, wf)

		o.mu.Lock()
		queued := false
		for _, wfID := range o.pending {
			if wfID == wf.ID {
				queued = true
				break
			}
		}
		o.mu.Unlock()
		if queued {
			// The original request is still in the dispatch queue.
			continue
		}
		req := &store.ScoringRequest{
			ID:              uuid.New(),
			Mode:            wf.Mode,
			Project:         wf.Project,
			ConfigurationID: wf.ConfigurationID,
			Priority:        store.PriorityNormal,
		}
		if err := o.queue.Enqueue(req); err != nil {
			o.logger.Warn("resumed workflow could not be re-queued", "workflow_id", wf.ID, "error", err)
			continue
		}
		o.mu.Lock()
		o.pending[req.ID] = wf.ID
		o.mu.Unlock()
	}
	o.publish(events.SubjectJobResumed(id.String()), events.JobEvent{JobID: id.String()})
	return nil
}

func (o *Orchestrator) jobWorkflows(ctx context.Context, jobID uuid.UUID, status store.WorkflowStatus) []*store.Workflow {
	wfs, err := o.store.ListWorkflows(ctx, store.WorkflowFilter{Status: &status})
	if err != nil {
		o.logger.Warn("workflow list failed", "job_id", jobID, "error", err)
		return nil
	}
	var out []*store.Workflow
	for _, wf := range wfs {
		if wf.ScheduledJobID != nil && *wf.ScheduledJobID == jobID {
			out = append(out, wf)
		}
	}
	return out
}

// Cancel stops a workflow. Queued workflows fail fast on dispatch;
// running ones stop at the next chunk boundary.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) error {
	o.mu.Lock()
	cancel, running := o.cancels[id]
	o.mu.Unlock()
	if running {
		cancel()
		return nil
	}

	wf, err := o.store.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if err := workflow.Transition(wf, store.WorkflowCancelled); err != nil {
		return err
	}
	if err := o.store.UpdateWorkflow(ctx, wf); err != nil {
		return err
	}
	o.publish(events.SubjectWorkflowCancelled(wf.ID.String()), o.workflowEvent(wf))
	return nil
}

// QueueStatus reports dispatch queue depths and the longest wait.
func (o *Orchestrator) QueueStatus() events.QueueStatsEvent {
	now := time.Now().UTC()
	return events.QueueStatsEvent{
		Depth:        o.queue.Depth(),
		ByBand:       o.queue.DepthByBand(),
		OldestWaitMs: o.queue.OldestWait(now).Milliseconds(),
		Timestamp:    now,
	}
}

// Start launches the dispatch and retention loops.
func (o *Orchestrator) Start(ctx context.Context) {
	o.wg.Add(2)
	go o.dispatchLoop(ctx)
	go o.pruneLoop(ctx)
}

// Stop halts the loops and waits for running workflows to finish.
func (o *Orchestrator) Stop() {
	close(o.stopCh)
	o.wg.Wait()
}

func (o *Orchestrator) dispatchLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.opts.DispatchTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.dispatchTick(ctx)
		}
	}
}

func (o *Orchestrator) dispatchTick(ctx context.Context) {
	for _, req := range o.queue.Reap(time.Now().UTC()) {
		o.failQueued(ctx, req, "max wait exceeded before dispatch")
	}
	o.mon.SetQueueDepth(o.queue.Depth())

	if o.resources != nil {
		u, err := o.resources.Utilization(ctx)
		if err == nil && o.opts.Thresholds.Overloaded(u) {
			o.logger.Warn("dispatch deferred, host overloaded",
				"cpu_percent", u.CPUPercent, "memory_percent", u.MemoryPercent)
			return
		}
	}

	for o.slots.TryAcquire(1) {
		req := o.queue.Dequeue()
		if req == nil {
			o.slots.Release(1)
			return
		}
		o.mon.SetQueueDepth(o.queue.Depth())

		o.mu.Lock()
		wfID, ok := o.pending[req.ID]
		delete(o.pending, req.ID)
		o.mu.Unlock()
		if !ok {
			o.slots.Release(1)
			continue
		}

		wf, err := o.store.GetWorkflow(ctx, wfID)
		if err != nil {
			o.logger.Error("queued workflow vanished", "workflow_id", wfID, "error", err)
			o.slots.Release(1)
			continue
		}
		if wf.Status != store.WorkflowPending {
			// Cancelled or paused while queued.
			o.slots.Release(1)
			continue
		}

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			defer o.slots.Release(1)
			o.execute(ctx, wf, req)
		}()
	}
}

func (o *Orchestrator) failQueued(ctx context.Context, req *store.ScoringRequest, reason string) {
	o.mu.Lock()
	wfID, ok := o.pending[req.ID]
	delete(o.pending, req.ID)
	o.mu.Unlock()
	if !ok {
		return
	}
	wf, err := o.store.GetWorkflow(ctx, wfID)
	if err != nil {
		return
	}
	wf.Errors = append(wf.Errors, reason)
	if err := workflow.Transition(wf, store.WorkflowFailed); err == nil {
		_ = o.store.UpdateWorkflow(ctx, wf)
		o.publish(events.SubjectWorkflowFailed(wf.ID.String()), o.workflowEvent(wf))
	}
}

// execute runs one workflow to a terminal state.
func (o *Orchestrator) execute(ctx context.Context, wf *store.Workflow, req *store.ScoringRequest) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.cancels[wf.ID] = cancel
	active := len(o.cancels)
	o.mu.Unlock()
	o.mon.SetActiveWorkflows(active)
	defer func() {
		o.mu.Lock()
		delete(o.cancels, wf.ID)
		active := len(o.cancels)
		o.mu.Unlock()
		o.mon.SetActiveWorkflows(active)
	}()

	op := o.mon.Track("workflow." + string(wf.Mode))
	if err := workflow.Transition(wf, store.WorkflowRunning); err != nil {
		op.Done(err)
		return
	}
	_ = o.store.UpdateWorkflow(ctx, wf)
	o.publish(events.SubjectWorkflowStarted(wf.ID.String()), o.workflowEvent(wf))

	err := o.runScoring(runCtx, wf, req)
	op.Done(err)

	switch {
	case err == nil && runCtx.Err() != nil:
		wf.Errors = append(wf.Errors, "cancelled")
		o.finish(ctx, wf, store.WorkflowCancelled)
	case err != nil:
		wf.Errors = append(wf.Errors, err.Error())
		o.finish(ctx, wf, store.WorkflowFailed)
	default:
		o.finish(ctx, wf, store.WorkflowCompleted)
	}
}

func (o *Orchestrator) runScoring(ctx context.Context, wf *store.Workflow, req *store.ScoringRequest) error {
	cfg, err := o.store.GetConfiguration(ctx, wf.ConfigurationID)
	if err != nil {
		return err
	}
	run, err := o.engine.NewRun(cfg)
	if err != nil {
		return err
	}

	items, err := o.readItems(ctx, req)
	if err != nil {
		return err
	}
	if limit := cfg.Limits.MaxItems; limit > 0 && len(items) > limit {
		return fmt.Errorf("item set size %d exceeds configured limit of %d", len(items), limit)
	}
	wf.TotalItems = len(items)
	_ = o.store.UpdateWorkflow(ctx, wf)
	if len(items) == 0 {
		return nil
	}

	if ms := cfg.Limits.TimeoutMs; ms > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}

	res := o.batch.Process(ctx, run, items, func(p workflow.Progress) {
		wf.ProcessedItems = p.Processed
		wf.SucceededItems = p.Succeeded
		wf.FailedItems = p.Failed
		_ = o.store.UpdateWorkflow(ctx, wf)
		o.publish(events.SubjectWorkflowProgress(wf.ID.String()), events.WorkflowProgressEvent{
			WorkflowID: wf.ID.String(), Processed: p.Processed, Succeeded: p.Succeeded, Failed: p.Failed, Total: p.Total,
		})
	})
	wf.ProcessedItems = len(res.Results) + len(res.Failed)
	wf.SucceededItems = len(res.Results)
	wf.FailedItems = len(res.Failed)
	for _, f := range res.Failed {
		if len(wf.Errors) < 20 {
			wf.Errors = append(wf.Errors, f.WorkItemID+": "+f.Reason)
		}
	}
	o.mon.RecordItems(len(res.Results), len(res.Failed))
	if n := len(res.Results); n > 0 {
		var confSum float64
		var aiUsed int
		for _, r := range res.Results {
			confSum += r.Confidence
			if r.UsedAI {
				aiUsed++
			}
		}
		o.mon.Observe("score.confidence", confSum/float64(n), nil)
		o.mon.Observe("score.ai_usage", float64(aiUsed)/float64(n), nil)
	}

	for i := range res.Results {
		res.Results[i].WorkflowID = wf.ID
	}
	return o.writeBack(ctx, wf, res.Results)
}

// readItems reads the workflow's item set, retrying integration failures
// with exponential backoff.
func (o *Orchestrator) readItems(ctx context.Context, req *store.ScoringRequest) ([]*store.WorkItem, error) {
	var lastErr error
	for attempt := 0; attempt < o.opts.ReadRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, o.opts.RetryBackoff<<(attempt-1)); err != nil {
				return nil, err
			}
		}
		items, err := o.store.ReadItems(ctx, req.Project, req.WorkItemIDs)
		if err == nil {
			return items, nil
		}
		lastErr = err
		var integrationErr *store.IntegrationError
		if !errors.As(err, &integrationErr) {
			return nil, err
		}
		o.logger.Warn("work item read failed", "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("read items after %d attempts: %w", o.opts.ReadRetries, lastErr)
}

// writeBack persists results, retrying transient failures. Exhausting
// retries fails the workflow rather than dropping scores silently.
func (o *Orchestrator) writeBack(ctx context.Context, wf *store.Workflow, results []*store.ScoreResult) error {
	if len(results) == 0 {
		return nil
	}
	var lastErr error
	for attempt := 0; attempt < o.opts.WriteBackRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, o.opts.RetryBackoff<<(attempt-1)); err != nil {
				return err
			}
		}
		ack, err := o.store.WriteScores(ctx, results)
		if err == nil {
			if len(ack.FailedIDs) > 0 {
				wf.SucceededItems -= len(ack.FailedIDs)
				wf.FailedItems += len(ack.FailedIDs)
				wf.Errors = append(wf.Errors, fmt.Sprintf("%d scores rejected on write-back", len(ack.FailedIDs)))
			}
			return nil
		}
		lastErr = err
		o.logger.Warn("score write-back failed", "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("write-back after %d attempts: %w", o.opts.WriteBackRetries, lastErr)
}

func (o *Orchestrator) finish(ctx context.Context, wf *store.Workflow, status store.WorkflowStatus) {
	if err := workflow.Transition(wf, status); err != nil {
		o.logger.Error("workflow finish transition rejected", "workflow_id", wf.ID, "error", err)
		return
	}
	if err := o.store.UpdateWorkflow(ctx, wf); err != nil {
		o.logger.Error("workflow final update failed", "workflow_id", wf.ID, "error", err)
	}
	subject := events.SubjectWorkflowCompleted(wf.ID.String())
	switch status {
	case store.WorkflowFailed:
		subject = events.SubjectWorkflowFailed(wf.ID.String())
	case store.WorkflowCancelled:
		subject = events.SubjectWorkflowCancelled(wf.ID.String())
	}
	o.publish(subject, o.workflowEvent(wf))
	o.logger.Info("workflow finished",
		"workflow_id", wf.ID, "status", wf.Status,
		"succeeded", wf.SucceededItems, "failed", wf.FailedItems)
}

func (o *Orchestrator) pruneLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.opts.PruneTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-o.opts.WorkflowRetention)
			pruned, err := o.store.PruneWorkflows(ctx, cutoff)
			if err != nil {
				o.logger.Warn("workflow prune failed", "error", err)
				continue
			}
			if pruned > 0 {
				o.logger.Info("workflows pruned", "count", pruned)
			}
		}
	}
}

func (o *Orchestrator) workflowEvent(wf *store.Workflow) events.WorkflowEvent {
	return events.WorkflowEvent{
		WorkflowID:           wf.ID.String(),
		Mode:                 string(wf.Mode),
		Status:               string(wf.Status),
		Project:              wf.Project,
		ConfigurationVersion: wf.ConfigurationVersion,
		Timestamp:            time.Now().UTC(),
	}
}

func (o *Orchestrator) publish(subject string, payload interface{}) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(subject, payload); err != nil {
		o.logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
