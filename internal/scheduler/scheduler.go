package scheduler

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/apexboard/prioritizer/internal/store"
)

// JobStore is the slice of the persistence contract the scheduler needs.
type JobStore interface {
	CreateScheduledJob(ctx context.Context, job *store.ScheduledJob) error
	GetScheduledJob(ctx context.Context, id uuid.UUID) (*store.ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, job *store.ScheduledJob) error
	ListScheduledJobs(ctx context.Context, status *store.JobStatus) ([]*store.ScheduledJob, error)
}

// FireFunc runs one firing of a scheduled job. An error counts as a
// job failure and feeds the dead-letter backoff.
type FireFunc func(ctx context.Context, job *store.ScheduledJob) error

// DeadLetter records a job that exhausted its failure budget.
type DeadLetter struct {
	JobID    uuid.UUID `json:"job_id"`
	Project  string    `json:"project"`
	Reason   string    `json:"reason"`
	Failures int       `json:"failures"`
	At       time.Time `json:"at"`
}

// Options tunes failure handling.
type Options struct {
	MaxFailures  int           // pause the job after this many consecutive failures
	RetryBackoff time.Duration // base for exponential retry delay
	MaxBackoff   time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxFailures <= 0 {
		o.MaxFailures = 5
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 30 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Minute
	}
	return o
}

// fireAt is one planned firing on the timeline.
type fireAt struct {
	jobID uuid.UUID
	at    time.Time
	seq   uint64 // FIFO tiebreak for equal times
}

type fireHeap []*fireAt

func (h fireHeap) Len() int { return len(h) }
func (h fireHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h fireHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *fireHeap) Push(x interface{}) { *h = append(*h, x.(*fireAt)) }
func (h *fireHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Scheduler drives recurring jobs off a single timeline. One timer waits
// for the soonest planned firing; a job is never fired before its planned
// time, and equal times fire in insertion order.
type Scheduler struct {
	jobs    JobStore
	fire    FireFunc
	opts    Options
	logger  *slog.Logger
	onDead  func(DeadLetter)

	mu       sync.Mutex
	timeline fireHeap
	active   map[uuid.UUID]*store.ScheduledJob
	dead     []DeadLetter
	seq      uint64

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(jobs JobStore, fire FireFunc, opts Options, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		jobs:   jobs,
		fire:   fire,
		opts:   opts.withDefaults(),
		logger: logger,
		active: make(map[uuid.UUID]*store.ScheduledJob),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// OnDeadLetter sets the callback invoked when a job is paused for
// exhausting its failure budget.
func (s *Scheduler) OnDeadLetter(fn func(DeadLetter)) {
	s.mu.Lock()
	s.onDead = fn
	s.mu.Unlock()
}

// ParseCron validates a standard five-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	return cron.ParseStandard(expr)
}

// AddJob registers and persists a new recurring job. The first firing is
// the next cron occurrence strictly after now.
func (s *Scheduler) AddJob(ctx context.Context, req *store.ScoringRequest) (*store.ScheduledJob, error) {
	schedule, err := ParseCron(req.CronExpr)
	if err != nil {
		return nil, &SchedulingError{RequestID: req.ID, Msg: "invalid cron expression: " + err.Error()}
	}

	now := time.Now().UTC()
	job := &store.ScheduledJob{
		ID:              uuid.New(),
		CronExpr:        req.CronExpr,
		JobType:         req.Mode,
		Project:         req.Project,
		ConfigurationID: req.ConfigurationID,
		Status:          store.JobActive,
		NextFireTime:    schedule.Next(now),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.jobs.CreateScheduledJob(ctx, job); err != nil {
		return nil, err
	}
	s.track(job)
	return job, nil
}

// Restore loads active jobs from the store, recomputing stale fire times.
func (s *Scheduler) Restore(ctx context.Context) error {
	status := store.JobActive
	jobs, err := s.jobs.ListScheduledJobs(ctx, &status)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, job := range jobs {
		if job.NextFireTime.Before(now) {
			if schedule, err := ParseCron(job.CronExpr); err == nil {
				job.NextFireTime = schedule.Next(now)
				_ = s.jobs.UpdateScheduledJob(ctx, job)
			}
		}
		s.track(job)
	}
	s.logger.Info("scheduled jobs restored", "count", len(jobs))
	return nil
}

// PauseJob stops firing without losing the job.
func (s *Scheduler) PauseJob(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, store.JobPaused)
}

// ResumeJob reactivates a paused job, resetting its failure count and
// planning the next cron occurrence.
func (s *Scheduler) ResumeJob(ctx context.Context, id uuid.UUID) error {
	job, err := s.jobs.GetScheduledJob(ctx, id)
	if err != nil {
		return err
	}
	schedule, err := ParseCron(job.CronExpr)
	if err != nil {
		return &SchedulingError{RequestID: id, Msg: "invalid cron expression: " + err.Error()}
	}
	job.Status = store.JobActive
	job.FailureCount = 0
	job.NextFireTime = schedule.Next(time.Now().UTC())
	job.UpdatedAt = time.Now().UTC()
	if err := s.jobs.UpdateScheduledJob(ctx, job); err != nil {
		return err
	}
	s.track(job)
	return nil
}

// CancelJob removes the job from the timeline permanently.
func (s *Scheduler) CancelJob(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, store.JobCancelled)
}

// DeadLetters lists jobs paused for exhausting their failure budget,
// newest first.
func (s *Scheduler) DeadLetters() []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeadLetter, len(s.dead))
	copy(out, s.dead)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Start launches the timeline loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop halts the loop. In-flight firings finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) setStatus(ctx context.Context, id uuid.UUID, status store.JobStatus) error {
	job, err := s.jobs.GetScheduledJob(ctx, id)
	if err != nil {
		return err
	}
	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	if err := s.jobs.UpdateScheduledJob(ctx, job); err != nil {
		return err
	}
	s.mu.Lock()
	if status == store.JobActive {
		s.active[id] = job
	} else {
		delete(s.active, id)
	}
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) track(job *store.ScheduledJob) {
	s.mu.Lock()
	s.active[job.ID] = job
	s.seq++
	heap.Push(&s.timeline, &fireAt{jobID: job.ID, at: job.NextFireTime, seq: s.seq})
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		var next *fireAt
		if s.timeline.Len() > 0 {
			next = s.timeline[0]
		}
		s.mu.Unlock()

		if next == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-s.wake:
				continue
			}
		}

		wait := time.Until(next.at)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-s.stopCh:
				timer.Stop()
				return
			case <-s.wake:
				timer.Stop()
				continue // timeline changed, recompute the soonest firing
			case <-timer.C:
			}
		}
		s.fireDue(ctx)
	}
}

// fireDue pops and fires every planned firing whose time has arrived.
// Entries whose job was cancelled, paused, or rescheduled are stale and
// dropped without firing.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now().UTC()
	for {
		s.mu.Lock()
		if s.timeline.Len() == 0 || s.timeline[0].at.After(now) {
			s.mu.Unlock()
			return
		}
		entry := heap.Pop(&s.timeline).(*fireAt)
		job, ok := s.active[entry.jobID]
		stale := !ok || job.Status != store.JobActive || !job.NextFireTime.Equal(entry.at)
		s.mu.Unlock()

		if stale {
			continue
		}
		s.fireOne(ctx, job, now)
	}
}

func (s *Scheduler) fireOne(ctx context.Context, job *store.ScheduledJob, now time.Time) {
	err := s.fire(ctx, job)
	if err == nil {
		fired := now
		job.LastFireTime = &fired
		job.FailureCount = 0
		if schedule, perr := ParseCron(job.CronExpr); perr == nil {
			job.NextFireTime = schedule.Next(now)
		}
		job.UpdatedAt = now
		if uerr := s.jobs.UpdateScheduledJob(ctx, job); uerr != nil {
			s.logger.Error("job update failed after fire", "job_id", job.ID, "error", uerr)
		}
		s.track(job)
		return
	}

	job.FailureCount++
	job.UpdatedAt = now
	s.logger.Warn("scheduled job failed", "job_id", job.ID, "failures", job.FailureCount, "error", err)

	if job.FailureCount >= s.opts.MaxFailures {
		job.Status = store.JobPaused
		if uerr := s.jobs.UpdateScheduledJob(ctx, job); uerr != nil {
			s.logger.Error("job pause failed", "job_id", job.ID, "error", uerr)
		}
		dl := DeadLetter{
			JobID:    job.ID,
			Project:  job.Project,
			Reason:   err.Error(),
			Failures: job.FailureCount,
			At:       now,
		}
		s.mu.Lock()
		delete(s.active, job.ID)
		s.dead = append(s.dead, dl)
		onDead := s.onDead
		s.mu.Unlock()
		if onDead != nil {
			onDead(dl)
		}
		return
	}

	// Exponential backoff before the retry firing.
	backoff := s.opts.RetryBackoff << (job.FailureCount - 1)
	if backoff > s.opts.MaxBackoff || backoff <= 0 {
		backoff = s.opts.MaxBackoff
	}
	job.NextFireTime = now.Add(backoff)
	if uerr := s.jobs.UpdateScheduledJob(ctx, job); uerr != nil {
		s.logger.Error("job update failed after failure", "job_id", job.ID, "error", uerr)
	}
	s.track(job)
}
