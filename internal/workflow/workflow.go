package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/apexboard/prioritizer/internal/store"
)

// TransitionError reports an attempt to move a workflow against the
// lifecycle order.
type TransitionError struct {
	WorkflowID uuid.UUID
	From       store.WorkflowStatus
	To         store.WorkflowStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("workflow %s: illegal transition %s -> %s", e.WorkflowID, e.From, e.To)
}

// rank orders the lifecycle. Terminal states share the highest rank so no
// transition out of them is ever legal.
func rank(s store.WorkflowStatus) int {
	switch s {
	case store.WorkflowPending:
		return 0
	case store.WorkflowPaused:
		return 1
	case store.WorkflowRunning:
		return 2
	case store.WorkflowCompleted, store.WorkflowFailed, store.WorkflowCancelled:
		return 3
	default:
		return -1
	}
}

func terminal(s store.WorkflowStatus) bool { return rank(s) == 3 }

// New builds a pending workflow for one scoring request against a pinned
// configuration version.
func New(req *store.ScoringRequest, cfg ConfigurationRef) *store.Workflow {
	return &store.Workflow{
		ID:                   uuid.New(),
		Mode:                 req.Mode,
		Status:               store.WorkflowPending,
		Project:              req.Project,
		ConfigurationID:      cfg.ID,
		ConfigurationVersion: cfg.Version,
		CreatedAt:            time.Now().UTC(),
	}
}

// ConfigurationRef pins the configuration identity a workflow ran against.
type ConfigurationRef struct {
	ID      uuid.UUID
	Version int
}

// Transition moves a workflow to the next status, enforcing monotonic
// progress. PAUSED is reachable only for workflows spawned by a scheduled
// job, and only from PENDING.
func Transition(wf *store.Workflow, to store.WorkflowStatus) error {
	from := wf.Status
	bad := &TransitionError{WorkflowID: wf.ID, From: from, To: to}

	if terminal(from) {
		return bad
	}
	if to == store.WorkflowPaused {
		if wf.ScheduledJobID == nil || from != store.WorkflowPending {
			return bad
		}
	}
	switch {
	case from == store.WorkflowPending && to == store.WorkflowPaused:
		// Scheduled-job workflow held back before dispatch.
	case from == store.WorkflowPaused && to == store.WorkflowPending:
		// Resume re-queues the workflow.
	case from == store.WorkflowPaused && to == store.WorkflowCancelled:
	case rank(to) <= rank(from):
		return bad
	case from == store.WorkflowPending && to == store.WorkflowRunning:
	case from == store.WorkflowPending && terminal(to):
		// Cancelled or failed before it ever started.
	case from == store.WorkflowRunning && terminal(to):
	default:
		return bad
	}

	now := time.Now().UTC()
	wf.Status = to
	switch {
	case to == store.WorkflowRunning:
		wf.StartedAt = &now
	case terminal(to):
		wf.CompletedAt = &now
	}
	return nil
}
