package events

const (
	SubjectQueueStats = "prio.queue.stats"

	StreamName   = "PRIORITIZER_EVENTS"
	StreamMaxAge = "168h" // 7 days
)

func SubjectWorkflowCreated(id string) string   { return "prio.workflow." + id + ".created" }
func SubjectWorkflowStarted(id string) string   { return "prio.workflow." + id + ".started" }
func SubjectWorkflowProgress(id string) string  { return "prio.workflow." + id + ".progress" }
func SubjectWorkflowCompleted(id string) string { return "prio.workflow." + id + ".completed" }
func SubjectWorkflowFailed(id string) string    { return "prio.workflow." + id + ".failed" }
func SubjectWorkflowCancelled(id string) string { return "prio.workflow." + id + ".cancelled" }

func SubjectJobFired(id string) string     { return "prio.job." + id + ".fired" }
func SubjectJobPaused(id string) string    { return "prio.job." + id + ".paused" }
func SubjectJobResumed(id string) string   { return "prio.job." + id + ".resumed" }
func SubjectJobCancelled(id string) string { return "prio.job." + id + ".cancelled" }
func SubjectJobDeadLetter(id string) string { return "prio.job." + id + ".deadletter" }

func SubjectAlertFired(rule string) string { return "prio.alert." + rule + ".fired" }
