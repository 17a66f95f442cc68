package events

import "time"

type WorkflowEvent struct {
	WorkflowID           string    `json:"workflow_id"`
	Mode                 string    `json:"mode"`
	Status               string    `json:"status"`
	Project              string    `json:"project"`
	ConfigurationVersion int       `json:"configuration_version"`
	Timestamp            time.Time `json:"timestamp"`
}

type WorkflowProgressEvent struct {
	WorkflowID string `json:"workflow_id"`
	Processed  int    `json:"processed"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	Total      int    `json:"total"`
}

type WorkflowCompletedEvent struct {
	WorkflowID string  `json:"workflow_id"`
	Succeeded  int     `json:"succeeded"`
	Failed     int     `json:"failed"`
	DurationMs float64 `json:"duration_ms"`
}

type JobEvent struct {
	JobID        string     `json:"job_id"`
	CronExpr     string     `json:"cron_expr,omitempty"`
	Project      string     `json:"project"`
	FailureCount int        `json:"failure_count,omitempty"`
	NextFireTime *time.Time `json:"next_fire_time,omitempty"`
}

type AlertEvent struct {
	Rule      string    `json:"rule"`
	Severity  string    `json:"severity"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	FiredAt   time.Time `json:"fired_at"`
}

type QueueStatsEvent struct {
	Depth        int            `json:"depth"`
	ByBand       map[string]int `json:"by_band,omitempty"`
	OldestWaitMs int64          `json:"oldest_wait_ms"`
	Timestamp    time.Time      `json:"timestamp"`
}
