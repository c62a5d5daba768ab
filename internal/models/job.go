package models

import (
	"time"
)

// JobStatus values persisted in Postgres. A job starts queued and ends
// published; every move between states goes through the transition table.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusPublished  = "published"
)

// AllStatuses lists every valid job status.
var AllStatuses = []string{
	StatusQueued,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusPublished,
}

// transitions is the fixed state machine. failed -> queued is the explicit
// retry path; published is terminal.
var transitions = map[string]map[string]bool{
	StatusQueued:     {StatusProcessing: true, StatusFailed: true},
	StatusProcessing: {StatusCompleted: true, StatusFailed: true},
	StatusCompleted:  {StatusPublished: true, StatusFailed: true},
	StatusFailed:     {StatusQueued: true},
	StatusPublished:  {},
}

// ValidStatus reports whether s is a member of the status enum.
func ValidStatus(s string) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to string) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// Job is one unit of queued work: a single article to produce and publish.
type Job struct {
	ID                    string     `json:"job_id"`
	ConfigurationID       string     `json:"configuration_id"`
	Status                string     `json:"status"`
	SeedKeyword           string     `json:"seed_keyword"`
	TargetAudience        *string    `json:"target_audience,omitempty"`
	WritingStyle          *string    `json:"writing_style,omitempty"`
	ScheduledDate         *time.Time `json:"scheduled_date,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	ProcessingStartedAt   *time.Time `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processing_completed_at,omitempty"`
	ErrorMessage          *string    `json:"error_message,omitempty"`
	RetryCount            int        `json:"retry_count"`
	ResultRefID           *string    `json:"result_ref_id,omitempty"`
	ResultURL             *string    `json:"result_url,omitempty"`

	// Configuration is attached by ClaimNext (without credentials). It is
	// never persisted on the job row.
	Configuration *Configuration `json:"configuration,omitempty"`
}

// EffectiveTime is the claim-ordering key: scheduled_date when set,
// otherwise created_at.
func (j *Job) EffectiveTime() time.Time {
	if j.ScheduledDate != nil {
		return *j.ScheduledDate
	}
	return j.CreatedAt
}

// EligibleAt reports whether the job may be claimed at the given instant.
func (j *Job) EligibleAt(now time.Time) bool {
	if j.Status != StatusQueued {
		return false
	}
	return j.ScheduledDate == nil || !j.ScheduledDate.After(now)
}

// QueueStats summarizes the queue for the stats endpoint.
type QueueStats struct {
	CountsByStatus       map[string]int64 `json:"counts_by_status"`
	ReadyNow             int64            `json:"ready_now"`
	AvgProcessingSeconds float64          `json:"avg_processing_seconds"`
}
