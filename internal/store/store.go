package store

import (
	"context"
	"encoding/json"
	"time"

	"article-pipeline/internal/models"
)

// ConfigResolver answers configuration lookups at enqueue and claim time.
// *configstore.Store satisfies it.
type ConfigResolver interface {
	Exists(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string, includeCredentials bool) (models.Configuration, error)
}

// EnqueueParams collects inputs required to insert a job.
type EnqueueParams struct {
	ConfigurationID string
	SeedKeyword     string
	TargetAudience  string
	WritingStyle    string
	ScheduledDate   *time.Time
	IdempotencyKey  string
	IdempotencyTTL  time.Duration
}

// StatusUpdate carries the optional payload of a status transition: the
// error message on entry to failed, the publish result on entry to
// completed.
type StatusUpdate struct {
	ErrorMessage string
	ResultRefID  string
	ResultURL    string
}

// ListFilter narrows ListJobs.
type ListFilter struct {
	Status string
	Limit  int
}

// Store is the single source of truth for job state. Status is mutated only
// through the transition-validated methods; nothing writes status directly.
type Store interface {
	Enqueue(ctx context.Context, p EnqueueParams) (models.Job, bool, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	ListJobs(ctx context.Context, f ListFilter) ([]models.Job, error)

	// ClaimNext atomically selects the oldest eligible queued job and marks
	// it processing. Two concurrent callers never receive the same job.
	// Returns models.ErrNoEligibleJobs when the queue has nothing claimable.
	ClaimNext(ctx context.Context) (models.Job, error)

	UpdateStatus(ctx context.Context, id, newStatus string, upd StatusUpdate) (models.Job, error)
	Requeue(ctx context.Context, id string) (models.Job, error)
	Cancel(ctx context.Context, id string) error
	MarkPublished(ctx context.Context, id string) (models.Job, error)

	AddCategory(ctx context.Context, jobID, label string) error
	ListCategories(ctx context.Context, jobID string) ([]string, error)
	RemoveCategory(ctx context.Context, jobID, label string) error
	AddTag(ctx context.Context, jobID, label string) error
	ListTags(ctx context.Context, jobID string) ([]string, error)
	RemoveTag(ctx context.Context, jobID, label string) error

	Stats(ctx context.Context) (models.QueueStats, error)
	StaleProcessing(ctx context.Context, olderThan time.Duration) ([]models.Job, error)

	SaveAuditTrail(ctx context.Context, jobID string, trail any) error
	ListAuditTrails(ctx context.Context, jobID string) ([]json.RawMessage, error)
}

func validateEnqueue(p EnqueueParams) error {
	if p.ConfigurationID == "" {
		return &models.ValidationError{Field: "configuration_id", Reason: "must not be empty"}
	}
	if p.SeedKeyword == "" {
		return &models.ValidationError{Field: "seed_keyword", Reason: "must not be empty"}
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
