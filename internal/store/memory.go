package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"article-pipeline/internal/models"
)

// Memory is an in-process Store with the same semantics as Postgres. It
// backs tests and single-node development; a mutex stands in for the row
// lock, so claims stay exclusive.
type Memory struct {
	mu         sync.Mutex
	configs    ConfigResolver
	jobs       map[string]*models.Job
	categories map[string]map[string]struct{}
	tags       map[string]map[string]struct{}
	idem       map[string]idemEntry
	trails     map[string][]json.RawMessage
}

type idemEntry struct {
	jobID     string
	expiresAt time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory(configs ConfigResolver) *Memory {
	return &Memory{
		configs:    configs,
		jobs:       make(map[string]*models.Job),
		categories: make(map[string]map[string]struct{}),
		tags:       make(map[string]map[string]struct{}),
		idem:       make(map[string]idemEntry),
		trails:     make(map[string][]json.RawMessage),
	}
}

// Enqueue validates parameters, resolves the configuration, and inserts a
// queued job.
func (s *Memory) Enqueue(ctx context.Context, p EnqueueParams) (models.Job, bool, error) {
	if err := validateEnqueue(p); err != nil {
		return models.Job{}, false, err
	}
	if s.configs != nil {
		exists, err := s.configs.Exists(ctx, p.ConfigurationID)
		if err != nil {
			return models.Job{}, false, fmt.Errorf("resolve configuration: %w", err)
		}
		if !exists {
			return models.Job{}, false, &models.NotFoundError{Resource: "configuration", ID: p.ConfigurationID}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if p.IdempotencyKey != "" {
		if entry, ok := s.idem[p.IdempotencyKey]; ok && entry.expiresAt.After(now) {
			if existing, ok := s.jobs[entry.jobID]; ok {
				return copyJob(existing), true, nil
			}
		}
	}

	job := &models.Job{
		ID:              uuid.New().String(),
		ConfigurationID: p.ConfigurationID,
		Status:          models.StatusQueued,
		SeedKeyword:     p.SeedKeyword,
		TargetAudience:  emptyToNil(p.TargetAudience),
		WritingStyle:    emptyToNil(p.WritingStyle),
		ScheduledDate:   copyTime(p.ScheduledDate),
		CreatedAt:       now,
	}
	s.jobs[job.ID] = job
	if p.IdempotencyKey != "" {
		s.idem[p.IdempotencyKey] = idemEntry{jobID: job.ID, expiresAt: now.Add(p.IdempotencyTTL)}
	}
	return copyJob(job), false, nil
}

// GetJob fetches a job by id.
func (s *Memory) GetJob(ctx context.Context, id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, &models.NotFoundError{Resource: "job", ID: id}
	}
	return copyJob(job), nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Memory) ListJobs(ctx context.Context, f ListFilter) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	jobs := make([]models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if f.Status != "" && job.Status != f.Status {
			continue
		}
		jobs = append(jobs, copyJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// ClaimNext picks the oldest eligible queued job and marks it processing
// under the store lock.
func (s *Memory) ClaimNext(ctx context.Context) (models.Job, error) {
	s.mu.Lock()

	now := time.Now().UTC()
	var best *models.Job
	for _, job := range s.jobs {
		if !job.EligibleAt(now) {
			continue
		}
		if best == nil || claimLess(job, best) {
			best = job
		}
	}
	if best == nil {
		s.mu.Unlock()
		return models.Job{}, models.ErrNoEligibleJobs
	}

	best.Status = models.StatusProcessing
	started := now
	best.ProcessingStartedAt = &started
	best.ProcessingCompletedAt = nil
	claimed := copyJob(best)
	s.mu.Unlock()

	if s.configs != nil {
		if cfg, err := s.configs.Get(ctx, claimed.ConfigurationID, false); err == nil {
			claimed.Configuration = &cfg
		}
	}
	return claimed, nil
}

// claimLess orders claim candidates: effective time ascending, explicit
// schedules before creation-only timestamps on ties, then created_at.
func claimLess(a, b *models.Job) bool {
	ea, eb := a.EffectiveTime(), b.EffectiveTime()
	if !ea.Equal(eb) {
		return ea.Before(eb)
	}
	aScheduled := a.ScheduledDate != nil
	bScheduled := b.ScheduledDate != nil
	if aScheduled != bScheduled {
		return aScheduled
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// UpdateStatus validates the transition and applies its side effects. A
// disallowed move returns InvalidTransitionError with the job untouched.
func (s *Memory) UpdateStatus(ctx context.Context, id, newStatus string, upd StatusUpdate) (models.Job, error) {
	if !models.ValidStatus(newStatus) {
		return models.Job{}, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", newStatus)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, &models.NotFoundError{Resource: "job", ID: id}
	}
	if !models.CanTransition(job.Status, newStatus) {
		return models.Job{}, &models.InvalidTransitionError{JobID: id, From: job.Status, To: newStatus}
	}

	now := time.Now().UTC()
	switch newStatus {
	case models.StatusProcessing:
		started := now
		job.ProcessingStartedAt = &started
		job.ProcessingCompletedAt = nil
	case models.StatusCompleted:
		completed := now
		job.ProcessingCompletedAt = &completed
		job.ResultRefID = emptyToNil(upd.ResultRefID)
		job.ResultURL = emptyToNil(upd.ResultURL)
	case models.StatusFailed:
		completed := now
		job.ProcessingCompletedAt = &completed
		job.ErrorMessage = emptyToNil(upd.ErrorMessage)
		job.RetryCount++
	case models.StatusQueued:
		job.ErrorMessage = nil
		job.ProcessingStartedAt = nil
		job.ProcessingCompletedAt = nil
	case models.StatusPublished:
		completed := now
		job.ProcessingCompletedAt = &completed
		if job.ScheduledDate == nil {
			published := now
			job.ScheduledDate = &published
		}
	}
	job.Status = newStatus
	return copyJob(job), nil
}

// Requeue moves a failed job back to queued.
func (s *Memory) Requeue(ctx context.Context, id string) (models.Job, error) {
	return s.UpdateStatus(ctx, id, models.StatusQueued, StatusUpdate{})
}

// MarkPublished moves a completed job to published.
func (s *Memory) MarkPublished(ctx context.Context, id string) (models.Job, error) {
	return s.UpdateStatus(ctx, id, models.StatusPublished, StatusUpdate{})
}

// Cancel deletes a queued or failed job.
func (s *Memory) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return &models.NotFoundError{Resource: "job", ID: id}
	}
	if job.Status != models.StatusQueued && job.Status != models.StatusFailed {
		return &models.InvalidTransitionError{JobID: id, From: job.Status, To: "canceled"}
	}
	delete(s.jobs, id)
	delete(s.categories, id)
	delete(s.tags, id)
	for key, entry := range s.idem {
		if entry.jobID == id {
			delete(s.idem, key)
		}
	}
	return nil
}

// AddCategory attaches a category label.
func (s *Memory) AddCategory(ctx context.Context, jobID, label string) error {
	return s.addLabel(s.categories, jobID, label)
}

// ListCategories returns the job's category labels, sorted.
func (s *Memory) ListCategories(ctx context.Context, jobID string) ([]string, error) {
	return s.listLabels(s.categories, jobID), nil
}

// RemoveCategory detaches a category label.
func (s *Memory) RemoveCategory(ctx context.Context, jobID, label string) error {
	s.removeLabel(s.categories, jobID, label)
	return nil
}

// AddTag attaches a tag label.
func (s *Memory) AddTag(ctx context.Context, jobID, label string) error {
	return s.addLabel(s.tags, jobID, label)
}

// ListTags returns the job's tag labels, sorted.
func (s *Memory) ListTags(ctx context.Context, jobID string) ([]string, error) {
	return s.listLabels(s.tags, jobID), nil
}

// RemoveTag detaches a tag label.
func (s *Memory) RemoveTag(ctx context.Context, jobID, label string) error {
	s.removeLabel(s.tags, jobID, label)
	return nil
}

func (s *Memory) addLabel(table map[string]map[string]struct{}, jobID, label string) error {
	if label == "" {
		return &models.ValidationError{Field: "label", Reason: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return &models.NotFoundError{Resource: "job", ID: jobID}
	}
	if table[jobID] == nil {
		table[jobID] = make(map[string]struct{})
	}
	table[jobID][label] = struct{}{}
	return nil
}

func (s *Memory) listLabels(table map[string]map[string]struct{}, jobID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var labels []string
	for label := range table[jobID] {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func (s *Memory) removeLabel(table map[string]map[string]struct{}, jobID, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(table[jobID], label)
}

// Stats summarizes the queue.
func (s *Memory) Stats(ctx context.Context) (models.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := models.QueueStats{CountsByStatus: make(map[string]int64)}
	now := time.Now().UTC()
	var durations float64
	var finished int64
	for _, job := range s.jobs {
		stats.CountsByStatus[job.Status]++
		if job.EligibleAt(now) {
			stats.ReadyNow++
		}
		if job.ProcessingStartedAt != nil && job.ProcessingCompletedAt != nil {
			durations += job.ProcessingCompletedAt.Sub(*job.ProcessingStartedAt).Seconds()
			finished++
		}
	}
	if finished > 0 {
		stats.AvgProcessingSeconds = durations / float64(finished)
	}
	return stats, nil
}

// StaleProcessing returns jobs stuck in processing since before the cutoff.
func (s *Memory) StaleProcessing(ctx context.Context, olderThan time.Duration) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var jobs []models.Job
	for _, job := range s.jobs {
		if job.Status == models.StatusProcessing && job.ProcessingStartedAt != nil && job.ProcessingStartedAt.Before(cutoff) {
			jobs = append(jobs, copyJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].ProcessingStartedAt.Before(*jobs[j].ProcessingStartedAt)
	})
	return jobs, nil
}

// SaveAuditTrail persists one run's audit document.
func (s *Memory) SaveAuditTrail(ctx context.Context, jobID string, trail any) error {
	doc, err := json.Marshal(trail)
	if err != nil {
		return fmt.Errorf("marshal audit trail: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trails[jobID] = append(s.trails[jobID], json.RawMessage(doc))
	return nil
}

// ListAuditTrails returns every persisted audit document, oldest first.
func (s *Memory) ListAuditTrails(ctx context.Context, jobID string) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.trails[jobID]...), nil
}

func copyJob(j *models.Job) models.Job {
	out := *j
	out.TargetAudience = copyStr(j.TargetAudience)
	out.WritingStyle = copyStr(j.WritingStyle)
	out.ScheduledDate = copyTime(j.ScheduledDate)
	out.ProcessingStartedAt = copyTime(j.ProcessingStartedAt)
	out.ProcessingCompletedAt = copyTime(j.ProcessingCompletedAt)
	out.ErrorMessage = copyStr(j.ErrorMessage)
	out.ResultRefID = copyStr(j.ResultRefID)
	out.ResultURL = copyStr(j.ResultURL)
	out.Configuration = nil
	return out
}

func copyStr(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func copyTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
