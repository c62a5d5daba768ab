// Package worker runs the claim loops and the stale-job sweeper that keep
// the queue moving.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"article-pipeline/internal/models"
	"article-pipeline/internal/store"
	"article-pipeline/internal/telemetry"
)

// jobRunner drives one claimed job to a terminal status.
type jobRunner interface {
	RunJob(ctx context.Context, job models.Job) error
}

// Runner is one worker loop: claim, run, repeat. Any number of runners may
// share one store; the claim itself guarantees exclusivity.
type Runner struct {
	store        store.Store
	pipeline     jobRunner
	pollInterval time.Duration
	log          *zap.Logger
}

// NewRunner creates a claim loop.
func NewRunner(st store.Store, pipeline jobRunner, pollInterval time.Duration, log *zap.Logger) *Runner {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{store: st, pipeline: pipeline, pollInterval: pollInterval, log: log}
}

// Run claims and processes jobs until the context is canceled. An empty
// queue sleeps one poll interval. A failed run is already recorded and
// status-reconciled by the pipeline, so the loop only reports it.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := r.store.ClaimNext(ctx)
		if err != nil {
			if !errors.Is(err, models.ErrNoEligibleJobs) {
				r.log.Error("claim next job", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.pollInterval):
			}
			continue
		}

		telemetry.JobsClaimed.Inc()
		telemetry.InFlightGauge.Inc()
		r.log.Info("job claimed",
			zap.String("job_id", job.ID),
			zap.String("seed_keyword", job.SeedKeyword))

		if err := r.pipeline.RunJob(ctx, job); err != nil {
			r.log.Error("job run failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		telemetry.InFlightGauge.Dec()

		if stats, err := r.store.Stats(ctx); err == nil {
			telemetry.ReadyGauge.Set(float64(stats.ReadyNow))
		}
	}
}
