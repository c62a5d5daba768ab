package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"article-pipeline/internal/models"
	"article-pipeline/internal/store"
	"article-pipeline/internal/telemetry"
)

// Sweeper fails jobs stuck in processing past their lease so a crashed
// worker cannot strand claimed work. Swept jobs await an explicit requeue.
type Sweeper struct {
	store store.Store
	lease time.Duration
	cron  *cron.Cron
	log   *zap.Logger
}

// NewSweeper creates a sweeper with the given processing lease.
func NewSweeper(st store.Store, lease time.Duration, log *zap.Logger) *Sweeper {
	if lease <= 0 {
		lease = 30 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		store: st,
		lease: lease,
		cron:  cron.New(cron.WithSeconds()),
		log:   log,
	}
}

// Start schedules a sweep every minute.
func (s *Sweeper) Start(ctx context.Context) {
	s.cron.AddFunc("0 * * * * *", func() {
		s.Sweep(ctx)
	})
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	stopped := s.cron.Stop()
	<-stopped.Done()
}

// Sweep moves every job stuck in processing past the lease to failed.
func (s *Sweeper) Sweep(ctx context.Context) {
	stale, err := s.store.StaleProcessing(ctx, s.lease)
	if err != nil {
		s.log.Error("list stale processing jobs", zap.Error(err))
		return
	}
	for _, job := range stale {
		msg := fmt.Sprintf("processing lease expired after %s", s.lease)
		if _, err := s.store.UpdateStatus(ctx, job.ID, models.StatusFailed, store.StatusUpdate{ErrorMessage: msg}); err != nil {
			s.log.Error("fail stale job", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		telemetry.JobsFailed.Inc()
		s.log.Warn("stale processing job failed by sweeper",
			zap.String("job_id", job.ID),
			zap.Duration("lease", s.lease))
	}
}
