package worker

import (
	"context"
	"testing"
	"time"

	"article-pipeline/internal/models"
	"article-pipeline/internal/store"
)

func TestSweepFailsStaleJobs(t *testing.T) {
	st := newTestStore(t)
	enqueue(t, st, "espresso")
	enqueue(t, st, "cold brew")
	ctx := context.Background()

	stale, err := st.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim first: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	fresh, err := st.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim second: %v", err)
	}

	sweeper := NewSweeper(st, 50*time.Millisecond, nil)
	sweeper.Sweep(ctx)

	swept, err := st.GetJob(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get swept job: %v", err)
	}
	if swept.Status != models.StatusFailed {
		t.Fatalf("swept job status = %s", swept.Status)
	}
	if swept.ErrorMessage == nil || *swept.ErrorMessage != "processing lease expired after 50ms" {
		t.Fatalf("swept job error = %v", swept.ErrorMessage)
	}
	if swept.RetryCount != 1 {
		t.Fatalf("swept job retry count = %d", swept.RetryCount)
	}

	kept, err := st.GetJob(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("get fresh job: %v", err)
	}
	if kept.Status != models.StatusProcessing {
		t.Fatalf("fresh job status = %s", kept.Status)
	}

	// Swept jobs take the normal failed -> queued path back into the queue.
	requeued, err := st.Requeue(ctx, stale.ID)
	if err != nil {
		t.Fatalf("requeue swept job: %v", err)
	}
	if requeued.Status != models.StatusQueued || requeued.RetryCount != 1 {
		t.Fatalf("requeued job = %s retry %d", requeued.Status, requeued.RetryCount)
	}
}

func TestSweepEmptyStore(t *testing.T) {
	st := newTestStore(t)
	sweeper := NewSweeper(st, time.Minute, nil)
	sweeper.Sweep(context.Background())

	jobs, err := st.ListJobs(context.Background(), store.ListFilter{})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("sweep invented %d jobs", len(jobs))
	}
}

func TestSweeperStartStop(t *testing.T) {
	sweeper := NewSweeper(newTestStore(t), time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper.Start(ctx)
	sweeper.Stop()
}

func TestNewSweeperDefaults(t *testing.T) {
	s := NewSweeper(nil, 0, nil)
	if s.lease != 30*time.Minute {
		t.Fatalf("lease = %s", s.lease)
	}
}
