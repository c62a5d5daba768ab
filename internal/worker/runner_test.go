package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"article-pipeline/internal/configstore"
	"article-pipeline/internal/models"
	"article-pipeline/internal/store"
)

type fakePipeline struct {
	mu   sync.Mutex
	ran  []models.Job
	err  error
	done chan string
}

func (f *fakePipeline) RunJob(ctx context.Context, job models.Job) error {
	f.mu.Lock()
	f.ran = append(f.ran, job)
	f.mu.Unlock()
	f.done <- job.ID
	return f.err
}

func (f *fakePipeline) jobs() []models.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Job(nil), f.ran...)
}

func newTestStore(t *testing.T) *store.Memory {
	t.Helper()
	configs := configstore.NewMemory()
	if _, err := configs.Create(context.Background(), configstore.CreateParams{
		ID:          "cfg-1",
		Name:        "coffee blog",
		Credentials: map[string]string{"llm_api_key": "sk-test"},
	}); err != nil {
		t.Fatalf("seed configuration: %v", err)
	}
	return store.NewMemory(configs)
}

func enqueue(t *testing.T, st *store.Memory, keyword string) models.Job {
	t.Helper()
	job, _, err := st.Enqueue(context.Background(), store.EnqueueParams{
		ConfigurationID: "cfg-1",
		SeedKeyword:     keyword,
	})
	if err != nil {
		t.Fatalf("enqueue %s: %v", keyword, err)
	}
	return job
}

func TestRunnerDrainsQueue(t *testing.T) {
	st := newTestStore(t)
	a := enqueue(t, st, "espresso")
	b := enqueue(t, st, "cold brew")

	pipe := &fakePipeline{done: make(chan string, 4)}
	runner := NewRunner(st, pipe, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- runner.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-pipe.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("runner processed %d jobs, want 2", i)
		}
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not stop after cancel")
	}

	var got []string
	for _, job := range pipe.jobs() {
		got = append(got, job.ID)
		if job.Status != models.StatusProcessing {
			t.Fatalf("job %s handed to pipeline with status %s", job.ID, job.Status)
		}
		if job.Configuration == nil {
			t.Fatalf("job %s handed to pipeline without configuration", job.ID)
		}
	}
	want := []string{a.ID, b.ID}
	sort.Strings(got)
	sort.Strings(want)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("ran %v, want %v", got, want)
	}
}

func TestRunnerContinuesAfterFailedRun(t *testing.T) {
	st := newTestStore(t)
	enqueue(t, st, "espresso")
	enqueue(t, st, "cold brew")

	pipe := &fakePipeline{done: make(chan string, 4), err: errors.New("phase blew up")}
	runner := NewRunner(st, pipe, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- runner.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-pipe.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("runner stopped after a failed run, processed %d jobs", i)
		}
	}
	cancel()
	<-errCh
}

func TestRunnerStopsWhileIdle(t *testing.T) {
	st := newTestStore(t)
	pipe := &fakePipeline{done: make(chan string, 1)}
	runner := NewRunner(st, pipe, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- runner.Run(ctx) }()

	time.Sleep(20 * time.Millisecond) // let the loop reach its idle wait
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("idle runner did not stop after cancel")
	}

	if len(pipe.jobs()) != 0 {
		t.Fatalf("idle runner ran %d jobs", len(pipe.jobs()))
	}
}

func TestNewRunnerDefaults(t *testing.T) {
	r := NewRunner(nil, nil, 0, nil)
	if r.pollInterval != 2*time.Second {
		t.Fatalf("poll interval = %s", r.pollInterval)
	}
	if r.log == nil {
		t.Fatalf("nil logger not replaced")
	}
}
