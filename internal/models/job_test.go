package models

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]string]bool{
		{StatusQueued, StatusProcessing}:    true,
		{StatusQueued, StatusFailed}:        true,
		{StatusProcessing, StatusCompleted}: true,
		{StatusProcessing, StatusFailed}:    true,
		{StatusCompleted, StatusPublished}:  true,
		{StatusCompleted, StatusFailed}:     true,
		{StatusFailed, StatusQueued}:        true,
	}

	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := allowed[[2]string{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}

	if CanTransition("bogus", StatusQueued) {
		t.Fatalf("expected unknown from-status to be rejected")
	}
	if CanTransition(StatusQueued, "bogus") {
		t.Fatalf("expected unknown to-status to be rejected")
	}
}

func TestPublishedIsTerminal(t *testing.T) {
	for _, to := range AllStatuses {
		if CanTransition(StatusPublished, to) {
			t.Fatalf("published must not transition to %s", to)
		}
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range AllStatuses {
		if !ValidStatus(s) {
			t.Fatalf("expected %s to be valid", s)
		}
	}
	for _, s := range []string{"", "done", "Queued", "QUEUED"} {
		if ValidStatus(s) {
			t.Fatalf("expected %q to be invalid", s)
		}
	}
}

func TestEffectiveTime(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	scheduled := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)

	j := Job{CreatedAt: created}
	if got := j.EffectiveTime(); !got.Equal(created) {
		t.Fatalf("effective time without schedule = %s, want created_at", got)
	}

	j.ScheduledDate = &scheduled
	if got := j.EffectiveTime(); !got.Equal(scheduled) {
		t.Fatalf("effective time with schedule = %s, want scheduled_date", got)
	}
}

func TestEligibleAt(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name      string
		status    string
		scheduled *time.Time
		want      bool
	}{
		{"queued unscheduled", StatusQueued, nil, true},
		{"queued scheduled past", StatusQueued, &past, true},
		{"queued scheduled exactly now", StatusQueued, &now, true},
		{"queued scheduled future", StatusQueued, &future, false},
		{"processing", StatusProcessing, nil, false},
		{"failed", StatusFailed, &past, false},
		{"published", StatusPublished, nil, false},
	}
	for _, tc := range cases {
		j := Job{Status: tc.status, ScheduledDate: tc.scheduled, CreatedAt: past}
		if got := j.EligibleAt(now); got != tc.want {
			t.Fatalf("%s: EligibleAt = %v, want %v", tc.name, got, tc.want)
		}
	}
}
