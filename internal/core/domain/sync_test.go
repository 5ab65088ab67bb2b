package domain

import (
	"testing"
	"time"
)

func TestWatermarkAdvanceMonotonic(t *testing.T) {
	w := &Watermark{Source: "crm-a", Endpoint: "contacts"}

	first := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	w.Advance(first)
	if w.LastSyncedAt == nil || !w.LastSyncedAt.Equal(first) {
		t.Fatalf("LastSyncedAt = %v, want %v", w.LastSyncedAt, first)
	}

	// Earlier timestamps never move the watermark backwards.
	w.Advance(first.Add(-time.Hour))
	if !w.LastSyncedAt.Equal(first) {
		t.Fatalf("LastSyncedAt moved backwards to %v", w.LastSyncedAt)
	}

	// Equal timestamps are a no-op too.
	w.Advance(first)
	if !w.LastSyncedAt.Equal(first) {
		t.Fatalf("LastSyncedAt changed on equal advance: %v", w.LastSyncedAt)
	}

	later := first.Add(time.Hour)
	w.Advance(later)
	if !w.LastSyncedAt.Equal(later) {
		t.Fatalf("LastSyncedAt = %v, want %v", w.LastSyncedAt, later)
	}
}

func TestWatermarkAdvanceIgnoresZeroTime(t *testing.T) {
	w := &Watermark{Source: "crm-a", Endpoint: "contacts"}
	w.Advance(time.Time{})
	if w.LastSyncedAt != nil {
		t.Fatalf("LastSyncedAt = %v, want nil after zero advance", w.LastSyncedAt)
	}
}

func TestSyncRunLifecycle(t *testing.T) {
	run := NewSyncRun("crm-a", "contacts", SyncModeIncremental)
	if run.Status != RunStatusPending {
		t.Fatalf("new run status = %s, want pending", run.Status)
	}
	if run.ID == "" {
		t.Fatal("new run has no ID")
	}

	run.Start()
	if run.Status != RunStatusRunning || run.StartedAt.IsZero() {
		t.Fatalf("after Start: status=%s startedAt=%v", run.Status, run.StartedAt)
	}

	run.Complete(RunStatusSucceeded, "")
	if run.Status != RunStatusSucceeded || run.CompletedAt == nil {
		t.Fatalf("after Complete: status=%s completedAt=%v", run.Status, run.CompletedAt)
	}
	if run.Duration() < 0 {
		t.Fatalf("Duration = %f, want >= 0", run.Duration())
	}
}

func TestRunStatusTerminal(t *testing.T) {
	terminal := []RunStatus{RunStatusSucceeded, RunStatusFailed, RunStatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	for _, s := range []RunStatus{RunStatusPending, RunStatusRunning} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}
