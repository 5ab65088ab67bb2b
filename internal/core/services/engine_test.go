package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/conduit-core/internal/pool"
	"github.com/custodia-labs/conduit-core/internal/processor"
)

type engineFixture struct {
	sources *mocks.MockSourceStore
	records *mocks.MockRecordStore
	history *mocks.MockSyncHistoryStore
	conn    *mocks.MockConnector
	engine  *SyncEngine
}

func newEngineFixture(t *testing.T, pages ...[]domain.RawRecord) *engineFixture {
	t.Helper()

	registry, err := processor.DefaultRegistry(nil)
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}

	f := &engineFixture{
		sources: mocks.NewMockSourceStore(),
		records: mocks.NewMockRecordStore(),
		history: mocks.NewMockSyncHistoryStore(),
		conn:    mocks.NewMockConnector(pages...),
	}
	f.sources.Save(context.Background(), &domain.Source{
		Name:    "crm-a",
		Kind:    domain.SourceKindHTTPAPI,
		Config:  domain.SourceConfig{BaseURL: "https://crm-a.example.com"},
		Enabled: true,
		Cadence: time.Hour,
		Endpoints: []domain.Endpoint{
			{Name: "contacts", Path: "/contacts", Enabled: true},
			{Name: "deals", Path: "/deals", Enabled: false},
		},
	})

	f.engine = NewSyncEngine(SyncEngineConfig{
		SourceStore: f.sources,
		RecordStore: f.records,
		History:     f.history,
		Connectors:  &mocks.MockConnectorFactory{Connector: f.conn},
		Processors:  registry,
		Pools:       pool.NewManager(pool.DefaultConfig()),
		Retry:       pool.RetryConfig{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		BatchSize:   10,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func contact(id string, modified time.Time) domain.RawRecord {
	return domain.RawRecord{
		Source:   "crm-a",
		Endpoint: "contacts",
		Data: map[string]any{
			"id":         id,
			"name":       "Contact " + id,
			"email":      id + "@example.com",
			"updated_at": modified.Format(time.RFC3339),
		},
	}
}

func TestRunIncrementalAdvancesWatermark(t *testing.T) {
	t1 := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(2 * time.Hour)
	f := newEngineFixture(t,
		[]domain.RawRecord{contact("c-1", t1), contact("c-2", t2)},
		[]domain.RawRecord{contact("c-3", t1.Add(time.Hour))},
	)

	run, err := f.engine.Run(context.Background(), "crm-a", "contacts", domain.RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s", run.Status)
	}
	if run.TotalRecords != 3 || run.SuccessCount != 3 || run.ErrorCount != 0 {
		t.Fatalf("counts = %d/%d/%d", run.TotalRecords, run.SuccessCount, run.ErrorCount)
	}
	if f.records.Len() != 3 {
		t.Fatalf("stored records = %d, want 3", f.records.Len())
	}

	wm := f.history.Watermark("crm-a", "contacts")
	if wm == nil || wm.Status != domain.WatermarkStatusSuccess {
		t.Fatalf("watermark = %+v", wm)
	}
	// The watermark lands on the max observed modification time.
	if wm.LastSyncedAt == nil || !wm.LastSyncedAt.Equal(t2) {
		t.Fatalf("LastSyncedAt = %v, want %v", wm.LastSyncedAt, t2)
	}
}

func TestRunIncrementalPassesWatermarkFilter(t *testing.T) {
	f := newEngineFixture(t, []domain.RawRecord{})
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f.history.SetWatermark(&domain.Watermark{
		Source: "crm-a", Endpoint: "contacts",
		Status:       domain.WatermarkStatusSuccess,
		LastSyncedAt: &since,
	})

	if _, err := f.engine.Run(context.Background(), "crm-a", "contacts", domain.RunOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := f.conn.LastFilter.ModifiedAfter
	if got == nil || !got.Equal(since) {
		t.Fatalf("ModifiedAfter = %v, want %v", got, since)
	}
}

func TestRunFullIgnoresWatermark(t *testing.T) {
	f := newEngineFixture(t, []domain.RawRecord{})
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f.history.SetWatermark(&domain.Watermark{
		Source: "crm-a", Endpoint: "contacts",
		Status:       domain.WatermarkStatusSuccess,
		LastSyncedAt: &since,
	})

	if _, err := f.engine.Run(context.Background(), "crm-a", "contacts",
		domain.RunOptions{Mode: domain.SyncModeFull}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.conn.LastFilter.ModifiedAfter != nil {
		t.Fatalf("full run passed ModifiedAfter = %v", f.conn.LastFilter.ModifiedAfter)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	t1 := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	f := newEngineFixture(t, []domain.RawRecord{contact("c-1", t1), contact("c-2", t1)})

	run, err := f.engine.Run(context.Background(), "crm-a", "contacts", domain.RunOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunStatusSucceeded || run.SuccessCount != 2 {
		t.Fatalf("run = %s success=%d", run.Status, run.SuccessCount)
	}

	if f.records.Len() != 0 {
		t.Fatalf("dry run stored %d records", f.records.Len())
	}
	if wm := f.history.Watermark("crm-a", "contacts"); wm != nil {
		t.Fatalf("dry run wrote watermark %+v", wm)
	}
	// The run itself is still part of the history.
	if len(f.history.Runs()) != 1 || !f.history.Runs()[0].DryRun {
		t.Fatalf("runs = %+v", f.history.Runs())
	}
}

func TestRunFailureLeavesWatermarkUntouched(t *testing.T) {
	t1 := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	f := newEngineFixture(t,
		[]domain.RawRecord{contact("c-1", t1)},
		[]domain.RawRecord{contact("c-2", t1)},
	)
	prev := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f.history.SetWatermark(&domain.Watermark{
		Source: "crm-a", Endpoint: "contacts",
		Status:       domain.WatermarkStatusSuccess,
		LastSyncedAt: &prev,
	})
	f.conn.FetchErr = errors.New("source exploded")
	f.conn.FetchErrOnPage = 1

	// Batch size 1 so page one is persisted before the failing fetch.
	run, err := f.engine.Run(context.Background(), "crm-a", "contacts", domain.RunOptions{BatchSize: 1})
	if err == nil {
		t.Fatal("Run succeeded, want failure")
	}
	if run.Status != domain.RunStatusFailed {
		t.Fatalf("status = %s", run.Status)
	}

	wm := f.history.Watermark("crm-a", "contacts")
	if wm.Status != domain.WatermarkStatusFailed {
		t.Fatalf("watermark status = %s", wm.Status)
	}
	if wm.LastSyncedAt == nil || !wm.LastSyncedAt.Equal(prev) {
		t.Fatalf("LastSyncedAt = %v, want untouched %v", wm.LastSyncedAt, prev)
	}
	// Counts up to the failure are preserved for observability.
	if wm.SuccessCount != 1 {
		t.Fatalf("SuccessCount = %d, want 1", wm.SuccessCount)
	}
	if f.records.Len() != 1 {
		t.Fatalf("stored records = %d, want 1 from the persisted page", f.records.Len())
	}
}

func TestRunRejectsWhileInProgress(t *testing.T) {
	f := newEngineFixture(t, []domain.RawRecord{})
	f.history.SetWatermark(&domain.Watermark{
		Source: "crm-a", Endpoint: "contacts",
		Status: domain.WatermarkStatusRunning,
	})

	_, err := f.engine.Run(context.Background(), "crm-a", "contacts", domain.RunOptions{})
	if !errors.Is(err, domain.ErrSyncInProgress) {
		t.Fatalf("err = %v, want ErrSyncInProgress", err)
	}
	// The running watermark belongs to the other instance and stays as is.
	if wm := f.history.Watermark("crm-a", "contacts"); wm.Status != domain.WatermarkStatusRunning {
		t.Fatalf("watermark status = %s", wm.Status)
	}

	// Force bypasses the guard.
	if _, err := f.engine.Run(context.Background(), "crm-a", "contacts",
		domain.RunOptions{Force: true}); err != nil {
		t.Fatalf("forced run: %v", err)
	}
}

func TestRunDisabledSourceAndEndpoint(t *testing.T) {
	f := newEngineFixture(t, []domain.RawRecord{})

	if _, err := f.engine.Run(context.Background(), "crm-a", "deals", domain.RunOptions{}); !errors.Is(err, domain.ErrSourceDisabled) {
		t.Fatalf("disabled endpoint err = %v", err)
	}

	src, _ := f.sources.Get(context.Background(), "crm-a")
	src.Enabled = false
	if _, err := f.engine.Run(context.Background(), "crm-a", "contacts", domain.RunOptions{}); !errors.Is(err, domain.ErrSourceDisabled) {
		t.Fatalf("disabled source err = %v", err)
	}

	if _, err := f.engine.Run(context.Background(), "crm-a", "contacts",
		domain.RunOptions{Force: true}); err != nil {
		t.Fatalf("forced run on disabled source: %v", err)
	}
}

func TestRunContinuesPastRejectedRecords(t *testing.T) {
	t1 := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	bad := domain.RawRecord{Source: "crm-a", Endpoint: "contacts",
		Data: map[string]any{"status": "active"}}
	f := newEngineFixture(t, []domain.RawRecord{contact("c-1", t1), bad, contact("c-2", t1)})

	run, err := f.engine.Run(context.Background(), "crm-a", "contacts", domain.RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s", run.Status)
	}
	if run.TotalRecords != 3 || run.SuccessCount != 2 || run.ErrorCount != 1 {
		t.Fatalf("counts = %d/%d/%d", run.TotalRecords, run.SuccessCount, run.ErrorCount)
	}
}

func TestRunCountsStoreRejections(t *testing.T) {
	t1 := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	f := newEngineFixture(t, []domain.RawRecord{contact("c-1", t1), contact("c-2", t1)})
	f.records.RejectFn = func(rec *domain.CanonicalRecord) *domain.RecordError {
		if rec.ExternalID == "c-2" {
			return &domain.RecordError{ExternalID: "c-2", Column: "name", Message: "value too long"}
		}
		return nil
	}

	run, err := f.engine.Run(context.Background(), "crm-a", "contacts", domain.RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s", run.Status)
	}
	if run.SuccessCount != 1 || run.ErrorCount != 1 {
		t.Fatalf("counts = %d success %d errors", run.SuccessCount, run.ErrorCount)
	}
}

func TestRunWindowMode(t *testing.T) {
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	inside := start.Add(6 * time.Hour)
	outside := end.Add(time.Hour)
	f := newEngineFixture(t, []domain.RawRecord{contact("c-in", inside), contact("c-out", outside)})

	prev := start.Add(-30 * 24 * time.Hour)
	f.history.SetWatermark(&domain.Watermark{
		Source: "crm-a", Endpoint: "contacts",
		Status:       domain.WatermarkStatusSuccess,
		LastSyncedAt: &prev,
	})

	run, err := f.engine.Run(context.Background(), "crm-a", "contacts", domain.RunOptions{
		WindowStart: &start,
		WindowEnd:   &end,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Mode != domain.SyncModeWindow {
		t.Fatalf("mode = %s", run.Mode)
	}
	// Records past the window end are skipped client side.
	if run.SuccessCount != 1 {
		t.Fatalf("SuccessCount = %d, want 1", run.SuccessCount)
	}
	if f.records.Len() != 1 {
		t.Fatalf("stored = %d", f.records.Len())
	}

	// A window run advances the watermark only as far as observed data.
	wm := f.history.Watermark("crm-a", "contacts")
	if wm.LastSyncedAt == nil || !wm.LastSyncedAt.Equal(inside) {
		t.Fatalf("LastSyncedAt = %v, want %v", wm.LastSyncedAt, inside)
	}
}

func TestRunCancelledStatus(t *testing.T) {
	t1 := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	f := newEngineFixture(t, []domain.RawRecord{contact("c-1", t1)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := f.engine.Run(ctx, "crm-a", "contacts", domain.RunOptions{})
	if err == nil {
		t.Fatal("Run succeeded with cancelled context")
	}
	if run.Status != domain.RunStatusCancelled {
		t.Fatalf("status = %s, want cancelled", run.Status)
	}
	// Cancellation still leaves the watermark off the success path.
	if wm := f.history.Watermark("crm-a", "contacts"); wm != nil && wm.LastSyncedAt != nil {
		t.Fatalf("LastSyncedAt = %v, want unset", wm.LastSyncedAt)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	t1 := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	f := newEngineFixture(t, []domain.RawRecord{contact("c-1", t1), contact("c-2", t1)})

	for i := 0; i < 2; i++ {
		run, err := f.engine.Run(context.Background(), "crm-a", "contacts",
			domain.RunOptions{Mode: domain.SyncModeFull})
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if run.SuccessCount != 2 {
			t.Fatalf("run %d success = %d", i, run.SuccessCount)
		}
	}
	// Replaying the same page upserts in place rather than duplicating.
	if f.records.Len() != 2 {
		t.Fatalf("stored = %d, want 2 after replay", f.records.Len())
	}
}

func TestRunRetriesTransientFetch(t *testing.T) {
	t1 := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	f := newEngineFixture(t, []domain.RawRecord{contact("c-1", t1)})

	f.conn.FetchErr = fmt.Errorf("read timeout: %w", domain.ErrTransient)
	f.conn.FetchErrOnPage = 0

	run, err := f.engine.Run(context.Background(), "crm-a", "contacts", domain.RunOptions{})
	if err == nil {
		t.Fatal("Run succeeded, want transient failure")
	}
	if !domain.IsTransient(err) {
		t.Fatalf("err = %v, want transient classification preserved", err)
	}
	if run.Status != domain.RunStatusFailed {
		t.Fatalf("status = %s", run.Status)
	}
	// MaxAttempts 2 means the page was fetched twice.
	if f.conn.FetchCalls != 2 {
		t.Fatalf("FetchCalls = %d, want 2", f.conn.FetchCalls)
	}
}

func TestRunAllSkipsDisabled(t *testing.T) {
	t1 := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	f := newEngineFixture(t, []domain.RawRecord{contact("c-1", t1)})

	runs, err := f.engine.RunAll(context.Background(), domain.RunOptions{})
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	// Only crm-a/contacts is enabled; deals is skipped.
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	if runs[0].Endpoint != "contacts" {
		t.Fatalf("endpoint = %s", runs[0].Endpoint)
	}
}
