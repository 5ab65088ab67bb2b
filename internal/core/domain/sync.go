package domain

import (
	"time"

	"github.com/google/uuid"
)

// WatermarkStatus represents the state recorded on a watermark row.
type WatermarkStatus string

const (
	WatermarkStatusRunning WatermarkStatus = "running"
	WatermarkStatusSuccess WatermarkStatus = "success"
	WatermarkStatusFailed  WatermarkStatus = "failed"
)

// Watermark tracks sync progress for one (source, endpoint) pair.
// It is unique on that pair and is the source of truth for the next
// incremental sync window.
type Watermark struct {
	Source   string          `json:"source"`
	Endpoint string          `json:"endpoint"`
	Status   WatermarkStatus `json:"status"`

	// LastSyncedAt only ever moves forward, and only when a run completes
	// successfully. Failed and cancelled runs leave it untouched.
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`

	TotalRecords int `json:"total_records"`
	SuccessCount int `json:"success_count"`
	ErrorCount   int `json:"error_count"`

	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Advance moves LastSyncedAt forward to t. A t at or before the current
// watermark is ignored, preserving monotonicity.
func (w *Watermark) Advance(t time.Time) {
	if t.IsZero() {
		return
	}
	if w.LastSyncedAt == nil || t.After(*w.LastSyncedAt) {
		w.LastSyncedAt = &t
	}
}

// RunStatus represents the lifecycle state of one sync run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// SyncMode selects which records a run fetches.
type SyncMode string

const (
	// SyncModeFull ignores the watermark and fetches everything.
	SyncModeFull SyncMode = "full"
	// SyncModeIncremental fetches records modified after the watermark.
	SyncModeIncremental SyncMode = "incremental"
	// SyncModeWindow fetches an explicit start/end window, overriding the
	// watermark.
	SyncModeWindow SyncMode = "window"
)

// SyncRun is one execution of the sync engine against an endpoint. Every run
// produces exactly one row in the sync history, whatever its outcome.
type SyncRun struct {
	ID       string    `json:"id"`
	Source   string    `json:"source"`
	Endpoint string    `json:"endpoint"`
	Mode     SyncMode  `json:"mode"`
	DryRun   bool      `json:"dry_run"`
	Status   RunStatus `json:"status"`

	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`

	TotalRecords int `json:"total_records"`
	SuccessCount int `json:"success_count"`
	ErrorCount   int `json:"error_count"`

	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// NewSyncRun creates a pending run for an endpoint.
func NewSyncRun(source, endpoint string, mode SyncMode) *SyncRun {
	return &SyncRun{
		ID:       uuid.NewString(),
		Source:   source,
		Endpoint: endpoint,
		Mode:     mode,
		Status:   RunStatusPending,
	}
}

// Start marks the run as running.
func (r *SyncRun) Start() {
	r.Status = RunStatusRunning
	r.StartedAt = time.Now()
}

// Complete marks the run with a terminal status.
func (r *SyncRun) Complete(status RunStatus, errMsg string) {
	now := time.Now()
	r.Status = status
	r.CompletedAt = &now
	r.ErrorMessage = errMsg
}

// Duration returns the elapsed run time in seconds.
func (r *SyncRun) Duration() float64 {
	if r.StartedAt.IsZero() {
		return 0
	}
	end := time.Now()
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	return end.Sub(r.StartedAt).Seconds()
}

// RunOptions parameterise a single engine run.
type RunOptions struct {
	Mode        SyncMode
	WindowStart *time.Time
	WindowEnd   *time.Time
	BatchSize   int
	DryRun      bool

	// Force bypasses the enablement gate and the in-progress guard.
	Force bool
}
