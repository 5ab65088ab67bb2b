package domain

import (
	"hash/fnv"
	"time"

	"github.com/google/uuid"
)

// TaskType identifies the type of background task
type TaskType string

const (
	// TaskTypeSyncEndpoint syncs one (source, endpoint) pair
	TaskTypeSyncEndpoint TaskType = "sync_endpoint"
	// TaskTypeSyncAll syncs every enabled endpoint of every enabled source
	TaskTypeSyncAll TaskType = "sync_all"
)

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Task represents a background job to be processed by workers
type Task struct {
	// ID is the unique identifier for this task
	ID string `json:"id"`

	// Type identifies what kind of task this is
	Type TaskType `json:"type"`

	// Payload contains task-specific data
	// For sync_endpoint: {"source": "crm-a", "endpoint": "contacts"}
	// For sync_all: {} (empty)
	Payload map[string]string `json:"payload"`

	// Status is the current state of the task
	Status TaskStatus `json:"status"`

	// Priority determines processing order (higher = more urgent)
	Priority int `json:"priority"`

	// Attempts is how many times this task has been attempted
	Attempts int `json:"attempts"`

	// MaxAttempts is the maximum retry count before giving up
	MaxAttempts int `json:"max_attempts"`

	// Error contains the last error message if failed
	Error string `json:"error,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when processing finished (nil if not complete)
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ScheduledFor is when the task should be processed (for delayed tasks)
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewTask creates a new task with default values
func NewTask(taskType TaskType, payload map[string]string) *Task {
	now := time.Now()
	return &Task{
		ID:           uuid.NewString(),
		Type:         taskType,
		Payload:      payload,
		Status:       TaskStatusPending,
		MaxAttempts:  3,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
}

// NewSyncEndpointTask creates a task to sync one endpoint of a source
func NewSyncEndpointTask(source, endpoint string) *Task {
	return NewTask(TaskTypeSyncEndpoint, map[string]string{
		"source":   source,
		"endpoint": endpoint,
	})
}

// NewSyncAllTask creates a task to sync all enabled endpoints
func NewSyncAllTask() *Task {
	return NewTask(TaskTypeSyncAll, nil)
}

// Source extracts the source name from the payload
func (t *Task) Source() string {
	if t.Payload == nil {
		return ""
	}
	return t.Payload["source"]
}

// Endpoint extracts the endpoint name from the payload
func (t *Task) Endpoint() string {
	if t.Payload == nil {
		return ""
	}
	return t.Payload["endpoint"]
}

// CanRetry returns true if the task can be retried
func (t *Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

// IsReady returns true if the task is ready to be processed
func (t *Task) IsReady() bool {
	return t.Status == TaskStatusPending && time.Now().After(t.ScheduledFor)
}

// MarkProcessing updates the task to processing state
func (t *Task) MarkProcessing() {
	now := time.Now()
	t.Status = TaskStatusProcessing
	t.StartedAt = &now
	t.UpdatedAt = now
	t.Attempts++
}

// MarkCompleted updates the task to completed state
func (t *Task) MarkCompleted() {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.Error = ""
}

// MarkFailed updates the task to failed state
func (t *Task) MarkFailed(err string) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.UpdatedAt = now
	t.Error = err
}

// Retry resets the task for retry with exponential backoff
func (t *Task) Retry(err string) {
	now := time.Now()
	t.Status = TaskStatusPending
	t.UpdatedAt = now
	t.Error = err

	// Exponential backoff: 1s, 2s, 4s, 8s, etc.
	backoff := time.Duration(1<<t.Attempts) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	t.ScheduledFor = now.Add(backoff)
}

// ScheduleEntry is one recurring sync job in the scheduler's active set.
// Entries are built once per scheduling cycle from the enabled sources; a
// disabled source or endpoint is excluded entirely rather than skipped at
// run time.
type ScheduleEntry struct {
	// JobID is "source/endpoint".
	JobID    string `json:"job_id"`
	Source   string `json:"source"`
	Endpoint string `json:"endpoint"`

	// Cadence is the interval between runs.
	Cadence time.Duration `json:"cadence"`

	// NextRun is when the job is next due, including its stagger offset.
	NextRun time.Time `json:"next_run"`
}

// StaggerOffset returns a deterministic offset within the cadence window for
// a job, spreading jobs that share a cadence so they do not all fire at once.
func StaggerOffset(jobID string, cadence time.Duration) time.Duration {
	if cadence <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(jobID))
	return time.Duration(uint64(h.Sum32())) % cadence
}

// NewScheduleEntry creates an entry with its first run staggered within the
// cadence window starting at base.
func NewScheduleEntry(source, endpoint string, cadence time.Duration, base time.Time) *ScheduleEntry {
	id := JobID(source, endpoint)
	return &ScheduleEntry{
		JobID:    id,
		Source:   source,
		Endpoint: endpoint,
		Cadence:  cadence,
		NextRun:  base.Add(StaggerOffset(id, cadence)),
	}
}

// IsDue returns true if the job should be dispatched at now.
func (e *ScheduleEntry) IsDue(now time.Time) bool {
	return !now.Before(e.NextRun)
}

// AdvanceNextRun moves the entry to its next cadence slot after now.
func (e *ScheduleEntry) AdvanceNextRun(now time.Time) {
	next := e.NextRun.Add(e.Cadence)
	for !next.After(now) {
		next = next.Add(e.Cadence)
	}
	e.NextRun = next
}
