package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

func setupTestQueue(t *testing.T) (*Queue, *redis.Client, func()) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	q, err := NewQueue(client, "test-worker")
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}

	return q, client, func() {
		client.Close()
		mr.Close()
	}
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	q, _, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	task := domain.NewSyncEndpointTask("crm-a", "contacts")
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := q.DequeueWithTimeout(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("expected a task")
	}
	if got.ID != task.ID {
		t.Errorf("task ID = %s, want %s", got.ID, task.ID)
	}
	if got.Status != domain.TaskStatusProcessing {
		t.Errorf("status = %s, want processing", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.Source() != "crm-a" || got.Endpoint() != "contacts" {
		t.Errorf("payload = %s/%s", got.Source(), got.Endpoint())
	}
}

func TestQueue_EnqueueBatch(t *testing.T) {
	q, client, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	tasks := []*domain.Task{
		domain.NewSyncEndpointTask("crm-a", "contacts"),
		domain.NewSyncEndpointTask("crm-a", "deals"),
	}
	if err := q.EnqueueBatch(ctx, tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := client.XLen(ctx, taskStream).Result()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("stream length = %d, want 2", n)
	}
}

func TestQueue_Ack(t *testing.T) {
	q, _, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	task := domain.NewSyncEndpointTask("crm-a", "contacts")
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := q.DequeueWithTimeout(ctx, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := q.Ack(ctx, task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := q.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.TaskStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}

func TestQueue_Nack_Retries(t *testing.T) {
	q, client, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	task := domain.NewSyncEndpointTask("crm-a", "contacts")
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := q.DequeueWithTimeout(ctx, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := q.Nack(ctx, task.ID, "source not responding"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := q.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.TaskStatusPending {
		t.Errorf("status = %s, want pending for retry", got.Status)
	}
	if got.Error != "source not responding" {
		t.Errorf("error = %q", got.Error)
	}

	// The retry waits out its backoff in the scheduled set.
	if err := client.ZScore(ctx, scheduledTasks, task.ID).Err(); err != nil {
		t.Errorf("expected task in scheduled set: %v", err)
	}
}

func TestQueue_Nack_MaxAttempts(t *testing.T) {
	q, _, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	task := domain.NewSyncEndpointTask("crm-a", "contacts")
	task.MaxAttempts = 1
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := q.DequeueWithTimeout(ctx, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := q.Nack(ctx, task.ID, "permanent failure"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := q.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.TaskStatusFailed {
		t.Errorf("status = %s, want failed after max attempts", got.Status)
	}
}

func TestQueue_DelayedTask(t *testing.T) {
	q, client, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	task := domain.NewSyncEndpointTask("crm-a", "contacts")
	task.ScheduledFor = time.Now().Add(time.Hour)
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Future tasks wait in the scheduled set, not the stream.
	n, _ := client.XLen(ctx, taskStream).Result()
	if n != 0 {
		t.Errorf("stream length = %d, want 0", n)
	}
	if err := client.ZScore(ctx, scheduledTasks, task.ID).Err(); err != nil {
		t.Errorf("expected task in scheduled set: %v", err)
	}
}

func TestQueue_GetTask_NotFound(t *testing.T) {
	q, _, cleanup := setupTestQueue(t)
	defer cleanup()

	_, err := q.GetTask(context.Background(), "no-such-task")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestQueue_PurgeTasks(t *testing.T) {
	q, _, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	task := domain.NewSyncEndpointTask("crm-a", "contacts")
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := q.DequeueWithTimeout(ctx, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Ack(ctx, task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	purged, err := q.PurgeTasks(ctx, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
	if _, err := q.GetTask(ctx, task.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after purge", err)
	}
}

func TestQueue_Ping(t *testing.T) {
	q, _, cleanup := setupTestQueue(t)
	defer cleanup()

	if err := q.Ping(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewQueue_Idempotent(t *testing.T) {
	q, client, cleanup := setupTestQueue(t)
	defer cleanup()
	_ = q

	// A second worker against the same stream reuses the group.
	if _, err := NewQueue(client, "another-worker"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
