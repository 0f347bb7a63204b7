package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/deepagent/internal/domain"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	return New(Config{
		Store:       NewMemoryStore(),
		OutputsRoot: t.TempDir(),
		MaxAttempts: 3,
		Retry:       NewRetryScheduler(1, 10),
	})
}

func enqueueTask(t *testing.T, q *Queue) *domain.Task {
	t.Helper()
	task, err := q.Enqueue(context.Background(), EnqueueParams{
		Type:        "document",
		Title:       "X",
		Description: "Y",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return task
}

// --- Enqueue ---

func TestEnqueue_RoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	task := enqueueTask(t, q)

	got, err := q.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.TaskStatusQueued {
		t.Errorf("status = %s, want queued", got.Status)
	}
	if got.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", got.Attempts)
	}
	if got.MaxAttempts != 3 {
		t.Errorf("max_attempts = %d, want 3", got.MaxAttempts)
	}
	if got.QueuedAt == nil {
		t.Error("queued_at must be set")
	}
	if got.OutputsPath == "" {
		t.Error("outputs_path must be assigned at enqueue")
	}

	logs, err := q.Logs(ctx, task.ID, 10)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Event != domain.EventTaskQueued {
		t.Errorf("expected single task_queued log, got %v", logs)
	}
}

func TestEnqueue_Validation(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	cases := []struct {
		name string
		p    EnqueueParams
	}{
		{"unknown type", EnqueueParams{Type: "translation", Title: "t", Description: "d"}},
		{"empty title", EnqueueParams{Type: "research", Title: "   ", Description: "d"}},
		{"long title", EnqueueParams{Type: "research", Title: string(make([]byte, 201)), Description: "d"}},
		{"empty description", EnqueueParams{Type: "research", Title: "t", Description: ""}},
		{"bad storage", EnqueueParams{Type: "research", Title: "t", Description: "d",
			Delivery: &domain.Delivery{Storage: "dropbox"}}},
		{"bad attachment", EnqueueParams{Type: "research", Title: "t", Description: "d",
			Attachments: []string{"payload.exe"}}},
		{"no extension", EnqueueParams{Type: "research", Title: "t", Description: "d",
			Attachments: []string{"noext"}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := q.Enqueue(ctx, tc.p); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

// --- Dequeue ---

func TestDequeue_Empty(t *testing.T) {
	q := newTestQueue(t)

	task, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if task != nil {
		t.Errorf("expected nil on empty queue, got %v", task)
	}
}

func TestDequeue_ClaimsOldestFirst(t *testing.T) {
	store := NewMemoryStore()
	q := New(Config{Store: store, OutputsRoot: t.TempDir()})
	ctx := context.Background()

	first := enqueueTask(t, q)
	time.Sleep(2 * time.Millisecond)
	enqueueTask(t, q)

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("expected oldest task %s, got %s", first.ID, got.ID)
	}
	if got.Status != domain.TaskStatusRunning {
		t.Errorf("status = %s, want running", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.StartedAt == nil {
		t.Error("started_at must be set on claim")
	}
}

func TestDequeue_ConcurrentClaimsAreDistinct(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	const n = 8
	for i := 0; i < n; i++ {
		enqueueTask(t, q)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := q.Dequeue(ctx)
			if err != nil || task == nil {
				return
			}
			mu.Lock()
			seen[task.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for id, count := range seen {
		if count > 1 {
			t.Errorf("task %s claimed %d times", id, count)
		}
	}
	if len(seen) != n {
		t.Errorf("claimed %d distinct tasks, want %d", len(seen), n)
	}
}

// --- Полный happy path ---

func TestLifecycle_HappyPath(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	task := enqueueTask(t, q)

	running, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	if err := q.MarkProcessing(ctx, running.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := q.MarkCompleted(ctx, running.ID, "All done", map[string]string{"google_drive": "https://drive.google.com/x"}); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	got, err := q.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.TaskStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.ResultSummary != "All done" {
		t.Errorf("summary = %q", got.ResultSummary)
	}
	if got.CloudLinks["google_drive"] == "" {
		t.Error("cloud links not recorded")
	}
	if got.CompletedAt == nil || got.StartedAt == nil || got.QueuedAt == nil {
		t.Fatal("lifecycle timestamps must be set")
	}
	if got.CompletedAt.Before(*got.StartedAt) || got.StartedAt.Before(got.CreatedAt) {
		t.Error("timestamps out of order")
	}
}

func TestMarkProcessing_RequiresRunning(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	task := enqueueTask(t, q)

	if err := q.MarkProcessing(ctx, task.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for queued task, got %v", err)
	}
}

// --- Retry / Dead / Failed ---

func TestMarkFailed_SchedulesRetryWithBackoff(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	task := enqueueTask(t, q)
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatal(err)
	}

	before := time.Now().UTC()
	status, err := q.MarkFailed(ctx, task.ID, "agent exploded", true)
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if status != domain.TaskStatusRetry {
		t.Fatalf("status = %s, want retry", status)
	}

	got, _ := q.Get(ctx, task.ID)
	if got.NextRetryAt == nil {
		t.Fatal("next_retry_at must be set in RETRY")
	}
	// base=1, attempt=1 → clamped 2s, jitter до 10%; int усекает к 2.
	delay := got.NextRetryAt.Sub(before)
	if delay < 1*time.Second || delay > 4*time.Second {
		t.Errorf("retry delay = %v, want about 2s", delay)
	}
	if got.LastError != "agent exploded" {
		t.Errorf("last_error = %q", got.LastError)
	}
	if got.CompletedAt != nil {
		t.Error("retry must not set completed_at")
	}
}

func TestRetry_BecomesEligibleAfterDelay(t *testing.T) {
	store := NewMemoryStore()
	q := New(Config{Store: store, OutputsRoot: t.TempDir(), MaxAttempts: 3, Retry: NewRetryScheduler(1, 10)})
	ctx := context.Background()

	task := enqueueTask(t, q)
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := q.MarkFailed(ctx, task.ID, "boom", true); err != nil {
		t.Fatal(err)
	}

	// До истечения next_retry_at task не выдаётся.
	if got, _ := store.ClaimOne(ctx, time.Now().UTC()); got != nil {
		t.Fatal("retry task claimed before next_retry_at")
	}

	// После истечения — выдаётся с attempts=2 и без next_retry_at.
	future := time.Now().UTC().Add(5 * time.Second)
	got, err := store.ClaimOne(ctx, future)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("retry task not claimed after next_retry_at")
	}
	if got.ID != task.ID || got.Attempts != 2 {
		t.Errorf("claimed %s attempts=%d, want %s attempts=2", got.ID, got.Attempts, task.ID)
	}
	if got.NextRetryAt != nil {
		t.Error("claim must clear next_retry_at")
	}

	// Retry затем успех.
	if err := q.MarkCompleted(ctx, task.ID, "", nil); err != nil {
		t.Fatalf("mark completed after retry: %v", err)
	}
	final, _ := q.Get(ctx, task.ID)
	if final.Status != domain.TaskStatusCompleted || final.Attempts != 2 {
		t.Errorf("final = %s attempts=%d, want completed attempts=2", final.Status, final.Attempts)
	}
}

func TestMarkFailed_ExhaustionGoesDead(t *testing.T) {
	store := NewMemoryStore()
	q := New(Config{Store: store, OutputsRoot: t.TempDir(), MaxAttempts: 2, Retry: NewRetryScheduler(1, 10)})
	ctx := context.Background()

	task := enqueueTask(t, q)

	// Первая попытка: retry.
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatal(err)
	}
	status, err := q.MarkFailed(ctx, task.ID, "first", true)
	if err != nil || status != domain.TaskStatusRetry {
		t.Fatalf("first failure: status=%s err=%v", status, err)
	}

	// Вторая попытка: attempts == max_attempts → dead.
	if got, err := store.ClaimOne(ctx, time.Now().UTC().Add(time.Minute)); err != nil || got == nil {
		t.Fatalf("second claim failed: %v", err)
	}
	status, err = q.MarkFailed(ctx, task.ID, "second", true)
	if err != nil {
		t.Fatal(err)
	}
	if status != domain.TaskStatusDead {
		t.Fatalf("status = %s, want dead", status)
	}

	got, _ := q.Get(ctx, task.ID)
	if got.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", got.Attempts)
	}
	if got.CompletedAt == nil {
		t.Error("dead task must have completed_at")
	}
	if got.NextRetryAt != nil {
		t.Error("dead task must not keep next_retry_at")
	}

	logs, _ := q.Logs(ctx, task.ID, 50)
	found := false
	for _, e := range logs {
		if e.Event == domain.EventTaskDead {
			found = true
		}
	}
	if !found {
		t.Error("expected task_dead log event")
	}
}

func TestMarkFailed_NoRetryGoesFailed(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	task := enqueueTask(t, q)
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatal(err)
	}

	status, err := q.MarkFailed(ctx, task.ID, "Execution timed out after 900 seconds", false)
	if err != nil {
		t.Fatal(err)
	}
	if status != domain.TaskStatusFailed {
		t.Fatalf("status = %s, want failed (not retry)", status)
	}

	got, _ := q.Get(ctx, task.ID)
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.CompletedAt == nil {
		t.Error("failed task must have completed_at")
	}
}

func TestMarkFailed_RejectsNonRunning(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	task := enqueueTask(t, q)
	if _, err := q.MarkFailed(ctx, task.ID, "x", true); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for queued task, got %v", err)
	}

	if _, err := q.MarkFailed(ctx, "missing", "x", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Cancel ---

func TestCancel_QueuedTask(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	task := enqueueTask(t, q)

	ok, err := q.Cancel(ctx, task.ID)
	if err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}

	got, _ := q.Get(ctx, task.ID)
	if got.Status != domain.TaskStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.LastError != "Cancelled by user" {
		t.Errorf("last_error = %q", got.LastError)
	}
	if got.CompletedAt == nil {
		t.Error("cancelled task must have completed_at")
	}
}

func TestCancel_RunningTask(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	task := enqueueTask(t, q)
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatal(err)
	}

	ok, err := q.Cancel(ctx, task.ID)
	if err != nil || !ok {
		t.Fatalf("cancel running: ok=%v err=%v", ok, err)
	}

	got, _ := q.Get(ctx, task.ID)
	if got.Status != domain.TaskStatusFailed || got.LastError != "Cancelled by user" {
		t.Errorf("got %s / %q", got.Status, got.LastError)
	}
}

func TestCancel_TerminalIsNoOp(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	task := enqueueTask(t, q)
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatal(err)
	}
	if err := q.MarkCompleted(ctx, task.ID, "", nil); err != nil {
		t.Fatal(err)
	}

	logsBefore, _ := q.Logs(ctx, task.ID, 50)

	ok, err := q.Cancel(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("cancel of completed task must return false")
	}

	got, _ := q.Get(ctx, task.ID)
	if got.Status != domain.TaskStatusCompleted {
		t.Errorf("status changed to %s", got.Status)
	}

	// No-op не пишет task_cancelled.
	logsAfter, _ := q.Logs(ctx, task.ID, 50)
	if len(logsAfter) != len(logsBefore) {
		t.Error("cancel no-op must not emit a log entry")
	}
}

func TestCancel_NotFound(t *testing.T) {
	q := newTestQueue(t)
	if _, err := q.Cancel(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// brokenStore подменяет UpdateTask фиксированной ошибкой.
type brokenStore struct {
	Store
	updateErr error
}

func (s *brokenStore) UpdateTask(_ context.Context, _ string, _ TaskPatch) (*domain.Task, error) {
	return nil, s.updateErr
}

func TestCancel_StoreFailureIsReported(t *testing.T) {
	store := NewMemoryStore()
	q := New(Config{Store: store, OutputsRoot: t.TempDir()})
	task := enqueueTask(t, q)

	// Сбой хранилища — это не "task уже завершён": ошибка уходит наверх.
	storeErr := errors.New("connection reset")
	broken := New(Config{Store: &brokenStore{Store: store, updateErr: storeErr}})

	ok, err := broken.Cancel(context.Background(), task.ID)
	if ok {
		t.Error("cancel must not report success on store failure")
	}
	if !errors.Is(err, storeErr) {
		t.Errorf("expected store error, got %v", err)
	}

	// Гонка со сменой статуса остаётся тихим no-op.
	racing := New(Config{Store: &brokenStore{Store: store, updateErr: ErrInvalidState}})
	ok, err = racing.Cancel(context.Background(), task.ID)
	if ok || err != nil {
		t.Errorf("state race must stay benign: ok=%v err=%v", ok, err)
	}
}

// --- Reads ---

func TestList_FilterAndPagination(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		enqueueTask(t, q)
		time.Sleep(time.Millisecond)
	}
	running, _ := q.Dequeue(ctx)

	queued := domain.TaskStatusQueued
	tasks, total, err := q.List(ctx, &queued, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 4 {
		t.Errorf("total = %d, want 4", total)
	}
	if len(tasks) != 2 {
		t.Errorf("page size = %d, want 2", len(tasks))
	}
	// Сортировка по created_at убыванию.
	if tasks[0].CreatedAt.Before(tasks[1].CreatedAt) {
		t.Error("list must be ordered by created_at desc")
	}

	runningStatus := domain.TaskStatusRunning
	tasks, total, err = q.List(ctx, &runningStatus, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || tasks[0].ID != running.ID {
		t.Errorf("running filter mismatch: total=%d", total)
	}
}

func TestStats_ZeroFilled(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	enqueueTask(t, q)

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats["queued"] != 1 {
		t.Errorf("queued = %d, want 1", stats["queued"])
	}
	for _, key := range []string{"running", "processing", "completed", "failed", "retry", "dead"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("stats must contain %q", key)
		}
	}
}

func TestLogs_AppendOnlyOrdering(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	task := enqueueTask(t, q)
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatal(err)
	}
	if err := q.MarkProcessing(ctx, task.ID); err != nil {
		t.Fatal(err)
	}
	if err := q.MarkCompleted(ctx, task.ID, "", nil); err != nil {
		t.Fatal(err)
	}

	logs, err := q.Logs(ctx, task.ID, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 4 {
		t.Fatalf("expected 4 log entries, got %d", len(logs))
	}

	// Новые записи первыми; id монотонно убывают в выдаче.
	events := []string{logs[3].Event, logs[2].Event, logs[1].Event, logs[0].Event}
	want := []string{domain.EventTaskQueued, domain.EventTaskStarted, domain.EventTaskProcessing, domain.EventTaskCompleted}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, events[i], want[i])
		}
	}
	for i := 1; i < len(logs); i++ {
		if logs[i].ID >= logs[i-1].ID {
			t.Error("log ids must be monotonic")
		}
	}
}
