package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/deepagent/internal/domain"
)

// writeScript создаёт исполняемый shell-скрипт, изображающий Claude CLI.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testTask(t *testing.T) *domain.Task {
	t.Helper()
	return &domain.Task{
		ID:          "11111111-1111-1111-1111-111111111111",
		Type:        domain.TaskTypeDocument,
		Title:       "Test",
		Description: "Test task",
		OutputsPath: filepath.Join(t.TempDir(), "out"),
	}
}

func TestExecute_Success(t *testing.T) {
	skills := t.TempDir()
	bin := writeScript(t, `
cat > /dev/null
[ "$CLAUDE_CODE_SKILLS_PATH" = "`+skills+`" ] || { echo "skills path not set" >&2; exit 3; }
echo "{\"turns\":3,\"cwd\":\"$(pwd)\"}"
`)

	r := New(Config{ClaudeBin: bin, SkillsPath: skills})
	task := testTask(t)

	result, err := r.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Partial {
		t.Error("success must not be partial")
	}
	if result.TurnsUsed != 3 {
		t.Errorf("turns = %d, want 3", result.TurnsUsed)
	}
	// Процесс запускается в outputs-директории task.
	if !strings.Contains(result.Output, task.OutputsPath) {
		t.Errorf("agent cwd mismatch: %q", result.Output)
	}
	if _, err := os.Stat(task.OutputsPath); err != nil {
		t.Errorf("outputs dir not created: %v", err)
	}
}

func TestExecute_NonZeroExitUsesStderr(t *testing.T) {
	bin := writeScript(t, `
cat > /dev/null
echo "API quota exhausted" >&2
exit 1
`)

	r := New(Config{ClaudeBin: bin})
	result, err := r.Execute(context.Background(), testTask(t))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Partial {
		t.Error("exit failure must not be partial (retryable)")
	}
	if result.Error != "API quota exhausted" {
		t.Errorf("error = %q, want stderr text", result.Error)
	}
}

func TestExecute_NonZeroExitWithoutStderr(t *testing.T) {
	bin := writeScript(t, "cat > /dev/null\nexit 2\n")

	r := New(Config{ClaudeBin: bin})
	result, err := r.Execute(context.Background(), testTask(t))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Error != "Claude exited with code 2" {
		t.Errorf("error = %q", result.Error)
	}
}

func TestExecute_Timeout(t *testing.T) {
	bin := writeScript(t, "exec sleep 5\n")

	r := New(Config{
		ClaudeBin: bin,
		Timeouts:  map[domain.TaskType]time.Duration{domain.TaskTypeDocument: 200 * time.Millisecond},
	})

	start := time.Now()
	result, err := r.Execute(context.Background(), testTask(t))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("timeout did not interrupt the process promptly")
	}
	if result.Success {
		t.Fatal("expected timeout failure")
	}
	if !result.Partial {
		t.Error("timeout must be partial (not retryable)")
	}
	if !strings.HasPrefix(result.Error, "Execution timed out after") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestExecute_MissingBinary(t *testing.T) {
	r := New(Config{ClaudeBin: filepath.Join(t.TempDir(), "claude-does-not-exist")})

	result, err := r.Execute(context.Background(), testTask(t))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure")
	}
	// Отсутствие бинаря не лечится повторами.
	if !result.Partial {
		t.Error("missing binary must be partial (not retryable)")
	}
	if result.Error != "Claude CLI not found. Is it installed?" {
		t.Errorf("error = %q", result.Error)
	}
}

func TestCancel_StopsRunningProcess(t *testing.T) {
	bin := writeScript(t, "exec sleep 5\n")

	r := New(Config{
		ClaudeBin: bin,
		Timeouts:  map[domain.TaskType]time.Duration{domain.TaskTypeDocument: time.Minute},
	})
	task := testTask(t)

	type outcome struct {
		result *Result
		err    error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		res, err := r.Execute(context.Background(), task)
		resultCh <- outcome{res, err}
	}()

	// Ждём регистрации процесса.
	deadline := time.Now().Add(3 * time.Second)
	for !r.Cancel(task.ID) {
		if time.Now().After(deadline) {
			t.Fatal("process never became cancellable")
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case out := <-resultCh:
		if out.err != nil {
			t.Fatalf("execute: %v", out.err)
		}
		if out.result.Success {
			t.Error("cancelled execution must not succeed")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("execute did not return after cancel")
	}

	// Повторная отмена — no-op.
	if r.Cancel(task.ID) {
		t.Error("cancel of finished task must return false")
	}
}

func TestCancel_UnknownTask(t *testing.T) {
	r := New(Config{ClaudeBin: "claude"})
	if r.Cancel("missing") {
		t.Error("cancel of unknown task must return false")
	}
}

func TestExecute_ContextCancellation(t *testing.T) {
	bin := writeScript(t, "exec sleep 5\n")

	r := New(Config{
		ClaudeBin: bin,
		Timeouts:  map[domain.TaskType]time.Duration{domain.TaskTypeDocument: time.Minute},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	result, err := r.Execute(ctx, testTask(t))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Success || !result.Partial {
		t.Errorf("expected partial failure, got %+v", result)
	}
	if result.Error != "Execution cancelled" {
		t.Errorf("error = %q", result.Error)
	}
}
