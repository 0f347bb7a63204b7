package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shaiso/deepagent/internal/domain"
)

// Grace-период между SIGTERM и SIGKILL.
const killGracePeriod = 5 * time.Second

// DefaultTimeout применяется, если для типа задачи таймаут не задан.
const DefaultTimeout = 15 * time.Minute

// Result — итог выполнения агента.
//
// Partial означает прерванное выполнение (таймаут, отмена, отсутствие
// CLI): такие результаты не ретраятся, артефакты в outputs_path могут
// быть неполными.
type Result struct {
	Success   bool
	Output    string
	Error     string
	Duration  time.Duration
	TurnsUsed int
	Partial   bool
}

// Config — конфигурация Runner.
type Config struct {
	// ClaudeBin — имя или путь бинаря Claude CLI.
	ClaudeBin string

	// PromptsPath — директория шаблонов промптов (<type>.md).
	PromptsPath string

	// SkillsPath передаётся агенту через CLAUDE_CODE_SKILLS_PATH.
	SkillsPath string

	// AnthropicAPIKey — ключ API (опционально; пустой — из окружения процесса).
	AnthropicAPIKey string

	// Timeouts — таймаут выполнения по типу задачи.
	Timeouts map[domain.TaskType]time.Duration

	// Logger (опционально).
	Logger *slog.Logger
}

type activeProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// Runner управляет подпроцессами Claude CLI: один процесс на task.
type Runner struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*activeProcess
}

// New создаёт Runner.
func New(cfg Config) *Runner {
	if cfg.ClaudeBin == "" {
		cfg.ClaudeBin = "claude"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:    cfg,
		logger: logger,
		active: make(map[string]*activeProcess),
	}
}

// Execute запускает агента для task и ждёт завершения.
//
// Ошибка возвращается только при инфраструктурном сбое (не удалось
// создать директорию, запустить процесс). Исход самого выполнения,
// включая таймаут и ненулевой код выхода, кодируется в Result.
func (r *Runner) Execute(ctx context.Context, task *domain.Task) (*Result, error) {
	start := time.Now()

	if err := os.MkdirAll(task.OutputsPath, 0o755); err != nil {
		return nil, fmt.Errorf("create outputs dir: %w", err)
	}

	prompt := BuildPrompt(task, r.cfg.PromptsPath)
	timeout := r.timeoutFor(task.Type)

	cmd := exec.Command(r.cfg.ClaudeBin,
		"--print",
		"--output-format", "json",
		"--dangerously-skip-permissions",
		"--allowedTools", allowedTools(task.Type),
	)
	cmd.Dir = task.OutputsPath
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	env := os.Environ()
	if r.cfg.AnthropicAPIKey != "" {
		env = append(env, "ANTHROPIC_API_KEY="+r.cfg.AnthropicAPIKey)
	}
	env = append(env, "CLAUDE_CODE_SKILLS_PATH="+r.cfg.SkillsPath)
	cmd.Env = env

	r.logger.Info("executing agent",
		"task_id", task.ID,
		"task_type", task.Type,
		"timeout", timeout,
	)

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			// Отсутствие бинаря retry не исправит.
			return &Result{
				Error:    "Claude CLI not found. Is it installed?",
				Duration: time.Since(start),
				Partial:  true,
			}, nil
		}
		return nil, fmt.Errorf("start agent: %w", err)
	}

	proc := &activeProcess{cmd: cmd, done: make(chan struct{})}
	r.mu.Lock()
	r.active[task.ID] = proc
	r.mu.Unlock()

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
		close(proc.done)
	}()

	defer func() {
		r.mu.Lock()
		delete(r.active, task.ID)
		r.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case waitErr := <-waitCh:
		return r.collect(task, waitErr, &stdout, &stderr, start), nil

	case <-timer.C:
		r.logger.Warn("agent timed out",
			"task_id", task.ID,
			"timeout", timeout,
		)
		r.terminate(proc)
		return &Result{
			Error:    fmt.Sprintf("Execution timed out after %d seconds", int(timeout.Seconds())),
			Duration: time.Since(start),
			Partial:  true,
		}, nil

	case <-ctx.Done():
		r.logger.Info("agent execution cancelled", "task_id", task.ID)
		r.terminate(proc)
		return &Result{
			Error:    "Execution cancelled",
			Duration: time.Since(start),
			Partial:  true,
		}, nil
	}
}

// Cancel останавливает процесс task, если он ещё активен.
// Возвращает true, если процесс был найден.
func (r *Runner) Cancel(taskID string) bool {
	r.mu.Lock()
	proc, ok := r.active[taskID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	r.logger.Info("cancelling agent process", "task_id", taskID)
	r.terminate(proc)
	return true
}

// terminate шлёт SIGTERM, даёт grace-период и добивает SIGKILL.
// Безопасен для уже завершившегося процесса и повторных вызовов.
func (r *Runner) terminate(proc *activeProcess) {
	select {
	case <-proc.done:
		return
	default:
	}

	// Ошибки сигналов игнорируются: процесс мог завершиться сам.
	_ = proc.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-proc.done:
	case <-time.After(killGracePeriod):
		_ = proc.cmd.Process.Kill()
		<-proc.done
	}
}

// collect превращает исход cmd.Wait в Result.
func (r *Runner) collect(task *domain.Task, waitErr error, stdout, stderr *bytes.Buffer, start time.Time) *Result {
	duration := time.Since(start)

	if waitErr == nil {
		out := stdout.String()
		turns := 0
		var payload struct {
			Turns int `json:"turns"`
		}
		if err := json.Unmarshal([]byte(out), &payload); err == nil {
			turns = payload.Turns
		}

		r.logger.Info("agent completed",
			"task_id", task.ID,
			"duration", duration,
			"turns", turns,
		)
		return &Result{
			Success:   true,
			Output:    out,
			Duration:  duration,
			TurnsUsed: turns,
		}
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = fmt.Sprintf("Claude exited with code %d", exitErr.ExitCode())
		}
		r.logger.Warn("agent failed",
			"task_id", task.ID,
			"exit_code", exitErr.ExitCode(),
			"error", msg,
		)
		return &Result{
			Error:    msg,
			Output:   stdout.String(),
			Duration: duration,
		}
	}

	return &Result{Error: waitErr.Error(), Duration: duration}
}

func (r *Runner) timeoutFor(t domain.TaskType) time.Duration {
	if d, ok := r.cfg.Timeouts[t]; ok && d > 0 {
		return d
	}
	return DefaultTimeout
}
