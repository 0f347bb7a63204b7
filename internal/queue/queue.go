package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/deepagent/internal/domain"
)

// Дефолтное количество попыток.
const DefaultMaxAttempts = 3

// Queue — state-machine фасад над Store.
//
// Единственный авторизованный мутатор статусов task. Каждый оператор
// проверяет переход по таблице domain.CanTransition и записывает
// событие в TaskLog.
type Queue struct {
	store       Store
	outputsRoot string
	maxAttempts int
	retry       *RetryScheduler
	logger      *slog.Logger
}

// Config — конфигурация Queue.
type Config struct {
	// Store — хранилище tasks (обязательно).
	Store Store

	// OutputsRoot — корень директорий артефактов; task получает
	// поддиректорию <OutputsRoot>/<id>.
	OutputsRoot string

	// MaxAttempts — лимит попыток для новых tasks (default: 3).
	MaxAttempts int

	// Retry — расписание backoff (опционально; nil — дефолты).
	Retry *RetryScheduler

	// Logger (опционально).
	Logger *slog.Logger
}

// New создаёт Queue.
func New(cfg Config) *Queue {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	retry := cfg.Retry
	if retry == nil {
		retry = NewRetryScheduler(DefaultRetryBaseDelaySeconds, DefaultRetryMaxDelaySeconds)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{
		store:       cfg.Store,
		outputsRoot: cfg.OutputsRoot,
		maxAttempts: maxAttempts,
		retry:       retry,
		logger:      logger,
	}
}

// EnqueueParams — входные данные для постановки task в очередь.
type EnqueueParams struct {
	Type          string
	Title         string
	Description   string
	Config        map[string]any
	Delivery      *domain.Delivery
	Attachments   []string
	CorrelationID string
}

// Validate проверяет входные данные. Все нарушения — ErrValidation.
func (p *EnqueueParams) Validate() error {
	if !domain.ValidTaskType(p.Type) {
		return fmt.Errorf("%w: unknown task type %q", ErrValidation, p.Type)
	}

	title := strings.TrimSpace(p.Title)
	if title == "" {
		return fmt.Errorf("%w: title cannot be empty", ErrValidation)
	}
	if len(title) > 200 {
		return fmt.Errorf("%w: title exceeds 200 characters", ErrValidation)
	}

	if strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("%w: description cannot be empty", ErrValidation)
	}

	if p.Delivery != nil && p.Delivery.Storage != "" {
		if p.Delivery.Storage != "google_drive" && p.Delivery.Storage != "onedrive" {
			return fmt.Errorf("%w: storage must be 'google_drive' or 'onedrive'", ErrValidation)
		}
	}

	for _, ref := range p.Attachments {
		ext := ""
		if i := strings.LastIndex(ref, "."); i >= 0 {
			ext = strings.ToLower(ref[i+1:])
		}
		if !domain.AllowedAttachmentTypes[ext] {
			return fmt.Errorf("%w: unsupported file type: %s", ErrValidation, ext)
		}
	}

	return nil
}

// Enqueue создаёт новый task со статусом QUEUED.
func (q *Queue) Enqueue(ctx context.Context, p EnqueueParams) (*domain.Task, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	id := uuid.NewString()

	task := &domain.Task{
		ID:             id,
		Type:           domain.TaskType(p.Type),
		Title:          strings.TrimSpace(p.Title),
		Description:    strings.TrimSpace(p.Description),
		Config:         p.Config,
		Delivery:       p.Delivery,
		AttachmentRefs: p.Attachments,
		Status:         domain.TaskStatusQueued,
		Attempts:       0,
		MaxAttempts:    q.maxAttempts,
		CreatedAt:      now,
		QueuedAt:       &now,
		OutputsPath:    filepath.Join(q.outputsRoot, id),
		CorrelationID:  p.CorrelationID,
	}

	if err := q.store.InsertTask(ctx, task); err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	q.logEvent(ctx, task.ID, domain.LogLevelInfo, domain.EventTaskQueued,
		fmt.Sprintf("Task '%s' queued for processing", task.Title), nil, task.CorrelationID)

	return task, nil
}

// Dequeue атомарно забирает следующий доступный task и переводит его
// в RUNNING. Возвращает nil, если доступных tasks нет.
//
// Доступны tasks со статусом QUEUED, а также RETRY с истёкшим
// next_retry_at. При нескольких кандидатах выигрывает самый старый
// по created_at.
func (q *Queue) Dequeue(ctx context.Context) (*domain.Task, error) {
	task, err := q.store.ClaimOne(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	if task == nil {
		return nil, nil
	}

	q.logEvent(ctx, task.ID, domain.LogLevelInfo, domain.EventTaskStarted,
		fmt.Sprintf("Task started (attempt %d/%d)", task.Attempts, task.MaxAttempts),
		nil, task.CorrelationID)

	return task, nil
}

// MarkProcessing переводит task из RUNNING в PROCESSING
// (агент завершился, идёт обработка результатов).
func (q *Queue) MarkProcessing(ctx context.Context, taskID string) error {
	status := domain.TaskStatusProcessing
	_, err := q.store.UpdateTask(ctx, taskID, TaskPatch{
		ExpectStatus: []domain.TaskStatus{domain.TaskStatusRunning},
		Status:       &status,
	})
	if err != nil {
		return err
	}

	q.logEvent(ctx, taskID, domain.LogLevelInfo, domain.EventTaskProcessing,
		"Agent execution complete, processing results", nil, "")
	return nil
}

// MarkCompleted переводит task в COMPLETED и записывает результаты.
func (q *Queue) MarkCompleted(ctx context.Context, taskID, summary string, cloudLinks map[string]string) error {
	status := domain.TaskStatusCompleted
	now := time.Now().UTC()

	patch := TaskPatch{
		ExpectStatus: []domain.TaskStatus{domain.TaskStatusProcessing, domain.TaskStatusRunning},
		Status:       &status,
		CompletedAt:  &now,
		CloudLinks:   cloudLinks,
	}
	if summary != "" {
		patch.ResultSummary = &summary
	}

	if _, err := q.store.UpdateTask(ctx, taskID, patch); err != nil {
		return err
	}

	q.logEvent(ctx, taskID, domain.LogLevelInfo, domain.EventTaskCompleted,
		"Task completed successfully", nil, "")
	return nil
}

// MarkFailed фиксирует неудачную попытку.
//
// Если retry=true и попытки не исчерпаны — RETRY с next_retry_at по
// exponential backoff. Иначе DEAD (retry=true) или FAILED (retry=false),
// с выставленным completed_at. Возвращает новый статус.
func (q *Queue) MarkFailed(ctx context.Context, taskID, errMsg string, retry bool) (domain.TaskStatus, error) {
	task, err := q.store.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}

	if task.Status != domain.TaskStatusRunning && task.Status != domain.TaskStatusProcessing {
		return "", fmt.Errorf("%w: cannot fail task in status %s", ErrInvalidState, task.Status)
	}

	now := time.Now().UTC()

	if retry && task.CanRetry() {
		delay := q.retry.DelayFor(task.Attempts)
		nextRetry := now.Add(time.Duration(delay) * time.Second)
		status := domain.TaskStatusRetry

		_, err = q.store.UpdateTask(ctx, taskID, TaskPatch{
			ExpectStatus: []domain.TaskStatus{task.Status},
			Status:       &status,
			LastError:    &errMsg,
			NextRetryAt:  &nextRetry,
		})
		if err != nil {
			return "", err
		}

		q.logEvent(ctx, taskID, domain.LogLevelWarning, domain.EventTaskRetryScheduled,
			fmt.Sprintf("Task failed, retry scheduled in %ds: %s", delay, errMsg),
			map[string]any{"attempt": task.Attempts, "next_retry": nextRetry.Format(time.RFC3339)},
			task.CorrelationID)

		return status, nil
	}

	// Попытки исчерпаны либо retry не запрошен.
	status := domain.TaskStatusFailed
	event := domain.EventTaskFailed
	if retry {
		status = domain.TaskStatusDead
		event = domain.EventTaskDead
	}

	_, err = q.store.UpdateTask(ctx, taskID, TaskPatch{
		ExpectStatus:     []domain.TaskStatus{task.Status},
		Status:           &status,
		LastError:        &errMsg,
		CompletedAt:      &now,
		ClearNextRetryAt: true,
	})
	if err != nil {
		return "", err
	}

	q.logEvent(ctx, taskID, domain.LogLevelError, event,
		fmt.Sprintf("Task failed permanently: %s", errMsg),
		map[string]any{"attempts": task.Attempts}, task.CorrelationID)

	return status, nil
}

// Cancel отменяет task, если он ещё не в терминальном статусе.
//
// Возвращает true при успешной отмене; false — если task уже
// завершён. Отменённый task получает FAILED с last_error
// "Cancelled by user". Живой процесс агента останавливает вызывающая
// сторона (runner).
func (q *Queue) Cancel(ctx context.Context, taskID string) (bool, error) {
	task, err := q.store.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}

	if task.Status.IsTerminal() {
		return false, nil
	}

	status := domain.TaskStatusFailed
	lastError := "Cancelled by user"
	now := time.Now().UTC()

	_, err = q.store.UpdateTask(ctx, taskID, TaskPatch{
		ExpectStatus:     []domain.TaskStatus{task.Status},
		Status:           &status,
		LastError:        &lastError,
		CompletedAt:      &now,
		ClearNextRetryAt: true,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidState) {
			// Гонка с воркером: task успел стать терминальным.
			return false, nil
		}
		return false, err
	}

	q.logEvent(ctx, taskID, domain.LogLevelInfo, domain.EventTaskCancelled,
		"Task cancelled by user", nil, task.CorrelationID)

	return true, nil
}

// Get возвращает task по ID.
func (q *Queue) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	return q.store.GetTask(ctx, taskID)
}

// List возвращает страницу tasks (created_at по убыванию) и общее количество.
func (q *Queue) List(ctx context.Context, status *domain.TaskStatus, limit, offset int) ([]domain.Task, int, error) {
	return q.store.ListTasks(ctx, status, limit, offset)
}

// Logs возвращает последние записи TaskLog для task.
func (q *Queue) Logs(ctx context.Context, taskID string, limit int) ([]domain.TaskLog, error) {
	return q.store.ListLogs(ctx, taskID, limit)
}

// Stats возвращает количество tasks по статусам (все статусы, включая нулевые).
func (q *Queue) Stats(ctx context.Context) (map[string]int, error) {
	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := make(map[string]int, len(domain.AllStatuses))
	for _, s := range domain.AllStatuses {
		stats[string(s)] = counts[s]
	}
	return stats, nil
}

// logEvent добавляет запись в TaskLog. Ошибка записи не прерывает
// операцию — переход статуса уже зафиксирован.
func (q *Queue) logEvent(ctx context.Context, taskID, level, event, message string, data map[string]any, correlationID string) {
	entry := &domain.TaskLog{
		TaskID:        taskID,
		Level:         level,
		Event:         event,
		Message:       message,
		Data:          data,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}

	if err := q.store.AppendLog(ctx, entry); err != nil {
		q.logger.Warn("failed to append task log",
			"task_id", taskID,
			"event", event,
			"error", err,
		)
	}
}
