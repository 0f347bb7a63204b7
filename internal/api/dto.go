package api

import (
	"time"

	"github.com/shaiso/deepagent/internal/domain"
)

// TaskCreateRequest — запрос на создание task.
type TaskCreateRequest struct {
	Type        string           `json:"type"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Config      map[string]any   `json:"config,omitempty"`
	Delivery    *domain.Delivery `json:"delivery,omitempty"`
	Attachments []string         `json:"attachments,omitempty"`
}

// TaskResponse — представление task в API.
type TaskResponse struct {
	ID            string            `json:"id"`
	Type          domain.TaskType   `json:"type"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Status        domain.TaskStatus `json:"status"`
	Attempts      int               `json:"attempts"`
	MaxAttempts   int               `json:"max_attempts"`
	LastError     string            `json:"last_error,omitempty"`
	NextRetryAt   *time.Time        `json:"next_retry_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	QueuedAt      *time.Time        `json:"queued_at,omitempty"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

func toTaskResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:            t.ID,
		Type:          t.Type,
		Title:         t.Title,
		Description:   t.Description,
		Status:        t.Status,
		Attempts:      t.Attempts,
		MaxAttempts:   t.MaxAttempts,
		LastError:     t.LastError,
		NextRetryAt:   t.NextRetryAt,
		CreatedAt:     t.CreatedAt,
		QueuedAt:      t.QueuedAt,
		StartedAt:     t.StartedAt,
		CompletedAt:   t.CompletedAt,
		CorrelationID: t.CorrelationID,
	}
}

// TaskListResponse — страница tasks.
type TaskListResponse struct {
	Tasks    []TaskResponse `json:"tasks"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// TaskResultResponse — результат выполнения task.
type TaskResultResponse struct {
	TaskID      string            `json:"task_id"`
	Status      domain.TaskStatus `json:"status"`
	Summary     string            `json:"summary,omitempty"`
	OutputsPath string            `json:"outputs_path,omitempty"`
	CloudLinks  map[string]string `json:"cloud_links,omitempty"`
	Logs        []TaskLogResponse `json:"logs,omitempty"`
}

// TaskLogResponse — запись журнала task.
type TaskLogResponse struct {
	ID            int64          `json:"id"`
	TaskID        string         `json:"task_id"`
	Level         string         `json:"level"`
	Event         string         `json:"event"`
	Message       string         `json:"message"`
	Data          map[string]any `json:"data,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

func toTaskLogResponse(e *domain.TaskLog) TaskLogResponse {
	return TaskLogResponse{
		ID:            e.ID,
		TaskID:        e.TaskID,
		Level:         e.Level,
		Event:         e.Event,
		Message:       e.Message,
		Data:          e.Data,
		Timestamp:     e.Timestamp,
		CorrelationID: e.CorrelationID,
	}
}

// HealthResponse — ответ health check.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
}
