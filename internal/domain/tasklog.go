package domain

import "time"

// Уровни записей TaskLog.
const (
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

// События жизненного цикла, записываемые в TaskLog.
const (
	EventTaskQueued         = "task_queued"
	EventTaskStarted        = "task_started"
	EventTaskProcessing     = "task_processing"
	EventTaskCompleted      = "task_completed"
	EventTaskRetryScheduled = "task_retry_scheduled"
	EventTaskDead           = "task_dead"
	EventTaskFailed         = "task_failed"
	EventTaskCancelled      = "task_cancelled"
)

// TaskLog — структурированная запись о событии task.
//
// Лог строго append-only: записи не обновляются и не удаляются.
// Порядок задаётся timestamp и монотонным ID.
type TaskLog struct {
	// ID — монотонный идентификатор, назначается хранилищем.
	ID int64 `json:"id"`

	// TaskID — ссылка на task.
	TaskID string `json:"task_id"`

	// Level — info, warning или error.
	Level string `json:"level"`

	// Event — короткий slug события (task_queued, task_started, ...).
	Event string `json:"event"`

	// Message — человекочитаемое описание.
	Message string `json:"message"`

	// Data — опциональные структурированные данные события.
	Data map[string]any `json:"data,omitempty"`

	// Timestamp — время события.
	Timestamp time.Time `json:"timestamp"`

	// CorrelationID — идентификатор трассировки, если известен.
	CorrelationID string `json:"correlation_id,omitempty"`
}
