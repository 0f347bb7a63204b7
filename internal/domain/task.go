package domain

import (
	"time"
)

// AllowedAttachmentTypes — whitelist расширений вложений.
var AllowedAttachmentTypes = map[string]bool{
	"pdf": true, "docx": true, "doc": true, "txt": true, "md": true,
	"csv": true, "json": true, "png": true, "jpg": true, "jpeg": true, "gif": true,
}

// DefaultDeliveryFolder — папка в облаке по умолчанию.
const DefaultDeliveryFolder = "DeepAgent/Results"

// Delivery — настройки доставки результатов task.
type Delivery struct {
	// Email — адрес для уведомления о завершении.
	Email string `json:"email,omitempty"`

	// Storage — облачное хранилище: "google_drive" или "onedrive".
	Storage string `json:"storage,omitempty"`

	// Folder — целевая папка в хранилище.
	Folder string `json:"folder,omitempty"`
}

// Task — пользовательская задача для AI-агента.
//
// Task создаётся через API (enqueue) и выполняется единственным воркером:
// воркер атомарно забирает task из очереди, запускает агента как дочерний
// процесс и прогоняет результаты через result processor.
type Task struct {
	// ID — уникальный идентификатор task (UUID).
	ID string `json:"id"`

	// Type — тип задачи: research, analysis, document.
	Type TaskType `json:"type"`

	// Title — заголовок (непустой, до 200 символов).
	Title string `json:"title"`

	// Description — описание/промпт задачи.
	Description string `json:"description"`

	// Config — произвольная конфигурация задачи.
	Config map[string]any `json:"config,omitempty"`

	// Delivery — настройки доставки результатов.
	Delivery *Delivery `json:"delivery,omitempty"`

	// AttachmentRefs — пути к вложениям (расширения из whitelist).
	AttachmentRefs []string `json:"attachment_refs,omitempty"`

	// Status — текущий статус.
	Status TaskStatus `json:"status"`

	// Attempt accounting.
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	LastError   string `json:"last_error,omitempty"`

	// NextRetryAt — время следующей попытки. Задан тогда и только тогда,
	// когда Status == RETRY.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// Timestamps.
	CreatedAt   time.Time  `json:"created_at"`
	QueuedAt    *time.Time `json:"queued_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// OutputsPath — выделенная директория с артефактами задачи.
	// Стабильна на всё время жизни task; retry переиспользует её.
	OutputsPath string `json:"outputs_path,omitempty"`

	// ResultSummary — краткое описание результата (до ~500 символов).
	ResultSummary string `json:"result_summary,omitempty"`

	// CloudLinks — ссылки на загруженные результаты: имя сервиса → URL.
	CloudLinks map[string]string `json:"cloud_links,omitempty"`

	// CorrelationID — идентификатор для сквозной трассировки.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, пока task не завершён.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// IsFinished возвращает true, если task в терминальном статусе.
func (t *Task) IsFinished() bool {
	return t.Status.IsTerminal()
}

// CanRetry проверяет, осталась ли хотя бы одна попытка.
// Attempts уже инкрементирован последним dequeue, поэтому сравнение строгое.
func (t *Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}
