package domain

// TaskStatus — статус жизненного цикла task.
//
// Жизненный цикл:
//
//	QUEUED → RUNNING → PROCESSING → COMPLETED
//	                 ↘ RETRY → RUNNING (повторная попытка)
//	                 ↘ DEAD (попытки исчерпаны)
//	                 ↘ FAILED (таймаут, отмена)
type TaskStatus string

const (
	// TaskStatusPending — task создан, но ещё не прошёл валидацию.
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusQueued — task в очереди, ожидает воркера.
	TaskStatusQueued TaskStatus = "queued"

	// TaskStatusRunning — воркер выполняет агента.
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusProcessing — агент завершился, идёт обработка результатов.
	TaskStatusProcessing TaskStatus = "processing"

	// TaskStatusCompleted — успех, результаты доставлены.
	TaskStatusCompleted TaskStatus = "completed"

	// TaskStatusFailed — выполнение завершилось без retry (таймаут, отмена).
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusRetry — ожидает следующей попытки (next_retry_at).
	TaskStatusRetry TaskStatus = "retry"

	// TaskStatusDead — все попытки исчерпаны.
	TaskStatusDead TaskStatus = "dead"
)

// TaskType — тип задачи. Определяет таймаут, бюджет turns и allowlist инструментов.
type TaskType string

const (
	TaskTypeResearch TaskType = "research"
	TaskTypeAnalysis TaskType = "analysis"
	TaskTypeDocument TaskType = "document"
)

// ValidTaskType проверяет, что строка — известный тип задачи.
func ValidTaskType(s string) bool {
	switch TaskType(s) {
	case TaskTypeResearch, TaskTypeAnalysis, TaskTypeDocument:
		return true
	default:
		return false
	}
}

// Valid проверяет, что значение — известный статус.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusQueued, TaskStatusRunning, TaskStatusProcessing,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusRetry, TaskStatusDead:
		return true
	default:
		return false
	}
}

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusDead:
		return true
	default:
		return false
	}
}

// transitions — таблица разрешённых переходов статусов.
// Любой переход вне таблицы — ошибка; мутаторы очереди сверяются с ней.
var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusQueued, TaskStatusFailed},
	TaskStatusQueued:     {TaskStatusRunning, TaskStatusFailed},
	TaskStatusRunning:    {TaskStatusProcessing, TaskStatusCompleted, TaskStatusRetry, TaskStatusDead, TaskStatusFailed},
	TaskStatusProcessing: {TaskStatusCompleted, TaskStatusRetry, TaskStatusDead, TaskStatusFailed},
	TaskStatusRetry:      {TaskStatusRunning, TaskStatusFailed},
}

// CanTransition проверяет, разрешён ли переход from → to.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllStatuses — все статусы, в порядке жизненного цикла.
// Используется для zero-filled статистики очереди.
var AllStatuses = []TaskStatus{
	TaskStatusQueued,
	TaskStatusRunning,
	TaskStatusProcessing,
	TaskStatusCompleted,
	TaskStatusFailed,
	TaskStatusRetry,
	TaskStatusDead,
}
