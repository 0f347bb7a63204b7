package queue

import (
	"context"
	"time"

	"github.com/shaiso/deepagent/internal/domain"
)

// TaskPatch — частичное обновление task.
//
// Nil-поля не изменяются. ExpectStatus — предикат: обновление применяется
// только если текущий статус входит в список (пустой список — без проверки).
// Несовпадение предиката — ErrInvalidState.
type TaskPatch struct {
	ExpectStatus []domain.TaskStatus

	Status           *domain.TaskStatus
	LastError        *string
	NextRetryAt      *time.Time
	ClearNextRetryAt bool
	CompletedAt      *time.Time
	ResultSummary    *string
	CloudLinks       map[string]string
}

// Store — durable хранилище tasks и task_logs.
//
// Реализации: repo.Store (Postgres) и MemoryStore.
//
// Контракт ClaimOne: атомарно находит одну запись со статусом QUEUED или
// RETRY с истёкшим next_retry_at (порядок — created_at по возрастанию,
// tie-break по id), переводит её в RUNNING, ставит started_at, инкрементирует
// attempts, очищает next_retry_at и возвращает обновлённую запись.
// Конкурентные вызовы никогда не возвращают одну и ту же запись дважды.
type Store interface {
	InsertTask(ctx context.Context, task *domain.Task) error
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	ListTasks(ctx context.Context, status *domain.TaskStatus, limit, offset int) ([]domain.Task, int, error)
	UpdateTask(ctx context.Context, id string, patch TaskPatch) (*domain.Task, error)
	ClaimOne(ctx context.Context, now time.Time) (*domain.Task, error)

	AppendLog(ctx context.Context, entry *domain.TaskLog) error
	ListLogs(ctx context.Context, taskID string, limit int) ([]domain.TaskLog, error)
	CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error)
}
