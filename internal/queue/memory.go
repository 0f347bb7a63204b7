package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/deepagent/internal/domain"
)

// MemoryStore — in-memory реализация Store.
//
// Используется в тестах и для запуска без Postgres. Все операции
// сериализованы мьютексом, поэтому контракт атомарности ClaimOne
// выполняется и при конкурентных вызовах.
type MemoryStore struct {
	mu        sync.Mutex
	tasks     map[string]*domain.Task
	logs      []domain.TaskLog
	nextLogID int64
}

// NewMemoryStore создаёт пустой MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:     make(map[string]*domain.Task),
		nextLogID: 1,
	}
}

// InsertTask сохраняет новый task.
func (m *MemoryStore) InsertTask(_ context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tasks[task.ID] = cloneTask(task)
	return nil
}

// GetTask возвращает task по ID.
func (m *MemoryStore) GetTask(_ context.Context, id string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(task), nil
}

// ListTasks возвращает страницу tasks (created_at по убыванию) и total.
func (m *MemoryStore) ListTasks(_ context.Context, status *domain.TaskStatus, limit, offset int) ([]domain.Task, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []*domain.Task
	for _, t := range m.tasks {
		if status != nil && t.Status != *status {
			continue
		}
		all = append(all, t)
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	page := make([]domain.Task, 0, end-offset)
	for _, t := range all[offset:end] {
		page = append(page, *cloneTask(t))
	}
	return page, total, nil
}

// UpdateTask применяет patch с проверкой ожидаемого статуса.
func (m *MemoryStore) UpdateTask(_ context.Context, id string, patch TaskPatch) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}

	if len(patch.ExpectStatus) > 0 {
		matched := false
		for _, s := range patch.ExpectStatus {
			if task.Status == s {
				matched = true
				break
			}
		}
		if !matched {
			return nil, ErrInvalidState
		}
	}

	if patch.Status != nil {
		task.Status = *patch.Status
	}
	if patch.LastError != nil {
		task.LastError = *patch.LastError
	}
	if patch.NextRetryAt != nil {
		t := *patch.NextRetryAt
		task.NextRetryAt = &t
	}
	if patch.ClearNextRetryAt {
		task.NextRetryAt = nil
	}
	if patch.CompletedAt != nil {
		t := *patch.CompletedAt
		task.CompletedAt = &t
	}
	if patch.ResultSummary != nil {
		task.ResultSummary = *patch.ResultSummary
	}
	if patch.CloudLinks != nil {
		task.CloudLinks = patch.CloudLinks
	}

	return cloneTask(task), nil
}

// ClaimOne атомарно забирает следующий доступный task.
func (m *MemoryStore) ClaimOne(_ context.Context, now time.Time) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidate *domain.Task
	for _, t := range m.tasks {
		eligible := t.Status == domain.TaskStatusQueued ||
			(t.Status == domain.TaskStatusRetry && t.NextRetryAt != nil && !t.NextRetryAt.After(now))
		if !eligible {
			continue
		}
		if candidate == nil ||
			t.CreatedAt.Before(candidate.CreatedAt) ||
			(t.CreatedAt.Equal(candidate.CreatedAt) && t.ID < candidate.ID) {
			candidate = t
		}
	}

	if candidate == nil {
		return nil, nil
	}

	started := now
	candidate.Status = domain.TaskStatusRunning
	candidate.StartedAt = &started
	candidate.Attempts++
	candidate.NextRetryAt = nil

	return cloneTask(candidate), nil
}

// AppendLog добавляет запись TaskLog (append-only).
func (m *MemoryStore) AppendLog(_ context.Context, entry *domain.TaskLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := *entry
	e.ID = m.nextLogID
	m.nextLogID++
	m.logs = append(m.logs, e)
	entry.ID = e.ID
	return nil
}

// ListLogs возвращает записи task (timestamp по убыванию, tie-break по ID).
func (m *MemoryStore) ListLogs(_ context.Context, taskID string, limit int) ([]domain.TaskLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.TaskLog
	for _, e := range m.logs {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountByStatus возвращает количество tasks по статусам.
func (m *MemoryStore) CountByStatus(_ context.Context) (map[domain.TaskStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[domain.TaskStatus]int)
	for _, t := range m.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

// cloneTask копирует task, чтобы вызывающий код не мутировал хранилище.
func cloneTask(t *domain.Task) *domain.Task {
	c := *t

	if t.NextRetryAt != nil {
		v := *t.NextRetryAt
		c.NextRetryAt = &v
	}
	if t.QueuedAt != nil {
		v := *t.QueuedAt
		c.QueuedAt = &v
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	if t.Delivery != nil {
		v := *t.Delivery
		c.Delivery = &v
	}
	if t.Config != nil {
		c.Config = make(map[string]any, len(t.Config))
		for k, v := range t.Config {
			c.Config[k] = v
		}
	}
	if t.CloudLinks != nil {
		c.CloudLinks = make(map[string]string, len(t.CloudLinks))
		for k, v := range t.CloudLinks {
			c.CloudLinks[k] = v
		}
	}
	if t.AttachmentRefs != nil {
		c.AttachmentRefs = append([]string(nil), t.AttachmentRefs...)
	}

	return &c
}
