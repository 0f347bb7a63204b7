package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/deepagent/internal/domain"
	"github.com/shaiso/deepagent/internal/queue"
)

const taskColumns = `id, type, title, description, config, delivery, attachment_refs,
	status, attempts, max_attempts, last_error, next_retry_at,
	created_at, queued_at, started_at, completed_at,
	outputs_path, result_summary, cloud_links, correlation_id`

// Store — Postgres-реализация queue.Store поверх pgxpool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore создаёт Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InsertTask сохраняет новый task.
func (s *Store) InsertTask(ctx context.Context, task *domain.Task) error {
	configJSON, err := json.Marshal(task.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	deliveryJSON, err := marshalNullable(task.Delivery)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}
	refsJSON, err := json.Marshal(task.AttachmentRefs)
	if err != nil {
		return fmt.Errorf("marshal attachment_refs: %w", err)
	}

	query := `
		INSERT INTO tasks (id, type, title, description, config, delivery, attachment_refs,
			status, attempts, max_attempts, created_at, queued_at, outputs_path, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.pool.Exec(ctx, query,
		task.ID,
		task.Type,
		task.Title,
		task.Description,
		configJSON,
		deliveryJSON,
		refsJSON,
		task.Status,
		task.Attempts,
		task.MaxAttempts,
		task.CreatedAt,
		task.QueuedAt,
		task.OutputsPath,
		task.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask возвращает task по ID.
func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	return scanTask(s.pool.QueryRow(ctx, query, id))
}

// ListTasks возвращает страницу tasks (created_at по убыванию) и total.
func (s *Store) ListTasks(ctx context.Context, status *domain.TaskStatus, limit, offset int) ([]domain.Task, int, error) {
	where := ""
	args := []any{}
	if status != nil {
		where = "WHERE status = $1"
		args = append(args, *status)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM tasks ` + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM tasks %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, taskColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, total, rows.Err()
}

// UpdateTask применяет patch. Предикат ExpectStatus проверяется в том же
// UPDATE, так что конкурентная смена статуса не может проскочить.
func (s *Store) UpdateTask(ctx context.Context, id string, patch queue.TaskPatch) (*domain.Task, error) {
	sets := []string{}
	args := []any{id}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.LastError != nil {
		add("last_error", *patch.LastError)
	}
	if patch.NextRetryAt != nil {
		add("next_retry_at", *patch.NextRetryAt)
	}
	if patch.ClearNextRetryAt {
		sets = append(sets, "next_retry_at = NULL")
	}
	if patch.CompletedAt != nil {
		add("completed_at", *patch.CompletedAt)
	}
	if patch.ResultSummary != nil {
		add("result_summary", *patch.ResultSummary)
	}
	if patch.CloudLinks != nil {
		linksJSON, err := json.Marshal(patch.CloudLinks)
		if err != nil {
			return nil, fmt.Errorf("marshal cloud_links: %w", err)
		}
		add("cloud_links", linksJSON)
	}

	if len(sets) == 0 {
		return s.GetTask(ctx, id)
	}

	where := "id = $1"
	if len(patch.ExpectStatus) > 0 {
		expected := make([]string, len(patch.ExpectStatus))
		for i, st := range patch.ExpectStatus {
			expected[i] = string(st)
		}
		args = append(args, expected)
		where += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}

	query := fmt.Sprintf(`
		UPDATE tasks SET %s
		WHERE %s
		RETURNING %s
	`, strings.Join(sets, ", "), where, taskColumns)

	task, err := scanTask(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, queue.ErrNotFound) && len(patch.ExpectStatus) > 0 {
		// Различаем отсутствие записи и несовпадение статуса.
		var exists bool
		checkErr := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, id).Scan(&exists)
		if checkErr != nil {
			return nil, fmt.Errorf("check task exists: %w", checkErr)
		}
		if exists {
			return nil, queue.ErrInvalidState
		}
		return nil, queue.ErrNotFound
	}
	return task, err
}

// ClaimOne атомарно забирает следующий доступный task и переводит его в RUNNING.
//
// FOR UPDATE SKIP LOCKED гарантирует, что конкурентные воркеры не получат
// одну и ту же запись. Возвращает nil, если доступных tasks нет.
func (s *Store) ClaimOne(ctx context.Context, now time.Time) (*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = 'running',
		    started_at = $1,
		    attempts = attempts + 1,
		    next_retry_at = NULL
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = 'queued'
			   OR (status = 'retry' AND next_retry_at IS NOT NULL AND next_retry_at <= $1)
			ORDER BY created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns

	task, err := scanTask(s.pool.QueryRow(ctx, query, now))
	if errors.Is(err, queue.ErrNotFound) {
		return nil, nil
	}
	return task, err
}

// AppendLog добавляет запись TaskLog.
func (s *Store) AppendLog(ctx context.Context, entry *domain.TaskLog) error {
	dataJSON, err := marshalNullable(entry.Data)
	if err != nil {
		return fmt.Errorf("marshal log data: %w", err)
	}

	query := `
		INSERT INTO task_logs (task_id, level, event, message, data, timestamp, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err = s.pool.QueryRow(ctx, query,
		entry.TaskID,
		entry.Level,
		entry.Event,
		entry.Message,
		dataJSON,
		entry.Timestamp,
		entry.CorrelationID,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert task log: %w", err)
	}
	return nil
}

// ListLogs возвращает последние записи task (timestamp по убыванию).
func (s *Store) ListLogs(ctx context.Context, taskID string, limit int) ([]domain.TaskLog, error) {
	query := `
		SELECT id, task_id, level, event, message, data, timestamp, correlation_id
		FROM task_logs
		WHERE task_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list task logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.TaskLog
	for rows.Next() {
		var entry domain.TaskLog
		var dataJSON []byte
		err := rows.Scan(
			&entry.ID,
			&entry.TaskID,
			&entry.Level,
			&entry.Event,
			&entry.Message,
			&dataJSON,
			&entry.Timestamp,
			&entry.CorrelationID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan task log: %w", err)
		}
		if dataJSON != nil {
			if err := json.Unmarshal(dataJSON, &entry.Data); err != nil {
				return nil, fmt.Errorf("unmarshal log data: %w", err)
			}
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

// CountByStatus возвращает количество tasks по статусам.
func (s *Store) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var status domain.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// --- Helpers ---

// scanTask читает строку tasks. pgx.Rows удовлетворяет pgx.Row,
// поэтому helper общий для QueryRow и Query.
func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	var configJSON, deliveryJSON, refsJSON, linksJSON []byte
	var lastError *string

	err := row.Scan(
		&task.ID,
		&task.Type,
		&task.Title,
		&task.Description,
		&configJSON,
		&deliveryJSON,
		&refsJSON,
		&task.Status,
		&task.Attempts,
		&task.MaxAttempts,
		&lastError,
		&task.NextRetryAt,
		&task.CreatedAt,
		&task.QueuedAt,
		&task.StartedAt,
		&task.CompletedAt,
		&task.OutputsPath,
		&task.ResultSummary,
		&linksJSON,
		&task.CorrelationID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if configJSON != nil {
		if err := json.Unmarshal(configJSON, &task.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	if deliveryJSON != nil {
		if err := json.Unmarshal(deliveryJSON, &task.Delivery); err != nil {
			return nil, fmt.Errorf("unmarshal delivery: %w", err)
		}
	}
	if refsJSON != nil {
		if err := json.Unmarshal(refsJSON, &task.AttachmentRefs); err != nil {
			return nil, fmt.Errorf("unmarshal attachment_refs: %w", err)
		}
	}
	if linksJSON != nil {
		if err := json.Unmarshal(linksJSON, &task.CloudLinks); err != nil {
			return nil, fmt.Errorf("unmarshal cloud_links: %w", err)
		}
	}
	if lastError != nil {
		task.LastError = *lastError
	}

	return &task, nil
}

// marshalNullable сериализует значение в JSON, nil остаётся NULL.
func marshalNullable(v any) ([]byte, error) {
	switch val := v.(type) {
	case *domain.Delivery:
		if val == nil {
			return nil, nil
		}
	case map[string]any:
		if val == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
