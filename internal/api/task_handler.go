package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/deepagent/internal/domain"
	"github.com/shaiso/deepagent/internal/queue"
)

// Пагинация списка tasks.
const (
	defaultPageSize = 20
	maxPageSize     = 100

	defaultLogLimit = 100
	maxLogLimit     = 500
)

// CreateTask обрабатывает POST /api/v1/tasks.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req TaskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}

	correlationID := uuid.NewString()

	task, err := h.queue.Enqueue(r.Context(), queue.EnqueueParams{
		Type:          req.Type,
		Title:         req.Title,
		Description:   req.Description,
		Config:        req.Config,
		Delivery:      req.Delivery,
		Attachments:   req.Attachments,
		CorrelationID: correlationID,
	})
	if HandleQueueError(w, h.logger, err, "") {
		return
	}

	h.logger.Info("task created",
		"task_id", task.ID,
		"task_type", task.Type,
		"correlation_id", correlationID,
	)

	// Будим воркер: напрямую в single-process режиме, через брокер — иначе.
	if h.waker != nil {
		h.waker.Wake()
	}
	if h.publisher != nil {
		if err := h.publisher.PublishTaskQueued(r.Context(), task.ID); err != nil {
			// Воркер подхватит task по polling.
			h.logger.Warn("failed to publish task.queued", "task_id", task.ID, "error", err)
		}
	}

	Created(w, toTaskResponse(task))
}

// ListTasks обрабатывает GET /api/v1/tasks.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var status *domain.TaskStatus
	if s := q.Get("status"); s != "" {
		candidate := domain.TaskStatus(s)
		if !candidate.Valid() {
			BadRequest(w, "unknown status: "+s)
			return
		}
		status = &candidate
	}

	page := queryInt(q.Get("page"), 1)
	if page < 1 {
		page = 1
	}
	pageSize := queryInt(q.Get("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	tasks, total, err := h.queue.List(r.Context(), status, pageSize, (page-1)*pageSize)
	if HandleQueueError(w, h.logger, err, "") {
		return
	}

	resp := TaskListResponse{
		Tasks:    make([]TaskResponse, 0, len(tasks)),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}
	for i := range tasks {
		resp.Tasks = append(resp.Tasks, toTaskResponse(&tasks[i]))
	}

	Success(w, resp)
}

// GetTask обрабатывает GET /api/v1/tasks/{id}.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	task, err := h.queue.Get(r.Context(), id)
	if HandleQueueError(w, h.logger, err, "Task "+id+" not found") {
		return
	}

	Success(w, toTaskResponse(task))
}

// GetTaskResult обрабатывает GET /api/v1/tasks/{id}/result.
func (h *Handler) GetTaskResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	task, err := h.queue.Get(r.Context(), id)
	if HandleQueueError(w, h.logger, err, "Task "+id+" not found") {
		return
	}

	resp := TaskResultResponse{
		TaskID:      task.ID,
		Status:      task.Status,
		Summary:     task.ResultSummary,
		OutputsPath: task.OutputsPath,
		CloudLinks:  task.CloudLinks,
	}

	if r.URL.Query().Get("include_logs") == "true" {
		logs, err := h.queue.Logs(r.Context(), id, defaultLogLimit)
		if HandleQueueError(w, h.logger, err, "") {
			return
		}
		for i := range logs {
			resp.Logs = append(resp.Logs, toTaskLogResponse(&logs[i]))
		}
	}

	Success(w, resp)
}

// CancelTask обрабатывает DELETE /api/v1/tasks/{id}.
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	task, err := h.queue.Get(r.Context(), id)
	if HandleQueueError(w, h.logger, err, "Task "+id+" not found") {
		return
	}

	if task.Status.IsTerminal() {
		Conflict(w, "Cannot cancel completed task")
		return
	}

	cancelled, err := h.queue.Cancel(r.Context(), id)
	if HandleQueueError(w, h.logger, err, "Task "+id+" not found") {
		return
	}
	if !cancelled {
		Conflict(w, "Failed to cancel task")
		return
	}

	// Живой процесс агента добиваем отдельно: статус уже FAILED.
	if task.Status == domain.TaskStatusRunning || task.Status == domain.TaskStatusProcessing {
		h.stopAgent(r, id)
	}

	h.logger.Info("task cancelled", "task_id", id)
	NoContent(w)
}

// stopAgent останавливает процесс агента: напрямую, если воркер в этом
// процессе, иначе через cancel-событие брокера.
func (h *Handler) stopAgent(r *http.Request, taskID string) {
	if h.runner != nil {
		if h.runner.Cancel(taskID) {
			h.logger.Info("agent process stopped", "task_id", taskID)
		}
		return
	}

	if h.publisher != nil {
		if err := h.publisher.PublishTaskCancel(r.Context(), taskID); err != nil {
			h.logger.Warn("failed to publish task.cancel", "task_id", taskID, "error", err)
		}
	}
}

// GetTaskLogs обрабатывает GET /api/v1/tasks/{id}/logs.
func (h *Handler) GetTaskLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := h.queue.Get(r.Context(), id); HandleQueueError(w, h.logger, err, "Task "+id+" not found") {
		return
	}

	limit := queryInt(r.URL.Query().Get("limit"), defaultLogLimit)
	if limit < 1 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	logs, err := h.queue.Logs(r.Context(), id, limit)
	if HandleQueueError(w, h.logger, err, "") {
		return
	}

	resp := make([]TaskLogResponse, 0, len(logs))
	for i := range logs {
		resp = append(resp, toTaskLogResponse(&logs[i]))
	}

	Success(w, resp)
}

// GetStats обрабатывает GET /api/v1/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if HandleQueueError(w, h.logger, err, "") {
		return
	}

	Success(w, stats)
}

// Health обрабатывает GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Version:  "1.0.0",
		Database: "connected",
	})
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
