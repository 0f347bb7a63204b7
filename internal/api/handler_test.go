package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shaiso/deepagent/internal/domain"
	"github.com/shaiso/deepagent/internal/queue"
)

type recordingCanceller struct {
	cancelled []string
}

func (c *recordingCanceller) Cancel(taskID string) bool {
	c.cancelled = append(c.cancelled, taskID)
	return true
}

func newTestAPI(t *testing.T) (*http.ServeMux, *queue.Queue, *recordingCanceller) {
	t.Helper()

	q := queue.New(queue.Config{
		Store:       queue.NewMemoryStore(),
		OutputsRoot: t.TempDir(),
	})
	canceller := &recordingCanceller{}

	h := NewHandler(Config{
		Queue:  q,
		Runner: canceller,
	})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux, q, canceller
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
	}
	if err := json.Unmarshal(envelope.Data, dst); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) ErrorCode {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v (%s)", err, rec.Body.String())
	}
	return resp.Error.Code
}

func createTask(t *testing.T, mux *http.ServeMux) TaskResponse {
	t.Helper()
	rec := doJSON(t, mux, http.MethodPost, "/api/v1/tasks", TaskCreateRequest{
		Type:        "research",
		Title:       "API test",
		Description: "d",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create task: status %d: %s", rec.Code, rec.Body.String())
	}
	var task TaskResponse
	decodeData(t, rec, &task)
	return task
}

func TestCreateTask(t *testing.T) {
	mux, _, _ := newTestAPI(t)

	task := createTask(t, mux)
	if task.Status != domain.TaskStatusQueued {
		t.Errorf("status = %s, want queued", task.Status)
	}
	if task.ID == "" || task.CorrelationID == "" {
		t.Errorf("id and correlation_id must be set: %+v", task)
	}
	if task.MaxAttempts != queue.DefaultMaxAttempts {
		t.Errorf("max_attempts = %d", task.MaxAttempts)
	}
}

func TestCreateTask_ValidationErrors(t *testing.T) {
	mux, _, _ := newTestAPI(t)

	cases := []struct {
		name string
		req  TaskCreateRequest
		code ErrorCode
	}{
		{"unknown type", TaskCreateRequest{Type: "poetry", Title: "t", Description: "d"}, ErrCodeValidation},
		{"empty title", TaskCreateRequest{Type: "research", Title: "", Description: "d"}, ErrCodeValidation},
		{"bad attachment", TaskCreateRequest{Type: "research", Title: "t", Description: "d",
			Attachments: []string{"virus.exe"}}, ErrCodeUnsupportedFileType},
		{"bad storage", TaskCreateRequest{Type: "research", Title: "t", Description: "d",
			Delivery: &domain.Delivery{Storage: "ftp"}}, ErrCodeValidation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, mux, http.MethodPost, "/api/v1/tasks", tc.req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
			if got := errorCode(t, rec); got != tc.code {
				t.Errorf("code = %s, want %s", got, tc.code)
			}
		})
	}
}

func TestCreateTask_MalformedBody(t *testing.T) {
	mux, _, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetTask(t *testing.T) {
	mux, _, _ := newTestAPI(t)
	created := createTask(t, mux)

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/tasks/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var task TaskResponse
	decodeData(t, rec, &task)
	if task.ID != created.ID || task.Title != "API test" {
		t.Errorf("unexpected task: %+v", task)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	mux, _, _ := newTestAPI(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/tasks/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := errorCode(t, rec); got != ErrCodeTaskNotFound {
		t.Errorf("code = %s", got)
	}
}

func TestListTasks(t *testing.T) {
	mux, q, _ := newTestAPI(t)

	for i := 0; i < 3; i++ {
		createTask(t, mux)
	}
	if _, err := q.Dequeue(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/tasks?status=queued&page=1&page_size=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var list TaskListResponse
	decodeData(t, rec, &list)
	if list.Total != 2 {
		t.Errorf("total = %d, want 2", list.Total)
	}
	if len(list.Tasks) != 2 || list.Page != 1 || list.PageSize != 2 {
		t.Errorf("unexpected page: %+v", list)
	}

	// Неизвестный статус — 400.
	rec = doJSON(t, mux, http.MethodGet, "/api/v1/tasks?status=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status filter validation: status = %d", rec.Code)
	}
}

func TestGetTaskResult_WithLogs(t *testing.T) {
	mux, q, _ := newTestAPI(t)
	created := createTask(t, mux)

	if _, err := q.Dequeue(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := q.MarkCompleted(context.Background(), created.ID, "Summary text",
		map[string]string{"google_drive": "https://drive.google.com/x"}); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/tasks/"+created.ID+"/result?include_logs=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var result TaskResultResponse
	decodeData(t, rec, &result)
	if result.Status != domain.TaskStatusCompleted || result.Summary != "Summary text" {
		t.Errorf("result = %+v", result)
	}
	if result.CloudLinks["google_drive"] == "" {
		t.Error("cloud links missing")
	}
	if len(result.Logs) == 0 {
		t.Error("logs requested but missing")
	}
}

func TestCancelTask(t *testing.T) {
	mux, q, _ := newTestAPI(t)
	created := createTask(t, mux)

	rec := doJSON(t, mux, http.MethodDelete, "/api/v1/tasks/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	task, err := q.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != domain.TaskStatusFailed || task.LastError != "Cancelled by user" {
		t.Errorf("task = %s / %q", task.Status, task.LastError)
	}

	// Повторная отмена — 409.
	rec = doJSON(t, mux, http.MethodDelete, "/api/v1/tasks/"+created.ID, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("second cancel: status = %d", rec.Code)
	}
	if got := errorCode(t, rec); got != ErrCodeAlreadyCompleted {
		t.Errorf("code = %s", got)
	}

	// Неизвестный task — 404.
	rec = doJSON(t, mux, http.MethodDelete, "/api/v1/tasks/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing task: status = %d", rec.Code)
	}
}

func TestCancelTask_RunningStopsAgent(t *testing.T) {
	mux, q, canceller := newTestAPI(t)
	created := createTask(t, mux)

	if _, err := q.Dequeue(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, mux, http.MethodDelete, "/api/v1/tasks/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}

	if len(canceller.cancelled) != 1 || canceller.cancelled[0] != created.ID {
		t.Errorf("agent process not stopped: %v", canceller.cancelled)
	}
}

func TestGetTaskLogs(t *testing.T) {
	mux, _, _ := newTestAPI(t)
	created := createTask(t, mux)

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/tasks/"+created.ID+"/logs?limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var logs []TaskLogResponse
	decodeData(t, rec, &logs)
	if len(logs) != 1 || logs[0].Event != domain.EventTaskQueued {
		t.Errorf("logs = %+v", logs)
	}
}

func TestGetStats(t *testing.T) {
	mux, _, _ := newTestAPI(t)
	createTask(t, mux)

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var stats map[string]int
	decodeData(t, rec, &stats)
	if stats["queued"] != 1 {
		t.Errorf("queued = %d", stats["queued"])
	}
	if len(stats) != len(domain.AllStatuses) {
		t.Errorf("stats must be zero-filled: %v", stats)
	}
}

func TestHealth(t *testing.T) {
	mux, _, _ := newTestAPI(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" {
		t.Errorf("health = %+v", health)
	}
}
