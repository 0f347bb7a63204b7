package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// TaskResponse — task из API.
type TaskResponse struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	MaxAttempts   int    `json:"max_attempts"`
	LastError     string `json:"last_error,omitempty"`
	NextRetryAt   string `json:"next_retry_at,omitempty"`
	CreatedAt     string `json:"created_at"`
	QueuedAt      string `json:"queued_at,omitempty"`
	StartedAt     string `json:"started_at,omitempty"`
	CompletedAt   string `json:"completed_at,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// TaskListResponse — страница tasks из API.
type TaskListResponse struct {
	Tasks    []TaskResponse `json:"tasks"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// TaskResultResponse — результат task из API.
type TaskResultResponse struct {
	TaskID      string            `json:"task_id"`
	Status      string            `json:"status"`
	Summary     string            `json:"summary,omitempty"`
	OutputsPath string            `json:"outputs_path,omitempty"`
	CloudLinks  map[string]string `json:"cloud_links,omitempty"`
	Logs        []TaskLogResponse `json:"logs,omitempty"`
}

// TaskLogResponse — запись журнала task из API.
type TaskLogResponse struct {
	ID        int64  `json:"id"`
	TaskID    string `json:"task_id"`
	Level     string `json:"level"`
	Event     string `json:"event"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// --- Request types ---

// Delivery — параметры доставки результатов.
type Delivery struct {
	Email   string `json:"email,omitempty"`
	Storage string `json:"storage,omitempty"`
	Folder  string `json:"folder,omitempty"`
}

// SubmitTaskRequest — создание task.
type SubmitTaskRequest struct {
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Config      map[string]any `json:"config,omitempty"`
	Delivery    *Delivery      `json:"delivery,omitempty"`
	Attachments []string       `json:"attachments,omitempty"`
}

// ListTasksOpts — параметры фильтрации списка tasks.
type ListTasksOpts struct {
	Status   string
	Page     int
	PageSize int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для DeepAgent API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SubmitTask создаёт новый task.
func (c *Client) SubmitTask(req SubmitTaskRequest) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post("/api/v1/tasks", req, &task)
	return &task, err
}

// ListTasks возвращает страницу tasks с фильтрацией.
func (c *Client) ListTasks(opts ListTasksOpts) (*TaskListResponse, error) {
	params := url.Values{}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Page > 0 {
		params.Set("page", fmt.Sprintf("%d", opts.Page))
	}
	if opts.PageSize > 0 {
		params.Set("page_size", fmt.Sprintf("%d", opts.PageSize))
	}

	path := "/api/v1/tasks"
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	var list TaskListResponse
	err := c.get(path, &list)
	return &list, err
}

// GetTask возвращает task по ID.
func (c *Client) GetTask(id string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.get("/api/v1/tasks/"+id, &task)
	return &task, err
}

// GetTaskResult возвращает результат task.
func (c *Client) GetTaskResult(id string, includeLogs bool) (*TaskResultResponse, error) {
	path := "/api/v1/tasks/" + id + "/result"
	if includeLogs {
		path += "?include_logs=true"
	}

	var result TaskResultResponse
	err := c.get(path, &result)
	return &result, err
}

// CancelTask отменяет task.
func (c *Client) CancelTask(id string) error {
	return c.delete("/api/v1/tasks/" + id)
}

// GetTaskLogs возвращает журнал task.
func (c *Client) GetTaskLogs(id string, limit int) ([]TaskLogResponse, error) {
	path := "/api/v1/tasks/" + id + "/logs"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}

	var logs []TaskLogResponse
	err := c.get(path, &logs)
	return logs, err
}

// GetStats возвращает количество tasks по статусам.
func (c *Client) GetStats() (map[string]int, error) {
	var stats map[string]int
	err := c.get("/api/v1/stats", &stats)
	return stats, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
