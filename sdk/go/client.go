package ifcvclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal ifcv HTTP API client for validation workers.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base path, e.g. http://host:8080/v1.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: 10 * time.Second,
	}
}

// Request represents a validation request (partial).
type Request struct {
	ID           string  `json:"id"`
	FileName     string  `json:"file_name"`
	File         string  `json:"file"`
	Size         int64   `json:"size"`
	Status       string  `json:"status"`
	StatusReason *string `json:"status_reason,omitempty"`
	Progress     int     `json:"progress"`
	ModelID      string  `json:"model_id,omitempty"`
	CreatedBy    string  `json:"created_by"`
	UpdatedBy    string  `json:"updated_by,omitempty"`
}

// Task represents a validation task (partial).
type Task struct {
	ID           string  `json:"id"`
	RequestID    string  `json:"request_id"`
	Type         string  `json:"type"`
	Status       string  `json:"status"`
	StatusReason *string `json:"status_reason,omitempty"`
	Progress     int     `json:"progress"`
}

// Outcome is one finding of a task.
type Outcome struct {
	ID             string          `json:"id,omitempty"`
	InstanceID     string          `json:"instance_id,omitempty"`
	Feature        string          `json:"feature,omitempty"`
	FeatureVersion *int            `json:"feature_version,omitempty"`
	Severity       int             `json:"severity"`
	Code           string          `json:"outcome_code"`
	Expected       json.RawMessage `json:"expected,omitempty"`
	Observed       json.RawMessage `json:"observed,omitempty"`
}

// Model carries the per-check statuses keyed by check name.
type Model struct {
	ID       string            `json:"id"`
	FileName string            `json:"file_name"`
	Statuses map[string]string `json:"statuses"`
}

// Event represents a log entry.
type Event struct {
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given error code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// PaginatedRequests wraps list responses with cursors.
type PaginatedRequests struct {
	Items      []Request `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

// CreateRequest submits a file for validation.
func (c *Client) CreateRequest(ctx context.Context, fileName string, size int64) (Request, error) {
	body := map[string]any{
		"file_name": fileName,
		"size":      size,
	}
	var resp Request
	err := c.do(ctx, http.MethodPost, "requests", body, &resp)
	return resp, err
}

// GetRequest fetches a request by public id.
func (c *Client) GetRequest(ctx context.Context, id string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodGet, "requests/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// RequestsPage lists requests with the given status, newest first.
func (c *Client) RequestsPage(ctx context.Context, status string, limit int, cursor string) (PaginatedRequests, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "requests"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedRequests
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SetRequestStatus moves a request to PENDING, INITIATED, COMPLETED or FAILED.
func (c *Client) SetRequestStatus(ctx context.Context, id, status, reason string) (Request, error) {
	body := map[string]any{"status": status, "reason": reason}
	var resp Request
	err := c.do(ctx, http.MethodPost, "requests/"+url.PathEscape(id)+"/status", body, &resp)
	return resp, err
}

func (c *Client) SetRequestProgress(ctx context.Context, id string, progress int) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPut, "requests/"+url.PathEscape(id)+"/progress", map[string]any{"progress": progress}, &resp)
	return resp, err
}

// CreateTask adds a check of the given type to a request.
func (c *Client) CreateTask(ctx context.Context, requestID, taskType string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("requests/%s/tasks", url.PathEscape(requestID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"type": taskType}, &resp)
	return resp, err
}

// SetTaskStatus moves a task to INITIATED, COMPLETED, FAILED, SKIPPED or N/A.
func (c *Client) SetTaskStatus(ctx context.Context, id, status, reason string) (Task, error) {
	body := map[string]any{"status": status, "reason": reason}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(id)+"/status", body, &resp)
	return resp, err
}

func (c *Client) SetTaskProgress(ctx context.Context, id string, progress int) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPut, "tasks/"+url.PathEscape(id)+"/progress", map[string]any{"progress": progress}, &resp)
	return resp, err
}

// RecordOutcomes stores a batch of outcomes; the server keeps all or none.
func (c *Client) RecordOutcomes(ctx context.Context, taskID string, outcomes []Outcome) ([]Outcome, error) {
	var resp struct {
		Items []Outcome `json:"items"`
	}
	endpoint := fmt.Sprintf("tasks/%s/outcomes", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"outcomes": outcomes}, &resp)
	return resp.Items, err
}

// ListOutcomes returns the outcomes of a task.
func (c *Client) ListOutcomes(ctx context.Context, taskID string) ([]Outcome, error) {
	var resp struct {
		Items []Outcome `json:"items"`
	}
	endpoint := fmt.Sprintf("tasks/%s/outcomes", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// ApplyTaskStatus writes the task's aggregate status onto the request's model.
func (c *Client) ApplyTaskStatus(ctx context.Context, taskID string) (Model, error) {
	var resp Model
	endpoint := fmt.Sprintf("tasks/%s/apply", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
