package caselinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Caseline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Case represents the API case model (partial).
type Case struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Priority      string  `json:"priority"`
	Status        string  `json:"status"`
	DueDate       *string `json:"due_date,omitempty"`
	CurrentHolder string  `json:"current_holder"`
	PendingAction *string `json:"pending_action,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// Task represents a delegated task (partial).
type Task struct {
	ID       string  `json:"id"`
	CaseID   string  `json:"case_id"`
	Title    string  `json:"title"`
	Status   string  `json:"status"`
	Assignee string  `json:"assignee"`
	Deadline *string `json:"deadline,omitempty"`
}

// Event represents an audit log entry.
type Event struct {
	ID     int64    `json:"id"`
	TS     string   `json:"ts"`
	Type   string   `json:"type"`
	CaseID string   `json:"case_id,omitempty"`
	Actor  string   `json:"actor"`
	Target string   `json:"target,omitempty"`
	Action string   `json:"action,omitempty"`
	Note   string   `json:"note,omitempty"`
	Docs   []string `json:"docs,omitempty"`
}

// Notification represents a role inbox entry.
type Notification struct {
	ID         string `json:"id"`
	CaseID     string `json:"case_id,omitempty"`
	TargetRole string `json:"target_role"`
	Type       string `json:"type"`
	Title      string `json:"title"`
	Subtitle   string `json:"subtitle,omitempty"`
	TS         string `json:"ts"`
	Read       bool   `json:"read"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedCases wraps case listings with a cursor.
type PaginatedCases struct {
	Items      []Case `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// PaginatedEvents wraps event listings with a cursor.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// RegisterCase registers a new case.
func (c *Client) RegisterCase(ctx context.Context, title, priority string) (Case, error) {
	body := map[string]any{"title": title}
	if priority != "" {
		body["priority"] = priority
	}
	var resp Case
	err := c.do(ctx, http.MethodPost, "v0/cases", body, &resp)
	return resp, err
}

// GetCase fetches a case by id.
func (c *Client) GetCase(ctx context.Context, id string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodGet, "v0/cases/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListCases returns a page of cases.
func (c *Client) ListCases(ctx context.Context, status string, limit int, cursor string) (PaginatedCases, error) {
	endpoint := "v0/cases"
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedCases
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ForwardCase moves a case along a transition.
func (c *Client) ForwardCase(ctx context.Context, id, transition, action, notes string) (Case, error) {
	body := map[string]any{"transition": transition}
	if action != "" {
		body["action"] = action
	}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Case
	err := c.do(ctx, http.MethodPost, "v0/cases/"+url.PathEscape(id)+"/forward", body, &resp)
	return resp, err
}

// CloseCase closes a case.
func (c *Client) CloseCase(ctx context.Context, id string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, "v0/cases/"+url.PathEscape(id)+"/close", nil, &resp)
	return resp, err
}

// ListTasks returns the tasks on a case.
func (c *Client) ListTasks(ctx context.Context, caseID string) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "v0/cases/"+url.PathEscape(caseID)+"/tasks", nil, &resp)
	return resp, err
}

// SubmitTask submits task work for review.
func (c *Client) SubmitTask(ctx context.Context, taskID, comment string) (Task, error) {
	body := map[string]any{}
	if comment != "" {
		body["comment"] = comment
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks/"+url.PathEscape(taskID)+"/submit", body, &resp)
	return resp, err
}

// Notifications returns the caller's inbox.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	endpoint := "v0/notifications"
	if unreadOnly {
		endpoint += "?unread=true"
	}
	var resp []Notification
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
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
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
