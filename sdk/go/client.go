package planlinesdk

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

// Client is a minimal Planline HTTP API client.
type Client struct {
	BaseURL     string
	UserID      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, userID string) *Client {
	return &Client{
		BaseURL: baseURL,
		UserID:  userID,
		Timeout: 10 * time.Second,
	}
}

// EnergyBlock represents the API block model (partial).
type EnergyBlock struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	RequiredEnergy string `json:"required_energy"`
	PrimaryContext string `json:"primary_context"`
	IsActive       bool   `json:"is_active"`
}

// Task represents the API task model (partial).
type Task struct {
	ID                string  `json:"id"`
	UserID            string  `json:"user_id"`
	Title             string  `json:"title"`
	Priority          string  `json:"priority"`
	Status            string  `json:"status"`
	DueDate           *string `json:"due_date"`
	EstimatedDuration int     `json:"estimated_duration"`
	RequiredContext   string  `json:"required_context"`
	RequiredEnergy    *string `json:"required_energy"`
}

// ScheduledTask represents a task bound to a block on a date.
type ScheduledTask struct {
	ID                string  `json:"id"`
	UserID            string  `json:"user_id"`
	TaskID            *string `json:"task_id"`
	EnergyBlockID     string  `json:"energy_block_id"`
	ScheduledDate     string  `json:"scheduled_date"`
	Status            string  `json:"status"`
	Compatibility     string  `json:"compatibility"`
	EstimatedDuration int     `json:"estimated_duration"`
	ActualDuration    *int    `json:"actual_duration"`
	EstimateAccuracy  *string `json:"estimate_accuracy"`
}

// PlanIssue explains why a task was not placed.
type PlanIssue struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// PlanResult is the outcome of a planning run.
type PlanResult struct {
	Scheduled []ScheduledTask `json:"scheduled"`
	Unplaced  []PlanIssue     `json:"unplaced"`
	Skipped   []PlanIssue     `json:"skipped"`
}

// EnergyAnalytics is a per-block daily rollup.
type EnergyAnalytics struct {
	ID                string  `json:"id"`
	UserID            string  `json:"user_id"`
	EnergyBlockID     string  `json:"energy_block_id"`
	Date              string  `json:"date"`
	PlannedEnergy     string  `json:"planned_energy"`
	ActualEnergy      *string `json:"actual_energy"`
	TasksPlanned      int     `json:"tasks_planned"`
	TasksCompleted    int     `json:"tasks_completed"`
	EnergyScore       float64 `json:"energy_score"`
	ProductivityScore float64 `json:"productivity_score"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	UserID     string         `json:"user_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateBlock registers an energy block.
func (c *Client) CreateBlock(ctx context.Context, body map[string]any) (EnergyBlock, error) {
	if _, ok := body["user_id"]; !ok {
		body["user_id"] = c.UserID
	}
	var resp EnergyBlock
	err := c.do(ctx, http.MethodPost, "v0/blocks", body, &resp)
	return resp, err
}

// ListBlocks returns the user's energy blocks.
func (c *Client) ListBlocks(ctx context.Context, activeOnly bool) ([]EnergyBlock, error) {
	endpoint := fmt.Sprintf("v0/blocks?user_id=%s", url.QueryEscape(c.UserID))
	if activeOnly {
		endpoint += "&active_only=true"
	}
	var resp []EnergyBlock
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateTask adds a task to the pool.
func (c *Client) CreateTask(ctx context.Context, title string, estimatedMinutes int, extra map[string]any) (Task, error) {
	body := map[string]any{
		"user_id":            c.UserID,
		"title":              title,
		"estimated_duration": estimatedMinutes,
	}
	for k, v := range extra {
		body[k] = v
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// ListTasks returns tasks, optionally filtered by status.
func (c *Client) ListTasks(ctx context.Context, status string) ([]Task, error) {
	endpoint := fmt.Sprintf("v0/tasks?user_id=%s", url.QueryEscape(c.UserID))
	if status != "" {
		endpoint += "&status=" + url.QueryEscape(status)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// PlanRun schedules tasks over a date range (YYYY-MM-DD, inclusive).
func (c *Client) PlanRun(ctx context.Context, from, to string) (PlanResult, error) {
	body := map[string]any{
		"user_id": c.UserID,
		"from":    from,
		"to":      to,
	}
	var resp PlanResult
	err := c.do(ctx, http.MethodPost, "v0/plan/run", body, &resp)
	return resp, err
}

// ListScheduled returns scheduled tasks for a date range.
func (c *Client) ListScheduled(ctx context.Context, from, to string) ([]ScheduledTask, error) {
	endpoint := fmt.Sprintf("v0/sched?user_id=%s", url.QueryEscape(c.UserID))
	if from != "" {
		endpoint += "&from=" + url.QueryEscape(from)
	}
	if to != "" {
		endpoint += "&to=" + url.QueryEscape(to)
	}
	var resp []ScheduledTask
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// StartScheduled marks a scheduled task in progress.
func (c *Client) StartScheduled(ctx context.Context, schedID string) (ScheduledTask, error) {
	var resp ScheduledTask
	endpoint := fmt.Sprintf("v0/sched/%s/start", url.PathEscape(schedID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// CompleteScheduled completes a scheduled task. A nil actual duration lets
// the server derive it from the start timestamp.
func (c *Client) CompleteScheduled(ctx context.Context, schedID string, actualMinutes *int) (ScheduledTask, error) {
	body := map[string]any{}
	if actualMinutes != nil {
		body["actual_duration"] = *actualMinutes
	}
	var resp ScheduledTask
	endpoint := fmt.Sprintf("v0/sched/%s/complete", url.PathEscape(schedID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CancelScheduled cancels a scheduled task.
func (c *Client) CancelScheduled(ctx context.Context, schedID string) (ScheduledTask, error) {
	var resp ScheduledTask
	endpoint := fmt.Sprintf("v0/sched/%s/cancel", url.PathEscape(schedID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// RescheduleScheduled moves a scheduled task to a later slot and returns
// the successor record.
func (c *Client) RescheduleScheduled(ctx context.Context, schedID, reason string) (ScheduledTask, error) {
	var resp ScheduledTask
	endpoint := fmt.Sprintf("v0/sched/%s/reschedule", url.PathEscape(schedID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"reason": reason}, &resp)
	return resp, err
}

// RecomputeAnalytics rebuilds the rollups for one day.
func (c *Client) RecomputeAnalytics(ctx context.Context, date string) ([]EnergyAnalytics, error) {
	body := map[string]any{
		"user_id": c.UserID,
		"date":    date,
	}
	var resp []EnergyAnalytics
	err := c.do(ctx, http.MethodPost, "v0/analytics/recompute", body, &resp)
	return resp, err
}

// ListAnalytics returns rollups for a date range.
func (c *Client) ListAnalytics(ctx context.Context, from, to string) ([]EnergyAnalytics, error) {
	endpoint := fmt.Sprintf("v0/analytics?user_id=%s", url.QueryEscape(c.UserID))
	if from != "" {
		endpoint += "&from=" + url.QueryEscape(from)
	}
	if to != "" {
		endpoint += "&to=" + url.QueryEscape(to)
	}
	var resp []EnergyAnalytics
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("v0/events?user_id=%s", url.QueryEscape(c.UserID))
	if limit > 0 {
		endpoint += fmt.Sprintf("&limit=%d", limit)
	}
	var resp []Event
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	} else if c.UserID != "" {
		req.Header.Set("X-User-Id", c.UserID)
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
