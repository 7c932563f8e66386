// Package openbobs is a small Go client for the OpenBoBS REST API.
package openbobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Orchestration runs call a generation backend, so it is longer than a
// typical API timeout.
const DefaultHTTPTimeout = 2 * time.Minute

// Client wraps the HTTP interactions with the OpenBoBS REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// Result is the output of a submission, playbook run or replay.
type Result struct {
	Source string `json:"source"`
	Body   string `json:"body"`
}

// Task is an asynchronous submission.
type Task struct {
	ID         string      `json:"id"`
	Text       string      `json:"text"`
	Mode       string      `json:"mode"`
	Status     string      `json:"status"`
	Attempts   int         `json:"attempts"`
	MaxRetries int         `json:"max_retries"`
	LastError  string      `json:"last_error,omitempty"`
	ErrorCode  string      `json:"error_code,omitempty"`
	Result     *TaskResult `json:"result,omitempty"`
	CreatedAt  int64       `json:"created_at"`
	UpdatedAt  int64       `json:"updated_at"`
}

// TaskResult is the stored output of a succeeded task.
type TaskResult struct {
	Source string `json:"source"`
	Body   string `json:"body"`
}

// Done reports whether the task reached a terminal status.
func (t Task) Done() bool {
	return t.Status == "succeeded" || t.Status == "failed"
}

// HistoryEntry is one submitted task, newest first.
type HistoryEntry struct {
	Task string    `json:"task"`
	At   time.Time `json:"at"`
	Mode string    `json:"mode"`
}

// Memory is the self-learning view.
type Memory struct {
	Summary string      `json:"summary"`
	Policy  string      `json:"policy"`
	State   MemoryState `json:"state"`
}

// MemoryState is the persisted self-learning counters.
type MemoryState struct {
	Version       int            `json:"version"`
	Runs          int            `json:"runs"`
	LearnedTopics map[string]int `json:"learnedTopics"`
}

// Agent is a registered agent with its selection flag.
type Agent struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Prompt           string `json:"prompt"`
	EnabledByDefault bool   `json:"enabled_by_default"`
	Selected         bool   `json:"selected"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("openbobs api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("openbobs api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient creates a client for the API rooted at rawURL.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetToken sets the bearer token sent with every request. An empty token
// disables the Authorization header.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Submit runs a task or slash command synchronously.
func (c *Client) Submit(ctx context.Context, text string) (Result, error) {
	var res Result
	err := c.do(ctx, http.MethodPost, "/api/v1/submit", map[string]string{"text": text}, &res)
	return res, err
}

// SubmitAsync queues a task. mode is manual, playbook or replay; empty means manual.
func (c *Client) SubmitAsync(ctx context.Context, text, mode string) (Task, error) {
	var t Task
	err := c.do(ctx, http.MethodPost, "/api/v1/tasks", map[string]string{"text": text, "mode": mode}, &t)
	return t, err
}

// Task fetches an asynchronous task by ID.
func (c *Client) Task(ctx context.Context, id string) (Task, error) {
	var t Task
	err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(id), nil, &t)
	return t, err
}

// WaitTask polls until the task is done or ctx ends.
func (c *Client) WaitTask(ctx context.Context, id string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		t, err := c.Task(ctx, id)
		if err != nil || t.Done() {
			return t, err
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-ticker.C:
		}
	}
}

// History returns the recent task history, newest first.
func (c *Client) History(ctx context.Context) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := c.do(ctx, http.MethodGet, "/api/v1/history", nil, &entries)
	return entries, err
}

// Replay re-runs the history entry at index.
func (c *Client) Replay(ctx context.Context, index int) (Result, error) {
	var res Result
	err := c.do(ctx, http.MethodPost, "/api/v1/history/"+strconv.Itoa(index)+"/replay", nil, &res)
	return res, err
}

// Memory returns the self-learning summary, policy and state.
func (c *Client) Memory(ctx context.Context) (Memory, error) {
	var m Memory
	err := c.do(ctx, http.MethodGet, "/api/v1/memory", nil, &m)
	return m, err
}

// Agents lists the registered agents.
func (c *Client) Agents(ctx context.Context) ([]Agent, error) {
	var agents []Agent
	err := c.do(ctx, http.MethodGet, "/api/v1/agents", nil, &agents)
	return agents, err
}

// RegisterAgent creates a custom agent. New agents start selected.
func (c *Client) RegisterAgent(ctx context.Context, name, role, prompt string) (Agent, error) {
	var a Agent
	err := c.do(ctx, http.MethodPost, "/api/v1/agents", map[string]string{"name": name, "role": role, "prompt": prompt}, &a)
	return a, err
}

// ToggleAgent enables or disables an agent and returns the updated list.
func (c *Client) ToggleAgent(ctx context.Context, id string, enabled bool) ([]Agent, error) {
	var agents []Agent
	err := c.do(ctx, http.MethodPut, "/api/v1/agents/"+url.PathEscape(id), map[string]bool{"enabled": enabled}, &agents)
	return agents, err
}

// RunPlaybook runs a built-in playbook by ID.
func (c *Client) RunPlaybook(ctx context.Context, id string) (Result, error) {
	var res Result
	err := c.do(ctx, http.MethodPost, "/api/v1/playbooks/"+url.PathEscape(id)+"/run", nil, &res)
	return res, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
