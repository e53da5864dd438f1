// Package client provides a Go SDK for the orchestra HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ankittk/orchestra/pkg/models"
)

// Client calls the orchestra HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://127.0.0.1:3549"
	APIKey     string       // optional; sent as X-API-Key
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL. APIKey is optional.
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %s %s: %s", e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf("api %s %s: status %d", e.Method, e.Path, e.Code)
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Message: errBody.Error}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health returns the /health response.
func (c *Client) Health(ctx context.Context) (models.Health, error) {
	var out models.Health
	err := c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// ListProjects returns all projects.
func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	var out []models.Project
	err := c.doJSON(ctx, http.MethodGet, "/projects", nil, &out)
	return out, err
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, req models.CreateProjectRequest) (models.Project, error) {
	var out models.Project
	err := c.doJSON(ctx, http.MethodPost, "/projects", req, &out)
	return out, err
}

// GetProject returns a project with its board counts.
func (c *Client) GetProject(ctx context.Context, id string) (models.ProjectDetail, error) {
	var out models.ProjectDetail
	err := c.doJSON(ctx, http.MethodGet, "/projects/"+url.PathEscape(id), nil, &out)
	return out, err
}

// DeleteProject tears down a project's agents and removes it.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/projects/"+url.PathEscape(id), nil, nil)
}

// SubmitDirective sends a directive to the COO. An empty projectID leaves
// routing to the COO.
func (c *Client) SubmitDirective(ctx context.Context, projectID, content string) (models.Message, error) {
	var out models.Message
	path := "/directives"
	body := models.DirectiveRequest{Content: content, ProjectID: projectID}
	if projectID != "" {
		path = "/projects/" + url.PathEscape(projectID) + "/directives"
		body.ProjectID = ""
	}
	err := c.doJSON(ctx, http.MethodPost, path, body, &out)
	return out, err
}

// Board returns the project's board counts and tasks.
func (c *Client) Board(ctx context.Context, projectID string) (models.BoardView, error) {
	var out models.BoardView
	err := c.doJSON(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/board", nil, &out)
	return out, err
}

// ListTasks returns the project's tasks, optionally limited to one column.
func (c *Client) ListTasks(ctx context.Context, projectID string, column models.Column) ([]models.Task, error) {
	path := "/projects/" + url.PathEscape(projectID) + "/tasks"
	if column != "" {
		path += "?column=" + url.QueryEscape(string(column))
	}
	var out []models.Task
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// CreateTask adds a task to the project's board.
func (c *Client) CreateTask(ctx context.Context, projectID string, req models.CreateTaskRequest) (models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/tasks", req, &out)
	return out, err
}

// UpdateTask applies a partial update.
func (c *Client) UpdateTask(ctx context.Context, projectID string, id int64, patch models.UpdateTaskRequest) (models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPatch, taskPath(projectID, id), patch, &out)
	return out, err
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, projectID string, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, taskPath(projectID, id), nil, nil)
}

// ListWorktrees returns worktree records; an empty status returns all.
func (c *Client) ListWorktrees(ctx context.Context, projectID string, status models.WorktreeStatus) ([]models.Worktree, error) {
	path := "/projects/" + url.PathEscape(projectID) + "/worktrees"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var out []models.Worktree
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ListProjectAgents returns the persisted agent records of a project.
func (c *Client) ListProjectAgents(ctx context.Context, projectID string) ([]models.Agent, error) {
	var out []models.Agent
	err := c.doJSON(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/agents", nil, &out)
	return out, err
}

// LiveAgents returns every agent currently running in the daemon.
func (c *Client) LiveAgents(ctx context.Context) ([]models.Agent, error) {
	var out []models.Agent
	err := c.doJSON(ctx, http.MethodGet, "/agents", nil, &out)
	return out, err
}

// Messages returns bus history matching f, oldest first.
func (c *Client) Messages(ctx context.Context, f models.MessageFilter) ([]models.Message, error) {
	q := url.Values{}
	if f.ProjectID != "" {
		q.Set("project_id", f.ProjectID)
	}
	if f.AgentID != "" {
		q.Set("agent_id", f.AgentID)
	}
	if f.ConversationID != "" {
		q.Set("conversation_id", f.ConversationID)
	}
	if f.Type != "" {
		q.Set("type", string(f.Type))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	path := "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []models.Message
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func taskPath(projectID string, id int64) string {
	return "/projects/" + url.PathEscape(projectID) + "/tasks/" + strconv.FormatInt(id, 10)
}
