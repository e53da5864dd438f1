// Package models provides shared types for the orchestra engine, its HTTP API and pkg/client.
package models

import (
	"fmt"
	"time"
)

// Project is a unit of delegated work. It owns one Team Lead and one task board.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Charter     string    `json:"charter,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// ConversationID is the conversation that carries all traffic for a project.
func (p Project) ConversationID() string {
	return ProjectConversationID(p.ID)
}

// ProjectConversationID returns the conversation id used for a project's bus traffic.
func ProjectConversationID(projectID string) string {
	if projectID == "" {
		return ""
	}
	return "project:" + projectID
}

// Agent is a live or persisted agent record.
type Agent struct {
	ID            string      `json:"id"`
	Role          Role        `json:"role"`
	ParentID      string      `json:"parent_id,omitempty"`
	ProjectID     string      `json:"project_id,omitempty"`
	Status        AgentStatus `json:"status"`
	Model         string      `json:"model,omitempty"`
	SystemPrompt  string      `json:"system_prompt,omitempty"`
	WorkspacePath string      `json:"workspace_path,omitempty"`
	TaskID        int64       `json:"task_id,omitempty"`
	Template      string      `json:"template,omitempty"`
	CreatedAt     time.Time   `json:"created_at,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at,omitempty"`
}

// Task is a kanban card scoped to a project.
type Task struct {
	ID          int64     `json:"id"`
	ProjectID   string    `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Column      Column    `json:"column"`
	Position    int       `json:"position"`
	Assignee    string    `json:"assignee,omitempty"`
	CreatedBy   string    `json:"created_by,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// HasLabel reports whether the task carries label l.
func (t Task) HasLabel(l string) bool {
	for _, x := range t.Labels {
		if x == l {
			return true
		}
	}
	return false
}

// Worktree is the record of one worker's isolated branch.
type Worktree struct {
	AgentID   string         `json:"agent_id"`
	ProjectID string         `json:"project_id"`
	Branch    string         `json:"branch"`
	Path      string         `json:"path"`
	BaseSHA   string         `json:"base_sha,omitempty"`
	Status    WorktreeStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
	MergedAt  *time.Time     `json:"merged_at,omitempty"`
}

// Message is an immutable bus envelope. Empty From means external; empty To means broadcast.
type Message struct {
	ID             string         `json:"id"`
	From           string         `json:"from,omitempty"`
	To             string         `json:"to,omitempty"`
	Type           MessageType    `json:"type"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ProjectID      string         `json:"project_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// IsBroadcast reports whether the message has no addressee.
func (m Message) IsBroadcast() bool { return m.To == "" }

// MessageFilter selects messages from history. Zero fields match everything.
type MessageFilter struct {
	ProjectID      string      `json:"project_id,omitempty"`
	AgentID        string      `json:"agent_id,omitempty"` // matches From or To
	ConversationID string      `json:"conversation_id,omitempty"`
	Type           MessageType `json:"type,omitempty"`
	Limit          int         `json:"limit,omitempty"`
}

// Match reports whether m passes the filter (Limit is ignored).
func (f MessageFilter) Match(m Message) bool {
	if f.ProjectID != "" && m.ProjectID != f.ProjectID {
		return false
	}
	if f.AgentID != "" && m.From != f.AgentID && m.To != f.AgentID {
		return false
	}
	if f.ConversationID != "" && m.ConversationID != f.ConversationID {
		return false
	}
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	return true
}

// BoardState is the derived view of a project's board.
type BoardState struct {
	Backlog    int    `json:"backlog"`
	InProgress int    `json:"in_progress"`
	Done       int    `json:"done"`
	Total      int    `json:"total"`
	AllDone    bool   `json:"all_done"`
	Summary    string `json:"summary"`
}

// CountsLine renders the three column counts on one line.
func (s BoardState) CountsLine() string {
	return fmt.Sprintf("backlog=%d in_progress=%d done=%d", s.Backlog, s.InProgress, s.Done)
}

// DirectiveRequest is the body of POST /projects/{id}/directives and POST /directives.
type DirectiveRequest struct {
	Content   string `json:"content"`
	ProjectID string `json:"project_id,omitempty"`
}

// CreateProjectRequest is the body of POST /projects.
type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Charter     string `json:"charter,omitempty"`
}

// CreateTaskRequest is the body of POST /projects/{id}/tasks.
type CreateTaskRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Column      Column   `json:"column,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

// UpdateTaskRequest is the body of PATCH /projects/{id}/tasks/{taskID}. Nil fields are left unchanged.
type UpdateTaskRequest struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Column      *Column   `json:"column,omitempty"`
	Position    *int      `json:"position,omitempty"`
	Assignee    *string   `json:"assignee,omitempty"`
	Labels      *[]string `json:"labels,omitempty"`
}

// ProjectDetail is the body of GET /projects/{id}.
type ProjectDetail struct {
	Project Project    `json:"project"`
	Board   BoardState `json:"board"`
}

// BoardView is the body of GET /projects/{id}/board.
type BoardView struct {
	State BoardState `json:"state"`
	Tasks []Task     `json:"tasks"`
}

// Health is the body of GET /health.
type Health struct {
	OK     bool `json:"ok"`
	Agents int  `json:"agents"`
}
