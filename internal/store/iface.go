// Package store defines the persistence interface for projects, agents, tasks,
// worktree records and bus messages, plus the SQLite implementation.
package store

import (
	"context"
	"errors"

	"github.com/ankittk/orchestra/pkg/models"
)

// ErrNotFound is wrapped by every lookup that misses.
var ErrNotFound = errors.New("not found")

// Store is keyed CRUD over the orchestration state. Implementations must be
// read-after-write consistent within the process.
// Implementations: SQLite (this package) and *postgres.Store.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p models.Project) (models.Project, error)
	GetProject(ctx context.Context, id string) (models.Project, error)
	ListProjects(ctx context.Context) ([]models.Project, error)
	UpdateProjectStatus(ctx context.Context, id, status string) error
	DeleteProject(ctx context.Context, id string) error

	// Agents
	SaveAgent(ctx context.Context, a models.Agent) error
	GetAgent(ctx context.Context, id string) (models.Agent, error)
	ListAgents(ctx context.Context, projectID string) ([]models.Agent, error)
	UpdateAgentStatus(ctx context.Context, id string, status models.AgentStatus) error
	DeleteAgent(ctx context.Context, id string) error

	// Tasks
	CreateTask(ctx context.Context, t models.Task) (models.Task, error)
	GetTask(ctx context.Context, projectID string, id int64) (models.Task, error)
	ListTasks(ctx context.Context, projectID string) ([]models.Task, error)
	UpdateTask(ctx context.Context, t models.Task) error
	DeleteTask(ctx context.Context, projectID string, id int64) error

	// Worktrees
	SaveWorktree(ctx context.Context, w models.Worktree) error
	GetWorktree(ctx context.Context, agentID string) (models.Worktree, error)
	ListWorktrees(ctx context.Context, projectID string, status models.WorktreeStatus) ([]models.Worktree, error)

	// Messages
	AppendMessage(ctx context.Context, m models.Message) error
	ListMessages(ctx context.Context, f models.MessageFilter) ([]models.Message, error)

	Close() error
}
