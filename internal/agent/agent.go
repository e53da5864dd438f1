// Package agent runs the three agent roles: the COO routes directives to one
// Team Lead per project, and each Team Lead drives its board with disposable
// Workers that execute tasks in isolated worktrees.
package agent

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ankittk/orchestra/internal/bus"
	"github.com/ankittk/orchestra/internal/llm"
	"github.com/ankittk/orchestra/internal/registry"
	"github.com/ankittk/orchestra/internal/store"
	"github.com/ankittk/orchestra/internal/tool"
	"github.com/ankittk/orchestra/pkg/models"
)

// Agent is implemented by *COO, *TeamLead and *Worker only.
type Agent interface {
	ID() string
	Role() models.Role
	ParentID() string
	ProjectID() string
	Status() models.AgentStatus
	HandleMessage(ctx context.Context, msg models.Message)
	Tools() *tool.Registry
	Destroy(ctx context.Context) error
}

var (
	_ Agent = (*COO)(nil)
	_ Agent = (*TeamLead)(nil)
	_ Agent = (*Worker)(nil)
)

// Limits bound the work agents may do.
type Limits struct {
	MaxWorkers            int
	MaxContinuationCycles int
	MaxToolRounds         int
	StatusTimeout         time.Duration
	CommandTimeout        time.Duration
	TaskTimeout           time.Duration
}

// DefaultLimits returns the limits used when a field is zero.
func DefaultLimits() Limits {
	return Limits{
		MaxWorkers:            models.DefaultMaxWorkers,
		MaxContinuationCycles: models.DefaultMaxContinuationCycles,
		MaxToolRounds:         models.DefaultMaxToolRounds,
		StatusTimeout:         10 * time.Second,
		CommandTimeout:        5 * time.Minute,
		TaskTimeout:           30 * time.Minute,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxWorkers <= 0 {
		l.MaxWorkers = d.MaxWorkers
	}
	if l.MaxContinuationCycles <= 0 {
		l.MaxContinuationCycles = d.MaxContinuationCycles
	}
	if l.MaxToolRounds <= 0 {
		l.MaxToolRounds = d.MaxToolRounds
	}
	if l.StatusTimeout <= 0 {
		l.StatusTimeout = d.StatusTimeout
	}
	if l.CommandTimeout <= 0 {
		l.CommandTimeout = d.CommandTimeout
	}
	if l.TaskTimeout <= 0 {
		l.TaskTimeout = d.TaskTimeout
	}
	return l
}

// Deps are the collaborators every agent shares.
type Deps struct {
	Bus      *bus.Bus
	Store    store.Store
	Provider llm.Provider
	Registry *registry.Registry
	Home     string
	Model    string
	Limits   Limits

	// MergeTestCmd runs in a worktree before its branch is merged.
	MergeTestCmd string
	// Sandbox wraps worker commands with bubblewrap when available.
	Sandbox bool

	Log zerolog.Logger
}

func (d Deps) normalized() Deps {
	d.Limits = d.Limits.withDefaults()
	if d.Registry == nil {
		d.Registry = registry.New()
	}
	return d
}
