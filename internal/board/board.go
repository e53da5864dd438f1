// Package board is the kanban task board of one project: CRUD, column moves with
// position ordering, and the derived BoardState used by the continuation engine.
package board

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ankittk/orchestra/internal/store"
	"github.com/ankittk/orchestra/pkg/models"
)

var (
	// ErrInvalidColumn is returned for a column outside backlog, in_progress and done.
	ErrInvalidColumn = errors.New("invalid column")
	// ErrInvalidTask is returned for a task without a title.
	ErrInvalidTask = errors.New("invalid task")
)

// Board serializes writes to one project's tasks.
type Board struct {
	st        store.Store
	projectID string

	mu sync.Mutex
}

// New returns the board of projectID backed by st.
func New(st store.Store, projectID string) *Board {
	return &Board{st: st, projectID: projectID}
}

// ProjectID returns the project the board belongs to.
func (b *Board) ProjectID() string { return b.projectID }

// NewTask describes a task to create. An empty Column means backlog.
type NewTask struct {
	Title       string
	Description string
	Column      models.Column
	Labels      []string
	CreatedBy   string
}

// Create appends a task at the end of its column.
func (b *Board) Create(ctx context.Context, nt NewTask) (models.Task, error) {
	if strings.TrimSpace(nt.Title) == "" {
		return models.Task{}, fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	col := nt.Column
	if col == "" {
		col = models.ColumnBacklog
	}
	if !col.Valid() {
		return models.Task{}, fmt.Errorf("%w: %q", ErrInvalidColumn, col)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	tasks, err := b.st.ListTasks(ctx, b.projectID)
	if err != nil {
		return models.Task{}, fmt.Errorf("list tasks: %w", err)
	}
	return b.st.CreateTask(ctx, models.Task{
		ProjectID:   b.projectID,
		Title:       strings.TrimSpace(nt.Title),
		Description: nt.Description,
		Column:      col,
		Position:    nextPosition(tasks, col),
		CreatedBy:   nt.CreatedBy,
		Labels:      nt.Labels,
	})
}

// Get returns one task; misses wrap store.ErrNotFound.
func (b *Board) Get(ctx context.Context, id int64) (models.Task, error) {
	return b.st.GetTask(ctx, b.projectID, id)
}

// List returns tasks in column order then position. An empty column lists all.
func (b *Board) List(ctx context.Context, column models.Column) ([]models.Task, error) {
	tasks, err := b.st.ListTasks(ctx, b.projectID)
	if err != nil {
		return nil, err
	}
	if column == "" {
		sortTasks(tasks)
		return tasks, nil
	}
	out := tasks[:0]
	for _, t := range tasks {
		if t.Column == column {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out, nil
}

// Update applies the non-nil fields of patch. A column change goes through the
// same placement rules as Move.
func (b *Board) Update(ctx context.Context, id int64, patch models.UpdateTaskRequest) (models.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.st.GetTask(ctx, b.projectID, id)
	if err != nil {
		return models.Task{}, err
	}
	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return models.Task{}, fmt.Errorf("%w: title cannot be empty", ErrInvalidTask)
		}
		t.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Assignee != nil {
		t.Assignee = *patch.Assignee
	}
	if patch.Labels != nil {
		t.Labels = *patch.Labels
	}
	if patch.Column != nil || patch.Position != nil {
		col := t.Column
		if patch.Column != nil {
			col = *patch.Column
		}
		pos := 0
		if patch.Position != nil {
			pos = *patch.Position
		}
		return b.placeLocked(ctx, t, col, pos)
	}
	if err := b.st.UpdateTask(ctx, t); err != nil {
		return models.Task{}, err
	}
	return t, nil
}

// Move puts a task into column at position. position <= 0 appends. An occupied
// position shifts the tasks at and after it down by one.
func (b *Board) Move(ctx context.Context, id int64, column models.Column, position int) (models.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.st.GetTask(ctx, b.projectID, id)
	if err != nil {
		return models.Task{}, err
	}
	return b.placeLocked(ctx, t, column, position)
}

// Assign sets the assignee and moves the task to in_progress.
func (b *Board) Assign(ctx context.Context, id int64, agentID string) (models.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.st.GetTask(ctx, b.projectID, id)
	if err != nil {
		return models.Task{}, err
	}
	t.Assignee = agentID
	if t.Column == models.ColumnInProgress {
		if err := b.st.UpdateTask(ctx, t); err != nil {
			return models.Task{}, err
		}
		return t, nil
	}
	return b.placeLocked(ctx, t, models.ColumnInProgress, 0)
}

// Complete moves a task to done. The assignee is kept for history.
func (b *Board) Complete(ctx context.Context, id int64) (models.Task, error) {
	return b.Move(ctx, id, models.ColumnDone, 0)
}

// Requeue returns a task to the end of the backlog and clears its assignee.
func (b *Board) Requeue(ctx context.Context, id int64) (models.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.st.GetTask(ctx, b.projectID, id)
	if err != nil {
		return models.Task{}, err
	}
	t.Assignee = ""
	return b.placeLocked(ctx, t, models.ColumnBacklog, 0)
}

// Delete removes a task.
func (b *Board) Delete(ctx context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.DeleteTask(ctx, b.projectID, id)
}

// State returns column counts, a readable summary and AllDone.
func (b *Board) State(ctx context.Context) (models.BoardState, error) {
	tasks, err := b.List(ctx, "")
	if err != nil {
		return models.BoardState{}, err
	}
	return Summarize(tasks), nil
}

// Summarize derives a BoardState from a task list.
func Summarize(tasks []models.Task) models.BoardState {
	var s models.BoardState
	var lines []string
	for _, t := range tasks {
		switch t.Column {
		case models.ColumnBacklog:
			s.Backlog++
		case models.ColumnInProgress:
			s.InProgress++
		case models.ColumnDone:
			s.Done++
		}
		line := fmt.Sprintf("  #%d [%s] %s", t.ID, t.Column, t.Title)
		if t.Assignee != "" {
			line += " (assignee: " + t.Assignee + ")"
		}
		lines = append(lines, line)
	}
	s.Total = s.Backlog + s.InProgress + s.Done
	s.AllDone = AllDone(s.Backlog, s.InProgress, s.Done)
	var sb strings.Builder
	sb.WriteString(s.CountsLine())
	if s.AllDone {
		sb.WriteString(" (all done)")
	}
	if len(lines) == 0 {
		sb.WriteString("\n  (no tasks)")
	} else {
		sb.WriteString("\n")
		sb.WriteString(strings.Join(lines, "\n"))
	}
	s.Summary = sb.String()
	return s
}

// AllDone is true iff nothing is queued or running and at least one task is done.
func AllDone(backlog, inProgress, done int) bool {
	return backlog == 0 && inProgress == 0 && done >= 1
}

func (b *Board) placeLocked(ctx context.Context, t models.Task, column models.Column, position int) (models.Task, error) {
	if !column.Valid() {
		return models.Task{}, fmt.Errorf("%w: %q", ErrInvalidColumn, column)
	}
	tasks, err := b.st.ListTasks(ctx, b.projectID)
	if err != nil {
		return models.Task{}, fmt.Errorf("list tasks: %w", err)
	}
	var peers []models.Task
	for _, o := range tasks {
		if o.Column == column && o.ID != t.ID {
			peers = append(peers, o)
		}
	}
	if position <= 0 {
		position = nextPosition(peers, column)
	} else {
		sortTasks(peers)
		occupied := false
		for _, o := range peers {
			if o.Position == position {
				occupied = true
				break
			}
		}
		if occupied {
			// Shift from the bottom so positions stay unique at every step.
			for i := len(peers) - 1; i >= 0; i-- {
				o := peers[i]
				if o.Position < position {
					continue
				}
				o.Position++
				if err := b.st.UpdateTask(ctx, o); err != nil {
					return models.Task{}, fmt.Errorf("shift task %d: %w", o.ID, err)
				}
			}
		}
	}
	t.Column = column
	t.Position = position
	if err := b.st.UpdateTask(ctx, t); err != nil {
		return models.Task{}, err
	}
	return t, nil
}

func nextPosition(tasks []models.Task, column models.Column) int {
	maxPos := 0
	for _, t := range tasks {
		if t.Column == column && t.Position > maxPos {
			maxPos = t.Position
		}
	}
	return maxPos + 1
}

var columnOrder = map[models.Column]int{
	models.ColumnBacklog:    0,
	models.ColumnInProgress: 1,
	models.ColumnDone:       2,
}

func sortTasks(tasks []models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Column != tasks[j].Column {
			return columnOrder[tasks[i].Column] < columnOrder[tasks[j].Column]
		}
		if tasks[i].Position != tasks[j].Position {
			return tasks[i].Position < tasks[j].Position
		}
		return tasks[i].ID < tasks[j].ID
	})
}
