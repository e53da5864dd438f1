package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ankittk/orchestra/pkg/models"
)

// Projects

func (s *sqliteStore) CreateProject(ctx context.Context, p models.Project) (models.Project, error) {
	if strings.TrimSpace(p.Name) == "" {
		return models.Project{}, errors.New("project name required")
	}
	if p.ID == "" {
		p.ID = RandomID("p-")
	}
	if p.Status == "" {
		p.Status = models.ProjectActive
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := s.DB.ExecContext(ctx, `INSERT INTO projects(id, name, description, charter, status, created_at, updated_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.Charter, p.Status, ToNanos(now), ToNanos(now))
	if err != nil {
		return models.Project{}, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

func (s *sqliteStore) GetProject(ctx context.Context, id string) (models.Project, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id, name, description, charter, status, created_at, updated_at FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Project{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return p, err
}

func (s *sqliteStore) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, name, description, charter, status, created_at, updated_at FROM projects ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []models.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateProjectStatus(ctx context.Context, id, status string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE projects SET status=?, updated_at=? WHERE id=?`, status, ToNanos(time.Now()), id)
	if err != nil {
		return err
	}
	return expectOne(res, "project "+id)
}

// DeleteProject removes the project and its tasks, agents and worktree records.
// Message history is kept.
func (s *sqliteStore) DeleteProject(ctx context.Context, id string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := expectOne(res, "project "+id); err != nil {
		return err
	}
	for _, q := range []string{
		`DELETE FROM tasks WHERE project_id = ?`,
		`DELETE FROM agents WHERE project_id = ?`,
		`DELETE FROM worktrees WHERE project_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Agents

func (s *sqliteStore) SaveAgent(ctx context.Context, a models.Agent) error {
	if a.ID == "" {
		return errors.New("agent id required")
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO agents(id, role, parent_id, project_id, status, model, system_prompt, workspace_path, task_id, template, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status=excluded.status, model=excluded.model, system_prompt=excluded.system_prompt,
  workspace_path=excluded.workspace_path, task_id=excluded.task_id, template=excluded.template,
  updated_at=excluded.updated_at`,
		a.ID, string(a.Role), a.ParentID, a.ProjectID, string(a.Status), a.Model, a.SystemPrompt, a.WorkspacePath,
		a.TaskID, a.Template, ToNanos(a.CreatedAt), ToNanos(now))
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	return nil
}

const agentColumns = `id, role, parent_id, project_id, status, model, system_prompt, workspace_path, task_id, template, created_at, updated_at`

func (s *sqliteStore) GetAgent(ctx context.Context, id string) (models.Agent, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Agent{}, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return a, err
}

// ListAgents returns agents for a project; an empty projectID lists every agent.
func (s *sqliteStore) ListAgents(ctx context.Context, projectID string) ([]models.Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM agents`
	var args []any
	if projectID != "" {
		q += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	rows, err := s.DB.QueryContext(ctx, q+` ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []models.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateAgentStatus(ctx context.Context, id string, status models.AgentStatus) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE agents SET status=?, updated_at=? WHERE id=?`, string(status), ToNanos(time.Now()), id)
	if err != nil {
		return err
	}
	return expectOne(res, "agent "+id)
}

func (s *sqliteStore) DeleteAgent(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	return err
}

// Tasks

func (s *sqliteStore) CreateTask(ctx context.Context, t models.Task) (models.Task, error) {
	if strings.TrimSpace(t.Title) == "" {
		return models.Task{}, errors.New("task title required")
	}
	if t.Column == "" {
		t.Column = models.ColumnBacklog
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	res, err := s.DB.ExecContext(ctx, `INSERT INTO tasks(project_id, title, description, column_name, position, assignee, created_by, labels, created_at, updated_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ProjectID, t.Title, t.Description, string(t.Column), t.Position, t.Assignee, t.CreatedBy, EncodeLabels(t.Labels), ToNanos(now), ToNanos(now))
	if err != nil {
		return models.Task{}, fmt.Errorf("create task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Task{}, err
	}
	t.ID = id
	return t, nil
}

func (s *sqliteStore) GetTask(ctx context.Context, projectID string, id int64) (models.Task, error) {
	t, err := scanTask(s.stmtGetTask.QueryRowContext(ctx, projectID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return t, err
}

// ListTasks returns a project's tasks ordered by column then position.
func (s *sqliteStore) ListTasks(ctx context.Context, projectID string) ([]models.Task, error) {
	rows, err := s.stmtListTasks.QueryContext(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateTask(ctx context.Context, t models.Task) error {
	res, err := s.stmtUpdateTask.ExecContext(ctx, t.Title, t.Description, string(t.Column), t.Position, t.Assignee,
		EncodeLabels(t.Labels), ToNanos(time.Now()), t.ProjectID, t.ID)
	if err != nil {
		return err
	}
	return expectOne(res, fmt.Sprintf("task %d", t.ID))
}

func (s *sqliteStore) DeleteTask(ctx context.Context, projectID string, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM tasks WHERE project_id = ? AND id = ?`, projectID, id)
	if err != nil {
		return err
	}
	return expectOne(res, fmt.Sprintf("task %d", id))
}

// Worktrees

func (s *sqliteStore) SaveWorktree(ctx context.Context, w models.Worktree) error {
	if w.AgentID == "" {
		return errors.New("worktree agent id required")
	}
	var merged any
	if w.MergedAt != nil {
		merged = ToNanos(*w.MergedAt)
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO worktrees(agent_id, project_id, branch, path, base_sha, status, created_at, merged_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(agent_id) DO UPDATE SET
  branch=excluded.branch, path=excluded.path, base_sha=excluded.base_sha,
  status=excluded.status, merged_at=excluded.merged_at`,
		w.AgentID, w.ProjectID, w.Branch, w.Path, w.BaseSHA, string(w.Status), ToNanos(w.CreatedAt), merged)
	if err != nil {
		return fmt.Errorf("save worktree %s: %w", w.AgentID, err)
	}
	return nil
}

func (s *sqliteStore) GetWorktree(ctx context.Context, agentID string) (models.Worktree, error) {
	w, err := scanWorktree(s.stmtGetWorktree.QueryRowContext(ctx, agentID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Worktree{}, fmt.Errorf("worktree for %s: %w", agentID, ErrNotFound)
	}
	return w, err
}

// ListWorktrees returns a project's worktree records in creation order; empty status matches all.
func (s *sqliteStore) ListWorktrees(ctx context.Context, projectID string, status models.WorktreeStatus) ([]models.Worktree, error) {
	q := `SELECT agent_id, project_id, branch, path, base_sha, status, created_at, merged_at FROM worktrees WHERE project_id = ?`
	args := []any{projectID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	rows, err := s.DB.QueryContext(ctx, q+` ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []models.Worktree{}
	for rows.Next() {
		w, err := scanWorktree(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Messages

func (s *sqliteStore) AppendMessage(ctx context.Context, m models.Message) error {
	_, err := s.stmtAppendMessage.ExecContext(ctx, m.ID, m.From, m.To, string(m.Type), m.Content, EncodeMetadata(m.Metadata),
		m.ProjectID, m.ConversationID, m.CorrelationID, ToNanos(m.Timestamp))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListMessages returns matching messages oldest first. With a limit, the most recent
// limit messages are returned (still oldest first).
func (s *sqliteStore) ListMessages(ctx context.Context, f models.MessageFilter) ([]models.Message, error) {
	where, args := messageWhere(f, func(int) string { return "?" })
	q := `SELECT seq, id, from_agent, to_agent, type, content, metadata, project_id, conversation_id, correlation_id, created_at FROM messages` + where
	if f.Limit > 0 {
		q = `SELECT * FROM (` + q + ` ORDER BY seq DESC LIMIT ` + fmt.Sprint(f.Limit) + `) ORDER BY seq ASC`
	} else {
		q += ` ORDER BY seq ASC`
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []models.Message{}
	for rows.Next() {
		var (
			seq       int64
			m         models.Message
			typ, meta string
			createdAt int64
		)
		if err := rows.Scan(&seq, &m.ID, &m.From, &m.To, &typ, &m.Content, &meta, &m.ProjectID, &m.ConversationID, &m.CorrelationID, &createdAt); err != nil {
			return nil, err
		}
		m.Type = models.MessageType(typ)
		m.Metadata = DecodeMetadata(meta)
		m.Timestamp = FromNanos(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// messageWhere builds a WHERE clause for f; ph renders the n-th placeholder (1-based).
func messageWhere(f models.MessageFilter, ph func(n int) string) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.ReplaceAll(cond, "$", ph(len(args))))
	}
	if f.ProjectID != "" {
		add("project_id = $", f.ProjectID)
	}
	if f.ConversationID != "" {
		add("conversation_id = $", f.ConversationID)
	}
	if f.Type != "" {
		add("type = $", string(f.Type))
	}
	if f.AgentID != "" {
		args = append(args, f.AgentID)
		p1 := ph(len(args))
		args = append(args, f.AgentID)
		p2 := ph(len(args))
		conds = append(conds, "(from_agent = "+p1+" OR to_agent = "+p2+")")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// MessageWhere exposes the filter builder to other SQL backends.
func MessageWhere(f models.MessageFilter, ph func(n int) string) (string, []any) {
	return messageWhere(f, ph)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(r rowScanner) (models.Project, error) {
	var p models.Project
	var created, updated int64
	if err := r.Scan(&p.ID, &p.Name, &p.Description, &p.Charter, &p.Status, &created, &updated); err != nil {
		return models.Project{}, err
	}
	p.CreatedAt, p.UpdatedAt = FromNanos(created), FromNanos(updated)
	return p, nil
}

func scanAgent(r rowScanner) (models.Agent, error) {
	var a models.Agent
	var role, status string
	var created, updated int64
	if err := r.Scan(&a.ID, &role, &a.ParentID, &a.ProjectID, &status, &a.Model, &a.SystemPrompt, &a.WorkspacePath,
		&a.TaskID, &a.Template, &created, &updated); err != nil {
		return models.Agent{}, err
	}
	a.Role, a.Status = models.Role(role), models.AgentStatus(status)
	a.CreatedAt, a.UpdatedAt = FromNanos(created), FromNanos(updated)
	return a, nil
}

func scanTask(r rowScanner) (models.Task, error) {
	var t models.Task
	var column, labels string
	var created, updated int64
	if err := r.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &column, &t.Position, &t.Assignee, &t.CreatedBy,
		&labels, &created, &updated); err != nil {
		return models.Task{}, err
	}
	t.Column = models.Column(column)
	t.Labels = DecodeLabels(labels)
	t.CreatedAt, t.UpdatedAt = FromNanos(created), FromNanos(updated)
	return t, nil
}

func scanWorktree(r rowScanner) (models.Worktree, error) {
	var w models.Worktree
	var status string
	var created int64
	var merged sql.NullInt64
	if err := r.Scan(&w.AgentID, &w.ProjectID, &w.Branch, &w.Path, &w.BaseSHA, &status, &created, &merged); err != nil {
		return models.Worktree{}, err
	}
	w.Status = models.WorktreeStatus(status)
	w.CreatedAt = FromNanos(created)
	if merged.Valid {
		t := FromNanos(merged.Int64)
		w.MergedAt = &t
	}
	return w, nil
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
