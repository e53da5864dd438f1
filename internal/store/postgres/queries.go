package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ankittk/orchestra/internal/store"
	"github.com/ankittk/orchestra/pkg/models"
)

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return err
}

func expectOne(tag pgconn.CommandTag, what string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}

func (s *Store) CreateProject(ctx context.Context, p models.Project) (models.Project, error) {
	if strings.TrimSpace(p.Name) == "" {
		return models.Project{}, errors.New("project name required")
	}
	if p.ID == "" {
		p.ID = store.RandomID("p-")
	}
	if p.Status == "" {
		p.Status = models.ProjectActive
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := s.Pool.Exec(ctx, `INSERT INTO projects(id, name, description, charter, status, created_at, updated_at) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.Name, p.Description, p.Charter, p.Status, store.ToNanos(now), store.ToNanos(now))
	if err != nil {
		return models.Project{}, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (models.Project, error) {
	p, err := scanProject(s.Pool.QueryRow(ctx, `SELECT id, name, description, charter, status, created_at, updated_at FROM projects WHERE id = $1`, id))
	return p, notFound(err, "project "+id)
}

func (s *Store) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, name, description, charter, status, created_at, updated_at FROM projects ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
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

func (s *Store) UpdateProjectStatus(ctx context.Context, id, status string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE projects SET status=$1, updated_at=$2 WHERE id=$3`, status, store.ToNanos(time.Now()), id)
	if err != nil {
		return err
	}
	return expectOne(tag, "project "+id)
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	tag, err := tx.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if err := expectOne(tag, "project "+id); err != nil {
		return err
	}
	for _, q := range []string{
		`DELETE FROM tasks WHERE project_id = $1`,
		`DELETE FROM agents WHERE project_id = $1`,
		`DELETE FROM worktrees WHERE project_id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

const agentColumns = `id, role, parent_id, project_id, status, model, system_prompt, workspace_path, task_id, template, created_at, updated_at`

func (s *Store) SaveAgent(ctx context.Context, a models.Agent) error {
	if a.ID == "" {
		return errors.New("agent id required")
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	_, err := s.Pool.Exec(ctx, `
INSERT INTO agents(`+agentColumns+`)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT(id) DO UPDATE SET
  status=EXCLUDED.status, model=EXCLUDED.model, system_prompt=EXCLUDED.system_prompt,
  workspace_path=EXCLUDED.workspace_path, task_id=EXCLUDED.task_id, template=EXCLUDED.template,
  updated_at=EXCLUDED.updated_at`,
		a.ID, string(a.Role), a.ParentID, a.ProjectID, string(a.Status), a.Model, a.SystemPrompt, a.WorkspacePath,
		a.TaskID, a.Template, store.ToNanos(a.CreatedAt), store.ToNanos(now))
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (models.Agent, error) {
	a, err := scanAgent(s.Pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	return a, notFound(err, "agent "+id)
}

func (s *Store) ListAgents(ctx context.Context, projectID string) ([]models.Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM agents`
	var args []any
	if projectID != "" {
		q += ` WHERE project_id = $1`
		args = append(args, projectID)
	}
	rows, err := s.Pool.Query(ctx, q+` ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
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

func (s *Store) UpdateAgentStatus(ctx context.Context, id string, status models.AgentStatus) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE agents SET status=$1, updated_at=$2 WHERE id=$3`, string(status), store.ToNanos(time.Now()), id)
	if err != nil {
		return err
	}
	return expectOne(tag, "agent "+id)
}

func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	return err
}

const taskColumns = `id, project_id, title, description, column_name, position, assignee, created_by, labels, created_at, updated_at`

func (s *Store) CreateTask(ctx context.Context, t models.Task) (models.Task, error) {
	if strings.TrimSpace(t.Title) == "" {
		return models.Task{}, errors.New("task title required")
	}
	if t.Column == "" {
		t.Column = models.ColumnBacklog
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	err := s.Pool.QueryRow(ctx, `INSERT INTO tasks(project_id, title, description, column_name, position, assignee, created_by, labels, created_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		t.ProjectID, t.Title, t.Description, string(t.Column), t.Position, t.Assignee, t.CreatedBy, store.EncodeLabels(t.Labels),
		store.ToNanos(now), store.ToNanos(now)).Scan(&t.ID)
	if err != nil {
		return models.Task{}, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, projectID string, id int64) (models.Task, error) {
	t, err := scanTask(s.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id = $1 AND id = $2`, projectID, id))
	return t, notFound(err, fmt.Sprintf("task %d", id))
}

func (s *Store) ListTasks(ctx context.Context, projectID string) ([]models.Task, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id = $1
ORDER BY CASE column_name WHEN 'backlog' THEN 0 WHEN 'in_progress' THEN 1 ELSE 2 END, position, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
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

func (s *Store) UpdateTask(ctx context.Context, t models.Task) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE tasks SET title=$1, description=$2, column_name=$3, position=$4, assignee=$5, labels=$6, updated_at=$7 WHERE project_id=$8 AND id=$9`,
		t.Title, t.Description, string(t.Column), t.Position, t.Assignee, store.EncodeLabels(t.Labels), store.ToNanos(time.Now()), t.ProjectID, t.ID)
	if err != nil {
		return err
	}
	return expectOne(tag, fmt.Sprintf("task %d", t.ID))
}

func (s *Store) DeleteTask(ctx context.Context, projectID string, id int64) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM tasks WHERE project_id = $1 AND id = $2`, projectID, id)
	if err != nil {
		return err
	}
	return expectOne(tag, fmt.Sprintf("task %d", id))
}

const worktreeColumns = `agent_id, project_id, branch, path, base_sha, status, created_at, merged_at`

func (s *Store) SaveWorktree(ctx context.Context, w models.Worktree) error {
	if w.AgentID == "" {
		return errors.New("worktree agent id required")
	}
	var merged *int64
	if w.MergedAt != nil {
		n := store.ToNanos(*w.MergedAt)
		merged = &n
	}
	_, err := s.Pool.Exec(ctx, `
INSERT INTO worktrees(`+worktreeColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT(agent_id) DO UPDATE SET
  branch=EXCLUDED.branch, path=EXCLUDED.path, base_sha=EXCLUDED.base_sha,
  status=EXCLUDED.status, merged_at=EXCLUDED.merged_at`,
		w.AgentID, w.ProjectID, w.Branch, w.Path, w.BaseSHA, string(w.Status), store.ToNanos(w.CreatedAt), merged)
	if err != nil {
		return fmt.Errorf("save worktree %s: %w", w.AgentID, err)
	}
	return nil
}

func (s *Store) GetWorktree(ctx context.Context, agentID string) (models.Worktree, error) {
	w, err := scanWorktree(s.Pool.QueryRow(ctx, `SELECT `+worktreeColumns+` FROM worktrees WHERE agent_id = $1`, agentID))
	return w, notFound(err, "worktree for "+agentID)
}

func (s *Store) ListWorktrees(ctx context.Context, projectID string, status models.WorktreeStatus) ([]models.Worktree, error) {
	q := `SELECT ` + worktreeColumns + ` FROM worktrees WHERE project_id = $1`
	args := []any{projectID}
	if status != "" {
		q += ` AND status = $2`
		args = append(args, string(status))
	}
	rows, err := s.Pool.Query(ctx, q+` ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
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

func (s *Store) AppendMessage(ctx context.Context, m models.Message) error {
	_, err := s.Pool.Exec(ctx, `INSERT INTO messages(id, from_agent, to_agent, type, content, metadata, project_id, conversation_id, correlation_id, created_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		m.ID, m.From, m.To, string(m.Type), m.Content, store.EncodeMetadata(m.Metadata), m.ProjectID, m.ConversationID, m.CorrelationID, store.ToNanos(m.Timestamp))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, f models.MessageFilter) ([]models.Message, error) {
	where, args := store.MessageWhere(f, func(n int) string { return fmt.Sprintf("$%d", n) })
	q := `SELECT seq, id, from_agent, to_agent, type, content, metadata, project_id, conversation_id, correlation_id, created_at FROM messages` + where
	if f.Limit > 0 {
		q = `SELECT * FROM (` + q + fmt.Sprintf(` ORDER BY seq DESC LIMIT %d) recent ORDER BY seq ASC`, f.Limit)
	} else {
		q += ` ORDER BY seq ASC`
	}
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
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
		m.Metadata = store.DecodeMetadata(meta)
		m.Timestamp = store.FromNanos(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanProject(r pgx.Row) (models.Project, error) {
	var p models.Project
	var created, updated int64
	if err := r.Scan(&p.ID, &p.Name, &p.Description, &p.Charter, &p.Status, &created, &updated); err != nil {
		return models.Project{}, err
	}
	p.CreatedAt, p.UpdatedAt = store.FromNanos(created), store.FromNanos(updated)
	return p, nil
}

func scanAgent(r pgx.Row) (models.Agent, error) {
	var a models.Agent
	var role, status string
	var created, updated int64
	if err := r.Scan(&a.ID, &role, &a.ParentID, &a.ProjectID, &status, &a.Model, &a.SystemPrompt, &a.WorkspacePath,
		&a.TaskID, &a.Template, &created, &updated); err != nil {
		return models.Agent{}, err
	}
	a.Role, a.Status = models.Role(role), models.AgentStatus(status)
	a.CreatedAt, a.UpdatedAt = store.FromNanos(created), store.FromNanos(updated)
	return a, nil
}

func scanTask(r pgx.Row) (models.Task, error) {
	var t models.Task
	var column, labels string
	var created, updated int64
	if err := r.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &column, &t.Position, &t.Assignee, &t.CreatedBy,
		&labels, &created, &updated); err != nil {
		return models.Task{}, err
	}
	t.Column = models.Column(column)
	t.Labels = store.DecodeLabels(labels)
	t.CreatedAt, t.UpdatedAt = store.FromNanos(created), store.FromNanos(updated)
	return t, nil
}

func scanWorktree(r pgx.Row) (models.Worktree, error) {
	var w models.Worktree
	var status string
	var created int64
	var merged *int64
	if err := r.Scan(&w.AgentID, &w.ProjectID, &w.Branch, &w.Path, &w.BaseSHA, &status, &created, &merged); err != nil {
		return models.Worktree{}, err
	}
	w.Status = models.WorktreeStatus(status)
	w.CreatedAt = store.FromNanos(created)
	if merged != nil {
		t := store.FromNanos(*merged)
		w.MergedAt = &t
	}
	return w, nil
}
