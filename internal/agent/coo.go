package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ankittk/orchestra/internal/board"
	"github.com/ankittk/orchestra/internal/bus"
	"github.com/ankittk/orchestra/internal/memory"
	"github.com/ankittk/orchestra/internal/store"
	"github.com/ankittk/orchestra/pkg/models"
)

// COOID is the agent id of the top-level coordinator.
const COOID = "coo"

// COO routes directives to one Team Lead per project, creating leads on first
// use, and relays their final reports to everyone listening.
type COO struct {
	*base

	mu     sync.Mutex
	leads  map[string]*TeamLead
	boards map[string]*board.Board
}

// NewCOO returns a COO bound to ctx. Call Start to begin receiving messages.
func NewCOO(ctx context.Context, deps Deps) *COO {
	deps = deps.normalized()
	c := &COO{
		base: newBase(ctx, deps, models.Agent{
			ID:           COOID,
			Role:         models.RoleCOO,
			SystemPrompt: cooSystemPrompt(),
		}),
		leads:  make(map[string]*TeamLead),
		boards: make(map[string]*board.Board),
	}
	c.tools = c.buildTools()
	return c
}

// Start registers the COO on the bus.
func (c *COO) Start(ctx context.Context) {
	c.persist(ctx)
	c.register(c.HandleMessage)
	c.log.Info().Msg("coo started")
}

// SubmitDirective puts an external directive on the bus for the COO. With a
// project id it is forwarded to that project's Team Lead.
func (c *COO) SubmitDirective(ctx context.Context, projectID, content string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, errors.New("directive content required")
	}
	if projectID != "" {
		if _, err := c.deps.Store.GetProject(ctx, projectID); err != nil {
			return models.Message{}, err
		}
	}
	return c.deps.Bus.Send(ctx, models.Message{
		To:             c.ID(),
		Type:           models.MessageDirective,
		Content:        content,
		ProjectID:      projectID,
		ConversationID: models.ProjectConversationID(projectID),
	})
}

// CreateProject stores a new project and lays out its directories.
func (c *COO) CreateProject(ctx context.Context, req models.CreateProjectRequest) (models.Project, error) {
	if strings.TrimSpace(req.Name) == "" {
		return models.Project{}, errors.New("project name required")
	}
	p, err := c.deps.Store.CreateProject(ctx, models.Project{
		Name:        req.Name,
		Description: req.Description,
		Charter:     req.Charter,
	})
	if err != nil {
		return models.Project{}, err
	}
	if err := memory.EnsureProjectDirs(memory.ProjectDir(c.deps.Home, p.ID)); err != nil {
		return models.Project{}, fmt.Errorf("create project dirs: %w", err)
	}
	c.log.Info().Str("project_id", p.ID).Str("name", p.Name).Msg("project created")
	return p, nil
}

// TeamLead returns the running Team Lead of a project.
func (c *COO) TeamLead(projectID string) (*TeamLead, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.leads[projectID]
	return t, ok
}

// Board returns the project's board. API writes and the Team Lead share it so
// position updates stay serialized.
func (c *COO) Board(projectID string) *board.Board {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boardLocked(projectID)
}

func (c *COO) boardLocked(projectID string) *board.Board {
	bd, ok := c.boards[projectID]
	if !ok {
		bd = board.New(c.deps.Store, projectID)
		c.boards[projectID] = bd
	}
	return bd
}

// lead returns the project's Team Lead, starting one if needed.
func (c *COO) lead(ctx context.Context, projectID string) (*TeamLead, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.leads[projectID]; ok {
		return t, nil
	}
	if c.isDestroyed() {
		return nil, errors.New("coo is shutting down")
	}
	p, err := c.deps.Store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	t := newTeamLead(c.ctx, c.deps, c.ID(), p, c.boardLocked(projectID))
	t.start(ctx)
	c.leads[projectID] = t
	return t, nil
}

// LiveAgents returns the COO, every Team Lead and every live worker.
func (c *COO) LiveAgents() []models.Agent {
	out := []models.Agent{c.Record()}
	for _, t := range c.teamLeads() {
		out = append(out, t.Record())
		out = append(out, t.Workers()...)
	}
	return out
}

// AgentCounts returns the number of live agents per role.
func (c *COO) AgentCounts() map[string]int64 {
	counts := map[string]int64{string(models.RoleCOO): 1}
	for _, t := range c.teamLeads() {
		counts[string(models.RoleTeamLead)]++
		counts[string(models.RoleWorker)] += int64(t.liveCount())
	}
	return counts
}

func (c *COO) teamLeads() []*TeamLead {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*TeamLead, 0, len(c.leads))
	for _, t := range c.leads {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// HandleMessage forwards project directives, thinks on unscoped ones, relays
// Team Lead reports and answers status requests.
func (c *COO) HandleMessage(ctx context.Context, msg models.Message) {
	switch msg.Type {
	case models.MessageDirective:
		if msg.ProjectID != "" {
			if err := c.delegate(ctx, msg.ProjectID, msg.Content); err != nil {
				c.log.Error().Err(err).Str("project_id", msg.ProjectID).Msg("delegate directive failed")
				c.broadcast(ctx, models.MessageChat, msg.ProjectID, fmt.Sprintf("Could not deliver directive to project %s: %v", msg.ProjectID, err), nil)
			}
			return
		}
		c.converse(ctx, "Directive from the user:\n"+msg.Content)
	case models.MessageReport:
		c.relayReport(ctx, msg)
	case models.MessageStatusRequest:
		reply := bus.Reply(msg, c.ID(), c.overview(ctx), map[string]any{"status": string(c.Status())})
		if _, err := c.deps.Bus.Send(context.WithoutCancel(ctx), reply); err != nil {
			c.log.Debug().Err(err).Msg("status reply failed")
		}
	case models.MessageChat:
		c.converse(ctx, msg.Content)
	}
}

// converse thinks and broadcasts the answer, if any.
func (c *COO) converse(ctx context.Context, prompt string) {
	res, err := c.think(ctx, prompt)
	if err != nil {
		c.log.Error().Err(err).Msg("coo turn failed")
		return
	}
	if text := strings.TrimSpace(res.Text); text != "" {
		c.broadcast(ctx, models.MessageChat, "", text, nil)
	}
}

func (c *COO) delegate(ctx context.Context, projectID, content string) error {
	t, err := c.lead(ctx, projectID)
	if err != nil {
		return err
	}
	_, err = c.send(ctx, models.Message{
		To:             t.ID(),
		Type:           models.MessageDirective,
		Content:        content,
		ProjectID:      projectID,
		ConversationID: models.ProjectConversationID(projectID),
	})
	return err
}

func (c *COO) relayReport(ctx context.Context, msg models.Message) {
	projectID := msg.ProjectID
	success := metaBool(msg.Metadata, "success")
	name := projectID
	if p, err := c.deps.Store.GetProject(ctx, projectID); err == nil {
		name = p.Name
		if success && p.Status == models.ProjectActive {
			if err := c.deps.Store.UpdateProjectStatus(ctx, projectID, models.ProjectCompleted); err != nil {
				c.log.Warn().Err(err).Str("project_id", projectID).Msg("mark project completed failed")
			}
		}
	}
	meta := map[string]any{"project_id": projectID, "success": success, "team_lead": msg.From}
	c.broadcast(ctx, models.MessageReport, projectID, fmt.Sprintf("[%s] %s", name, msg.Content), meta)
	c.log.Info().Str("project_id", projectID).Bool("success", success).Msg("report relayed")
}

func (c *COO) broadcast(ctx context.Context, typ models.MessageType, projectID, content string, meta map[string]any) {
	if _, err := c.send(ctx, models.Message{
		Type:           typ,
		Content:        content,
		Metadata:       meta,
		ProjectID:      projectID,
		ConversationID: models.ProjectConversationID(projectID),
	}); err != nil {
		c.log.Warn().Err(err).Msg("broadcast failed")
	}
}

func (c *COO) overview(ctx context.Context) string {
	projects, err := c.deps.Store.ListProjects(ctx)
	if err != nil {
		return "Could not list projects: " + err.Error()
	}
	if len(projects) == 0 {
		return "No projects."
	}
	var b strings.Builder
	for i, p := range projects {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s %q [%s]", p.ID, p.Name, p.Status)
		if t, ok := c.TeamLead(p.ID); ok {
			fmt.Fprintf(&b, " team lead %s, %d live worker(s)", t.Status(), t.liveCount())
		}
	}
	return b.String()
}

// DeleteProject destroys the project's Team Lead and removes its records and
// files. Message history is kept.
func (c *COO) DeleteProject(ctx context.Context, projectID string) error {
	if _, err := c.deps.Store.GetProject(ctx, projectID); err != nil {
		return err
	}
	c.mu.Lock()
	t, ok := c.leads[projectID]
	delete(c.leads, projectID)
	delete(c.boards, projectID)
	c.mu.Unlock()
	if ok {
		if err := t.Destroy(ctx); err != nil {
			c.log.Warn().Err(err).Str("project_id", projectID).Msg("team lead destroy failed")
		}
	}
	if err := c.deps.Store.DeleteProject(ctx, projectID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete project: %w", err)
	}
	if err := memory.RemoveProjectDir(memory.ProjectDir(c.deps.Home, projectID)); err != nil {
		return fmt.Errorf("remove project files: %w", err)
	}
	c.log.Info().Str("project_id", projectID).Msg("project deleted")
	return nil
}

// Destroy tears down every Team Lead, then the COO itself.
func (c *COO) Destroy(ctx context.Context) error {
	if !c.shutdown() {
		return nil
	}
	c.mu.Lock()
	leads := c.leads
	c.leads = make(map[string]*TeamLead)
	c.mu.Unlock()
	var errs []error
	for _, t := range leads {
		if err := t.Destroy(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.setStatus(ctx, models.AgentDone)
	return errors.Join(errs...)
}
