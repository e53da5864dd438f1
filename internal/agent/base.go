package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ankittk/orchestra/internal/llm"
	"github.com/ankittk/orchestra/internal/otel"
	"github.com/ankittk/orchestra/internal/tool"
	"github.com/ankittk/orchestra/pkg/models"
)

// maxHistory caps the conversation kept per agent.
const maxHistory = 200

// ThinkResult is the outcome of one think call.
type ThinkResult struct {
	Text              string
	ToolCallsHappened bool
	ToolCalls         int
	// Exhausted is set when the turn hit MaxToolRounds while still calling tools.
	Exhausted bool
}

// base is the envelope shared by every role: identity, status, conversation
// and the think loop.
type base struct {
	deps  Deps
	rec   models.Agent
	tools *tool.Registry
	log   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	status    models.AgentStatus
	history   []llm.Message
	destroyed bool
}

func newBase(parent context.Context, deps Deps, rec models.Agent) *base {
	ctx, cancel := context.WithCancel(parent)
	now := time.Now().UTC()
	rec.Status = models.AgentIdle
	rec.CreatedAt, rec.UpdatedAt = now, now
	if rec.Model == "" {
		rec.Model = deps.Model
	}
	b := &base{
		deps:   deps,
		rec:    rec,
		ctx:    ctx,
		cancel: cancel,
		status: models.AgentIdle,
		log: deps.Log.With().
			Str("agent_id", rec.ID).
			Str("role", string(rec.Role)).
			Str("project_id", rec.ProjectID).
			Logger(),
	}
	return b
}

func (b *base) ID() string            { return b.rec.ID }
func (b *base) Role() models.Role     { return b.rec.Role }
func (b *base) ParentID() string      { return b.rec.ParentID }
func (b *base) ProjectID() string     { return b.rec.ProjectID }
func (b *base) Tools() *tool.Registry { return b.tools }

func (b *base) conversationID() string {
	return models.ProjectConversationID(b.rec.ProjectID)
}

// Status returns the agent's current status.
func (b *base) Status() models.AgentStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *base) isDestroyed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}

// Record returns the agent's current record.
func (b *base) Record() models.Agent {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.rec
	r.Status = b.status
	return r
}

func (b *base) persist(ctx context.Context) {
	if b.deps.Store == nil {
		return
	}
	if err := b.deps.Store.SaveAgent(ctx, b.Record()); err != nil {
		b.log.Warn().Err(err).Msg("save agent failed")
	}
}

func (b *base) setStatus(ctx context.Context, s models.AgentStatus) {
	b.mu.Lock()
	if b.status == s {
		b.mu.Unlock()
		return
	}
	b.status = s
	b.rec.UpdatedAt = time.Now().UTC()
	b.mu.Unlock()
	if b.deps.Store != nil {
		if err := b.deps.Store.UpdateAgentStatus(context.WithoutCancel(ctx), b.rec.ID, s); err != nil {
			b.log.Debug().Err(err).Str("status", string(s)).Msg("update agent status failed")
		}
	}
}

// register installs handle as the agent's bus handler. Messages are handled
// on the agent's own context so Destroy cancels in-flight work.
func (b *base) register(handle func(ctx context.Context, msg models.Message)) {
	b.deps.Bus.Register(b.rec.ID, func(_ context.Context, msg models.Message) {
		if b.ctx.Err() != nil {
			return
		}
		handle(b.ctx, msg)
	})
}

// send stamps the sender, project and conversation and puts msg on the bus.
func (b *base) send(ctx context.Context, msg models.Message) (models.Message, error) {
	msg.From = b.rec.ID
	if msg.ProjectID == "" {
		msg.ProjectID = b.rec.ProjectID
	}
	if msg.ConversationID == "" {
		msg.ConversationID = b.conversationID()
	}
	return b.deps.Bus.Send(context.WithoutCancel(ctx), msg)
}

// seed prepends context to the conversation, e.g. after a restart.
func (b *base) seed(content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, llm.Message{Role: llm.RoleUser, Content: content},
		llm.Message{Role: llm.RoleAssistant, Content: "Understood. I have the previous context."})
}

// shutdown cancels the agent's context and unregisters it. It reports false
// when the agent was already destroyed.
func (b *base) shutdown() bool {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return false
	}
	b.destroyed = true
	b.mu.Unlock()
	b.cancel()
	b.deps.Bus.Unregister(b.rec.ID)
	return true
}

// think runs one model turn: the user message plus as many tool rounds as the
// model asks for, up to MaxToolRounds. Tool errors are fed back as text.
func (b *base) think(ctx context.Context, userMessage string) (ThinkResult, error) {
	var res ThinkResult
	cycle := newDecisionCycle()
	ctx = withCycle(ctx, cycle)
	start := time.Now()
	b.setStatus(ctx, models.AgentThinking)
	defer func() {
		otel.RecordAgentTurn(ctx, string(b.rec.Role), b.rec.ProjectID, time.Since(start))
	}()

	b.appendHistory(llm.Message{Role: llm.RoleUser, Content: userMessage})
	var defs []llm.ToolDefinition
	if b.tools != nil {
		defs = b.tools.Definitions()
	}
	rounds := b.deps.Limits.MaxToolRounds
	for round := 0; ; round++ {
		if round >= rounds {
			res.Exhausted = true
			b.log.Warn().Int("rounds", rounds).Msg("tool round limit reached")
			break
		}
		resp, err := b.deps.Provider.Invoke(ctx, llm.Request{
			SystemPrompt: b.rec.SystemPrompt,
			Messages:     b.snapshotHistory(),
			Tools:        defs,
			Model:        b.rec.Model,
		})
		if err != nil {
			b.setStatus(ctx, models.AgentError)
			return res, fmt.Errorf("llm invoke: %w", err)
		}
		b.appendHistory(llm.Message{Role: llm.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})
		if strings.TrimSpace(resp.Text) != "" {
			res.Text = resp.Text
		}
		if len(resp.ToolCalls) == 0 {
			break
		}
		res.ToolCallsHappened = true
		for _, call := range resp.ToolCalls {
			out := b.dispatch(ctx, cycle, call)
			b.appendHistory(llm.ToolResult(call, out))
		}
		if err := ctx.Err(); err != nil {
			b.setStatus(ctx, models.AgentError)
			return res, err
		}
	}
	res.ToolCalls = cycle.totalCalls()
	b.setStatus(ctx, models.AgentIdle)
	return res, nil
}

func (b *base) dispatch(ctx context.Context, cycle *decisionCycle, call llm.ToolCall) string {
	cycle.record(call.Name)
	if b.tools == nil {
		return "Error: no tools available"
	}
	out, err := b.tools.Execute(ctx, call.Name, call.Arguments)
	otel.RecordToolCall(ctx, call.Name, err == nil)
	if err != nil {
		b.log.Debug().Err(err).Str("tool", call.Name).Msg("tool failed")
		return "Error: " + err.Error()
	}
	b.log.Debug().Str("tool", call.Name).Msg("tool called")
	return out
}

func (b *base) appendHistory(m llm.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, m)
	if len(b.history) <= maxHistory {
		return
	}
	// Cut at a user turn so tool results never lose their call.
	cut := len(b.history) - maxHistory
	for cut < len(b.history) && b.history[cut].Role != llm.RoleUser {
		cut++
	}
	if cut < len(b.history) {
		b.history = append([]llm.Message(nil), b.history[cut:]...)
	}
}

func (b *base) snapshotHistory() []llm.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.Message(nil), b.history...)
}
