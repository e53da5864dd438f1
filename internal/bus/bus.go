// Package bus is the in-process message bus connecting agents: addressed FIFO
// delivery, broadcast fan-out, observers, request/reply with timeout, and history.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ankittk/orchestra/internal/otel"
	"github.com/ankittk/orchestra/pkg/models"
)

// NoResponse is how a timed-out request is rendered for agents.
const NoResponse = "no response (may be busy)"

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("bus closed")

// Handler receives a message. Broadcast and observer handlers run on the
// sender's goroutine and must return quickly.
type Handler func(ctx context.Context, msg models.Message)

// Subscription identifies a broadcast or observer registration.
type Subscription uint64

// Bus routes messages between agents. It is safe for concurrent use.
type Bus struct {
	history History
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	mailboxes map[string]*mailbox
	broadcast map[Subscription]Handler
	observers map[Subscription]Handler
	pending   map[string]chan models.Message
	nextSub   Subscription
	closed    bool
}

// New returns a bus persisting to history (an in-memory log when nil).
func New(history History, log zerolog.Logger) *Bus {
	if history == nil {
		history = NewMemoryHistory()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		history:   history,
		log:       log.With().Str("component", "bus").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		mailboxes: make(map[string]*mailbox),
		broadcast: make(map[Subscription]Handler),
		observers: make(map[Subscription]Handler),
		pending:   make(map[string]chan models.Message),
	}
}

// Register installs the handler for agentID and starts its delivery goroutine.
// Registering an id twice replaces the previous handler.
func (b *Bus) Register(agentID string, h Handler) {
	mb := newMailbox(agentID, h)
	b.mu.Lock()
	if old, ok := b.mailboxes[agentID]; ok {
		old.stop()
	}
	b.mailboxes[agentID] = mb
	b.mu.Unlock()
	go mb.run(b.ctx, b.log)
}

// Unregister stops delivery to agentID. Queued messages are dropped.
func (b *Bus) Unregister(agentID string) {
	b.mu.Lock()
	mb, ok := b.mailboxes[agentID]
	delete(b.mailboxes, agentID)
	b.mu.Unlock()
	if ok {
		mb.stop()
		if n := mb.pending(); n > 0 {
			b.log.Debug().Str("agent_id", agentID).Int("dropped", n).Msg("unregistered with queued messages")
		}
	}
}

// Registered reports whether agentID currently has a handler.
func (b *Bus) Registered(agentID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.mailboxes[agentID]
	return ok
}

// OnBroadcast subscribes h to messages with no addressee.
func (b *Bus) OnBroadcast(h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	b.broadcast[b.nextSub] = h
	return b.nextSub
}

// OffBroadcast removes a broadcast subscription.
func (b *Bus) OffBroadcast(s Subscription) {
	b.mu.Lock()
	delete(b.broadcast, s)
	b.mu.Unlock()
}

// Observe subscribes h to every message, addressed or not. Observers must not
// send on the bus from inside the callback.
func (b *Bus) Observe(h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	b.observers[b.nextSub] = h
	return b.nextSub
}

// Unobserve removes an observer.
func (b *Bus) Unobserve(s Subscription) {
	b.mu.Lock()
	delete(b.observers, s)
	b.mu.Unlock()
}

// Send records msg in history and delivers it. Addressed messages are queued on
// the target's mailbox; broadcasts go to every broadcast subscriber. Every
// message is also shown to observers. Send never waits for a handler to finish.
func (b *Bus) Send(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.Type == "" {
		return models.Message{}, errors.New("message type required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return models.Message{}, ErrClosed
	}

	if err := b.history.AppendMessage(ctx, msg); err != nil {
		b.log.Warn().Err(err).Str("message_id", msg.ID).Msg("persist message failed")
	}
	otel.RecordBusMessage(ctx, string(msg.Type), msg.IsBroadcast())

	if msg.Type == models.MessageStatusResponse && msg.CorrelationID != "" {
		b.resolve(msg)
	}

	b.mu.RLock()
	var targets []Handler
	var mb *mailbox
	if msg.To != "" {
		mb = b.mailboxes[msg.To]
	} else {
		targets = make([]Handler, 0, len(b.broadcast))
		for _, h := range b.broadcast {
			targets = append(targets, h)
		}
	}
	observers := make([]Handler, 0, len(b.observers))
	for _, h := range b.observers {
		observers = append(observers, h)
	}
	b.mu.RUnlock()

	if msg.To != "" {
		if mb != nil {
			mb.push(msg)
		} else {
			b.log.Debug().Str("to", msg.To).Str("type", string(msg.Type)).Msg("no handler registered; message kept in history only")
		}
	}
	for _, h := range targets {
		safeCall(b.ctx, b.log, "broadcast", h, msg)
	}
	for _, h := range observers {
		safeCall(b.ctx, b.log, "observer", h, msg)
	}
	return msg, nil
}

func (b *Bus) resolve(msg models.Message) {
	b.mu.Lock()
	ch, ok := b.pending[msg.CorrelationID]
	if ok {
		delete(b.pending, msg.CorrelationID)
	}
	b.mu.Unlock()
	if ok {
		ch <- msg
	}
}

// Request sends msg with a fresh correlation id and waits for the first
// status_response carrying it. ok is false when timeout elapses or ctx ends
// first; that is an expected outcome meaning the target is busy or gone.
func (b *Bus) Request(ctx context.Context, msg models.Message, timeout time.Duration) (reply models.Message, ok bool) {
	if msg.Type == "" {
		msg.Type = models.MessageStatusRequest
	}
	msg.CorrelationID = uuid.NewString()
	ch := make(chan models.Message, 1)

	b.mu.Lock()
	b.pending[msg.CorrelationID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, msg.CorrelationID)
		b.mu.Unlock()
	}()

	if _, err := b.Send(ctx, msg); err != nil {
		b.log.Warn().Err(err).Str("to", msg.To).Msg("request send failed")
		return models.Message{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r, true
	case <-timer.C:
		otel.RecordRequestTimeout(ctx, msg.To)
		b.log.Debug().Str("to", msg.To).Dur("timeout", timeout).Msg("request timed out")
		return models.Message{}, false
	case <-ctx.Done():
		return models.Message{}, false
	}
}

// Reply builds the status_response for req, addressed back to its sender.
func Reply(req models.Message, from, content string, metadata map[string]any) models.Message {
	return models.Message{
		From:           from,
		To:             req.From,
		Type:           models.MessageStatusResponse,
		Content:        content,
		Metadata:       metadata,
		ProjectID:      req.ProjectID,
		ConversationID: req.ConversationID,
		CorrelationID:  req.CorrelationID,
	}
}

// History returns stored messages matching f, oldest first.
func (b *Bus) History(ctx context.Context, f models.MessageFilter) ([]models.Message, error) {
	msgs, err := b.history.ListMessages(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("bus history: %w", err)
	}
	return msgs, nil
}

// ConversationMessages returns one conversation in order.
func (b *Bus) ConversationMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id required")
	}
	return b.History(ctx, models.MessageFilter{ConversationID: conversationID})
}

// Close stops every mailbox and rejects further sends.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, mb := range b.mailboxes {
		mb.stop()
		delete(b.mailboxes, id)
	}
	b.mu.Unlock()
	b.cancel()
}
