package bus

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ankittk/orchestra/pkg/models"
)

// mailbox is an unbounded FIFO queue drained by one goroutine, so a sender
// never waits on the receiver and a receiver sees its messages in send order.
type mailbox struct {
	agentID string
	handler Handler

	mu     sync.Mutex
	queue  []models.Message
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newMailbox(agentID string, h Handler) *mailbox {
	return &mailbox{
		agentID: agentID,
		handler: h,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (m *mailbox) push(msg models.Message) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *mailbox) stop() {
	m.once.Do(func() { close(m.done) })
}

func (m *mailbox) run(ctx context.Context, log zerolog.Logger) {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.signal:
				continue
			case <-m.done:
				return
			case <-ctx.Done():
				return
			}
		}
		msg := m.queue[0]
		m.queue[0] = models.Message{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case <-m.done:
			return
		default:
		}
		safeCall(ctx, log, "agent "+m.agentID, m.handler, msg)
	}
}

func safeCall(ctx context.Context, log zerolog.Logger, who string, h Handler, msg models.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("handler", who).Str("message_id", msg.ID).Interface("panic", r).Msg("message handler panicked")
		}
	}()
	h(ctx, msg)
}
