package bus

import (
	"context"
	"sync"

	"github.com/ankittk/orchestra/pkg/models"
)

// History is the durable message log behind the bus. store.Store satisfies it.
type History interface {
	AppendMessage(ctx context.Context, m models.Message) error
	ListMessages(ctx context.Context, f models.MessageFilter) ([]models.Message, error)
}

// MemoryHistory is an in-process History, used when no store is configured and in tests.
type MemoryHistory struct {
	mu   sync.RWMutex
	msgs []models.Message
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (h *MemoryHistory) AppendMessage(_ context.Context, m models.Message) error {
	h.mu.Lock()
	h.msgs = append(h.msgs, m)
	h.mu.Unlock()
	return nil
}

func (h *MemoryHistory) ListMessages(_ context.Context, f models.MessageFilter) ([]models.Message, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := []models.Message{}
	for _, m := range h.msgs {
		if f.Match(m) {
			out = append(out, m)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}
