package agent

import (
	"context"
	"sync"
)

// decisionCycle lives for one think call. It counts tool calls and enforces
// the once-per-cycle limit on polling tools.
type decisionCycle struct {
	mu    sync.Mutex
	calls map[string]int
	total int
}

func newDecisionCycle() *decisionCycle {
	return &decisionCycle{calls: make(map[string]int)}
}

type cycleKey struct{}

func withCycle(ctx context.Context, c *decisionCycle) context.Context {
	return context.WithValue(ctx, cycleKey{}, c)
}

// cycleFrom returns the cycle on ctx. Outside a think it returns a fresh one,
// so direct tool calls are never limited.
func cycleFrom(ctx context.Context) *decisionCycle {
	if c, ok := ctx.Value(cycleKey{}).(*decisionCycle); ok && c != nil {
		return c
	}
	return newDecisionCycle()
}

func (c *decisionCycle) record(name string) {
	c.mu.Lock()
	c.calls[name]++
	c.total++
	c.mu.Unlock()
}

// count is how many times name was recorded this cycle, the current call included.
func (c *decisionCycle) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func (c *decisionCycle) totalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}
