package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankittk/orchestra/pkg/models"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b := New(nil, zerolog.Nop())
	t.Cleanup(b.Close)
	return b
}

type recorder struct {
	mu   sync.Mutex
	msgs []models.Message
	ch   chan models.Message
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan models.Message, 64)}
}

func (r *recorder) handle(_ context.Context, m models.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
	r.ch <- m
}

func (r *recorder) wait(t *testing.T, n int) []models.Message {
	t.Helper()
	out := make([]models.Message, 0, n)
	for i := 0; i < n; i++ {
		select {
		case m := <-r.ch:
			out = append(out, m)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d of %d", i+1, n)
		}
	}
	return out
}

func TestSend_addressedFIFO(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)
	rec := newRecorder()
	b.Register("w1", rec.handle)

	ctx := context.Background()
	for _, c := range []string{"one", "two", "three", "four"} {
		_, err := b.Send(ctx, models.Message{From: "tl", To: "w1", Type: models.MessageChat, Content: c})
		require.NoError(t, err)
	}
	got := rec.wait(t, 4)
	assert.Equal(t, []string{"one", "two", "three", "four"},
		[]string{got[0].Content, got[1].Content, got[2].Content, got[3].Content})
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestSend_doesNotBlockOnSlowReceiver(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)
	release := make(chan struct{})
	b.Register("slow", func(context.Context, models.Message) { <-release })
	defer close(release)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			_, _ = b.Send(context.Background(), models.Message{To: "slow", Type: models.MessageChat})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked on a busy receiver")
	}
}

func TestSend_broadcastIsolatesFailingSubscriber(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)
	b.OnBroadcast(func(context.Context, models.Message) { panic("bridge exploded") })
	rec := newRecorder()
	sub := b.OnBroadcast(rec.handle)

	_, err := b.Send(context.Background(), models.Message{From: "coo", Type: models.MessageReport, Content: "shipped"})
	require.NoError(t, err)
	got := rec.wait(t, 1)
	assert.Equal(t, "shipped", got[0].Content)

	b.OffBroadcast(sub)
	_, err = b.Send(context.Background(), models.Message{Type: models.MessageReport, Content: "again"})
	require.NoError(t, err)
	select {
	case m := <-rec.ch:
		t.Fatalf("unsubscribed handler received %q", m.Content)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestObserve_seesAddressedAndBroadcast(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)
	obs := newRecorder()
	sub := b.Observe(obs.handle)
	b.Register("w1", func(context.Context, models.Message) {})

	ctx := context.Background()
	_, _ = b.Send(ctx, models.Message{To: "w1", Type: models.MessageDirective})
	_, _ = b.Send(ctx, models.Message{Type: models.MessageReport})
	got := obs.wait(t, 2)
	assert.Equal(t, models.MessageDirective, got[0].Type)
	assert.Equal(t, models.MessageReport, got[1].Type)

	b.Unobserve(sub)
	_, _ = b.Send(ctx, models.Message{Type: models.MessageReport})
	assert.Len(t, obs.ch, 0)
}

func TestSend_requiresType(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)
	_, err := b.Send(context.Background(), models.Message{To: "x"})
	assert.Error(t, err)
}

func TestSend_afterClose(t *testing.T) {
	t.Parallel()
	b := New(nil, zerolog.Nop())
	b.Close()
	b.Close()
	_, err := b.Send(context.Background(), models.Message{Type: models.MessageChat})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRequest_reply(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)
	b.Register("w1", func(ctx context.Context, m models.Message) {
		if m.Type != models.MessageStatusRequest {
			return
		}
		// Unrelated traffic carrying a different correlation id must not resolve the request.
		_, _ = b.Send(ctx, models.Message{From: "w1", To: m.From, Type: models.MessageStatusResponse, CorrelationID: "other"})
		_, _ = b.Send(ctx, Reply(m, "w1", "idle", map[string]any{"status": "idle"}))
	})

	reply, ok := b.Request(context.Background(), models.Message{From: "tl", To: "w1"}, time.Second)
	require.True(t, ok)
	assert.Equal(t, "idle", reply.Content)
	assert.Equal(t, "tl", reply.To)
	assert.NotEmpty(t, reply.CorrelationID)
}

func TestRequest_timeoutToUnregisteredAgent(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)
	timeout := 50 * time.Millisecond
	start := time.Now()
	reply, ok := b.Request(context.Background(), models.Message{From: "tl", To: "ghost", Type: models.MessageStatusRequest}, timeout)
	elapsed := time.Since(start)
	assert.False(t, ok)
	assert.Empty(t, reply.ID)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+time.Second)
}

func TestRequest_timeoutWhenTargetBusy(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)
	release := make(chan struct{})
	defer close(release)
	b.Register("busy", func(context.Context, models.Message) { <-release })
	_, ok := b.Request(context.Background(), models.Message{To: "busy"}, 30*time.Millisecond)
	assert.False(t, ok)
}

func TestRequest_contextCancelled(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := b.Request(ctx, models.Message{To: "ghost"}, time.Minute)
	assert.False(t, ok)
}

func TestHistoryAndConversation(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)
	ctx := context.Background()
	_, _ = b.Send(ctx, models.Message{From: "coo", To: "tl", Type: models.MessageDirective, ProjectID: "p1", ConversationID: "project:p1"})
	_, _ = b.Send(ctx, models.Message{From: "tl", To: "w1", Type: models.MessageDirective, ProjectID: "p1", ConversationID: "project:p1"})
	_, _ = b.Send(ctx, models.Message{From: "x", To: "y", Type: models.MessageChat, ConversationID: "other"})

	conv, err := b.ConversationMessages(ctx, "project:p1")
	require.NoError(t, err)
	require.Len(t, conv, 2)
	assert.Equal(t, "coo", conv[0].From)

	_, err = b.ConversationMessages(ctx, "")
	assert.Error(t, err)

	all, err := b.History(ctx, models.MessageFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "other", all[1].ConversationID)

	byAgent, err := b.History(ctx, models.MessageFilter{AgentID: "tl"})
	require.NoError(t, err)
	assert.Len(t, byAgent, 2)
}

func TestUnregister_stopsDelivery(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)
	rec := newRecorder()
	b.Register("w1", rec.handle)
	assert.True(t, b.Registered("w1"))
	b.Unregister("w1")
	assert.False(t, b.Registered("w1"))
	_, _ = b.Send(context.Background(), models.Message{To: "w1", Type: models.MessageChat})
	select {
	case <-rec.ch:
		t.Fatal("delivered after Unregister")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandlerPanicDoesNotKillMailbox(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)
	rec := newRecorder()
	b.Register("w1", func(ctx context.Context, m models.Message) {
		if m.Content == "boom" {
			panic("boom")
		}
		rec.handle(ctx, m)
	})
	_, _ = b.Send(context.Background(), models.Message{To: "w1", Type: models.MessageChat, Content: "boom"})
	_, _ = b.Send(context.Background(), models.Message{To: "w1", Type: models.MessageChat, Content: "after"})
	got := rec.wait(t, 1)
	assert.Equal(t, "after", got[0].Content)
}
