package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankittk/orchestra/internal/bus"
	"github.com/ankittk/orchestra/pkg/models"
)

func TestSSEHub_Subscribe_Publish_Unsubscribe(t *testing.T) {
	hub := NewSSEHub()
	ch := hub.Subscribe()
	assert.Equal(t, 1, hub.Subscribers())
	hub.PublishJSON(map[string]string{"type": "test"})
	msg := <-ch
	assert.Contains(t, string(msg), "test")

	hub.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok, "channel closed after Unsubscribe")
	assert.Equal(t, 0, hub.Subscribers())
	hub.Unsubscribe(ch)
}

func TestSSEHub_SlowSubscriberDropped(t *testing.T) {
	hub := NewSSEHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)
	for i := 0; i < models.DefaultSSEChannelBuffer+10; i++ {
		hub.PublishJSON(map[string]int{"n": i})
	}
	assert.Len(t, ch, models.DefaultSSEChannelBuffer)
}

func TestSSEHub_AttachObservesBus(t *testing.T) {
	b := bus.New(bus.NewMemoryHistory(), zerolog.Nop())
	defer b.Close()
	hub := NewSSEHub()
	sub := hub.Attach(b)
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	_, err := b.Send(context.Background(), models.Message{To: "nobody", Type: models.MessageChat, Content: "addressed"})
	require.NoError(t, err)
	select {
	case got := <-ch:
		assert.Contains(t, string(got), `"content":"addressed"`)
	case <-time.After(time.Second):
		t.Fatal("no event for addressed message")
	}

	b.Unobserve(sub)
	_, err = b.Send(context.Background(), models.Message{Type: models.MessageChat, Content: "after"})
	require.NoError(t, err)
	assert.Empty(t, ch)
}

func TestSSEHub_Handler(t *testing.T) {
	hub := NewSSEHub()
	handler := hub.Handler()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequestWithContext(ctx, http.MethodGet, "/stream", nil)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		handler(rec, req)
		close(done)
	}()
	// Read the recorder only after the handler returns.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	sc := bufio.NewScanner(rec.Body)
	var found bool
	for sc.Scan() {
		if strings.Contains(sc.Text(), "connected") {
			found = true
			break
		}
	}
	require.NoError(t, sc.Err())
	assert.True(t, found, "expected a connected event")
	assert.Equal(t, 0, hub.Subscribers())
}
