package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAI_Invoke(t *testing.T) {
	t.Parallel()
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"thinking","tool_calls":[
			{"id":"c1","type":"function","function":{"name":"list_tasks","arguments":"{\"column\":\"backlog\"}"}},
			{"id":"c2","type":"function","function":{"name":"list_workers","arguments":""}}]}}]}`))
	}))
	defer srv.Close()

	o := NewOpenAI(srv.URL+"/", "sk-test", "")
	res, err := o.Invoke(context.Background(), Request{
		SystemPrompt: "sys",
		Messages: []Message{
			{Role: RoleUser, Content: "go"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{Call("c0", "x", map[string]any{"a": 1})}},
			ToolResult(ToolCall{ID: "c0", Name: "x"}, "ok"),
		},
		Tools: []ToolDefinition{{Name: "list_tasks", Description: "d", Parameters: json.RawMessage(`{"type":"object"}`)}},
	})
	require.NoError(t, err)
	assert.Equal(t, "thinking", res.Text)
	require.Len(t, res.ToolCalls, 2)
	assert.Equal(t, "list_tasks", res.ToolCalls[0].Name)
	assert.JSONEq(t, `{"column":"backlog"}`, string(res.ToolCalls[0].Arguments))
	assert.JSONEq(t, `{}`, string(res.ToolCalls[1].Arguments))

	assert.Equal(t, DefaultModel, got.Model)
	assert.Equal(t, "auto", got.ToolChoice)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, RoleSystem, got.Messages[0].Role)
	assert.Equal(t, "c0", got.Messages[3].ToolCallID)
	assert.Equal(t, "function", got.Tools[0].Type)
}

func TestOpenAI_errors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOpenAI(srv.URL, "", "m").Invoke(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	_, err = (&OpenAI{}).Invoke(context.Background(), Request{})
	assert.Error(t, err)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "adapter.sh")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755))
	return p
}

func TestSubprocess_Invoke(t *testing.T) {
	t.Parallel()
	script := writeScript(t, `read line
echo "log: starting"
echo '{"text":"hi","tool_calls":[{"id":"1","name":"read_file","arguments":{"path":"a.txt"}}]}'
`)
	res, err := (&Subprocess{Command: script, Timeout: 5 * time.Second}).Invoke(context.Background(), Request{SystemPrompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Text)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "read_file", res.ToolCalls[0].Name)
}

func TestSubprocess_plainText(t *testing.T) {
	t.Parallel()
	script := writeScript(t, "cat > /dev/null\necho 'all done'\n")
	res, err := (&Subprocess{Command: script}).Invoke(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "all done", res.Text)
	assert.Empty(t, res.ToolCalls)
}

func TestSubprocess_failures(t *testing.T) {
	t.Parallel()
	_, err := (&Subprocess{}).Invoke(context.Background(), Request{})
	assert.Error(t, err)

	script := writeScript(t, "echo oops >&2\nexit 2\n")
	_, err = (&Subprocess{Command: script}).Invoke(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oops")

	slow := writeScript(t, "exec sleep 5\n")
	start := time.Now()
	_, err = (&Subprocess{Command: slow, Timeout: 100 * time.Millisecond}).Invoke(context.Background(), Request{})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestScripted(t *testing.T) {
	t.Parallel()
	s := NewScripted(Response{Text: "one"}, Response{Text: "two"})
	ctx := context.Background()
	r, _ := s.Invoke(ctx, Request{SystemPrompt: "a"})
	assert.Equal(t, "one", r.Text)
	s.Push(Response{Text: "three"})
	r, _ = s.Invoke(ctx, Request{})
	assert.Equal(t, "two", r.Text)
	r, _ = s.Invoke(ctx, Request{})
	assert.Equal(t, "three", r.Text)
	r, _ = s.Invoke(ctx, Request{})
	assert.Equal(t, "done", r.Text)
	assert.Len(t, s.Requests(), 4)
	assert.Equal(t, 0, s.Remaining())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := s.Invoke(cancelled, Request{})
	assert.Error(t, err)
}
