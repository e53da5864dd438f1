package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankittk/orchestra/internal/llm"
	"github.com/ankittk/orchestra/internal/registry"
	"github.com/ankittk/orchestra/pkg/models"
)

func newTestWorker(t *testing.T, env *testEnv, tmpl registry.Template) (*Worker, string) {
	t.Helper()
	tl := env.newLead(t, false)
	dir := t.TempDir()
	w := newWorker(context.Background(), env.deps, tl, workerSpec{
		ID:        "worker-t",
		TaskID:    1,
		Template:  tmpl,
		Workspace: dir,
		Branch:    "worker/worker-t",
		LogsDir:   filepath.Join(dir, ".logs"),
	})
	t.Cleanup(func() { _ = w.Destroy(context.Background()) })
	return w, dir
}

func generalist(t *testing.T) registry.Template {
	t.Helper()
	tmpl, ok := registry.New().Get(registry.DefaultTemplate)
	require.True(t, ok)
	return tmpl
}

func runTool(t *testing.T, w *Worker, name, args string) (string, error) {
	t.Helper()
	return w.Tools().Execute(context.Background(), name, json.RawMessage(args))
}

func TestWorkerFileTools(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, llm.NewScripted())
	w, dir := newTestWorker(t, env, generalist(t))

	out, err := runTool(t, w, "write_file", `{"path":"src/main.txt","content":"hello"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 5 bytes")
	assert.FileExists(t, filepath.Join(dir, "src", "main.txt"))

	out, err = runTool(t, w, "read_file", `{"path":"src/main.txt"}`)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref"), 0o644))
	out, err = runTool(t, w, "list_files", `{}`)
	require.NoError(t, err)
	assert.Equal(t, "src/main.txt", out)

	_, err = runTool(t, w, "read_file", `{"path":"../../etc/passwd"}`)
	assert.ErrorContains(t, err, "outside the workspace")
	_, err = runTool(t, w, "write_file", `{"path":".git/config","content":"x"}`)
	assert.Error(t, err)
}

func TestWorkerRunCommand(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, llm.NewScripted())
	w, _ := newTestWorker(t, env, generalist(t))

	out, err := runTool(t, w, "run_command", `{"command":"echo hi && exit 3"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "hi")
	assert.Contains(t, out, "[exit code 3]")

	_, err = runTool(t, w, "run_command", `{"command":"git checkout main"}`)
	assert.ErrorContains(t, err, "managed by the team lead")
}

func TestWorkerTemplateNarrowsTools(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, llm.NewScripted())
	tester, ok := registry.New().Get("tester")
	require.True(t, ok)
	w, _ := newTestWorker(t, env, tester)

	assert.ElementsMatch(t, tester.Tools, w.Tools().Names())
	_, err := runTool(t, w, "start_process", `{"name":"srv","command":"sleep 1"}`)
	assert.Error(t, err)
}

func TestWorkerReportsExactlyOnce(t *testing.T) {
	t.Parallel()
	sc := llm.NewScripted(
		call("write_file", map[string]any{"path": "a.txt", "content": "a"}),
		say("wrote a.txt"),
	)
	env := newTestEnv(t, sc)
	w, dir := newTestWorker(t, env, generalist(t))
	parent := env.inbox(t, w.ParentID())
	w.register(w.HandleMessage)

	for i := 0; i < 2; i++ {
		_, err := env.bus.Send(context.Background(), models.Message{To: w.ID(), Type: models.MessageDirective, Content: "Task #1: write a"})
		require.NoError(t, err)
	}
	report := receive(t, parent, models.MessageReport)
	assert.Equal(t, "wrote a.txt", report.Content)
	assert.Equal(t, true, report.Metadata["success"])
	assert.Equal(t, int64(1), report.Metadata["task_id"])
	assert.Equal(t, "worker/worker-t", report.Metadata["branch"])
	assert.FileExists(t, filepath.Join(dir, "a.txt"))
	assert.Equal(t, models.AgentDone, w.Status())

	reply, ok := env.bus.Request(context.Background(), models.Message{From: "observer", To: w.ID()}, env.deps.Limits.StatusTimeout*5)
	require.True(t, ok, "the second directive was ignored, so the worker is free to answer")
	assert.Equal(t, string(models.AgentDone), reply.Metadata["status"])
	assert.Len(t, sc.Requests(), 2)
}

func TestWorkerFailureReport(t *testing.T) {
	t.Parallel()
	sc := llm.NewScripted()
	sc.Fallback = call("list_files", nil)
	env := newTestEnv(t, sc)
	env.deps.Limits.MaxToolRounds = 2
	w, _ := newTestWorker(t, env, generalist(t))
	parent := env.inbox(t, w.ParentID())
	w.register(w.HandleMessage)

	_, err := env.bus.Send(context.Background(), models.Message{To: w.ID(), Type: models.MessageDirective, Content: "Task #1: loop"})
	require.NoError(t, err)
	report := receive(t, parent, models.MessageReport)
	assert.Equal(t, false, report.Metadata["success"])
	assert.Contains(t, report.Content, "gave up after 2 tool rounds")
	assert.Equal(t, models.AgentError, w.Status())
}
