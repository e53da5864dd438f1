package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankittk/orchestra/pkg/models"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:3549", "secret")
	assert.Equal(t, "http://localhost:3549", c.BaseURL)
	assert.Equal(t, "secret", c.APIKey)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":true,"agents":3}`))
	}))
	defer srv.Close()

	h, err := New(srv.URL, "").Health(context.Background())
	require.NoError(t, err)
	assert.True(t, h.OK)
	assert.Equal(t, 3, h.Agents)
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"project nope: not found"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").GetProject(context.Background(), "nope")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Contains(t, err.Error(), "not found")
}

func TestClient_setsAPIKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "k1").ListProjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "k1", gotKey)
}

func TestSubmitDirectiveRoutes(t *testing.T) {
	var paths []string
	var bodies []models.DirectiveRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		var body models.DirectiveRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"m1","type":"directive","content":"x"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	msg, err := c.SubmitDirective(context.Background(), "p1", "build it")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	_, err = c.SubmitDirective(context.Background(), "", "status?")
	require.NoError(t, err)

	assert.Equal(t, []string{"/projects/p1/directives", "/directives"}, paths)
	assert.Equal(t, "build it", bodies[0].Content)
	assert.Empty(t, bodies[0].ProjectID)
}

func TestTaskCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/projects/p1/tasks":
			assert.Equal(t, "backlog", r.URL.Query().Get("column"))
			_, _ = w.Write([]byte(`[{"id":1,"project_id":"p1","title":"a","column":"backlog","position":1}]`))
		case r.Method == http.MethodPatch && r.URL.Path == "/projects/p1/tasks/1":
			var patch models.UpdateTaskRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&patch))
			if !assert.NotNil(t, patch.Column) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"id":1,"project_id":"p1","title":"a","column":"` + string(*patch.Column) + `","position":1}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/projects/p1/tasks/1":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := New(srv.URL, "")
	tasks, err := c.ListTasks(ctx, "p1", models.ColumnBacklog)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	done := models.ColumnDone
	task, err := c.UpdateTask(ctx, "p1", 1, models.UpdateTaskRequest{Column: &done})
	require.NoError(t, err)
	assert.Equal(t, models.ColumnDone, task.Column)

	require.NoError(t, c.DeleteTask(ctx, "p1", 1))
}

func TestMessagesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "p1", q.Get("project_id"))
		assert.Equal(t, "report", q.Get("type"))
		assert.Equal(t, "20", q.Get("limit"))
		assert.Empty(t, q.Get("agent_id"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	msgs, err := New(srv.URL, "").Messages(context.Background(), models.MessageFilter{
		ProjectID: "p1", Type: models.MessageReport, Limit: 20,
	})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
