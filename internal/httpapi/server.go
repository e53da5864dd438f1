// Package httpapi exposes projects, boards, worktrees and the message bus over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ankittk/orchestra/internal/board"
	"github.com/ankittk/orchestra/internal/bus"
	"github.com/ankittk/orchestra/internal/store"
	"github.com/ankittk/orchestra/pkg/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets permissive CORS headers for dev mode.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Engine is the agent runtime the API drives. *agent.COO implements it.
type Engine interface {
	CreateProject(ctx context.Context, req models.CreateProjectRequest) (models.Project, error)
	DeleteProject(ctx context.Context, projectID string) error
	SubmitDirective(ctx context.Context, projectID, content string) (models.Message, error)
	Board(projectID string) *board.Board
	LiveAgents() []models.Agent
}

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Addr           string
	Dev            bool
	APIKey         string       // if set, require X-API-Key header or query api_key
	MetricsHandler http.Handler // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics
	MaxBodyBytes   int64
	Log            zerolog.Logger
}

// App holds the HTTP server, SSE hub and the state it serves.
type App struct {
	Server *http.Server
	Hub    *SSEHub
	Store  store.Store
	Bus    *bus.Bus
	Engine Engine

	log     zerolog.Logger
	observe bus.Subscription
}

// NewApp registers every route and starts streaming bus traffic to the SSE hub.
// Call Close to detach from the bus.
func NewApp(opts ServerOptions, st store.Store, b *bus.Bus, engine Engine) *App {
	a := &App{
		Hub:    NewSSEHub(),
		Store:  st,
		Bus:    b,
		Engine: engine,
		log:    opts.Log.With().Str("component", "httpapi").Logger(),
	}
	a.observe = a.Hub.Attach(b)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.health)
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	} else {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	mux.HandleFunc("GET /stream", a.Hub.Handler())

	mux.HandleFunc("GET /projects", a.listProjects)
	mux.HandleFunc("POST /projects", a.createProject)
	mux.HandleFunc("GET /projects/{id}", a.getProject)
	mux.HandleFunc("DELETE /projects/{id}", a.deleteProject)
	mux.HandleFunc("POST /projects/{id}/directives", a.projectDirective)
	mux.HandleFunc("GET /projects/{id}/board", a.getBoard)
	mux.HandleFunc("GET /projects/{id}/tasks", a.listTasks)
	mux.HandleFunc("POST /projects/{id}/tasks", a.createTask)
	mux.HandleFunc("PATCH /projects/{id}/tasks/{taskID}", a.updateTask)
	mux.HandleFunc("DELETE /projects/{id}/tasks/{taskID}", a.deleteTask)
	mux.HandleFunc("GET /projects/{id}/worktrees", a.listWorktrees)
	mux.HandleFunc("GET /projects/{id}/agents", a.listProjectAgents)
	mux.HandleFunc("GET /agents", a.listLiveAgents)
	mux.HandleFunc("GET /messages", a.listMessages)
	mux.HandleFunc("POST /directives", a.directive)

	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = models.DefaultMaxRequestBodyBytes
	}
	var h http.Handler = mux
	h = bodyLimitMiddleware(maxBody, h)
	if opts.Dev {
		h = corsMiddleware(h)
	}
	if opts.APIKey != "" {
		h = apiKeyMiddleware(opts.APIKey, h)
	}
	h = requestLogMiddleware(a.log, h)
	if opts.UseOtelHTTP {
		h = otelhttp.NewHandler(h, "orchestra")
	}

	a.Server = &http.Server{
		Addr:              opts.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0, // SSE streams stay open
		IdleTimeout:       60 * time.Second,
	}
	return a
}

// Close stops feeding the SSE hub.
func (a *App) Close() {
	a.Bus.Unobserve(a.observe)
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, models.Health{OK: true, Agents: len(a.Engine.LiveAgents())})
}

func (a *App) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := a.Store.ListProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if projects == nil {
		projects = []models.Project{}
	}
	writeJSON(w, projects)
}

func (a *App) createProject(w http.ResponseWriter, r *http.Request) {
	var body models.CreateProjectRequest
	if !decode(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeJSONError(w, http.StatusBadRequest, "name required")
		return
	}
	p, err := a.Engine.CreateProject(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, p)
}

func (a *App) getProject(w http.ResponseWriter, r *http.Request) {
	p, ok := a.project(w, r)
	if !ok {
		return
	}
	state, err := a.Engine.Board(p.ID).State(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, models.ProjectDetail{Project: p, Board: state})
}

func (a *App) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := a.Engine.DeleteProject(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) projectDirective(w http.ResponseWriter, r *http.Request) {
	var body models.DirectiveRequest
	if !decode(w, r, &body) {
		return
	}
	a.submit(w, r, r.PathValue("id"), body.Content)
}

func (a *App) directive(w http.ResponseWriter, r *http.Request) {
	var body models.DirectiveRequest
	if !decode(w, r, &body) {
		return
	}
	a.submit(w, r, body.ProjectID, body.Content)
}

func (a *App) submit(w http.ResponseWriter, r *http.Request, projectID, content string) {
	if content == "" {
		writeJSONError(w, http.StatusBadRequest, "content required")
		return
	}
	msg, err := a.Engine.SubmitDirective(r.Context(), projectID, content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, msg)
}

func (a *App) getBoard(w http.ResponseWriter, r *http.Request) {
	p, ok := a.project(w, r)
	if !ok {
		return
	}
	bd := a.Engine.Board(p.ID)
	state, err := bd.State(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	tasks, err := bd.List(r.Context(), "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, models.BoardView{State: state, Tasks: nonNil(tasks)})
}

func (a *App) listTasks(w http.ResponseWriter, r *http.Request) {
	p, ok := a.project(w, r)
	if !ok {
		return
	}
	column := models.Column(r.URL.Query().Get("column"))
	if column != "" && !column.Valid() {
		writeJSONError(w, http.StatusBadRequest, "invalid column")
		return
	}
	tasks, err := a.Engine.Board(p.ID).List(r.Context(), column)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, nonNil(tasks))
}

func (a *App) createTask(w http.ResponseWriter, r *http.Request) {
	p, ok := a.project(w, r)
	if !ok {
		return
	}
	var body models.CreateTaskRequest
	if !decode(w, r, &body) {
		return
	}
	if body.Title == "" {
		writeJSONError(w, http.StatusBadRequest, "title required")
		return
	}
	t, err := a.Engine.Board(p.ID).Create(r.Context(), board.NewTask{
		Title:       body.Title,
		Description: body.Description,
		Column:      body.Column,
		Labels:      body.Labels,
		CreatedBy:   "user",
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, t)
}

func (a *App) updateTask(w http.ResponseWriter, r *http.Request) {
	p, ok := a.project(w, r)
	if !ok {
		return
	}
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	var patch models.UpdateTaskRequest
	if !decode(w, r, &patch) {
		return
	}
	t, err := a.Engine.Board(p.ID).Update(r.Context(), id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, t)
}

func (a *App) deleteTask(w http.ResponseWriter, r *http.Request) {
	p, ok := a.project(w, r)
	if !ok {
		return
	}
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	if err := a.Engine.Board(p.ID).Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) listWorktrees(w http.ResponseWriter, r *http.Request) {
	p, ok := a.project(w, r)
	if !ok {
		return
	}
	trees, err := a.Store.ListWorktrees(r.Context(), p.ID, models.WorktreeStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, nonNil(trees))
}

func (a *App) listProjectAgents(w http.ResponseWriter, r *http.Request) {
	p, ok := a.project(w, r)
	if !ok {
		return
	}
	agents, err := a.Store.ListAgents(r.Context(), p.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, nonNil(agents))
}

func (a *App) listLiveAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.Engine.LiveAgents())
}

func (a *App) listMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.MessageFilter{
		ProjectID:      q.Get("project_id"),
		AgentID:        q.Get("agent_id"),
		ConversationID: q.Get("conversation_id"),
		Type:           models.MessageType(q.Get("type")),
		Limit:          models.DefaultMessageListLimit,
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	msgs, err := a.Bus.History(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, nonNil(msgs))
}

// project loads the {id} path project, writing 404 when it does not exist.
func (a *App) project(w http.ResponseWriter, r *http.Request) (models.Project, bool) {
	p, err := a.Store.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return models.Project{}, false
	}
	return p, true
}

func taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("taskID"), 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid task id")
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != apiKey {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogMiddleware(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		log.Info().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", rec.status).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}

// writeError maps domain errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, board.ErrInvalidColumn), errors.Is(err, board.ErrInvalidTask):
		code = http.StatusBadRequest
	}
	writeJSONError(w, code, err.Error())
}
