package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ankittk/orchestra/internal/agent"
	"github.com/ankittk/orchestra/internal/bus"
	"github.com/ankittk/orchestra/internal/config"
	"github.com/ankittk/orchestra/internal/httpapi"
	"github.com/ankittk/orchestra/internal/llm"
	"github.com/ankittk/orchestra/internal/notify"
	"github.com/ankittk/orchestra/internal/otel"
	"github.com/ankittk/orchestra/internal/registry"
	"github.com/ankittk/orchestra/internal/sandbox"
	"github.com/ankittk/orchestra/internal/store"
	"github.com/ankittk/orchestra/internal/store/postgres"
	"github.com/ankittk/orchestra/pkg/models"
)

// runtime is everything the daemon serves, built in dependency order and torn
// down in reverse.
type runtime struct {
	store store.Store
	bus   *bus.Bus
	coo   *agent.COO
	app   *httpapi.App
	slack *notify.Slack

	detachSlack func()
	log         zerolog.Logger
}

func newRuntime(ctx context.Context, opts StartOptions) (*runtime, error) {
	s := opts.Settings
	log := opts.Log

	st, err := openStore(ctx, opts.Home, s)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	rt := &runtime{store: st, log: log}
	rt.bus = bus.New(st, log.With().Str("component", "bus").Logger())

	reg := registry.New()
	dir := s.RegistryDir
	if dir == "" {
		dir = filepath.Join(opts.Home, "registry")
	}
	n, err := reg.LoadDir(dir)
	if err != nil {
		rt.close(ctx)
		return nil, fmt.Errorf("load registry: %w", err)
	}
	if n > 0 {
		log.Info().Int("templates", n).Str("dir", dir).Msg("registry templates loaded")
	}

	provider := opts.Provider
	if provider == nil {
		if provider, err = buildProvider(opts.Home, s); err != nil {
			rt.close(ctx)
			return nil, err
		}
	}

	rt.coo = agent.NewCOO(ctx, agent.Deps{
		Bus:      rt.bus,
		Store:    st,
		Provider: provider,
		Registry: reg,
		Home:     opts.Home,
		Model:    s.LLMModel,
		Limits: agent.Limits{
			MaxWorkers:            s.MaxWorkers,
			MaxContinuationCycles: s.MaxContinuationCycles,
			MaxToolRounds:         s.MaxToolRounds,
			StatusTimeout:         s.StatusTimeout,
			CommandTimeout:        s.CommandTimeout,
			TaskTimeout:           s.TaskTimeout,
		},
		MergeTestCmd: s.MergeTestCmd,
		Sandbox:      s.Sandbox,
		Log:          log,
	})
	rt.coo.Start(ctx)

	srvOpts := httpapi.ServerOptions{
		Addr:   s.HTTPAddr,
		Dev:    opts.Dev,
		APIKey: s.APIKey,
		Log:    log,
	}
	if s.Otel {
		handler, err := otel.InitMeterProvider(ctx, "orchestra")
		if err != nil {
			log.Warn().Err(err).Msg("otel init failed, serving default prometheus registry")
		} else {
			srvOpts.MetricsHandler = handler
			srvOpts.UseOtelHTTP = true
			if err := otel.RegisterStateGauges(ctx, boardCounts(st), rt.coo.AgentCounts); err != nil {
				log.Warn().Err(err).Msg("register state gauges failed")
			}
		}
	}
	rt.app = httpapi.NewApp(srvOpts, st, rt.bus, rt.coo)

	if s.SlackWebhookURL != "" {
		rt.slack = notify.NewSlack(s.SlackWebhookURL, log)
		rt.detachSlack = rt.slack.Attach(rt.bus)
	}
	return rt, nil
}

// close tears down in reverse build order. The store closes last so agent
// shutdown records persist.
func (rt *runtime) close(ctx context.Context) {
	if rt.app != nil {
		rt.app.Close()
	}
	if rt.detachSlack != nil {
		rt.detachSlack()
		rt.slack.Close()
	}
	if rt.coo != nil {
		if err := rt.coo.Destroy(ctx); err != nil {
			rt.log.Warn().Err(err).Msg("agent shutdown incomplete")
		}
	}
	if rt.bus != nil {
		rt.bus.Close()
	}
	if err := rt.store.Close(); err != nil {
		rt.log.Warn().Err(err).Msg("close store")
	}
}

func openStore(ctx context.Context, home string, s config.Settings) (store.Store, error) {
	if s.DBDriver == "postgres" {
		pg, err := postgres.Open(ctx, s.DBURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	return store.Open(home)
}

// buildProvider picks the subprocess adapter when a command is configured and
// the OpenAI-compatible client otherwise.
func buildProvider(home string, s config.Settings) (llm.Provider, error) {
	if cmd := strings.Fields(s.LLMCommand); len(cmd) > 0 {
		p := &llm.Subprocess{Command: cmd[0], Args: cmd[1:], Timeout: s.CommandTimeout}
		if s.Sandbox && sandbox.BubblewrapAvailable() {
			p.SandboxHome = home
			p.SandboxWriteDir = filepath.Join(home, "projects")
		}
		return p, nil
	}
	if err := s.CheckProvider(); err != nil {
		return nil, err
	}
	return llm.NewOpenAI(s.LLMBaseURL, s.LLMAPIKey, s.LLMModel), nil
}

// boardCounts totals task columns across projects for the tasks gauge.
func boardCounts(st store.Store) otel.BoardCountFunc {
	return func(ctx context.Context) (backlog, inProgress, done int64) {
		projects, err := st.ListProjects(ctx)
		if err != nil {
			return 0, 0, 0
		}
		for _, p := range projects {
			tasks, err := st.ListTasks(ctx, p.ID)
			if err != nil {
				continue
			}
			for _, t := range tasks {
				switch t.Column {
				case models.ColumnBacklog:
					backlog++
				case models.ColumnInProgress:
					inProgress++
				case models.ColumnDone:
					done++
				}
			}
		}
		return backlog, inProgress, done
	}
}
