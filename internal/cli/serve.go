package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ankittk/orchestra/internal/config"
	"github.com/ankittk/orchestra/internal/daemon"
)

func newServeCmd() *cobra.Command {
	var (
		foreground bool
		addr       string
		grpcAddr   string
		pprofAddr  string
		dev        bool
		dbDriver   string
		dbURL      string
		envFile    string
		otel       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestra daemon (agents, HTTP API, gRPC health)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := loadEnvFile(envFile); err != nil {
					return err
				}
			}
			settings, err := config.Load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("listen") {
				settings.HTTPAddr = addr
			}
			if flags.Changed("grpc-addr") {
				settings.GRPCAddr = grpcAddr
			}
			if flags.Changed("pprof") {
				settings.PprofAddr = pprofAddr
			}
			if flags.Changed("db-driver") {
				settings.DBDriver = dbDriver
			}
			if flags.Changed("db-url") {
				settings.DBURL = dbURL
			}
			if flags.Changed("otel") {
				settings.Otel = otel
			}

			home := config.MustHomeFrom(cmd.Context())
			opts := daemon.StartOptions{Home: home, Settings: settings, Dev: dev}

			if foreground {
				opts.Log = config.NewLogger(settings.LogLevel, settings.LogFormat, cmd.ErrOrStderr())
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Starting orchestra in foreground on %s\n", settings.HTTPAddr)
				err := daemon.StartForeground(cmd.Context(), opts)
				if errors.Is(err, cmd.Context().Err()) {
					return nil
				}
				return err
			}

			pid, err := daemon.StartBackground(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "orchestra started (pid %d)\n", pid)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "API: %s\n", baseURL(settings.HTTPAddr))
			return nil
		},
	}

	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in foreground (do not daemonize)")
	cmd.Flags().StringVar(&addr, "listen", "", "HTTP listen address (env: ORCHESTRA_HTTP_ADDR)")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC health listen address (env: ORCHESTRA_GRPC_ADDR)")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode (permissive CORS)")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "", "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "Postgres connection string (or DATABASE_URL)")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load env vars from file (KEY=VALUE per line) before starting")
	cmd.Flags().BoolVar(&otel, "otel", true, "Enable OpenTelemetry metrics (Prometheus exporter, HTTP instrumentation)")

	return cmd
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.Index(line, "=")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		if key != "" {
			_ = os.Setenv(key, value)
		}
	}
	return sc.Err()
}
