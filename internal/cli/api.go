package cli

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/ankittk/orchestra/internal/config"
	"github.com/ankittk/orchestra/internal/daemon"
	"github.com/ankittk/orchestra/pkg/client"
)

var errDaemonDown = errors.New("orchestra is not running; start it with `orchestra serve`")

// apiClient returns an API client for --addr or the daemon recorded under home.
func (g *globals) apiClient(ctx context.Context) (*client.Client, error) {
	key := g.apiKey
	if key == "" {
		key = os.Getenv(config.EnvPrefix + "_API_KEY")
	}
	if g.addr != "" {
		return client.New(baseURL(g.addr), key), nil
	}
	st, err := daemon.Status(ctx, config.MustHomeFrom(ctx))
	if err != nil {
		return nil, err
	}
	if !st.Running || st.Addr == "unknown" {
		return nil, errDaemonDown
	}
	return client.New(baseURL(st.Addr), key), nil
}

func baseURL(addr string) string {
	addr = strings.TrimRight(addr, "/")
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}
