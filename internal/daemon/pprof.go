package daemon

import (
	"net/http"

	_ "net/http/pprof"

	"github.com/rs/zerolog"
)

func startPprof(addr string, log zerolog.Logger) {
	if addr == "" {
		return
	}
	go func() {
		// DefaultServeMux carries the pprof handlers.
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Info().Err(err).Str("addr", addr).Msg("pprof server stopped")
		}
	}()
}
