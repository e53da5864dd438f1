package daemon

import (
	"github.com/rs/zerolog"

	"github.com/ankittk/orchestra/internal/config"
	"github.com/ankittk/orchestra/internal/llm"
)

// StartOptions configures the daemon. Settings come from the environment with
// CLI flags applied on top.
type StartOptions struct {
	Home     string
	Settings config.Settings
	Dev      bool

	// Provider overrides the model provider built from Settings.
	Provider llm.Provider
	Log      zerolog.Logger
}

// StatusInfo is the result of Status (running or not, PID, listen addr).
type StatusInfo struct {
	Running bool
	PID     int
	Addr    string
}
