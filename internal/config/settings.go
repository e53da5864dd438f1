package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/ankittk/orchestra/pkg/models"
)

// EnvPrefix is prepended to every settings variable (ORCHESTRA_LOG_LEVEL, ...).
const EnvPrefix = "ORCHESTRA"

// Settings is the runtime configuration read from the environment. CLI flags
// override individual fields after Load.
type Settings struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`

	HTTPAddr  string `envconfig:"HTTP_ADDR" default:"127.0.0.1:3549"`
	GRPCAddr  string `envconfig:"GRPC_ADDR"`
	PprofAddr string `envconfig:"PPROF_ADDR"`
	APIKey    string `envconfig:"API_KEY"`
	Otel      bool   `envconfig:"OTEL" default:"true"`

	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite"`
	DBURL    string `envconfig:"DB_URL"`

	LLMBaseURL string `envconfig:"LLM_BASE_URL" default:"https://api.openai.com"`
	LLMAPIKey  string `envconfig:"LLM_API_KEY"`
	LLMModel   string `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	LLMCommand string `envconfig:"LLM_COMMAND"`

	MaxWorkers            int           `envconfig:"MAX_WORKERS" default:"4"`
	MaxContinuationCycles int           `envconfig:"MAX_CONTINUATION_CYCLES" default:"10"`
	MaxToolRounds         int           `envconfig:"MAX_TOOL_ROUNDS" default:"25"`
	StatusTimeout         time.Duration `envconfig:"STATUS_TIMEOUT" default:"10s"`
	CommandTimeout        time.Duration `envconfig:"COMMAND_TIMEOUT" default:"5m"`
	TaskTimeout           time.Duration `envconfig:"TASK_TIMEOUT" default:"30m"`

	MergeTestCmd    string `envconfig:"MERGE_TEST_CMD"`
	RegistryDir     string `envconfig:"REGISTRY_DIR"`
	SlackWebhookURL string `envconfig:"SLACK_WEBHOOK_URL"`
	Sandbox         bool   `envconfig:"SANDBOX"`
}

// ErrNoProvider means neither a model command nor an API key is configured.
var ErrNoProvider = errors.New("no model provider: set ORCHESTRA_LLM_API_KEY or ORCHESTRA_LLM_COMMAND")

// CheckProvider reports ErrNoProvider when no model can be reached.
func (s Settings) CheckProvider() error {
	if strings.TrimSpace(s.LLMCommand) == "" && s.LLMAPIKey == "" {
		return ErrNoProvider
	}
	return nil
}

// Load reads Settings from ORCHESTRA_* environment variables.
func Load() (Settings, error) {
	var s Settings
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	s.applyDefaults()
	return s, nil
}

func (s *Settings) applyDefaults() {
	if s.MaxWorkers <= 0 {
		s.MaxWorkers = models.DefaultMaxWorkers
	}
	if s.MaxContinuationCycles <= 0 {
		s.MaxContinuationCycles = models.DefaultMaxContinuationCycles
	}
	if s.MaxToolRounds <= 0 {
		s.MaxToolRounds = models.DefaultMaxToolRounds
	}
	if s.StatusTimeout <= 0 {
		s.StatusTimeout = 10 * time.Second
	}
	if s.CommandTimeout <= 0 {
		s.CommandTimeout = 5 * time.Minute
	}
	if s.TaskTimeout <= 0 {
		s.TaskTimeout = 30 * time.Minute
	}
}
