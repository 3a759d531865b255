// Package config assembles and validates the runtime configuration of the sellflow server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/sellflow/pkg/stages"
	"github.com/go-playground/validator/v10"
)

// Config is the complete server configuration. Values usually come from CLI flags
// backed by environment variables.
type Config struct {
	Port      int    `validate:"required,min=1,max=65535"`
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=text json"`

	// DatabaseURL selects run snapshot persistence: a postgres:// URL or a directory,
	// optionally prefixed with file://.
	DatabaseURL string `validate:"required"`

	// EventBus is "gochannel", "kafka" or empty to disable lifecycle events.
	EventBus     string   `validate:"omitempty,oneof=gochannel kafka"`
	KafkaBrokers []string `validate:"required_if=EventBus kafka"`

	// RedisURL enables the shared idempotency store; the in-memory store is used otherwise.
	RedisURL string `validate:"omitempty,url"`

	// StagesFile replaces the built-in marketplace pipeline with YAML definitions.
	StagesFile string

	// Endpoints are checked only when the built-in pipeline is used.
	Endpoints stages.Endpoints `validate:"-"`

	RunIdleTTL      time.Duration `validate:"gt=0"`
	JanitorSchedule string        `validate:"required"`
	LockTTL         time.Duration `validate:"gt=0"`

	ProgressCeiling  int           `validate:"min=1,max=99"`
	ProgressCadence  time.Duration `validate:"gt=0"`
	ProgressTimeBase time.Duration `validate:"gt=0"`

	Tracing     bool
	ServiceName string `validate:"required_if=Tracing true"`
}

// Default returns a configuration with every optional value filled in.
func Default() Config {
	return Config{
		Port:             9091,
		LogLevel:         "info",
		LogFormat:        "text",
		DatabaseURL:      "./data",
		RunIdleTTL:       time.Hour,
		JanitorSchedule:  "*/5 * * * *",
		LockTTL:          2 * time.Minute,
		ProgressCeiling:  90,
		ProgressCadence:  500 * time.Millisecond,
		ProgressTimeBase: 20 * time.Second,
		ServiceName:      "sellflow",
		Endpoints: stages.Endpoints{
			Timeout: 60 * time.Second,
		},
	}
}

// Validate checks the configuration and reports every invalid field at once.
func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	var problems []string

	problems = append(problems, describe(validate.Struct(c))...)

	if c.UsesBuiltinStages() {
		problems = append(problems, describe(validate.Struct(c.Endpoints))...)
	}

	if len(problems) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

func describe(err error) []string {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}

	return out
}

// UsesBuiltinStages reports whether the marketplace pipeline is configured from endpoints.
func (c Config) UsesBuiltinStages() bool {
	return c.StagesFile == ""
}
