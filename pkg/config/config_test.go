package config

import (
	"testing"
	"time"

	"github.com/dukex/sellflow/pkg/stages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.Endpoints = stages.Endpoints{
		RecognitionURL: "http://ai.local/recognize",
		PricingURL:     "http://ai.local/price",
		CreativeURL:    "http://ai.local/creative",
		PublishURL:     "http://market.local/publish",
		PublishOTPURL:  "http://market.local/publish/otp",
		Timeout:        time.Minute,
	}

	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr []string
	}{
		{
			name:   "defaults with endpoints",
			mutate: func(*Config) {},
		},
		{
			name: "stages file without endpoints",
			mutate: func(c *Config) {
				c.StagesFile = "stages.yaml"
				c.Endpoints = stages.Endpoints{}
			},
		},
		{
			name:    "missing endpoints",
			mutate:  func(c *Config) { c.Endpoints.PublishURL = "" },
			wantErr: []string{"Endpoints.PublishURL failed on required"},
		},
		{
			name:    "bad port and log level",
			mutate:  func(c *Config) { c.Port = 70000; c.LogLevel = "trace" },
			wantErr: []string{"Config.Port failed on max", "Config.LogLevel failed on oneof"},
		},
		{
			name:    "unknown event bus",
			mutate:  func(c *Config) { c.EventBus = "rabbitmq" },
			wantErr: []string{"Config.EventBus failed on oneof"},
		},
		{
			name:    "kafka without brokers",
			mutate:  func(c *Config) { c.EventBus = "kafka" },
			wantErr: []string{"Config.KafkaBrokers failed on required_if"},
		},
		{
			name:   "kafka with brokers",
			mutate: func(c *Config) { c.EventBus = "kafka"; c.KafkaBrokers = []string{"localhost:9092"} },
		},
		{
			name:    "ceiling out of range",
			mutate:  func(c *Config) { c.ProgressCeiling = 100 },
			wantErr: []string{"Config.ProgressCeiling failed on max"},
		},
		{
			name:    "tracing without service name",
			mutate:  func(c *Config) { c.Tracing = true; c.ServiceName = "" },
			wantErr: []string{"Config.ServiceName failed on required_if"},
		},
		{
			name:    "invalid redis url",
			mutate:  func(c *Config) { c.RedisURL = "localhost" },
			wantErr: []string{"Config.RedisURL failed on url"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if len(tt.wantErr) == 0 {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, ErrInvalid)

			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestConfig_UsesBuiltinStages(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.UsesBuiltinStages())

	cfg.StagesFile = "stages.yaml"
	assert.False(t, cfg.UsesBuiltinStages())
}
