package main

import (
	"github.com/dukex/sellflow/pkg/config"
	"github.com/dukex/sellflow/pkg/stages"
	cli "github.com/urfave/cli/v3"
)

func logFlags() []cli.Flag {
	defaults := config.Default()

	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   defaults.LogLevel,
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   defaults.LogFormat,
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

func stageFlags() []cli.Flag {
	defaults := config.Default()

	return []cli.Flag{
		&cli.StringFlag{
			Name:    "stages-file",
			Usage:   "YAML file with stage definitions; the built-in marketplace pipeline is used when empty",
			Sources: cli.EnvVars("STAGES_FILE"),
		},
		&cli.StringFlag{
			Name:    "recognition-url",
			Usage:   "Product recognition endpoint",
			Sources: cli.EnvVars("RECOGNITION_URL"),
		},
		&cli.StringFlag{
			Name:    "pricing-url",
			Usage:   "Price optimization endpoint",
			Sources: cli.EnvVars("PRICING_URL"),
		},
		&cli.StringFlag{
			Name:    "creative-url",
			Usage:   "Creative generation endpoint",
			Sources: cli.EnvVars("CREATIVE_URL"),
		},
		&cli.StringFlag{
			Name:    "publish-url",
			Usage:   "Marketplace publish endpoint",
			Sources: cli.EnvVars("PUBLISH_URL"),
		},
		&cli.StringFlag{
			Name:    "publish-otp-url",
			Usage:   "Marketplace publish OTP confirmation endpoint",
			Sources: cli.EnvVars("PUBLISH_OTP_URL"),
		},
		&cli.DurationFlag{
			Name:    "endpoint-timeout",
			Usage:   "Timeout of a single stage call",
			Value:   defaults.Endpoints.Timeout,
			Sources: cli.EnvVars("ENDPOINT_TIMEOUT"),
		},
	}
}

func eventBusFlags() []cli.Flag {
	defaults := config.Default()

	return []cli.Flag{
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Lifecycle event bus (gochannel, kafka); disabled when empty",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka brokers for the kafka event bus",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "service-name",
			Usage:   "Service name used for tracing and the Kafka consumer group",
			Value:   defaults.ServiceName,
			Sources: cli.EnvVars("SERVICE_NAME"),
		},
	}
}

func serveFlags() []cli.Flag {
	defaults := config.Default()

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaults.Port,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Run snapshot storage: a postgres:// URL or a directory",
			Value:   defaults.DatabaseURL,
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the shared idempotency store; in-memory when empty",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.DurationFlag{
			Name:    "run-idle-ttl",
			Usage:   "Evict runs from memory after this much inactivity",
			Value:   defaults.RunIdleTTL,
			Sources: cli.EnvVars("RUN_IDLE_TTL"),
		},
		&cli.StringFlag{
			Name:    "janitor-schedule",
			Usage:   "Cron expression for idle run eviction",
			Value:   defaults.JanitorSchedule,
			Sources: cli.EnvVars("JANITOR_SCHEDULE"),
		},
		&cli.DurationFlag{
			Name:    "lock-ttl",
			Usage:   "Lease of the per-key lock held while an idempotent stage runs",
			Value:   defaults.LockTTL,
			Sources: cli.EnvVars("LOCK_TTL"),
		},
		&cli.IntFlag{
			Name:    "progress-ceiling",
			Usage:   "Highest percentage the progress estimate reaches before the stage settles",
			Value:   defaults.ProgressCeiling,
			Sources: cli.EnvVars("PROGRESS_CEILING"),
		},
		&cli.DurationFlag{
			Name:    "progress-cadence",
			Usage:   "Interval between progress updates",
			Value:   defaults.ProgressCadence,
			Sources: cli.EnvVars("PROGRESS_CADENCE"),
		},
		&cli.DurationFlag{
			Name:    "progress-time-base",
			Usage:   "Time constant of the progress estimate",
			Value:   defaults.ProgressTimeBase,
			Sources: cli.EnvVars("PROGRESS_TIME_BASE"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
	}

	flags = append(flags, logFlags()...)
	flags = append(flags, stageFlags()...)

	return append(flags, eventBusFlags()...)
}

// configFrom reads every flag the command declares into a Config. Flags the command
// does not declare keep their defaults.
func configFrom(command *cli.Command) config.Config {
	cfg := config.Default()

	set := func(name string, apply func()) {
		if hasFlag(command, name) {
			apply()
		}
	}

	set("port", func() { cfg.Port = command.Int("port") })
	set("log-level", func() { cfg.LogLevel = command.String("log-level") })
	set("log-format", func() { cfg.LogFormat = command.String("log-format") })
	set("database-url", func() { cfg.DatabaseURL = command.String("database-url") })
	set("redis-url", func() { cfg.RedisURL = command.String("redis-url") })
	set("event-bus", func() { cfg.EventBus = command.String("event-bus") })
	set("kafka-brokers", func() { cfg.KafkaBrokers = command.StringSlice("kafka-brokers") })
	set("service-name", func() { cfg.ServiceName = command.String("service-name") })
	set("stages-file", func() { cfg.StagesFile = command.String("stages-file") })
	set("run-idle-ttl", func() { cfg.RunIdleTTL = command.Duration("run-idle-ttl") })
	set("janitor-schedule", func() { cfg.JanitorSchedule = command.String("janitor-schedule") })
	set("lock-ttl", func() { cfg.LockTTL = command.Duration("lock-ttl") })
	set("progress-ceiling", func() { cfg.ProgressCeiling = command.Int("progress-ceiling") })
	set("progress-cadence", func() { cfg.ProgressCadence = command.Duration("progress-cadence") })
	set("progress-time-base", func() { cfg.ProgressTimeBase = command.Duration("progress-time-base") })
	set("tracing", func() { cfg.Tracing = command.Bool("tracing") })

	set("recognition-url", func() {
		cfg.Endpoints = stages.Endpoints{
			RecognitionURL: command.String("recognition-url"),
			PricingURL:     command.String("pricing-url"),
			CreativeURL:    command.String("creative-url"),
			PublishURL:     command.String("publish-url"),
			PublishOTPURL:  command.String("publish-otp-url"),
			Timeout:        command.Duration("endpoint-timeout"),
		}
	})

	return cfg
}

func hasFlag(command *cli.Command, name string) bool {
	for _, flag := range command.Flags {
		for _, n := range flag.Names() {
			if n == name {
				return true
			}
		}
	}

	return false
}
