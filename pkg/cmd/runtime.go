package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/docflow/docflow/pkg/config"
	"github.com/docflow/docflow/pkg/eventbus"
	"github.com/docflow/docflow/pkg/events"
	"github.com/docflow/docflow/pkg/log"
	"github.com/docflow/docflow/pkg/metrics"
	"github.com/docflow/docflow/pkg/otelhelper"
	"github.com/docflow/docflow/pkg/services"
	cli "github.com/urfave/cli/v3"
)

// CommonFlags are shared by every docflow binary.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the engine tuning file",
			Sources: cli.EnvVars("CONFIG"),
		},
		&cli.StringFlag{
			Name:  "plugins-path",
			Usage: "Path to the directory containing action plugins",
			Value: "./plugins",
		},
		&cli.StringFlag{
			Name:    "content-url",
			Usage:   "Base URL of the content service",
			Sources: cli.EnvVars("CONTENT_URL"),
		},
		&cli.StringFlag{
			Name:    "analysis-url",
			Usage:   "Base URL of the analysis service",
			Sources: cli.EnvVars("ANALYSIS_URL"),
		},
		&cli.StringFlag{
			Name:    "notification-url",
			Usage:   "Base URL of the notification service",
			Sources: cli.EnvVars("NOTIFICATION_URL"),
		},
		&cli.StringFlag{
			Name:    "collaborator-token",
			Usage:   "Bearer token sent to the collaborator services",
			Sources: cli.EnvVars("COLLABORATOR_TOKEN"),
		},
		&cli.DurationFlag{
			Name:    "collaborator-timeout",
			Usage:   "Timeout of one collaborator request",
			Sources: cli.EnvVars("COLLABORATOR_TIMEOUT"),
		},
		&cli.FloatFlag{
			Name:    "collaborator-rate",
			Usage:   "Requests per second sent to each collaborator, zero for unlimited",
			Sources: cli.EnvVars("COLLABORATOR_RATE"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

// Runtime is the engine of one binary plus the resources it owns.
type Runtime struct {
	Logger   *slog.Logger
	Engine   *services.Engine
	Bus      eventbus.EventBus
	Recorder *metrics.Recorder

	closers []func(ctx context.Context) error
}

// RuntimeOptions tune Open per binary.
type RuntimeOptions struct {
	Service         string
	ConsumerGroup   string
	ResumeApprovals bool
}

// Open reads the common flags and wires logging, tracing, persistence, the
// lifecycle event bus and the engine.
func Open(ctx context.Context, command *cli.Command, opts RuntimeOptions) (*Runtime, error) {
	log.Setup(command.String("log-level"))

	rt := &Runtime{
		Logger:   log.WithModule(opts.Service),
		Recorder: metrics.NewRecorder(),
	}

	engineConfig, err := config.Load(command.String("config"))
	if err != nil {
		return nil, err
	}

	tracer := otelhelper.Noop()

	if command.Bool("tracing") {
		var shutdown otelhelper.ShutdownFunc

		tracer, shutdown, err = otelhelper.NewTracer(ctx, opts.Service)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}

		rt.closers = append(rt.closers, shutdown)
	}

	store, err := NewPersistence(ctx, rt.Logger, command.String("database-url"))
	if err != nil {
		return nil, rt.abort(ctx, err)
	}

	bus, err := NewEventBus(rt.Logger, EventBusConfig{
		Provider:      command.String("event-bus"),
		KafkaBrokers:  command.String("kafka-brokers"),
		ConsumerGroup: opts.ConsumerGroup,
	}, events.Topic)
	if err != nil {
		_ = store.Close(ctx)

		return nil, rt.abort(ctx, err)
	}

	rt.Bus = bus
	rt.closers = append(rt.closers, func(context.Context) error { return bus.Close() })

	engine, err := NewEngine(ctx, rt.Logger, store, EngineConfig{
		Config: engineConfig,
		Collaborators: NewCollaborators(rt.Logger, CollaboratorsConfig{
			ContentURL:      command.String("content-url"),
			AnalysisURL:     command.String("analysis-url"),
			NotificationURL: command.String("notification-url"),
			Token:           command.String("collaborator-token"),
			Timeout:         command.Duration("collaborator-timeout"),
			RatePerSecond:   command.Float("collaborator-rate"),
		}),
		PluginsPath:     command.String("plugins-path"),
		Tracer:          tracer,
		Recorder:        rt.Recorder,
		Publisher:       bus,
		ResumeApprovals: opts.ResumeApprovals,
	})
	if err != nil {
		_ = store.Close(ctx)

		return nil, rt.abort(ctx, err)
	}

	rt.Engine = engine
	rt.closers = append(rt.closers, engine.Close)

	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error

	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (rt *Runtime) abort(ctx context.Context, err error) error {
	return errors.Join(err, rt.Close(ctx))
}
