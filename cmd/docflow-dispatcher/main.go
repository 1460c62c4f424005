package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/docflow/docflow/pkg/cmd"
	"github.com/docflow/docflow/pkg/events"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "docflow-dispatcher",
		Usage:                 "Run workflows in response to document events",
		EnableShellCompletion: true,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "dispatcher-id",
				Aliases: []string{"id"},
				Usage:   "Custom dispatcher ID (auto-generated if not provided)",
				Sources: cli.EnvVars("DISPATCHER_ID"),
			},
			&cli.StringFlag{
				Name:    "consumer-group",
				Usage:   "Kafka consumer group shared by dispatcher replicas",
				Value:   "docflow-dispatcher",
				Sources: cli.EnvVars("CONSUMER_GROUP"),
			},
		}, cmd.CommonFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			dispatcherID := command.String("dispatcher-id")
			if dispatcherID == "" {
				dispatcherID = "dispatcher-" + uuid.New().String()[:8]
			}

			rt, err := cmd.Open(ctx, command, cmd.RuntimeOptions{
				Service:       "docflow-dispatcher",
				ConsumerGroup: command.String("consumer-group"),
			})
			if err != nil {
				return err
			}

			defer func() {
				if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
					rt.Logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
				}
			}()

			logger := rt.Logger.With("dispatcher_id", dispatcherID)

			documents, err := cmd.NewEventBus(logger, cmd.EventBusConfig{
				Provider:      command.String("event-bus"),
				KafkaBrokers:  command.String("kafka-brokers"),
				ConsumerGroup: command.String("consumer-group"),
			}, events.DocumentsTopic)
			if err != nil {
				return fmt.Errorf("failed to open document event bus: %w", err)
			}

			defer func() {
				if err := documents.Close(); err != nil {
					logger.Error("Failed to close document event bus", "error", err)
				}
			}()

			return NewDispatcher(dispatcherID, rt.Engine, documents, logger).Start(ctx)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		stop()
		panic(err)
	}
}
