package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docflow/docflow/pkg/cmd"
	"github.com/docflow/docflow/pkg/triggers/schedule"
	cli "github.com/urfave/cli/v3"
)

const defaultReloadInterval = 30 * time.Second

func main() {
	command := &cli.Command{
		Name:                  "docflow-scheduler",
		Usage:                 "Run workflows on their schedule triggers",
		EnableShellCompletion: true,
		Flags: append([]cli.Flag{
			&cli.DurationFlag{
				Name:    "reload-interval",
				Usage:   "How often workflow schedules are re-read from persistence",
				Value:   defaultReloadInterval,
				Sources: cli.EnvVars("SCHEDULE_RELOAD_INTERVAL"),
			},
		}, cmd.CommonFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			rt, err := cmd.Open(ctx, command, cmd.RuntimeOptions{Service: "docflow-scheduler"})
			if err != nil {
				return err
			}

			defer func() {
				if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
					rt.Logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
				}
			}()

			scheduler := schedule.NewScheduler(rt.Logger, rt.Engine.Executor)

			return scheduler.Run(ctx, rt.Engine.Workflows.Enabled, command.Duration("reload-interval"))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		stop()
		panic(err)
	}
}
