package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/docflow/docflow/pkg/cmd"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "docflow-api",
		Usage:                 "Manage workflows, run executions and batches, decide approvals",
		EnableShellCompletion: true,
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		}, cmd.CommonFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			rt, err := cmd.Open(ctx, command, cmd.RuntimeOptions{
				Service:         "docflow-api",
				ResumeApprovals: true,
			})
			if err != nil {
				return err
			}

			defer func() {
				if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
					rt.Logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
				}
			}()

			rt.Logger.InfoContext(ctx, "Initializing docflow API")

			api := NewAPI(rt.Logger, rt.Engine, rt.Recorder)

			return api.Start(ctx, int(command.Int("port")))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		stop()
		panic(err)
	}
}
