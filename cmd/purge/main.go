package main

import (
	"context"
	"os"

	"github.com/timmy/tweetpurge/internal/logger"
	"github.com/urfave/cli/v3"
)

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)

	configFlag := &cli.StringFlag{
		Name:    "config",
		Usage:   "path to a YAML config file",
		Sources: cli.EnvVars("CONFIG_PATH"),
	}

	app := &cli.Command{
		Name:  "purge",
		Usage: "bulk delete your posts on X from the terminal",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "delete every post of the account behind the token",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:     "token",
						Usage:    "OAuth2 user access token",
						Sources:  cli.EnvVars("X_ACCESS_TOKEN"),
						Required: true,
					},
					&cli.StringFlag{
						Name:  "user-id",
						Usage: "X user id, looked up from the token when empty",
					},
					&cli.DurationFlag{
						Name:  "poll",
						Usage: "progress poll interval, overrides deletion.poll_interval",
					},
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "skip the confirmation prompt",
					},
				},
				Action: runAction,
			},
			{
				Name:  "history",
				Usage: "list archived deletion runs",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:     "owner",
						Usage:    "X user id whose runs to list",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "maximum number of runs",
						Value: 20,
					},
				},
				Action: historyAction,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		appLogger.WithError(err).Error("Command failed")
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}
