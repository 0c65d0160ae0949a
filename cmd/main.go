package main

import (
	"context"
	"errors"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"docuchat/internal/config"
	"docuchat/internal/helper"
)

const configFilePath = "./configs/config.yaml"

func main() {
	if err := run(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("docuchat failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var (
		configPath string
		logLevel   string
		logConsole bool
		cfg        *config.Config
	)

	app := &cli.Command{
		Name:  "docuchat",
		Usage: "Chat with your documents: upload files, then ask questions answered from their content",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to the YAML config file",
				Value:       configFilePath,
				Sources:     cli.EnvVars("DOCUCHAT_CONFIG"),
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Log level (debug, info, warn, error)",
				Destination: &logLevel,
			},
			&cli.BoolFlag{
				Name:        "log-console",
				Usage:       "Human readable console logs instead of JSON",
				Sources:     cli.EnvVars("LOG_CONSOLE"),
				Destination: &logConsole,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return ctx, err
			}

			loaded, err := config.LoadConfig(configPath)
			if err != nil {
				return ctx, err
			}
			if logLevel != "" {
				loaded.Log.Level = logLevel
			}
			if logConsole {
				loaded.Log.Console = true
			}
			helper.InitLogger(loaded.Log.Level, loaded.Log.Console)
			log.Debug().Interface("config", loaded.Redacted()).Msg("Loaded config")

			cfg = loaded
			return ctx, nil
		},
		Commands: []*cli.Command{
			cmdServe(&cfg),
			cmdIngest(&cfg),
			cmdChat(&cfg),
			cmdReset(&cfg),
		},
	}

	return app.Run(ctx, args)
}
