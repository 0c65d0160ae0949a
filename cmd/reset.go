package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"docuchat/internal/config"
)

func cmdReset(cfg **config.Config) *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Delete every chunk stored in the configured namespace",
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := newApp(ctx, *cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.rag.Reset(ctx)
		},
	}
}
