package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"docuchat/internal/config"
	"docuchat/internal/server"
)

func cmdServe(cfg **config.Config) *cli.Command {
	var addr string

	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "Listen address, overrides server.addr and PORT",
				Destination: &addr,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			conf := *cfg
			if addr != "" {
				conf.Server.Addr = addr
			}

			a, err := newApp(ctx, conf)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Warn().Err(err).Msg("Error closing vector index")
				}
			}()

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := server.New(a.rag, conf.Server, conf.Vector.Backend)
			return srv.Run(ctx, conf.Server.Addr)
		},
	}
}
