package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"docuchat/internal/config"
	"docuchat/internal/helper"
	"docuchat/internal/parser"
	"docuchat/internal/rag"
)

func readInput(path string) (parser.Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return parser.Input{}, goerr.Wrap(err, "failed to read file", goerr.V("path", path))
	}
	return parser.Input{Filename: filepath.Base(path), Data: data}, nil
}

func cmdIngest(cfg **config.Config) *cli.Command {
	var (
		apiKey string
		dryRun bool
	)

	return &cli.Command{
		Name:      "ingest",
		Usage:     "Extract, chunk, embed and store local files",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "api-key",
				Usage:       "OpenAI API key for this run, overrides OPENAI_API_KEY",
				Destination: &apiKey,
			},
			&cli.BoolFlag{
				Name:        "dry-run",
				Usage:       "Print the chunks instead of storing them",
				Destination: &dryRun,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			paths := c.Args().Slice()
			if len(paths) == 0 {
				return goerr.New("at least one file is required")
			}

			if dryRun {
				return printChunks(ctx, newOffline(*cfg), apiKey, paths)
			}

			a, err := newApp(ctx, *cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, path := range paths {
				in, err := readInput(path)
				if err != nil {
					return err
				}
				n, err := a.rag.Ingest(ctx, apiKey, in)
				if err != nil {
					return goerr.Wrap(err, "failed to ingest file", goerr.V("path", path))
				}
				fmt.Fprintf(c.Root().Writer, "%s: %d chunks stored\n", in.Filename, n)
			}
			return nil
		},
	}
}

func printChunks(ctx context.Context, r *rag.RAG, apiKey string, paths []string) error {
	for _, path := range paths {
		in, err := readInput(path)
		if err != nil {
			return err
		}
		chunks, err := r.Prepare(ctx, apiKey, in)
		if err != nil {
			return goerr.Wrap(err, "failed to prepare file", goerr.V("path", path))
		}
		log.Info().Str("file", in.Filename).Int("chunks", len(chunks)).Msg("Parsed content")
		helper.PrettyPrint(os.Stdout, chunks)
	}
	return nil
}
