package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"

	"docuchat/internal/config"
	"docuchat/internal/models"
	"docuchat/internal/rag"
)

func cmdChat(cfg **config.Config) *cli.Command {
	var (
		apiKey string
		query  string
	)

	return &cli.Command{
		Name:  "chat",
		Usage: "Ask questions about the indexed documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "query",
				Aliases:     []string{"q"},
				Usage:       "Ask one question and exit",
				Destination: &query,
			},
			&cli.StringFlag{
				Name:        "api-key",
				Usage:       "OpenAI API key for this session, overrides OPENAI_API_KEY",
				Destination: &apiKey,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := newApp(ctx, *cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			out := c.Root().Writer
			if query != "" {
				res, err := a.rag.Ask(ctx, rag.Request{Question: query, APIKey: apiKey})
				if err != nil {
					return err
				}
				printAnswer(out, res.Answer, res.Sources)
				return nil
			}
			return chatLoop(ctx, a.rag, apiKey, c.Root().Reader, out)
		},
	}
}

// chatLoop keeps one conversation until EOF or "exit".
func chatLoop(ctx context.Context, r *rag.RAG, apiKey string, in io.Reader, out io.Writer) error {
	var conv models.Conversation
	scanner := bufio.NewScanner(in)

	fmt.Fprintln(out, "Ask about your documents. Type exit to quit.")
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if question == "exit" || question == "quit" {
			return nil
		}

		res, err := r.Ask(ctx, rag.Request{Question: question, APIKey: apiKey, History: conv.Messages()})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		conv.Append(models.Message{Role: models.RoleUser, Content: question})
		conv.Append(models.Message{Role: models.RoleAssistant, Content: res.Answer, Sources: res.Sources})
		printAnswer(out, res.Answer, res.Sources)
	}
}

func printAnswer(out io.Writer, answer string, sources []models.SourceCitation) {
	fmt.Fprintf(out, "\n%s\n", answer)
	if len(sources) == 0 {
		fmt.Fprintln(out)
		return
	}
	fmt.Fprintln(out, "\nSources:")
	for _, s := range sources {
		fmt.Fprintf(out, "  - %s (chunk %d)\n", s.Source, s.Chunk)
	}
	fmt.Fprintln(out)
}
