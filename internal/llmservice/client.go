package llmservice

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"docuchat/internal/config"
	"docuchat/internal/embedding"
)

// ChatModel is the part of llms.Model the pipeline calls.
type ChatModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// ModelFactory returns a chat model authorised with apiKey.
type ModelFactory func(apiKey string) (ChatModel, error)

// Service builds chat models from the inference config.
type Service struct {
	cfg config.LLMConfig
}

func New(cfg config.LLMConfig) *Service {
	return &Service{cfg: cfg}
}

// APIKey applies bring-your-own-key precedence for the chat provider.
func (s *Service) APIKey(requestKey string) (string, error) {
	if s.cfg.Provider == config.ProviderOllama {
		return "", nil
	}
	return embedding.ResolveAPIKey(requestKey, s.cfg.Key)
}

// Model creates a chat model for an already resolved key.
func (s *Service) Model(apiKey string) (ChatModel, error) {
	log.Debug().Str("provider", s.cfg.Provider).Str("model", s.cfg.Model).Msg("Creating chat model")

	switch s.cfg.Provider {
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(s.cfg.Model)}
		if s.cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(s.cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to initialize ollama chat model", goerr.V("model", s.cfg.Model))
		}
		return llm, nil
	default:
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(apiKey, "Bearer ")),
			openai.WithModel(s.cfg.Model),
		}
		if s.cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(s.cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to initialize openai chat model", goerr.V("model", s.cfg.Model))
		}
		return llm, nil
	}
}

// CallOptions are the per-call settings taken from config.
func (s *Service) CallOptions() []llms.CallOption {
	return []llms.CallOption{llms.WithTemperature(s.cfg.Temperature)}
}

// GenerateContent calls the model and returns the first choice.
func GenerateContent(ctx context.Context, model ChatModel, messages []llms.MessageContent, options ...llms.CallOption) (string, error) {
	res, err := model.GenerateContent(ctx, messages, options...)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content")
	}
	if len(res.Choices) == 0 {
		return "", goerr.New("model returned no choices")
	}
	return res.Choices[0].Content, nil
}

// StreamContent calls the model with a streaming callback and returns the full
// text once the stream ends.
func StreamContent(ctx context.Context, model ChatModel, messages []llms.MessageContent, onChunk func(ctx context.Context, chunk []byte) error, options ...llms.CallOption) (string, error) {
	options = append(options, llms.WithStreamingFunc(onChunk))
	return GenerateContent(ctx, model, messages, options...)
}
