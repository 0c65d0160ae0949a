package embedding

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"docuchat/internal/config"
)

var (
	ErrMissingAPIKey     = errors.New("missing OpenAI API key: provide your own key or set OPENAI_API_KEY on the server")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// ResolveAPIKey returns the request key when present, else the server default.
func ResolveAPIKey(requestKey, defaultKey string) (string, error) {
	if k := strings.TrimSpace(requestKey); k != "" {
		return k, nil
	}
	if k := strings.TrimSpace(defaultKey); k != "" {
		return k, nil
	}
	return "", ErrMissingAPIKey
}

// NewOpenAIEmbedder creates an OpenAI (or OpenAI-compatible) embedder.
func NewOpenAIEmbedder(cfg *config.EmbedConfig, apiKey string) (*embeddings.EmbedderImpl, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(apiKey, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to initialize openai client", goerr.V("model", cfg.Model))
	}
	embedder, err := embeddings.NewEmbedder(llm, batchOptions(cfg)...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedder", goerr.V("model", cfg.Model))
	}
	return embedder, nil
}

// NewOllamaEmbedder creates an embedder backed by a local Ollama server.
func NewOllamaEmbedder(cfg *config.EmbedConfig) (*embeddings.EmbedderImpl, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to initialize ollama client", goerr.V("model", cfg.Model))
	}
	embedder, err := embeddings.NewEmbedder(llm, batchOptions(cfg)...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedder", goerr.V("model", cfg.Model))
	}
	return embedder, nil
}

func batchOptions(cfg *config.EmbedConfig) []embeddings.Option {
	if cfg.BatchSize <= 0 {
		return nil
	}
	return []embeddings.Option{embeddings.WithBatchSize(cfg.BatchSize)}
}

// Sized projects vectors from Base onto Dimension components. Longer vectors are
// truncated and renormalized, which is how text-embedding-3 models shorten
// embeddings. Shorter vectors cannot be widened.
type Sized struct {
	Base      embeddings.Embedder
	Dimension int
}

var _ embeddings.Embedder = (*Sized)(nil)

func (s *Sized) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := s.Base.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed documents", goerr.V("count", len(texts)))
	}
	for i, v := range vectors {
		if vectors[i], err = fit(v, s.Dimension); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

func (s *Sized) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := s.Base.EmbedQuery(ctx, text)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query")
	}
	return fit(v, s.Dimension)
}

func fit(v []float32, dim int) ([]float32, error) {
	if dim <= 0 || len(v) == dim {
		return v, nil
	}
	if len(v) < dim {
		return nil, goerr.Wrap(ErrDimensionMismatch, "model returned fewer components than the index expects",
			goerr.V("got", len(v)), goerr.V("want", dim))
	}
	log.Trace().Int("from", len(v)).Int("to", dim).Msg("Truncating embedding")
	return normalize(v[:dim:dim]), nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
