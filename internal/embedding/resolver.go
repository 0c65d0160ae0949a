package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"docuchat/internal/config"
)

// DimensionSource reports the vector size an index was declared with, or 0.
type DimensionSource interface {
	Dimension(ctx context.Context) (int, error)
}

// ClientFactory builds an embedding client for a resolved model, dimension and key.
type ClientFactory func(cfg *config.EmbedConfig, dimension int, apiKey string) (embeddings.Embedder, error)

// DefaultClientFactory builds langchaingo embedders for the configured provider
// and wraps them to the requested dimension.
func DefaultClientFactory(cfg *config.EmbedConfig, dimension int, apiKey string) (embeddings.Embedder, error) {
	var (
		base embeddings.Embedder
		err  error
	)
	switch cfg.Provider {
	case config.ProviderOllama:
		base, err = NewOllamaEmbedder(cfg)
	default:
		base, err = NewOpenAIEmbedder(cfg, apiKey)
	}
	if err != nil {
		return nil, err
	}
	if dimension <= 0 {
		return base, nil
	}
	return &Sized{Base: base, Dimension: dimension}, nil
}

type clientKey struct {
	model     string
	dimension int
	apiKey    string
}

func (k clientKey) String() string {
	d := "default"
	if k.dimension > 0 {
		d = fmt.Sprint(k.dimension)
	}
	return k.model + ":" + d
}

// Resolver picks the API key and embedding dimension for a request and hands
// out embedding clients. One Resolver is created at startup and shared; the
// client cache lives as long as the process.
type Resolver struct {
	cfg        config.EmbedConfig
	defaultKey string
	source     DimensionSource
	factory    ClientFactory

	mu          sync.Mutex
	dimension   int
	dimResolved bool
	clients     map[clientKey]embeddings.Embedder
}

type Option func(*Resolver)

func WithClientFactory(f ClientFactory) Option {
	return func(r *Resolver) { r.factory = f }
}

// WithDimensionSource lets the resolver ask the vector index for its dimension
// when none is configured.
func WithDimensionSource(s DimensionSource) Option {
	return func(r *Resolver) { r.source = s }
}

func NewResolver(cfg config.EmbedConfig, opts ...Option) *Resolver {
	r := &Resolver{
		cfg:        cfg,
		defaultKey: cfg.Key,
		factory:    DefaultClientFactory,
		clients:    make(map[clientKey]embeddings.Embedder),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RequiresKey is false for providers that run without credentials.
func (r *Resolver) RequiresKey() bool {
	return r.cfg.Provider != config.ProviderOllama
}

// APIKey applies bring-your-own-key precedence.
func (r *Resolver) APIKey(requestKey string) (string, error) {
	if !r.RequiresKey() {
		return "", nil
	}
	return ResolveAPIKey(requestKey, r.defaultKey)
}

// Dimension returns the configured dimension, else the one declared by the
// index. A successful lookup is cached; 0 means "model default".
func (r *Resolver) Dimension(ctx context.Context) (int, error) {
	if r.cfg.Dimension > 0 {
		return r.cfg.Dimension, nil
	}

	r.mu.Lock()
	if r.dimResolved {
		d := r.dimension
		r.mu.Unlock()
		return d, nil
	}
	r.mu.Unlock()

	if r.source == nil {
		return 0, nil
	}

	// probed without the lock; concurrent first calls may probe twice
	d, err := r.source.Dimension(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to read index dimension")
	}

	r.mu.Lock()
	r.dimension, r.dimResolved = d, true
	r.mu.Unlock()

	log.Debug().Int("dimension", d).Msg("Resolved embedding dimension from index")
	return d, nil
}

// Embedder returns the cached client for (model, dimension, key), creating it
// on first use.
func (r *Resolver) Embedder(ctx context.Context, requestKey string) (embeddings.Embedder, error) {
	apiKey, err := r.APIKey(requestKey)
	if err != nil {
		return nil, err
	}
	dim, err := r.Dimension(ctx)
	if err != nil {
		return nil, err
	}

	key := clientKey{model: r.cfg.Model, dimension: dim, apiKey: apiKey}

	r.mu.Lock()
	client, ok := r.clients[key]
	r.mu.Unlock()
	if ok {
		return client, nil
	}

	client, err = r.factory(&r.cfg, dim, apiKey)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.clients[key]; ok {
		client = existing
	} else {
		r.clients[key] = client
	}
	r.mu.Unlock()

	log.Debug().Str("client", key.String()).Msg("Created embedding client")
	return client, nil
}

// CachedClients reports how many clients have been built.
func (r *Resolver) CachedClients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
