// Package vectorstore embeds chunks and queries them through a vector index.
//
// The index itself is a Store (chromem, postgres or qdrant). VectorStore
// pairs one shared Store with the embedding Resolver so every call can use the
// caller's own API key while the index handle stays process-wide.
package vectorstore

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog/log"

	"docuchat/internal/embedding"
	"docuchat/internal/models"
)

// Store is a vector index.
type Store interface {
	Upsert(ctx context.Context, namespace string, records []models.Record) error
	Query(ctx context.Context, namespace string, vector []float32, k int) ([]models.Match, error)
	// Dimension is the vector size the index was declared with, 0 if none.
	Dimension(ctx context.Context) (int, error)
	Close() error
}

type VectorStore struct {
	store     Store
	resolver  *embedding.Resolver
	namespace string
}

func New(store Store, resolver *embedding.Resolver, namespace string) *VectorStore {
	return &VectorStore{store: store, resolver: resolver, namespace: namespace}
}

// ChunkID derives a stable id so re-uploading a file replaces its chunks.
func ChunkID(namespace string, meta models.ChunkMetadata) string {
	name := namespace + ":" + meta.Source + ":" + strconv.Itoa(meta.Chunk)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// AddDocuments embeds all chunks and upserts them in one call.
func (v *VectorStore) AddDocuments(ctx context.Context, apiKey string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	embedder, err := v.resolver.Embedder(ctx, apiKey)
	if err != nil {
		return err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return goerr.Wrap(err, "failed to embed chunks", goerr.V("count", len(chunks)))
	}
	if len(vectors) != len(chunks) {
		return goerr.New("embedder returned wrong number of vectors",
			goerr.V("chunks", len(chunks)), goerr.V("vectors", len(vectors)))
	}

	records := make([]models.Record, len(chunks))
	for i, c := range chunks {
		records[i] = models.Record{
			ID:        ChunkID(v.namespace, c.Metadata),
			Chunk:     c,
			Embedding: vectors[i],
		}
	}

	if err := v.store.Upsert(ctx, v.namespace, records); err != nil {
		return goerr.Wrap(err, "failed to upsert chunks", goerr.V("namespace", v.namespace))
	}
	log.Debug().Int("chunks", len(records)).Str("namespace", v.namespace).Msg("Stored chunks")
	return nil
}

// Retriever returns the top K chunks for a query.
type Retriever struct {
	vs     *VectorStore
	k      int
	apiKey string
}

func (v *VectorStore) AsRetriever(k int, apiKey string) *Retriever {
	return &Retriever{vs: v, k: k, apiKey: apiKey}
}

// Invoke embeds the query and returns the nearest chunks, best first.
func (r *Retriever) Invoke(ctx context.Context, query string) ([]models.Chunk, error) {
	matches, err := r.InvokeWithScores(ctx, query)
	if err != nil {
		return nil, err
	}
	chunks := make([]models.Chunk, len(matches))
	for i, m := range matches {
		chunks[i] = m.Chunk
	}
	return chunks, nil
}

func (r *Retriever) InvokeWithScores(ctx context.Context, query string) ([]models.Match, error) {
	embedder, err := r.vs.resolver.Embedder(ctx, r.apiKey)
	if err != nil {
		return nil, err
	}
	vector, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query")
	}
	matches, err := r.vs.store.Query(ctx, r.vs.namespace, vector, r.k)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query index", goerr.V("k", r.k))
	}
	log.Debug().Int("matches", len(matches)).Int("k", r.k).Msg("Retrieved chunks")
	return matches, nil
}

// Dimension exposes the resolved embedding dimension.
func (v *VectorStore) Dimension(ctx context.Context) (int, error) {
	return v.resolver.Dimension(ctx)
}

func (v *VectorStore) Close() error {
	return v.store.Close()
}
