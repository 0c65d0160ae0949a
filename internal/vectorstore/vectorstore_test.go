package vectorstore_test

import (
	"context"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/embeddings"

	"docuchat/internal/chromemdb"
	"docuchat/internal/config"
	"docuchat/internal/embedding"
	"docuchat/internal/models"
	"docuchat/internal/vectorstore"
)

// letterEmbedder counts letters, so texts sharing words end up close.
type letterEmbedder struct{}

func (letterEmbedder) vector(text string) []float32 {
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v
}

func (e letterEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e letterEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func newStore(t *testing.T, keys *[]string) *vectorstore.VectorStore {
	t.Helper()
	store := chromemdb.NewInMemory(chromem.NewDB(), "test")
	resolver := embedding.NewResolver(
		config.EmbedConfig{Provider: config.ProviderOpenAI, Model: "m", Key: "sk-server"},
		embedding.WithDimensionSource(store),
		embedding.WithClientFactory(func(_ *config.EmbedConfig, _ int, apiKey string) (embeddings.Embedder, error) {
			if keys != nil {
				*keys = append(*keys, apiKey)
			}
			return letterEmbedder{}, nil
		}),
	)
	return vectorstore.New(store, resolver, "default")
}

func chunk(source string, n int, content string) models.Chunk {
	return models.Chunk{
		Content:  content,
		Metadata: models.ChunkMetadata{Source: source, Type: "text/plain", Chunk: n},
	}
}

func TestChunkIDIsStable(t *testing.T) {
	meta := models.ChunkMetadata{Source: "a.txt", Chunk: 2}
	gt.Value(t, vectorstore.ChunkID("ns", meta)).Equal(vectorstore.ChunkID("ns", meta))
	gt.Bool(t, vectorstore.ChunkID("ns", meta) != vectorstore.ChunkID("other", meta)).True()
	gt.Bool(t, vectorstore.ChunkID("ns", meta) != vectorstore.ChunkID("ns", models.ChunkMetadata{Source: "a.txt", Chunk: 3})).True()
}

func TestAddAndRetrieve(t *testing.T) {
	ctx := context.Background()
	vs := newStore(t, nil)

	gt.NoError(t, vs.AddDocuments(ctx, "", []models.Chunk{
		chunk("zoo.txt", 1, "zebra zebra zoo"),
		chunk("cake.txt", 1, "bake a cake"),
		chunk("cake.txt", 2, "cake batter"),
	})).Required()

	chunks, err := vs.AsRetriever(2, "").Invoke(ctx, "cake")
	gt.NoError(t, err).Required()
	gt.Array(t, chunks).Length(2).Required()
	for _, c := range chunks {
		gt.Value(t, c.Metadata.Source).Equal("cake.txt")
	}

	// fewer chunks than k
	chunks, err = vs.AsRetriever(10, "").Invoke(ctx, "zebra")
	gt.NoError(t, err).Required()
	gt.Array(t, chunks).Length(3)
	gt.Value(t, chunks[0].Metadata.Source).Equal("zoo.txt")
}

func TestReuploadReplacesChunks(t *testing.T) {
	ctx := context.Background()
	vs := newStore(t, nil)

	gt.NoError(t, vs.AddDocuments(ctx, "", []models.Chunk{chunk("a.txt", 1, "first version")})).Required()
	gt.NoError(t, vs.AddDocuments(ctx, "", []models.Chunk{chunk("a.txt", 1, "second version")})).Required()

	chunks, err := vs.AsRetriever(6, "").Invoke(ctx, "version")
	gt.NoError(t, err).Required()
	gt.Array(t, chunks).Length(1).Required()
	gt.Value(t, chunks[0].Content).Equal("second version")
}

func TestEmptyIndexRetrievesNothing(t *testing.T) {
	vs := newStore(t, nil)
	chunks, err := vs.AsRetriever(6, "").Invoke(context.Background(), "anything")
	gt.NoError(t, err)
	gt.Array(t, chunks).Length(0)
}

func TestRequestKeyReachesEmbedder(t *testing.T) {
	var keys []string
	vs := newStore(t, &keys)
	ctx := context.Background()

	gt.NoError(t, vs.AddDocuments(ctx, "sk-user", []models.Chunk{chunk("a.txt", 1, "hello")})).Required()
	_, err := vs.AsRetriever(6, "").Invoke(ctx, "hello")
	gt.NoError(t, err).Required()

	gt.Value(t, keys).Equal([]string{"sk-user", "sk-server"})
}

func TestAddNothing(t *testing.T) {
	vs := newStore(t, nil)
	gt.NoError(t, vs.AddDocuments(context.Background(), "", nil))
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	vs := newStore(t, nil)

	gt.NoError(t, vs.AddDocuments(ctx, "", []models.Chunk{chunk("a.txt", 1, "hello")})).Required()
	gt.NoError(t, vs.Reset(ctx)).Required()

	chunks, err := vs.AsRetriever(6, "").Invoke(ctx, "hello")
	gt.NoError(t, err)
	gt.Array(t, chunks).Length(0)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := vectorstore.Open(context.Background(), &config.Config{Vector: config.VectorConfig{Backend: "pinecone"}})
	gt.Error(t, err).Is(config.ErrInvalidConfig)
}

func TestOpenChromem(t *testing.T) {
	cfg := &config.Config{
		Vector:  config.VectorConfig{Backend: config.BackendChromem},
		Chromem: config.ChromemConfig{Path: t.TempDir(), Collection: "docs"},
	}
	store, err := vectorstore.Open(context.Background(), cfg)
	gt.NoError(t, err).Required()
	defer store.Close()

	dim, err := store.Dimension(context.Background())
	gt.NoError(t, err)
	gt.Value(t, dim).Equal(0)
}
