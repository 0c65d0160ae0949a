package rag

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"docuchat/internal/chunker"
	"docuchat/internal/config"
	"docuchat/internal/embedding"
	"docuchat/internal/llmservice"
	"docuchat/internal/models"
	"docuchat/internal/parser"
	"docuchat/internal/vectorstore"
)

var ErrEmptyQuestion = errors.New("question is empty")

// ChatProvider hands out chat models for a caller's key.
type ChatProvider interface {
	APIKey(requestKey string) (string, error)
	Model(apiKey string) (llmservice.ChatModel, error)
	CallOptions() []llms.CallOption
}

type RAG struct {
	store    *vectorstore.VectorStore
	resolver *embedding.Resolver
	chat     ChatProvider
	splitter *chunker.Splitter
	topK     int
	now      func() time.Time
}

func NewRAG(store *vectorstore.VectorStore, resolver *embedding.Resolver, chat ChatProvider, cfg config.RAGConfig) *RAG {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 6
	}
	return &RAG{
		store:    store,
		resolver: resolver,
		chat:     chat,
		splitter: chunker.New(cfg.ChunkSize, cfg.ChunkOverlap),
		topK:     topK,
		now:      time.Now,
	}
}

// modelOCR builds the vision model only when an image is actually uploaded.
type modelOCR struct {
	chat   ChatProvider
	apiKey string
}

func (o *modelOCR) Recognize(ctx context.Context, data []byte, mimeType string) (string, error) {
	key, err := o.chat.APIKey(o.apiKey)
	if err != nil {
		return "", err
	}
	model, err := o.chat.Model(key)
	if err != nil {
		return "", err
	}
	return (&llmservice.VisionOCR{Model: model}).Recognize(ctx, data, mimeType)
}

// Prepare extracts and chunks a file without storing it. Chunk indices start
// at 1 and follow document order.
func (r *RAG) Prepare(ctx context.Context, apiKey string, in parser.Input) ([]models.Chunk, error) {
	text, err := parser.Extract(ctx, in, &modelOCR{chat: r.chat, apiKey: apiKey})
	if err != nil {
		return nil, err
	}

	normalized := chunker.Normalize(text)
	parts, err := r.splitter.Split(normalized)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, goerr.Wrap(chunker.ErrNoChunks, "failed to chunk text",
			goerr.V("filename", in.Filename), goerr.V("length", len(normalized)))
	}

	mimeType := parser.DetectMIME(in.Filename, in.MimeType, in.Data)
	uploadedAt := r.now().UTC()
	chunks := make([]models.Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = models.Chunk{
			Content: p,
			Metadata: models.ChunkMetadata{
				Source:     in.Filename,
				Type:       mimeType,
				Chunk:      i + 1,
				UploadedAt: uploadedAt,
			},
		}
	}
	log.Debug().Str("filename", in.Filename).Int("chars", len(normalized)).Int("chunks", len(chunks)).Msg("Chunked document")
	return chunks, nil
}

// RequireKey fails with embedding.ErrMissingAPIKey when neither the request
// nor the server has a key for the embedding provider.
func (r *RAG) RequireKey(apiKey string) error {
	_, err := r.resolver.APIKey(apiKey)
	return err
}

// Store embeds and upserts prepared chunks.
func (r *RAG) Store(ctx context.Context, apiKey string, chunks []models.Chunk) error {
	return r.store.AddDocuments(ctx, apiKey, chunks)
}

// Ingest extracts, chunks, embeds and stores a file, returning the chunk
// count. A missing key fails before any work is done.
func (r *RAG) Ingest(ctx context.Context, apiKey string, in parser.Input) (int, error) {
	if err := r.RequireKey(apiKey); err != nil {
		return 0, err
	}

	chunks, err := r.Prepare(ctx, apiKey, in)
	if err != nil {
		return 0, err
	}
	if err := r.Store(ctx, apiKey, chunks); err != nil {
		return 0, err
	}

	log.Info().Str("filename", in.Filename).Int("chunks", len(chunks)).Msg("Stored document")
	return len(chunks), nil
}

// Request is one question.
type Request struct {
	Question string
	APIKey   string
	History  []models.Message
}

// Prepared is a question with its retrieved context, ready for the model.
type Prepared struct {
	Question string
	History  []models.Message
	Chunks   []models.Chunk
	Sources  []models.SourceCitation

	chatKey string
}

// Retrieve resolves the key and fetches the top K chunks for the question.
func (r *RAG) Retrieve(ctx context.Context, req Request) (*Prepared, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	chatKey, err := r.chat.APIKey(req.APIKey)
	if err != nil {
		return nil, err
	}
	if err := r.RequireKey(req.APIKey); err != nil {
		return nil, err
	}

	chunks, err := r.store.AsRetriever(r.topK, req.APIKey).Invoke(ctx, question)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("chunks", len(chunks)).Msg("Retrieved context")

	return &Prepared{
		Question: question,
		History:  req.History,
		Chunks:   chunks,
		Sources:  DedupeSources(chunks),
		chatKey:  chatKey,
	}, nil
}

func (r *RAG) messages(p *Prepared) []llms.MessageContent {
	return BuildMessages(FormatContext(p.Chunks), p.History, p.Question)
}

// Generate answers a prepared question. Without context the model is not
// called.
func (r *RAG) Generate(ctx context.Context, p *Prepared) (string, error) {
	if len(p.Chunks) == 0 {
		return models.NoContextAnswer, nil
	}
	model, err := r.chat.Model(p.chatKey)
	if err != nil {
		return "", err
	}

	raw, err := llmservice.GenerateContent(ctx, model, r.messages(p), r.chat.CallOptions()...)
	if err != nil {
		return "", err
	}
	answer := CleanAnswer(raw)
	if answer == "" {
		log.Warn().Int("raw", len(raw)).Msg("Model answer was empty after cleaning")
		return models.EmptyAnswer, nil
	}
	return answer, nil
}

// Stream writes the answer to w as it is generated, with citation markup
// filtered out, and returns the cleaned full answer.
func (r *RAG) Stream(ctx context.Context, p *Prepared, w io.Writer) (string, error) {
	if len(p.Chunks) == 0 {
		_, err := io.WriteString(w, models.NoContextAnswer)
		return models.NoContextAnswer, err
	}
	model, err := r.chat.Model(p.chatKey)
	if err != nil {
		return "", err
	}

	filter := newCitationFilter(w)
	raw, err := llmservice.StreamContent(ctx, model, r.messages(p), func(_ context.Context, chunk []byte) error {
		_, err := filter.Write(chunk)
		return err
	}, r.chat.CallOptions()...)
	if err != nil {
		return "", err
	}
	if err := filter.Flush(); err != nil {
		return "", goerr.Wrap(err, "failed to write answer")
	}

	answer := CleanAnswer(raw)
	if answer == "" || !filter.Wrote() {
		if _, err := io.WriteString(w, models.EmptyAnswer); err != nil {
			return "", goerr.Wrap(err, "failed to write answer")
		}
		return models.EmptyAnswer, nil
	}
	return answer, nil
}

// Ask retrieves context and answers in one call.
func (r *RAG) Ask(ctx context.Context, req Request) (*models.PromptResponse, error) {
	p, err := r.Retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	answer, err := r.Generate(ctx, p)
	if err != nil {
		return nil, err
	}
	return &models.PromptResponse{
		Query:   p.Question,
		Answer:  answer,
		Sources: p.Sources,
	}, nil
}

// Reset drops every chunk of the configured namespace.
func (r *RAG) Reset(ctx context.Context) error {
	return r.store.Reset(ctx)
}

// Dimension is the embedding dimension in use, 0 for the model default.
func (r *RAG) Dimension(ctx context.Context) (int, error) {
	return r.store.Dimension(ctx)
}
