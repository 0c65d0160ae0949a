package rag_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"docuchat/internal/chromemdb"
	"docuchat/internal/config"
	"docuchat/internal/embedding"
	"docuchat/internal/llmservice"
	"docuchat/internal/models"
	"docuchat/internal/parser"
	"docuchat/internal/rag"
	"docuchat/internal/vectorstore"
)

type letterEmbedder struct{}

func (letterEmbedder) vector(text string) []float32 {
	v := make([]float32, 27)
	v[26] = 0.01
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

type fakeModel struct {
	reply    string
	chunks   []string
	calls    int
	messages []llms.MessageContent
	err      error
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	m.messages = messages
	if m.err != nil {
		return nil, m.err
	}
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	if opts.StreamingFunc != nil {
		for _, c := range m.chunks {
			if err := opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

type fakeChat struct {
	model *fakeModel
	keys  []string
	svc   *llmservice.Service
}

func (c *fakeChat) APIKey(requestKey string) (string, error) {
	return c.svc.APIKey(requestKey)
}

func (c *fakeChat) Model(apiKey string) (llmservice.ChatModel, error) {
	c.keys = append(c.keys, apiKey)
	return c.model, nil
}

func (c *fakeChat) CallOptions() []llms.CallOption {
	return c.svc.CallOptions()
}

type fixture struct {
	rag       *rag.RAG
	model     *fakeModel
	chat      *fakeChat
	embedKeys []string
}

func newFixture(t *testing.T, serverKey string) *fixture {
	t.Helper()
	f := &fixture{model: &fakeModel{}}

	store := chromemdb.NewInMemory(chromem.NewDB(), "test")
	resolver := embedding.NewResolver(
		config.EmbedConfig{Provider: config.ProviderOpenAI, Model: "m", Key: serverKey},
		embedding.WithDimensionSource(store),
		embedding.WithClientFactory(func(_ *config.EmbedConfig, _ int, apiKey string) (embeddings.Embedder, error) {
			f.embedKeys = append(f.embedKeys, apiKey)
			return letterEmbedder{}, nil
		}),
	)
	f.chat = &fakeChat{
		model: f.model,
		svc:   llmservice.New(config.LLMConfig{Provider: config.ProviderOpenAI, Key: serverKey}),
	}
	vs := vectorstore.New(store, resolver, "default")
	f.rag = rag.NewRAG(vs, resolver, f.chat, config.RAGConfig{ChunkSize: 1000, ChunkOverlap: 200, TopK: 6})
	return f
}

func textFile(name, body string) parser.Input {
	return parser.Input{Filename: name, MimeType: "text/plain", Data: []byte(body)}
}

func TestIngest_2500CharsGivesThreeChunks(t *testing.T) {
	f := newFixture(t, "sk-server")
	body := strings.Repeat("abcdefghij", 250)

	chunks, err := f.rag.Prepare(context.Background(), "", textFile("long.txt", body))
	gt.NoError(t, err).Required()
	gt.Array(t, chunks).Length(3).Required()

	first := []rune(chunks[0].Content)
	second := []rune(chunks[1].Content)
	gt.Value(t, string(second[:200])).Equal(string(first[len(first)-200:]))

	for i, c := range chunks {
		gt.Value(t, c.Metadata.Chunk).Equal(i + 1)
		gt.Value(t, c.Metadata.Source).Equal("long.txt")
		gt.Value(t, c.Metadata.Type).Equal("text/plain")
		gt.Bool(t, c.Metadata.UploadedAt.IsZero()).False()
	}

	n, err := f.rag.Ingest(context.Background(), "", textFile("long.txt", body))
	gt.NoError(t, err)
	gt.Value(t, n).Equal(3)
}

func TestIngest_Errors(t *testing.T) {
	f := newFixture(t, "sk-server")

	_, err := f.rag.Ingest(context.Background(), "", textFile("empty.txt", "   \n "))
	gt.Error(t, err).Is(parser.ErrNoText)

	_, err = f.rag.Ingest(context.Background(), "", parser.Input{Filename: "a.bin", MimeType: "application/zip", Data: []byte("PK")})
	gt.Error(t, err).Is(parser.ErrUnsupportedType)

	noKey := newFixture(t, "")
	_, err = noKey.rag.Ingest(context.Background(), "", textFile("a.txt", "hello"))
	gt.Error(t, err).Is(embedding.ErrMissingAPIKey)
}

func TestIngest_ImageUsesCallerKey(t *testing.T) {
	f := newFixture(t, "sk-server")
	f.model.reply = "RECEIPT TOTAL 42"

	n, err := f.rag.Ingest(context.Background(), "sk-user", parser.Input{
		Filename: "scan.png",
		MimeType: "image/png",
		Data:     []byte{0x89, 'P', 'N', 'G'},
	})
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(1)
	gt.Value(t, f.chat.keys).Equal([]string{"sk-user"})
	gt.Value(t, f.embedKeys).Equal([]string{"sk-user"})
}

func TestAsk_NoContextSkipsModel(t *testing.T) {
	f := newFixture(t, "sk-server")

	res, err := f.rag.Ask(context.Background(), rag.Request{Question: "what is in my files?"})
	gt.NoError(t, err).Required()
	gt.Bool(t, strings.HasPrefix(res.Answer, "I couldn't find any indexed document context yet")).True()
	gt.Array(t, res.Sources).Length(0)
	gt.Value(t, f.model.calls).Equal(0)
}

func TestAsk_StripsCitationsAndDedupesSources(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "sk-server")

	_, err := f.rag.Ingest(ctx, "", textFile("colors.txt", "The sky is blue."))
	gt.NoError(t, err).Required()
	_, err = f.rag.Ingest(ctx, "", textFile("fruit.txt", "Bananas are yellow."))
	gt.NoError(t, err).Required()

	f.model.reply = "The sky is blue [source: colors.txt, chunk: 1]."
	res, err := f.rag.Ask(ctx, rag.Request{Question: "What color is the sky?"})
	gt.NoError(t, err).Required()
	gt.Value(t, res.Answer).Equal("The sky is blue.")
	gt.Value(t, res.Query).Equal("What color is the sky?")
	gt.Array(t, res.Sources).Length(2).Required()
	gt.Value(t, res.Sources[0]).Equal(models.SourceCitation{Source: "colors.txt", Chunk: 1, Type: "text/plain"})
	gt.Value(t, f.model.calls).Equal(1)

	// system prompt carries the formatted context
	system := f.model.messages[0].Parts[0].(llms.TextContent).Text
	gt.String(t, system).Contains("[source: colors.txt, chunk: 1]\nThe sky is blue.")
	last := f.model.messages[len(f.model.messages)-1]
	gt.Value(t, last.Role).Equal(llms.ChatMessageTypeHuman)
}

func TestAsk_EmptyAnswerFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "sk-server")
	_, err := f.rag.Ingest(ctx, "", textFile("a.txt", "some text"))
	gt.NoError(t, err).Required()

	f.model.reply = " [source: a.txt, chunk: 1] "
	res, err := f.rag.Ask(ctx, rag.Request{Question: "q"})
	gt.NoError(t, err).Required()
	gt.Value(t, res.Answer).Equal(models.EmptyAnswer)
}

func TestAsk_BYOKPrecedence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "sk-server")
	_, err := f.rag.Ingest(ctx, "", textFile("a.txt", "some text"))
	gt.NoError(t, err).Required()
	f.embedKeys = nil

	f.model.reply = "answer"
	_, err = f.rag.Ask(ctx, rag.Request{Question: "q", APIKey: "sk-user"})
	gt.NoError(t, err).Required()
	gt.Value(t, f.chat.keys).Equal([]string{"sk-user"})
	gt.Value(t, f.embedKeys).Equal([]string{"sk-user"})
}

func TestAsk_Errors(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.rag.Ask(context.Background(), rag.Request{Question: "q"})
	gt.Error(t, err).Is(embedding.ErrMissingAPIKey)

	_, err = f.rag.Ask(context.Background(), rag.Request{Question: "  ", APIKey: "sk"})
	gt.Error(t, err).Is(rag.ErrEmptyQuestion)

	ctx := context.Background()
	g := newFixture(t, "sk-server")
	_, err = g.rag.Ingest(ctx, "", textFile("a.txt", "some text"))
	gt.NoError(t, err).Required()
	boom := errors.New("upstream down")
	g.model.err = boom
	_, err = g.rag.Ask(ctx, rag.Request{Question: "q"})
	gt.Error(t, err).Is(boom)
}

func TestAsk_HistoryIsPassed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "sk-server")
	_, err := f.rag.Ingest(ctx, "", textFile("a.txt", "some text"))
	gt.NoError(t, err).Required()

	f.model.reply = "ok"
	_, err = f.rag.Ask(ctx, rag.Request{
		Question: "and then?",
		History: []models.Message{
			{Role: models.RoleUser, Content: "first"},
			{Role: models.RoleAssistant, Content: "reply"},
		},
	})
	gt.NoError(t, err).Required()
	gt.Array(t, f.model.messages).Length(4).Required()
	gt.Value(t, f.model.messages[1].Role).Equal(llms.ChatMessageTypeHuman)
	gt.Value(t, f.model.messages[2].Role).Equal(llms.ChatMessageTypeAI)
}

func TestStream(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "sk-server")
	_, err := f.rag.Ingest(ctx, "", textFile("a.txt", "some text"))
	gt.NoError(t, err).Required()

	f.model.chunks = []string{"It is ", "text [sour", "ce: a.txt, chu", "nk: 1]", "."}
	f.model.reply = strings.Join(f.model.chunks, "")

	p, err := f.rag.Retrieve(ctx, rag.Request{Question: "what?"})
	gt.NoError(t, err).Required()
	gt.Array(t, p.Sources).Length(1)

	var out strings.Builder
	answer, err := f.rag.Stream(ctx, p, &out)
	gt.NoError(t, err).Required()
	gt.Value(t, out.String()).Equal("It is text .")
	gt.Value(t, answer).Equal("It is text.")
}

func TestStream_NoContext(t *testing.T) {
	f := newFixture(t, "sk-server")
	p, err := f.rag.Retrieve(context.Background(), rag.Request{Question: "what?"})
	gt.NoError(t, err).Required()

	var out strings.Builder
	_, err = f.rag.Stream(context.Background(), p, &out)
	gt.NoError(t, err)
	gt.Value(t, out.String()).Equal(models.NoContextAnswer)
	gt.Value(t, f.model.calls).Equal(0)
}
