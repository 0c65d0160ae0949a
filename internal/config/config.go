package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	InferLLM LLMConfig      `yaml:"infer_llm"`
	EmbedLLM EmbedConfig    `yaml:"embed_llm"`
	RAG      RAGConfig      `yaml:"rag"`
	Vector   VectorConfig   `yaml:"vector"`
	Chromem  ChromemConfig  `yaml:"chromem"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	Database DatabaseConfig `yaml:"database"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MaxUploadMB int64  `yaml:"max_upload_mb"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// LLMConfig configures the chat model. Key is the server default used when
// a request does not bring its own.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

type EmbedConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Key      string `yaml:"key"`
	Model    string `yaml:"model"`
	// Dimension forces the embedding size; 0 asks the vector index.
	Dimension int `yaml:"dimension"`
	BatchSize int `yaml:"batch_size"`
}

type RAGConfig struct {
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	TopK         int    `yaml:"top_k"`
	Namespace    string `yaml:"namespace"`
}

type VectorConfig struct {
	Backend string `yaml:"backend"`
}

type ChromemConfig struct {
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type DatabaseConfig struct {
	// Driver is "pgdriver" (bun's native driver) or "pq".
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
	Debug    bool   `yaml:"debug"`
}

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	BackendChromem  = "chromem"
	BackendQdrant   = "qdrant"
	BackendPostgres = "postgres"

	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
	defaultTopK         = 6
	defaultChatModel    = "gpt-4o-mini"
	defaultEmbedModel   = "text-embedding-3-small"
	defaultIndexName    = "docuchat-index"
)

// LoadConfig reads the YAML file at path, then applies environment overrides
// and defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, goerr.Wrap(err, "failed to parse config", goerr.V("path", path))
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, goerr.Wrap(err, "failed to read config", goerr.V("path", path))
	}

	applyEnv(&cfg, os.LookupEnv)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	// one OpenAI key serves both the chat and the embedding client
	str("OPENAI_API_KEY", &cfg.InferLLM.Key)
	str("OPENAI_API_KEY", &cfg.EmbedLLM.Key)
	str("OPENAI_BASE_URL", &cfg.InferLLM.BaseURL)
	str("OPENAI_BASE_URL", &cfg.EmbedLLM.BaseURL)
	str("OPENAI_CHAT_MODEL", &cfg.InferLLM.Model)
	str("OPENAI_EMBEDDING_MODEL", &cfg.EmbedLLM.Model)
	num("EMBEDDING_DIMENSIONS", &cfg.EmbedLLM.Dimension)

	str("VECTOR_BACKEND", &cfg.Vector.Backend)
	str("VECTOR_NAMESPACE", &cfg.RAG.Namespace)
	str("QDRANT_URL", &cfg.Qdrant.URL)
	str("QDRANT_API_KEY", &cfg.Qdrant.APIKey)
	str("QDRANT_COLLECTION", &cfg.Qdrant.Collection)
	str("DATABASE_URL", &cfg.Database.DSN)
	str("DATABASE_PASSWORD", &cfg.Database.Password)
	str("CHROMEM_PATH", &cfg.Chromem.Path)
	str("CHROMEM_ENCRYPTION_KEY", &cfg.Chromem.EncryptionKey)
	str("LOG_LEVEL", &cfg.Log.Level)

	if port, ok := lookup("PORT"); ok && strings.TrimSpace(port) != "" {
		cfg.Server.Addr = ":" + strings.TrimSpace(port)
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 25
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.InferLLM.Provider == "" {
		cfg.InferLLM.Provider = ProviderOpenAI
	}
	if cfg.InferLLM.Model == "" {
		cfg.InferLLM.Model = defaultChatModel
	}
	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = ProviderOpenAI
	}
	if cfg.EmbedLLM.Model == "" {
		cfg.EmbedLLM.Model = defaultEmbedModel
	}
	if cfg.EmbedLLM.BatchSize == 0 {
		cfg.EmbedLLM.BatchSize = 64
	}

	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = defaultChunkSize
	}
	if cfg.RAG.ChunkOverlap == 0 {
		cfg.RAG.ChunkOverlap = defaultChunkOverlap
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = defaultTopK
	}
	if cfg.RAG.Namespace == "" {
		cfg.RAG.Namespace = "default"
	}

	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = BackendChromem
	}
	if cfg.Chromem.Path == "" {
		cfg.Chromem.Path = "./chromemdb"
	}
	if cfg.Chromem.Collection == "" {
		cfg.Chromem.Collection = defaultIndexName
	}
	if cfg.Qdrant.URL == "" {
		cfg.Qdrant.URL = "http://localhost:6333"
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = defaultIndexName
	}
	if cfg.Qdrant.TimeoutSecs == 0 {
		cfg.Qdrant.TimeoutSecs = 15
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pgdriver"
	}
	if cfg.Database.Table == "" {
		cfg.Database.Table = "documents"
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch {
	case c.RAG.ChunkSize <= 0:
		return goerr.Wrap(ErrInvalidConfig, "chunk size must be positive", goerr.V("chunk_size", c.RAG.ChunkSize))
	case c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize:
		return goerr.Wrap(ErrInvalidConfig, "chunk overlap must be smaller than chunk size",
			goerr.V("chunk_size", c.RAG.ChunkSize), goerr.V("chunk_overlap", c.RAG.ChunkOverlap))
	case c.RAG.TopK <= 0:
		return goerr.Wrap(ErrInvalidConfig, "top_k must be positive", goerr.V("top_k", c.RAG.TopK))
	case c.EmbedLLM.Dimension < 0:
		return goerr.Wrap(ErrInvalidConfig, "embedding dimension must not be negative", goerr.V("dimension", c.EmbedLLM.Dimension))
	}

	for _, p := range []string{c.InferLLM.Provider, c.EmbedLLM.Provider} {
		if p != ProviderOpenAI && p != ProviderOllama {
			return goerr.Wrap(ErrInvalidConfig, "unknown llm provider", goerr.V("provider", p))
		}
	}

	switch c.Vector.Backend {
	case BackendChromem, BackendQdrant:
	case BackendPostgres:
		if c.Database.DSN == "" {
			return goerr.Wrap(ErrInvalidConfig, "database dsn is required for the postgres backend")
		}
		if c.Database.Driver != "pgdriver" && c.Database.Driver != "pq" {
			return goerr.Wrap(ErrInvalidConfig, "unknown database driver", goerr.V("driver", c.Database.Driver))
		}
	default:
		return goerr.Wrap(ErrInvalidConfig, "unknown vector backend", goerr.V("backend", c.Vector.Backend))
	}
	return nil
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	c.InferLLM.Key = mask(c.InferLLM.Key)
	c.EmbedLLM.Key = mask(c.EmbedLLM.Key)
	c.Qdrant.APIKey = mask(c.Qdrant.APIKey)
	c.Database.Password = mask(c.Database.Password)
	c.Chromem.EncryptionKey = mask(c.Chromem.EncryptionKey)
	return c
}
