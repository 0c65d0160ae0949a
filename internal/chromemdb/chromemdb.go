package chromemdb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"docuchat/internal/config"
	"docuchat/internal/helper"
	"docuchat/internal/models"
)

// chromem requires an AES-256 key
const encryptionKeyLen = 32

var errNoEmbeddingFunc = errors.New("chromem collections expect precomputed embeddings")

// VectorDBManager encapsulates the chromem-go database operations
type VectorDBManager struct {
	db             *chromem.DB
	collectionName string
	inMemory       bool
	compress       bool
	encryptionKey  string
	filePath       string

	exportMu sync.Mutex
}

// NewVectorDBManager opens a persistent database under cfg.Path, or an
// in-memory one that is imported from and exported to an encrypted file when
// an encryption key is configured.
func NewVectorDBManager(cfg config.ChromemConfig) (*VectorDBManager, error) {
	if cfg.EncryptionKey != "" && len(cfg.EncryptionKey) != encryptionKeyLen {
		return nil, goerr.New("chromem encryption key must be 32 bytes", goerr.V("length", len(cfg.EncryptionKey)))
	}

	m := &VectorDBManager{
		collectionName: cfg.Collection,
		inMemory:       cfg.InMemory,
		compress:       cfg.Compress,
		encryptionKey:  cfg.EncryptionKey,
		filePath:       filepath.Join(cfg.Path, cfg.Collection+".chromem"),
	}

	if cfg.InMemory {
		m.db = chromem.NewDB()
		if err := m.importIfPresent(); err != nil {
			return nil, err
		}
		return m, nil
	}

	if err := helper.CreateFolder(cfg.Path); err != nil {
		return nil, goerr.Wrap(err, "failed to create chromem folder", goerr.V("path", cfg.Path))
	}
	db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create database", goerr.V("path", cfg.Path))
	}
	m.db = db
	return m, nil
}

// NewInMemory wraps an existing chromem database, mostly for tests.
func NewInMemory(db *chromem.DB, collectionName string) *VectorDBManager {
	return &VectorDBManager{db: db, collectionName: collectionName, inMemory: true}
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

func (m *VectorDBManager) namespaceCollection(namespace string) string {
	return m.collectionName + "-" + namespace
}

// GetOrCreateCollection returns the collection holding one namespace.
func (m *VectorDBManager) GetOrCreateCollection(namespace string) (*chromem.Collection, error) {
	name := m.namespaceCollection(namespace)
	c, err := m.db.GetOrCreateCollection(name, map[string]string{models.MetaNamespace: namespace}, noEmbedding)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create/get collection", goerr.V("collection", name))
	}
	return c, nil
}

// Upsert adds documents; existing ids are overwritten.
func (m *VectorDBManager) Upsert(ctx context.Context, namespace string, records []models.Record) error {
	c, err := m.GetOrCreateCollection(namespace)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Chunk.Content,
			Metadata:  r.Chunk.Metadata.ToMap(),
			Embedding: r.Embedding,
		}
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return goerr.Wrap(err, "failed to add documents", goerr.V("count", len(docs)))
	}

	if m.inMemory && m.encryptionKey != "" {
		return m.Export(ctx)
	}
	return nil
}

// Query performs a similarity search. A namespace nothing was stored in has no
// collection and yields no matches. chromem refuses to return more results than
// the collection holds, so k is clamped to the document count.
func (m *VectorDBManager) Query(ctx context.Context, namespace string, vector []float32, k int) ([]models.Match, error) {
	c := m.db.GetCollection(m.namespaceCollection(namespace), noEmbedding)
	if c == nil {
		return nil, nil
	}
	count := c.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}

	results, err := c.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vector,
		NResults:       min(k, count),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query by similarity", goerr.V("k", k))
	}

	matches := make([]models.Match, len(results))
	for i, r := range results {
		matches[i] = models.Match{
			ID: r.ID,
			Chunk: models.Chunk{
				Content:  r.Content,
				Metadata: models.MetadataFromMap(r.Metadata),
			},
			Score: r.Similarity,
		}
	}
	return matches, nil
}

// Dimension is always 0: chromem collections do not declare a vector size.
func (m *VectorDBManager) Dimension(context.Context) (int, error) {
	return 0, nil
}

// DeleteNamespace drops the collection of one namespace.
func (m *VectorDBManager) DeleteNamespace(ctx context.Context, namespace string) error {
	if err := m.db.DeleteCollection(m.namespaceCollection(namespace)); err != nil {
		return goerr.Wrap(err, "failed to drop collection", goerr.V("namespace", namespace))
	}
	if m.inMemory && m.encryptionKey != "" {
		return m.Export(ctx)
	}
	return nil
}

// Export writes all collections to the encrypted export file.
func (m *VectorDBManager) Export(ctx context.Context) error {
	if m.encryptionKey == "" {
		return goerr.New("encryption key is required")
	}
	m.exportMu.Lock()
	defer m.exportMu.Unlock()

	log.Debug().Str("file", m.filePath).Bool("compress", m.compress).Msg("Exporting chromem database")
	if err := helper.CreateFolder(filepath.Dir(m.filePath)); err != nil {
		return goerr.Wrap(err, "failed to create export folder")
	}
	if err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey); err != nil {
		return goerr.Wrap(err, "failed to export database", goerr.V("file", m.filePath))
	}
	return nil
}

// Import loads collections from the export file.
func (m *VectorDBManager) Import(ctx context.Context) error {
	if err := m.db.ImportFromFile(m.filePath, m.encryptionKey); err != nil {
		return goerr.Wrap(err, "failed to import database", goerr.V("file", m.filePath))
	}
	return nil
}

func (m *VectorDBManager) importIfPresent() error {
	if m.encryptionKey == "" {
		return nil
	}
	if _, err := os.Stat(m.filePath); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	log.Info().Str("file", m.filePath).Msg("Importing chromem export")
	return m.Import(context.Background())
}

func (m *VectorDBManager) Close() error {
	if m.inMemory && m.encryptionKey != "" {
		return m.Export(context.Background())
	}
	return nil
}
