package db

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	_ "github.com/lib/pq"

	"docuchat/internal/config"
	"docuchat/internal/models"
)

const (
	DriverPgdriver = "pgdriver"
	DriverPq       = "pq"
)

// Document is one stored chunk. The table name comes from config, so queries
// set it with ModelTableExpr.
type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID         string          `bun:"id,pk"`
	Namespace  string          `bun:"namespace,notnull"`
	Source     string          `bun:"source,notnull"`
	MimeType   string          `bun:"mime_type"`
	ChunkIndex int             `bun:"chunk_index"`
	UploadedAt time.Time       `bun:"uploaded_at"`
	Content    string          `bun:"content,notnull"`
	Embedding  pgvector.Vector `bun:"embedding,type:vector"`
	Score      float32         `bun:"score,scanonly"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the connection pool with the configured driver.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case DriverPq:
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open postgres connection")
		}
		return sqldb, nil
	case DriverPgdriver, "":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	default:
		return nil, goerr.New("unknown database driver", goerr.V("driver", cfg.Driver))
	}
}

// Store keeps chunk vectors in a pgvector table, one row per chunk, with the
// namespace as a column.
type Store struct {
	db    *bun.DB
	table string

	mu      sync.Mutex
	created bool
}

func NewStore(db *bun.DB, table string) *Store {
	return &Store{db: db, table: table}
}

// Open connects, checks the server is reachable and enables the vector
// extension.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	db := NewDB(sqldb, cfg.Debug)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to reach database")
	}
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to enable pgvector extension")
	}
	return NewStore(db, cfg.Table), nil
}

// InitDB creates the table and its cosine index for the given dimension.
func (s *Store) InitDB(ctx context.Context, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.created {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS ? (
	id TEXT PRIMARY KEY,
	namespace TEXT NOT NULL,
	source TEXT NOT NULL,
	mime_type TEXT,
	chunk_index INTEGER,
	uploaded_at TIMESTAMPTZ,
	content TEXT NOT NULL,
	embedding vector(?) NOT NULL
)`, bun.Ident(s.table), dimension)
	if err != nil {
		return goerr.Wrap(err, "failed to create table", goerr.V("table", s.table), goerr.V("dimension", dimension))
	}

	_, err = s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS ? ON ? USING hnsw (embedding vector_cosine_ops)",
		bun.Ident(s.table+"_embedding_idx"), bun.Ident(s.table))
	if err != nil {
		return goerr.Wrap(err, "failed to create vector index", goerr.V("table", s.table))
	}
	_, err = s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS ? ON ? (namespace)",
		bun.Ident(s.table+"_namespace_idx"), bun.Ident(s.table))
	if err != nil {
		return goerr.Wrap(err, "failed to create namespace index", goerr.V("table", s.table))
	}

	log.Debug().Str("table", s.table).Int("dimension", dimension).Msg("Initialized documents table")
	s.created = true
	return nil
}

// Dimension reads the declared size of the embedding column, 0 when the
// table does not exist yet.
func (s *Store) Dimension(ctx context.Context) (int, error) {
	var typmod []int
	err := s.db.NewSelect().
		TableExpr("pg_attribute").
		ColumnExpr("atttypmod").
		Where("attrelid = to_regclass(?)", s.table).
		Where("attname = 'embedding'").
		Scan(ctx, &typmod)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to read embedding dimension", goerr.V("table", s.table))
	}
	if len(typmod) == 0 || typmod[0] < 0 {
		return 0, nil
	}
	return typmod[0], nil
}

func (s *Store) Upsert(ctx context.Context, namespace string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.InitDB(ctx, len(records[0].Embedding)); err != nil {
		return err
	}

	docs := make([]Document, len(records))
	for i, r := range records {
		docs[i] = Document{
			ID:         r.ID,
			Namespace:  namespace,
			Source:     r.Chunk.Metadata.Source,
			MimeType:   r.Chunk.Metadata.Type,
			ChunkIndex: r.Chunk.Metadata.Chunk,
			UploadedAt: r.Chunk.Metadata.UploadedAt,
			Content:    r.Chunk.Content,
			Embedding:  pgvector.NewVector(r.Embedding),
		}
	}

	_, err := s.db.NewInsert().
		Model(&docs).
		ModelTableExpr("?", bun.Ident(s.table)).
		On("CONFLICT (id) DO UPDATE").
		Set("namespace = EXCLUDED.namespace").
		Set("source = EXCLUDED.source").
		Set("mime_type = EXCLUDED.mime_type").
		Set("chunk_index = EXCLUDED.chunk_index").
		Set("uploaded_at = EXCLUDED.uploaded_at").
		Set("content = EXCLUDED.content").
		Set("embedding = EXCLUDED.embedding").
		Exec(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to store documents", goerr.V("count", len(docs)))
	}
	return nil
}

// Query returns the k nearest chunks by cosine distance. Score is the cosine
// similarity.
func (s *Store) Query(ctx context.Context, namespace string, vector []float32, k int) ([]models.Match, error) {
	dim, err := s.Dimension(ctx)
	if err != nil {
		return nil, err
	}
	if dim == 0 || k <= 0 {
		return nil, nil
	}

	q := pgvector.NewVector(vector)
	var docs []Document
	err = s.db.NewSelect().
		Model(&docs).
		ModelTableExpr("? AS d", bun.Ident(s.table)).
		ColumnExpr("d.id, d.namespace, d.source, d.mime_type, d.chunk_index, d.uploaded_at, d.content").
		ColumnExpr("1 - (d.embedding <=> ?) AS score", q).
		Where("d.namespace = ?", namespace).
		OrderExpr("d.embedding <=> ?", q).
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search documents", goerr.V("k", k))
	}

	matches := make([]models.Match, len(docs))
	for i, d := range docs {
		matches[i] = models.Match{
			ID: d.ID,
			Chunk: models.Chunk{
				Content: d.Content,
				Metadata: models.ChunkMetadata{
					Source:     d.Source,
					Type:       d.MimeType,
					Chunk:      d.ChunkIndex,
					UploadedAt: d.UploadedAt,
				},
			},
			Score: d.Score,
		}
	}
	return matches, nil
}

// DeleteNamespace removes every chunk stored under namespace.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	dim, err := s.Dimension(ctx)
	if err != nil || dim == 0 {
		return err
	}
	_, err = s.db.NewDelete().
		Model((*Document)(nil)).
		ModelTableExpr("? AS d", bun.Ident(s.table)).
		Where("d.namespace = ?", namespace).
		Exec(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to delete documents", goerr.V("namespace", namespace))
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
