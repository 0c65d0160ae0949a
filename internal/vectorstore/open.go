package vectorstore

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog/log"

	"docuchat/internal/chromemdb"
	"docuchat/internal/config"
	"docuchat/internal/db"
	"docuchat/internal/qdrant"
)

// Deleter is implemented by stores that can drop a whole namespace.
type Deleter interface {
	DeleteNamespace(ctx context.Context, namespace string) error
}

// Open connects to the backend selected in cfg.Vector.Backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	log.Info().Str("backend", cfg.Vector.Backend).Msg("Opening vector index")

	switch cfg.Vector.Backend {
	case config.BackendChromem:
		m, err := chromemdb.NewVectorDBManager(cfg.Chromem)
		if err != nil {
			return nil, err
		}
		return m, nil
	case config.BackendQdrant:
		return qdrant.NewStorage(cfg.Qdrant), nil
	case config.BackendPostgres:
		s, err := db.Open(ctx, &cfg.Database)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, goerr.Wrap(config.ErrInvalidConfig, "unknown vector backend", goerr.V("backend", cfg.Vector.Backend))
	}
}

// Reset drops every chunk in the namespace.
func (v *VectorStore) Reset(ctx context.Context) error {
	d, ok := v.store.(Deleter)
	if !ok {
		return goerr.New("vector backend cannot delete namespaces")
	}
	if err := d.DeleteNamespace(ctx, v.namespace); err != nil {
		return err
	}
	log.Info().Str("namespace", v.namespace).Msg("Cleared namespace")
	return nil
}
