// Package vectorstore implements the vector store (spec §4.6, §6): the
// sole source of truth for page content plus its embedding, keyed by
// PageSession.ID. The default backend is sqlite-vec, via the
// wazero-based ncruces/go-sqlite3 driver and its asg017/sqlite-vec
// loadable extension; an in-memory EmbeddedStore backs tests and
// environments where the extension can't load.
package vectorstore

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/crjfisher/bergamot/pkg/models"
)

// Store is the vector-store interface the write coordinator and the tool
// surface depend on.
type Store interface {
	// Put writes or overwrites doc under doc.Key (spec §9 assumes an
	// atomic overwrite-by-key, not an append-only log).
	Put(ctx context.Context, doc models.VectorDocument) error

	// Get returns the document stored under key.
	Get(ctx context.Context, key string) (models.VectorDocument, error)

	// KNN returns the topK documents nearest query by cosine similarity.
	KNN(ctx context.Context, query []float32, topK int) ([]models.SearchResult, error)

	Count(ctx context.Context) (int, error)
	Close() error
}

// ErrNotFound is returned when a requested document does not exist.
type ErrNotFound struct {
	Key string
}

func (e *ErrNotFound) Error() string { return "vector document not found: " + e.Key }

// Open opens the sqlite-vec backend rooted at dir, falling back to an
// in-memory EmbeddedStore if the sqlite-vec extension fails to
// initialize (e.g. a Wasm runtime restriction in the host environment).
func Open(ctx context.Context, dir string) Store {
	store, err := OpenSQLiteVec(ctx, dir)
	if err != nil {
		log.Warn().Err(err).Msg("sqlite-vec unavailable, falling back to embedded vector store")
		return NewEmbeddedStore()
	}
	return store
}
