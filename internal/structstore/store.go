// Package structstore implements the structured store (spec §4.6, §6):
// PageSessions, Trees, ProceduralRules, and EpisodicCorrections. It never
// holds page content — that lives only in the vector store.
package structstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/crjfisher/bergamot/internal/episodic"
	"github.com/crjfisher/bergamot/pkg/models"
)

// Store is the structured-store interface the coordinator, the
// classifier's episodic lookup, the app, and the bergamotd CLI depend on. The default implementation is SQLite
// (modernc.org/sqlite, pure Go); an optional PostgreSQL implementation
// (jackc/pgx) is selected when the configured storage path is a
// postgres:// DSN, for multi-writer deployments beyond the single local
// user this project otherwise assumes.
type Store interface {
	// PageSessions
	CreatePageSession(ctx context.Context, ps *models.PageSession) error
	UpdatePageSession(ctx context.Context, ps *models.PageSession) error
	GetPageSession(ctx context.Context, id string) (*models.PageSession, error)
	ListPageSessionsByTree(ctx context.Context, treeID string) ([]models.PageSession, error)

	// Trees
	UpsertTree(ctx context.Context, tree *models.Tree) error
	GetTree(ctx context.Context, treeID string) (*models.Tree, error)

	// ProceduralRules
	ListRules(ctx context.Context) ([]models.ProceduralRule, error)
	CreateRule(ctx context.Context, rule *models.ProceduralRule) error
	DeleteRule(ctx context.Context, id string) error

	episodic.Store

	Ping(ctx context.Context) error
	Close() error
}

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

// Open selects and opens a Store implementation based on storagePath: a
// postgres://... or postgresql://... DSN opens PostgresStore against
// that DSN verbatim (a connection string has no filesystem subdirectory
// to carve out), anything else is treated as a filesystem root and
// opens SQLiteStore at storagePath/structured.
func Open(ctx context.Context, storagePath string) (Store, error) {
	if isPostgresDSN(storagePath) {
		return OpenPostgres(ctx, storagePath)
	}
	return OpenSQLite(ctx, filepath.Join(storagePath, "structured"))
}

func isPostgresDSN(storagePath string) bool {
	return strings.HasPrefix(storagePath, "postgres://") || strings.HasPrefix(storagePath, "postgresql://")
}
