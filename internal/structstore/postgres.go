package structstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crjfisher/bergamot/pkg/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS trees (
	tree_id          TEXT PRIMARY KEY,
	root_page_id     TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	last_activity_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS page_sessions (
	id              TEXT PRIMARY KEY,
	url             TEXT NOT NULL,
	page_loaded_at  TIMESTAMPTZ NOT NULL,
	tab_id          TEXT NOT NULL,
	opener_tab_id   TEXT,
	group_id        TEXT,
	title           TEXT,
	tree_id         TEXT NOT NULL,
	parent_page_id  TEXT,
	classification  TEXT NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	reasoning       TEXT,
	should_process  BOOLEAN NOT NULL,
	processed_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_page_sessions_tab_id ON page_sessions(tab_id);
CREATE INDEX IF NOT EXISTS idx_page_sessions_group_id ON page_sessions(group_id);
CREATE INDEX IF NOT EXISTS idx_page_sessions_tree_id ON page_sessions(tree_id);

CREATE TABLE IF NOT EXISTS procedural_rules (
	id               TEXT PRIMARY KEY,
	priority         INTEGER NOT NULL,
	condition        TEXT NOT NULL,
	action_kind      TEXT NOT NULL,
	prefer_type      TEXT,
	confidence_boost DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS episodic_corrections (
	id                        TEXT PRIMARY KEY,
	page_id                   TEXT NOT NULL,
	original_classification   TEXT NOT NULL,
	corrected_classification  TEXT NOT NULL,
	url                       TEXT NOT NULL,
	embedding                 JSONB NOT NULL,
	created_at                TIMESTAMPTZ NOT NULL
);
`

// PostgresStore is the optional multi-writer structured-store backend,
// selected when STORAGE_PATH is a postgres:// DSN.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
func (s *PostgresStore) Close() error                   { s.pool.Close(); return nil }

// CreatePageSession is idempotent on id: a re-posted visit that reaches
// here a second time is a silent no-op, not an error.
func (s *PostgresStore) CreatePageSession(ctx context.Context, ps *models.PageSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO page_sessions (id, url, page_loaded_at, tab_id, opener_tab_id, group_id, title,
			tree_id, parent_page_id, classification, confidence, reasoning, should_process, processed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO NOTHING`,
		ps.ID, ps.URL, ps.PageLoadedAt, ps.TabID, ps.OpenerTabID, ps.GroupID, ps.Title,
		ps.TreeID, ps.ParentPageID, string(ps.Classification), ps.Confidence, ps.Reasoning, ps.ShouldProcess, ps.ProcessedAt)
	if err != nil {
		return fmt.Errorf("insert page_session: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdatePageSession(ctx context.Context, ps *models.PageSession) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE page_sessions SET url=$1, page_loaded_at=$2, tab_id=$3, opener_tab_id=$4, group_id=$5, title=$6,
			tree_id=$7, parent_page_id=$8, classification=$9, confidence=$10, reasoning=$11, should_process=$12, processed_at=$13
		WHERE id=$14`,
		ps.URL, ps.PageLoadedAt, ps.TabID, ps.OpenerTabID, ps.GroupID, ps.Title,
		ps.TreeID, ps.ParentPageID, string(ps.Classification), ps.Confidence, ps.Reasoning, ps.ShouldProcess, ps.ProcessedAt, ps.ID)
	if err != nil {
		return fmt.Errorf("update page_session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "page_session", Key: ps.ID}
	}
	return nil
}

func (s *PostgresStore) GetPageSession(ctx context.Context, id string) (*models.PageSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, url, page_loaded_at, tab_id, opener_tab_id, group_id, title,
			tree_id, parent_page_id, classification, confidence, reasoning, should_process, processed_at
		FROM page_sessions WHERE id = $1`, id)
	ps, err := scanPageSessionPgx(row)
	if err == pgx.ErrNoRows {
		return nil, &ErrNotFound{Entity: "page_session", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get page_session: %w", err)
	}
	return ps, nil
}

func (s *PostgresStore) ListPageSessionsByTree(ctx context.Context, treeID string) ([]models.PageSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, url, page_loaded_at, tab_id, opener_tab_id, group_id, title,
			tree_id, parent_page_id, classification, confidence, reasoning, should_process, processed_at
		FROM page_sessions WHERE tree_id = $1 ORDER BY page_loaded_at ASC`, treeID)
	if err != nil {
		return nil, fmt.Errorf("list page_sessions: %w", err)
	}
	defer rows.Close()

	var out []models.PageSession
	for rows.Next() {
		ps, err := scanPageSessionPgx(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page_session: %w", err)
		}
		out = append(out, *ps)
	}
	return out, rows.Err()
}

func scanPageSessionPgx(row pgx.Row) (*models.PageSession, error) {
	var ps models.PageSession
	var classification string
	var openerTabID, groupID, title, reasoning *string
	var parentPageID *string

	if err := row.Scan(&ps.ID, &ps.URL, &ps.PageLoadedAt, &ps.TabID, &openerTabID, &groupID, &title,
		&ps.TreeID, &parentPageID, &classification, &ps.Confidence, &reasoning, &ps.ShouldProcess, &ps.ProcessedAt); err != nil {
		return nil, err
	}
	ps.OpenerTabID = deref(openerTabID)
	ps.GroupID = deref(groupID)
	ps.Title = deref(title)
	ps.Reasoning = deref(reasoning)
	ps.Classification = models.Classification(classification)
	ps.ParentPageID = parentPageID
	return &ps, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *PostgresStore) UpsertTree(ctx context.Context, tree *models.Tree) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trees (tree_id, root_page_id, created_at, last_activity_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (tree_id) DO UPDATE SET last_activity_at = excluded.last_activity_at`,
		tree.TreeID, tree.RootPageID, tree.CreatedAt, tree.LastActivityAt)
	if err != nil {
		return fmt.Errorf("upsert tree: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTree(ctx context.Context, treeID string) (*models.Tree, error) {
	var t models.Tree
	err := s.pool.QueryRow(ctx, `SELECT tree_id, root_page_id, created_at, last_activity_at FROM trees WHERE tree_id = $1`, treeID).
		Scan(&t.TreeID, &t.RootPageID, &t.CreatedAt, &t.LastActivityAt)
	if err == pgx.ErrNoRows {
		return nil, &ErrNotFound{Entity: "tree", Key: treeID}
	}
	if err != nil {
		return nil, fmt.Errorf("get tree: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) ListRules(ctx context.Context) ([]models.ProceduralRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, priority, condition, action_kind, prefer_type, confidence_boost
		FROM procedural_rules ORDER BY priority DESC`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []models.ProceduralRule
	for rows.Next() {
		var r models.ProceduralRule
		var actionKind string
		var preferType *string
		if err := rows.Scan(&r.ID, &r.Priority, &r.Condition, &actionKind, &preferType, &r.Action.ConfidenceBoost); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Action.Kind = models.RuleActionKind(actionKind)
		r.Action.PreferType = models.Classification(deref(preferType))
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateRule(ctx context.Context, rule *models.ProceduralRule) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO procedural_rules (id, priority, condition, action_kind, prefer_type, confidence_boost)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		rule.ID, rule.Priority, rule.Condition, string(rule.Action.Kind), string(rule.Action.PreferType), rule.Action.ConfidenceBoost)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteRule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM procedural_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "rule", Key: id}
	}
	return nil
}

func (s *PostgresStore) ListCorrections(ctx context.Context) ([]models.EpisodicCorrection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, page_id, original_classification, corrected_classification, url, embedding, created_at
		FROM episodic_corrections`)
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	defer rows.Close()

	var out []models.EpisodicCorrection
	for rows.Next() {
		var c models.EpisodicCorrection
		var orig, corrected string
		var embeddingJSON []byte
		if err := rows.Scan(&c.ID, &c.PageID, &orig, &corrected, &c.URL, &embeddingJSON, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		c.OriginalClassification = models.Classification(orig)
		c.CorrectedClassification = models.Classification(corrected)
		if err := json.Unmarshal(embeddingJSON, &c.Embedding); err != nil {
			return nil, fmt.Errorf("unmarshal embedding: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddCorrection(ctx context.Context, c models.EpisodicCorrection) error {
	embeddingJSON, err := json.Marshal(c.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO episodic_corrections (id, page_id, original_classification, corrected_classification, url, embedding, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, c.PageID, string(c.OriginalClassification), string(c.CorrectedClassification), c.URL, embeddingJSON, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert correction: %w", err)
	}
	return nil
}
