package structstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/crjfisher/bergamot/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS trees (
	tree_id          TEXT PRIMARY KEY,
	root_page_id     TEXT NOT NULL,
	created_at       DATETIME NOT NULL,
	last_activity_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS page_sessions (
	id              TEXT PRIMARY KEY,
	url             TEXT NOT NULL,
	page_loaded_at  DATETIME NOT NULL,
	tab_id          TEXT NOT NULL,
	opener_tab_id   TEXT,
	group_id        TEXT,
	title           TEXT,
	tree_id         TEXT NOT NULL,
	parent_page_id  TEXT,
	classification  TEXT NOT NULL,
	confidence      REAL NOT NULL,
	reasoning       TEXT,
	should_process  INTEGER NOT NULL,
	processed_at    DATETIME NOT NULL
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
	confidence_boost REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS episodic_corrections (
	id                        TEXT PRIMARY KEY,
	page_id                   TEXT NOT NULL,
	original_classification   TEXT NOT NULL,
	corrected_classification  TEXT NOT NULL,
	url                       TEXT NOT NULL,
	embedding                 TEXT NOT NULL, -- JSON array of float32
	created_at                DATETIME NOT NULL
);
`

// SQLiteStore is the default structured-store backend: a single local
// SQLite file via the pure-Go modernc.org/sqlite driver, matching the
// project's single-local-user non-goal.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) a SQLite-backed Store rooted
// at dir/bergamot.db and applies the schema.
func OpenSQLite(ctx context.Context, dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	path := filepath.Join(dir, "bergamot.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single writer, avoid SQLITE_BUSY

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLiteStore) Close() error                   { return s.db.Close() }

// CreatePageSession is idempotent on id: a re-posted visit that reaches
// here a second time is a silent no-op, not an error.
func (s *SQLiteStore) CreatePageSession(ctx context.Context, ps *models.PageSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO page_sessions (id, url, page_loaded_at, tab_id, opener_tab_id, group_id, title,
			tree_id, parent_page_id, classification, confidence, reasoning, should_process, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		ps.ID, ps.URL, ps.PageLoadedAt, ps.TabID, ps.OpenerTabID, ps.GroupID, ps.Title,
		ps.TreeID, ps.ParentPageID, string(ps.Classification), ps.Confidence, ps.Reasoning, ps.ShouldProcess, ps.ProcessedAt)
	if err != nil {
		return fmt.Errorf("insert page_session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdatePageSession(ctx context.Context, ps *models.PageSession) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE page_sessions SET url=?, page_loaded_at=?, tab_id=?, opener_tab_id=?, group_id=?, title=?,
			tree_id=?, parent_page_id=?, classification=?, confidence=?, reasoning=?, should_process=?, processed_at=?
		WHERE id=?`,
		ps.URL, ps.PageLoadedAt, ps.TabID, ps.OpenerTabID, ps.GroupID, ps.Title,
		ps.TreeID, ps.ParentPageID, string(ps.Classification), ps.Confidence, ps.Reasoning, ps.ShouldProcess, ps.ProcessedAt, ps.ID)
	if err != nil {
		return fmt.Errorf("update page_session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "page_session", Key: ps.ID}
	}
	return nil
}

func (s *SQLiteStore) GetPageSession(ctx context.Context, id string) (*models.PageSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, url, page_loaded_at, tab_id, opener_tab_id, group_id, title,
			tree_id, parent_page_id, classification, confidence, reasoning, should_process, processed_at
		FROM page_sessions WHERE id = ?`, id)
	ps, err := scanPageSession(row)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{Entity: "page_session", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get page_session: %w", err)
	}
	return ps, nil
}

func (s *SQLiteStore) ListPageSessionsByTree(ctx context.Context, treeID string) ([]models.PageSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, page_loaded_at, tab_id, opener_tab_id, group_id, title,
			tree_id, parent_page_id, classification, confidence, reasoning, should_process, processed_at
		FROM page_sessions WHERE tree_id = ? ORDER BY page_loaded_at ASC`, treeID)
	if err != nil {
		return nil, fmt.Errorf("list page_sessions: %w", err)
	}
	defer rows.Close()

	var out []models.PageSession
	for rows.Next() {
		ps, err := scanPageSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page_session: %w", err)
		}
		out = append(out, *ps)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPageSession(row rowScanner) (*models.PageSession, error) {
	var ps models.PageSession
	var classification string
	var openerTabID, groupID, title, reasoning sql.NullString
	var parentPageID sql.NullString

	if err := row.Scan(&ps.ID, &ps.URL, &ps.PageLoadedAt, &ps.TabID, &openerTabID, &groupID, &title,
		&ps.TreeID, &parentPageID, &classification, &ps.Confidence, &reasoning, &ps.ShouldProcess, &ps.ProcessedAt); err != nil {
		return nil, err
	}
	ps.OpenerTabID = openerTabID.String
	ps.GroupID = groupID.String
	ps.Title = title.String
	ps.Reasoning = reasoning.String
	ps.Classification = models.Classification(classification)
	if parentPageID.Valid {
		v := parentPageID.String
		ps.ParentPageID = &v
	}
	return &ps, nil
}

func (s *SQLiteStore) UpsertTree(ctx context.Context, tree *models.Tree) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trees (tree_id, root_page_id, created_at, last_activity_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tree_id) DO UPDATE SET last_activity_at = excluded.last_activity_at`,
		tree.TreeID, tree.RootPageID, tree.CreatedAt, tree.LastActivityAt)
	if err != nil {
		return fmt.Errorf("upsert tree: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTree(ctx context.Context, treeID string) (*models.Tree, error) {
	var t models.Tree
	err := s.db.QueryRowContext(ctx, `SELECT tree_id, root_page_id, created_at, last_activity_at FROM trees WHERE tree_id = ?`, treeID).
		Scan(&t.TreeID, &t.RootPageID, &t.CreatedAt, &t.LastActivityAt)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{Entity: "tree", Key: treeID}
	}
	if err != nil {
		return nil, fmt.Errorf("get tree: %w", err)
	}
	return &t, nil
}

func (s *SQLiteStore) ListRules(ctx context.Context) ([]models.ProceduralRule, error) {
	rows, err := s.db.QueryContext(ctx, `
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
		var preferType sql.NullString
		if err := rows.Scan(&r.ID, &r.Priority, &r.Condition, &actionKind, &preferType, &r.Action.ConfidenceBoost); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Action.Kind = models.RuleActionKind(actionKind)
		r.Action.PreferType = models.Classification(preferType.String)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateRule(ctx context.Context, rule *models.ProceduralRule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO procedural_rules (id, priority, condition, action_kind, prefer_type, confidence_boost)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.Priority, rule.Condition, string(rule.Action.Kind), string(rule.Action.PreferType), rule.Action.ConfidenceBoost)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM procedural_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "rule", Key: id}
	}
	return nil
}

func (s *SQLiteStore) ListCorrections(ctx context.Context) ([]models.EpisodicCorrection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, page_id, original_classification, corrected_classification, url, embedding, created_at
		FROM episodic_corrections`)
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	defer rows.Close()

	var out []models.EpisodicCorrection
	for rows.Next() {
		var c models.EpisodicCorrection
		var orig, corrected, embeddingJSON string
		if err := rows.Scan(&c.ID, &c.PageID, &orig, &corrected, &c.URL, &embeddingJSON, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		c.OriginalClassification = models.Classification(orig)
		c.CorrectedClassification = models.Classification(corrected)
		if err := json.Unmarshal([]byte(embeddingJSON), &c.Embedding); err != nil {
			return nil, fmt.Errorf("unmarshal embedding: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddCorrection(ctx context.Context, c models.EpisodicCorrection) error {
	embeddingJSON, err := json.Marshal(c.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO episodic_corrections (id, page_id, original_classification, corrected_classification, url, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.PageID, string(c.OriginalClassification), string(c.CorrectedClassification), c.URL, string(embeddingJSON), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert correction: %w", err)
	}
	return nil
}
