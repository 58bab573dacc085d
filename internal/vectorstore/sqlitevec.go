package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/ncruces"

	"github.com/crjfisher/bergamot/pkg/models"
)

// EmbeddingDimensions is the fixed width of vectors this store indexes.
// It must match whatever embedding model produced VectorDocument.Embedding.
const EmbeddingDimensions = 1536

func init() {
	sqlite_vec.Auto()
}

// SQLiteVecStore is the default vector-store backend: sqlite-vec's vec0
// virtual table over the wazero-based ncruces/go-sqlite3 driver, so the
// whole binary stays cgo-free.
//
// vector_docs holds the document content, metadata, and a JSON copy of
// the embedding for plain retrieval by key; vec_pages is the vec0 index
// used purely for k-NN search, keyed by the same rowid. Duplicating the
// embedding avoids depending on sqlite-vec exposing a deserialize API.
type SQLiteVecStore struct {
	db *sql.DB
}

// OpenSQLiteVec opens (creating if necessary) a sqlite-vec-backed Store
// rooted at dir/vectors.db.
func OpenSQLiteVec(ctx context.Context, dir string) (*SQLiteVecStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	path := filepath.Join(dir, "vectors.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite-vec: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS vector_docs (
	rowid          INTEGER PRIMARY KEY,
	key            TEXT UNIQUE NOT NULL,
	content        TEXT NOT NULL,
	embedding_json TEXT NOT NULL,
	url            TEXT NOT NULL,
	title          TEXT,
	page_loaded_at DATETIME NOT NULL
);
CREATE VIRTUAL TABLE IF NOT EXISTS vec_pages USING vec0(embedding float[%d] distance_metric=cosine);
`, EmbeddingDimensions)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteVecStore{db: db}, nil
}

// Put writes or overwrites doc under doc.Key. The vec0 index row is
// deleted and reinserted on overwrite since vec0 has no native upsert.
func (s *SQLiteVecStore) Put(ctx context.Context, doc models.VectorDocument) error {
	if len(doc.Embedding) != EmbeddingDimensions {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(doc.Embedding), EmbeddingDimensions)
	}
	blob, err := sqlite_vec.SerializeFloat32(doc.Embedding)
	if err != nil {
		return fmt.Errorf("serialize embedding: %w", err)
	}
	embeddingJSON, err := json.Marshal(doc.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var rowid int64
	err = tx.QueryRowContext(ctx, `SELECT rowid FROM vector_docs WHERE key = ?`, doc.Key).Scan(&rowid)
	switch err {
	case nil:
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_pages WHERE rowid = ?`, rowid); err != nil {
			return fmt.Errorf("delete old vec index row: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE vector_docs SET content=?, embedding_json=?, url=?, title=?, page_loaded_at=? WHERE rowid=?`,
			doc.Content, string(embeddingJSON), doc.Metadata.URL, doc.Metadata.Title, doc.Metadata.PageLoadedAt, rowid); err != nil {
			return fmt.Errorf("update vector_docs: %w", err)
		}
	case sql.ErrNoRows:
		res, err := tx.ExecContext(ctx, `
			INSERT INTO vector_docs (key, content, embedding_json, url, title, page_loaded_at) VALUES (?, ?, ?, ?, ?, ?)`,
			doc.Key, doc.Content, string(embeddingJSON), doc.Metadata.URL, doc.Metadata.Title, doc.Metadata.PageLoadedAt)
		if err != nil {
			return fmt.Errorf("insert vector_docs: %w", err)
		}
		rowid, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
	default:
		return fmt.Errorf("lookup existing doc: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO vec_pages(rowid, embedding) VALUES (?, ?)`, rowid, blob); err != nil {
		return fmt.Errorf("insert vec index row: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteVecStore) Get(ctx context.Context, key string) (models.VectorDocument, error) {
	var doc models.VectorDocument
	var embeddingJSON string
	var title sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT key, content, embedding_json, url, title, page_loaded_at FROM vector_docs WHERE key = ?`, key).
		Scan(&doc.Key, &doc.Content, &embeddingJSON, &doc.Metadata.URL, &title, &doc.Metadata.PageLoadedAt)
	if err == sql.ErrNoRows {
		return models.VectorDocument{}, &ErrNotFound{Key: key}
	}
	if err != nil {
		return models.VectorDocument{}, fmt.Errorf("get vector_doc: %w", err)
	}
	doc.Metadata.Title = title.String
	if err := json.Unmarshal([]byte(embeddingJSON), &doc.Embedding); err != nil {
		return models.VectorDocument{}, fmt.Errorf("unmarshal embedding: %w", err)
	}
	return doc, nil
}

func (s *SQLiteVecStore) KNN(ctx context.Context, query []float32, topK int) ([]models.SearchResult, error) {
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("serialize query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.rowid, d.key, d.content, d.embedding_json, d.url, d.title, d.page_loaded_at, v.distance
		FROM vec_pages v JOIN vector_docs d ON d.rowid = v.rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance ASC`, blob, topK)
	if err != nil {
		return nil, fmt.Errorf("knn query: %w", err)
	}
	defer rows.Close()

	var out []models.SearchResult
	for rows.Next() {
		var rowid int64
		var doc models.VectorDocument
		var embeddingJSON string
		var title sql.NullString
		var distance float64
		if err := rows.Scan(&rowid, &doc.Key, &doc.Content, &embeddingJSON, &doc.Metadata.URL, &title, &doc.Metadata.PageLoadedAt, &distance); err != nil {
			return nil, fmt.Errorf("scan knn row: %w", err)
		}
		doc.Metadata.Title = title.String
		if err := json.Unmarshal([]byte(embeddingJSON), &doc.Embedding); err != nil {
			return nil, fmt.Errorf("unmarshal embedding: %w", err)
		}
		out = append(out, models.SearchResult{Doc: doc, Score: 1 - distance})
	}
	return out, rows.Err()
}

func (s *SQLiteVecStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vector_docs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count vector_docs: %w", err)
	}
	return n, nil
}

func (s *SQLiteVecStore) Close() error { return s.db.Close() }

var _ Store = (*SQLiteVecStore)(nil)
