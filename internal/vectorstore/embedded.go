package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/crjfisher/bergamot/pkg/models"
)

// DefaultMaxVectors caps the embedded store's size. Exceeding it logs a
// warning nudging toward the sqlite-vec backend; it never refuses writes
// outright since this store also serves as the sqlite-vec fallback when
// the loadable extension can't initialize.
const DefaultMaxVectors = 50_000

// EmbeddedStore is an in-memory, brute-force cosine-similarity vector
// store. It backs tests and any environment where the sqlite-vec
// extension fails to load at startup.
type EmbeddedStore struct {
	mu   sync.RWMutex
	docs map[string]models.VectorDocument
}

// NewEmbeddedStore creates an empty in-memory vector store.
func NewEmbeddedStore() *EmbeddedStore {
	return &EmbeddedStore{docs: make(map[string]models.VectorDocument)}
}

func (s *EmbeddedStore) Put(_ context.Context, doc models.VectorDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.docs) >= DefaultMaxVectors {
		if _, exists := s.docs[doc.Key]; !exists {
			log.Warn().Int("count", len(s.docs)).Int("max", DefaultMaxVectors).Msg("embedded vector store nearing capacity")
		}
	}
	s.docs[doc.Key] = doc
	return nil
}

func (s *EmbeddedStore) Get(_ context.Context, key string) (models.VectorDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	if !ok {
		return models.VectorDocument{}, &ErrNotFound{Key: key}
	}
	return doc, nil
}

func (s *EmbeddedStore) KNN(_ context.Context, query []float32, topK int) ([]models.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]models.SearchResult, 0, len(s.docs))
	for _, doc := range s.docs {
		if len(doc.Embedding) != len(query) {
			continue
		}
		results = append(results, models.SearchResult{Doc: doc, Score: cosineSimilarity(query, doc.Embedding)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (s *EmbeddedStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

func (s *EmbeddedStore) Close() error { return nil }

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ Store = (*EmbeddedStore)(nil)
