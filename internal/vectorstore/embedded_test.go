package vectorstore_test

import (
	"context"
	"testing"

	"github.com/crjfisher/bergamot/internal/vectorstore"
	"github.com/crjfisher/bergamot/pkg/models"
)

func TestEmbeddedStore_PutGetKNN(t *testing.T) {
	ctx := context.Background()
	s := vectorstore.NewEmbeddedStore()

	docs := []models.VectorDocument{
		{Key: "a", Content: "alpha", Embedding: []float32{1, 0, 0}},
		{Key: "b", Content: "beta", Embedding: []float32{0, 1, 0}},
		{Key: "c", Content: "gamma", Embedding: []float32{0.9, 0.1, 0}},
	}
	for _, d := range docs {
		if err := s.Put(ctx, d); err != nil {
			t.Fatalf("Put(%s) error = %v", d.Key, err)
		}
	}

	got, err := s.Get(ctx, "a")
	if err != nil || got.Content != "alpha" {
		t.Fatalf("Get(a) = %+v, %v", got, err)
	}

	results, err := s.KNN(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("KNN() error = %v", err)
	}
	if len(results) != 2 || results[0].Doc.Key != "a" {
		t.Fatalf("KNN() = %+v, want [a, c]", results)
	}

	if _, err := s.Get(ctx, "missing"); err == nil {
		t.Error("Get(missing) error = nil, want ErrNotFound")
	}

	count, _ := s.Count(ctx)
	if count != 3 {
		t.Errorf("Count() = %d, want 3", count)
	}

	// Put on an existing key overwrites rather than duplicating.
	if err := s.Put(ctx, models.VectorDocument{Key: "a", Content: "alpha-v2", Embedding: []float32{1, 0, 0}}); err != nil {
		t.Fatalf("Put(overwrite) error = %v", err)
	}
	got, _ = s.Get(ctx, "a")
	if got.Content != "alpha-v2" {
		t.Errorf("Get(a) after overwrite = %+v, want alpha-v2", got)
	}
	count, _ = s.Count(ctx)
	if count != 3 {
		t.Errorf("Count() after overwrite = %d, want still 3", count)
	}
}
