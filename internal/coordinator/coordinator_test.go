package coordinator_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/crjfisher/bergamot/internal/coordinator"
	"github.com/crjfisher/bergamot/internal/structstore"
	"github.com/crjfisher/bergamot/internal/vectorstore"
	"github.com/crjfisher/bergamot/pkg/models"
)

type failingStructStore struct {
	structstore.Store
	failCreate bool
	created    []models.PageSession
}

func (f *failingStructStore) CreatePageSession(ctx context.Context, ps *models.PageSession) error {
	if f.failCreate {
		return errors.New("simulated write failure")
	}
	f.created = append(f.created, *ps)
	return nil
}

func mkPageSession(id string) *models.PageSession {
	return &models.PageSession{
		ID:             id,
		URL:            "https://example.com/" + id,
		PageLoadedAt:   time.Now().UTC().Truncate(time.Second),
		TabID:          "1",
		TreeID:         "t1",
		Classification: models.ClassKnowledge,
		Confidence:     0.9,
		ShouldProcess:  true,
		ProcessedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

func TestCoordinator_CommitSuccess(t *testing.T) {
	vec := vectorstore.NewEmbeddedStore()
	structStore := &failingStructStore{}
	logPath := filepath.Join(t.TempDir(), "unreconciled.log")

	c := coordinator.New(vec, structStore, logPath)
	ps := mkPageSession("p1")
	doc := models.VectorDocument{Key: "p1", Content: "hello", Embedding: []float32{1, 0}}

	if err := c.Commit(context.Background(), doc, ps); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if len(structStore.created) != 1 {
		t.Fatalf("created = %+v, want 1 page session", structStore.created)
	}
}

func TestCoordinator_StructuredFailureRecordsAndReplays(t *testing.T) {
	vec := vectorstore.NewEmbeddedStore()
	structStore := &failingStructStore{failCreate: true}
	logPath := filepath.Join(t.TempDir(), "unreconciled.log")

	c := coordinator.New(vec, structStore, logPath)
	ps := mkPageSession("p1")
	doc := models.VectorDocument{Key: "p1", Content: "hello", Embedding: []float32{1, 0}}

	if err := c.Commit(context.Background(), doc, ps); err == nil {
		t.Fatal("Commit() error = nil, want structured write error")
	}
	if got, err := vec.Get(context.Background(), "p1"); err != nil || got.Content != "hello" {
		t.Fatalf("vector doc missing after structured failure: %+v, %v", got, err)
	}

	// First replay attempt still fails.
	replayed, remaining, err := c.ReplayUnreconciled(context.Background())
	if err != nil {
		t.Fatalf("ReplayUnreconciled() error = %v", err)
	}
	if replayed != 0 || remaining != 1 {
		t.Fatalf("ReplayUnreconciled() = (%d, %d), want (0, 1)", replayed, remaining)
	}

	// Structured store recovers; replay should now succeed and drain the log.
	structStore.failCreate = false
	replayed, remaining, err = c.ReplayUnreconciled(context.Background())
	if err != nil {
		t.Fatalf("ReplayUnreconciled() error = %v", err)
	}
	if replayed != 1 || remaining != 0 {
		t.Fatalf("ReplayUnreconciled() = (%d, %d), want (1, 0)", replayed, remaining)
	}
	if len(structStore.created) != 1 || structStore.created[0].ID != "p1" {
		t.Fatalf("created = %+v, want replayed p1", structStore.created)
	}

	// Log should now be empty: a third replay finds nothing.
	replayed, remaining, err = c.ReplayUnreconciled(context.Background())
	if err != nil || replayed != 0 || remaining != 0 {
		t.Fatalf("ReplayUnreconciled() after drain = (%d, %d, %v), want (0, 0, nil)", replayed, remaining, err)
	}
}
