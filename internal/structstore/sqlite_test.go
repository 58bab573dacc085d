package structstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/crjfisher/bergamot/internal/structstore"
	"github.com/crjfisher/bergamot/pkg/models"
)

func TestSQLiteStore_PageSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := structstore.OpenSQLite(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer store.Close()

	ps := &models.PageSession{
		ID:             "p1",
		URL:            "https://example.com",
		PageLoadedAt:   time.Now().UTC().Truncate(time.Second),
		TabID:          "1",
		TreeID:         "t1",
		Classification: models.ClassKnowledge,
		Confidence:     0.9,
		Reasoning:      "lm",
		ShouldProcess:  true,
		ProcessedAt:    time.Now().UTC().Truncate(time.Second),
	}
	if err := store.CreatePageSession(ctx, ps); err != nil {
		t.Fatalf("CreatePageSession() error = %v", err)
	}

	got, err := store.GetPageSession(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPageSession() error = %v", err)
	}
	if got.URL != ps.URL || got.Classification != ps.Classification {
		t.Errorf("GetPageSession() = %+v, want %+v", got, ps)
	}

	ps.Confidence = 0.1
	if err := store.UpdatePageSession(ctx, ps); err != nil {
		t.Fatalf("UpdatePageSession() error = %v", err)
	}
	got, _ = store.GetPageSession(ctx, "p1")
	if got.Confidence != 0.1 {
		t.Errorf("Confidence after update = %v, want 0.1", got.Confidence)
	}

	if _, err := store.GetPageSession(ctx, "missing"); err == nil {
		t.Error("GetPageSession(missing) error = nil, want ErrNotFound")
	}
}

func TestSQLiteStore_RulesAndCorrections(t *testing.T) {
	ctx := context.Background()
	store, err := structstore.OpenSQLite(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer store.Close()

	rule := &models.ProceduralRule{
		ID:        "r1",
		Priority:  10,
		Condition: `url.host == "x"`,
		Action:    models.RuleAction{Kind: models.ActionBoostConfidence, ConfidenceBoost: 0.1},
	}
	if err := store.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}
	rules, err := store.ListRules(ctx)
	if err != nil || len(rules) != 1 || rules[0].ID != "r1" {
		t.Fatalf("ListRules() = %+v, %v", rules, err)
	}
	if err := store.DeleteRule(ctx, "r1"); err != nil {
		t.Fatalf("DeleteRule() error = %v", err)
	}

	correction := models.EpisodicCorrection{
		ID:                      "c1",
		PageID:                  "p1",
		OriginalClassification:  models.ClassOther,
		CorrectedClassification: models.ClassLeisure,
		URL:                     "https://reddit.com/r/x",
		Embedding:               []float32{0.1, 0.2, 0.3},
		CreatedAt:               time.Now().UTC().Truncate(time.Second),
	}
	if err := store.AddCorrection(ctx, correction); err != nil {
		t.Fatalf("AddCorrection() error = %v", err)
	}
	corrections, err := store.ListCorrections(ctx)
	if err != nil || len(corrections) != 1 || len(corrections[0].Embedding) != 3 {
		t.Fatalf("ListCorrections() = %+v, %v", corrections, err)
	}
}
