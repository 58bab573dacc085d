package reconciler_test

import (
	"testing"
	"time"

	"github.com/crjfisher/bergamot/internal/reconciler"
	"github.com/crjfisher/bergamot/pkg/models"
)

func mkVisit(id, tab, opener, group string, loadedAt time.Time) models.Visit {
	return models.Visit{
		ID:           id,
		TabID:        tab,
		OpenerTabID:  opener,
		GroupID:      group,
		PageLoadedAt: loadedAt,
	}
}

// Scenario 1 (spec §8): simple chain within one tab.
func TestReconciler_SimpleChain(t *testing.T) {
	r := reconciler.New()
	t0 := time.Now()

	pa := r.Place(mkVisit("A", "1", "", "g1", t0))
	pb := r.Place(mkVisit("B", "1", "", "g1", t0.Add(time.Second)))
	pc := r.Place(mkVisit("C", "1", "", "g1", t0.Add(2*time.Second)))

	if len(pa) != 1 || !pa[0].IsRoot {
		t.Fatalf("A placement = %+v, want single root", pa)
	}
	if len(pb) != 1 || pb[0].ParentPageID == nil || *pb[0].ParentPageID != "A" {
		t.Fatalf("B placement = %+v, want parent A", pb)
	}
	if len(pc) != 1 || pc[0].ParentPageID == nil || *pc[0].ParentPageID != "B" {
		t.Fatalf("C placement = %+v, want parent B", pc)
	}
	if pb[0].TreeID != pa[0].TreeID || pc[0].TreeID != pa[0].TreeID {
		t.Errorf("expected all three in the same tree: %+v %+v %+v", pa[0], pb[0], pc[0])
	}
}

// Scenario 2 (spec §8): child arrives before its parent, then reconnects
// and inherits the parent's group_id.
func TestReconciler_OutOfOrderChildBeforeParent(t *testing.T) {
	r := reconciler.New()
	t0 := time.Now()

	c := mkVisit("C", "2", "1", "stale-group", t0.Add(time.Second))
	pc := r.Place(c)
	if len(pc) != 0 {
		t.Fatalf("C should be deferred, got placements %+v", pc)
	}
	if orphans := r.Orphans(); len(orphans) != 1 || orphans[0].Visit.ID != "C" {
		t.Fatalf("Orphans() = %+v, want [C]", orphans)
	}

	p := mkVisit("P", "1", "", "parent-group", t0)
	placements := r.Place(p)
	if len(placements) != 2 {
		t.Fatalf("Place(P) = %+v, want P and reconnected C", placements)
	}

	var pRes, cRes *reconciler.Placement
	for i := range placements {
		switch placements[i].Visit.ID {
		case "P":
			pRes = &placements[i]
		case "C":
			cRes = &placements[i]
		}
	}
	if pRes == nil || cRes == nil {
		t.Fatalf("expected placements for both P and C, got %+v", placements)
	}
	if !pRes.IsRoot {
		t.Errorf("P should be a root: %+v", pRes)
	}
	if cRes.ParentPageID == nil || *cRes.ParentPageID != "P" {
		t.Errorf("C should reconnect to P: %+v", cRes)
	}
	if cRes.TreeID != pRes.TreeID {
		t.Errorf("C should share P's tree: %+v vs %+v", cRes.TreeID, pRes.TreeID)
	}
	if cRes.Visit.GroupID != "parent-group" {
		t.Errorf("C.GroupID = %q, want overwritten to parent-group", cRes.Visit.GroupID)
	}
	if len(r.Orphans()) != 0 {
		t.Errorf("Orphans() after reconnect = %+v, want empty", r.Orphans())
	}
}

// Scenario 3 (spec §8): an orphan with no parent ever arriving expires.
func TestReconciler_OrphanExpiry(t *testing.T) {
	r := reconciler.New()
	t0 := time.Now()

	c := mkVisit("C", "2", "99", "g", t0)
	if placements := r.Place(c); len(placements) != 0 {
		t.Fatalf("Place(C) = %+v, want deferred", placements)
	}

	timer := reconciler.NewRetryTimer(r, time.Second, 60*time.Second, 5, nil)
	timer.Tick(t0.Add(30 * time.Second))
	if len(r.Orphans()) != 1 {
		t.Fatalf("Orphans() after 30s = %+v, want still present", r.Orphans())
	}

	timer.Tick(t0.Add(61 * time.Second))
	if len(r.Orphans()) != 0 {
		t.Fatalf("Orphans() after 61s = %+v, want expired", r.Orphans())
	}
}

func TestReconciler_RetryReconnectsOnceParentArrives(t *testing.T) {
	r := reconciler.New()
	t0 := time.Now()

	r.Place(mkVisit("C", "2", "1", "g", t0.Add(time.Second)))

	var reconnected []reconciler.Placement
	timer := reconciler.NewRetryTimer(r, time.Second, 60*time.Second, 5, func(p reconciler.Placement) {
		reconnected = append(reconnected, p)
	})

	// Parent hasn't arrived yet: tick should leave the orphan in place
	// with an incremented retry count.
	timer.Tick(t0.Add(5 * time.Second))
	if len(reconnected) != 0 {
		t.Fatalf("unexpected reconnect before parent arrives: %+v", reconnected)
	}
	if orphans := r.Orphans(); len(orphans) != 1 || orphans[0].RetryCount != 1 {
		t.Fatalf("Orphans() = %+v, want retry_count=1", orphans)
	}

	// A page placed in C's opener tab would reconnect C at once inside
	// Place, so the parent here arrives in another tab of C's group: only
	// the retry pass, via group continuation, can attach C to it.
	r.Place(mkVisit("P", "3", "", "g", t0))

	timer.Tick(t0.Add(10 * time.Second))
	if len(reconnected) != 1 || reconnected[0].Visit.ID != "C" {
		t.Fatalf("reconnected = %+v, want C reconnected", reconnected)
	}
	if len(r.Orphans()) != 0 {
		t.Errorf("Orphans() after reconnect = %+v, want empty", r.Orphans())
	}
}

func TestReconciler_ExplicitGroupContinuation(t *testing.T) {
	r := reconciler.New()
	t0 := time.Now()

	r.Place(mkVisit("A", "1", "", "shared-group", t0))
	// A different tab, no opener, but the same group_id: rule 3 applies.
	placements := r.Place(mkVisit("B", "2", "", "shared-group", t0.Add(time.Second)))
	if len(placements) != 1 || placements[0].ParentPageID == nil || *placements[0].ParentPageID != "A" {
		t.Fatalf("Place(B) = %+v, want attach to A via group continuation", placements)
	}
}
