// Package reconciler implements the navigation tree reconciler and the
// orphan deferral table described in spec §4.3 and §4.4.
//
// Per the REDESIGN FLAGS in spec §9, the tree is not a mutable object
// graph: it is an arena of placedNode values addressed by integer index,
// plus side tables mapping tab_id/group_id to the index of the most
// recently placed node in that tab/group. Attach is an index write;
// orphan reconnection is an edge rewrite at the index the orphan's
// parent occupies. The whole arena, both side tables, and the orphan
// table are guarded by a single mutex — the "reconciler lock" of spec
// §5 — held only for this pure, in-memory placement decision; no I/O
// happens under it.
package reconciler

import (
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"

	"github.com/crjfisher/bergamot/pkg/models"
)

// Placement is what the reconciler hands back for a single Visit once it
// has been attached to a tree or created as a new root. Deferred visits
// produce no Placement.
type Placement struct {
	Visit        models.Visit // GroupID may have been overwritten on reconnect
	TreeID       string
	ParentPageID *string
	IsRoot       bool
}

type placedNode struct {
	visit      models.Visit // the visit as actually placed (GroupID may be reconnect-overwritten)
	treeID     string
	parentID   *string
	arrivalSeq uint64
}

// Reconciler places incoming visits into navigation trees and manages
// the orphan deferral table. The zero value is not usable; use New.
type Reconciler struct {
	mu sync.Mutex

	arena          []placedNode
	byID           map[string]int
	latestByTab    map[string]int
	latestByGroup  map[string]int
	orphansByTab   map[string][]*models.OrphanEntry
	arrivalCounter uint64
}

// New creates an empty Reconciler.
func New() *Reconciler {
	return &Reconciler{
		byID:         make(map[string]int),
		latestByTab:  make(map[string]int),
		latestByGroup: make(map[string]int),
		orphansByTab: make(map[string][]*models.OrphanEntry),
	}
}

// Place runs the five-rule placement policy from spec §4.3 for v and
// returns the resulting Placements: v's own (if it wasn't deferred)
// followed by any orphans that reconnect as a result, in cascade order,
// each of which may itself trigger further cascades. Held entirely
// under the reconciler lock so the cascade completes before any queued
// newer visit is processed (spec §4.3, §5).
func (r *Reconciler) Place(v models.Visit) []Placement {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Placement
	r.placeAndCascade(v, false, &out)
	return out
}

func (r *Reconciler) placeAndCascade(v models.Visit, isReconnect bool, out *[]Placement) {
	// A visit whose id is already placed is a re-post of one already
	// processed (spec §8: reposting the same visit is a no-op, not a
	// second placement). Hand back its existing placement without
	// touching the arena or triggering another orphan cascade.
	if idx, ok := r.byID[v.ID]; ok {
		*out = append(*out, r.existingPlacement(idx))
		return
	}

	p, deferred := r.placeOne(v, isReconnect)
	if deferred {
		return
	}
	*out = append(*out, p)

	for _, orphan := range r.popOrphans(p.Visit.TabID) {
		r.placeAndCascade(orphan.Visit, true, out)
	}
}

// existingPlacement reconstructs the Placement for an already-registered
// node, used to make re-posting a visit idempotent.
func (r *Reconciler) existingPlacement(idx int) Placement {
	node := r.arena[idx]
	return Placement{
		Visit:        node.visit,
		TreeID:       node.treeID,
		ParentPageID: node.parentID,
		IsRoot:       node.parentID == nil,
	}
}

// placeOne implements rules 1-5. isReconnect is true when v is being
// re-offered from the orphan table (cascade or retry timer); it governs
// the group-id reconciliation in attach.
func (r *Reconciler) placeOne(v models.Visit, isReconnect bool) (Placement, bool) {
	if p, ok := r.tryAttach(v, isReconnect); ok {
		return p, false
	}
	if v.OpenerTabID != "" {
		r.deferAsOrphan(v)
		return Placement{}, true
	}
	return r.createRoot(v), false
}

// tryAttach implements rules 1-3: parent in same tab, parent in opener
// tab, explicit group continuation. Returns false if none match.
func (r *Reconciler) tryAttach(v models.Visit, isReconnect bool) (Placement, bool) {
	if idx, ok := r.latestByTab[v.TabID]; ok {
		return r.attachTo(v, r.arena[idx], isReconnect), true
	}
	if v.OpenerTabID != "" {
		if idx, ok := r.latestByTab[v.OpenerTabID]; ok {
			return r.attachTo(v, r.arena[idx], isReconnect), true
		}
	}
	if v.GroupID != "" {
		if idx, ok := r.latestByGroup[v.GroupID]; ok {
			return r.attachTo(v, r.arena[idx], isReconnect), true
		}
	}
	return Placement{}, false
}

func (r *Reconciler) attachTo(v models.Visit, parent placedNode, isReconnect bool) Placement {
	if isReconnect && v.GroupID != parent.visit.GroupID {
		v.GroupID = parent.visit.GroupID
	}

	parentID := parent.visit.ID
	node := placedNode{
		visit:      v,
		treeID:     parent.treeID,
		parentID:   &parentID,
		arrivalSeq: r.nextArrivalSeq(),
	}
	r.register(node)

	return Placement{
		Visit:        v,
		TreeID:       parent.treeID,
		ParentPageID: &parentID,
	}
}

func (r *Reconciler) createRoot(v models.Visit) Placement {
	node := placedNode{
		visit:      v,
		treeID:     newTreeID(v.ID),
		arrivalSeq: r.nextArrivalSeq(),
	}
	r.register(node)

	return Placement{
		Visit:        v,
		TreeID:       node.treeID,
		ParentPageID: nil,
		IsRoot:       true,
	}
}

func (r *Reconciler) register(node placedNode) {
	idx := len(r.arena)
	r.arena = append(r.arena, node)
	r.byID[node.visit.ID] = idx
	r.updateLatest(r.latestByTab, node.visit.TabID, idx)
	if node.visit.GroupID != "" {
		r.updateLatest(r.latestByGroup, node.visit.GroupID, idx)
	}
}

// updateLatest replaces the index stored under key only if node at idx
// is at least as recent, by page_loaded_at then arrival order, as the
// node currently indexed there.
func (r *Reconciler) updateLatest(index map[string]int, key string, idx int) {
	if key == "" {
		return
	}
	cur, ok := index[key]
	if !ok {
		index[key] = idx
		return
	}
	candidate, current := r.arena[idx], r.arena[cur]
	if candidate.visit.PageLoadedAt.After(current.visit.PageLoadedAt) {
		index[key] = idx
		return
	}
	if candidate.visit.PageLoadedAt.Equal(current.visit.PageLoadedAt) && candidate.arrivalSeq > current.arrivalSeq {
		index[key] = idx
	}
}

func (r *Reconciler) nextArrivalSeq() uint64 {
	r.arrivalCounter++
	return r.arrivalCounter
}

func (r *Reconciler) deferAsOrphan(v models.Visit) {
	entry := &models.OrphanEntry{
		Visit:               v,
		ExpectedParentTabID: v.OpenerTabID,
		FirstSeenAt:         time.Now(),
		RetryCount:          0,
	}
	r.orphansByTab[entry.ExpectedParentTabID] = append(r.orphansByTab[entry.ExpectedParentTabID], entry)
}

// popOrphans removes and returns every OrphanEntry expecting tabID as
// its parent's tab.
func (r *Reconciler) popOrphans(tabID string) []*models.OrphanEntry {
	entries := r.orphansByTab[tabID]
	if len(entries) == 0 {
		return nil
	}
	delete(r.orphansByTab, tabID)
	return entries
}

// Orphans returns a snapshot of every currently deferred OrphanEntry,
// for inspection (e.g. /status or tests). The returned entries are
// copies; mutating them has no effect on the reconciler's state.
func (r *Reconciler) Orphans() []models.OrphanEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.OrphanEntry
	for _, entries := range r.orphansByTab {
		for _, e := range entries {
			out = append(out, *e)
		}
	}
	return out
}

func newTreeID(rootVisitID string) string {
	sum := md5.Sum([]byte("tree:" + rootVisitID))
	return hex.EncodeToString(sum[:])
}
