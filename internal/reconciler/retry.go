package reconciler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryTimer periodically re-offers deferred orphans to the Reconciler
// and ages them out, per spec §4.4. It never runs concurrently with the
// consumer's calls to Place — both serialize through the Reconciler's
// single lock.
type RetryTimer struct {
	r          *Reconciler
	interval   time.Duration
	maxAge     time.Duration
	maxRetries int

	// onReconnect receives every Placement produced by a successful
	// retry, including cascaded reconnects, so the consumer can run the
	// classifier on them (spec: "Reconnected triggers classification of
	// the previously deferred visit").
	onReconnect func(Placement)
}

// NewRetryTimer creates a RetryTimer. onReconnect is invoked, still
// under the reconciler lock's happens-before edge but outside of it (the
// call itself occurs after Tick releases the lock), for every visit that
// reconnects during a retry pass.
func NewRetryTimer(r *Reconciler, interval, maxAge time.Duration, maxRetries int, onReconnect func(Placement)) *RetryTimer {
	return &RetryTimer{
		r:           r,
		interval:    interval,
		maxAge:      maxAge,
		maxRetries:  maxRetries,
		onReconnect: onReconnect,
	}
}

// Run drives the retry loop until ctx is cancelled. It exits immediately
// on cancellation, per spec §5.
func (t *RetryTimer) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.Tick(now)
		}
	}
}

// Tick runs one retry pass: ages out expired/exhausted orphans and
// re-offers the rest, reconnecting whichever now have an attachable
// parent.
func (t *RetryTimer) Tick(now time.Time) {
	placements, expired := t.r.retryTick(now, t.maxAge, t.maxRetries)

	for _, age := range expired {
		log.Info().
			Str("tab_id", age.tabID).
			Str("visit_id", age.visitID).
			Dur("age", now.Sub(age.firstSeenAt)).
			Msg("orphan expired, dropping")
	}

	for _, p := range placements {
		if t.onReconnect != nil {
			t.onReconnect(p)
		}
	}
}

type expiredOrphan struct {
	tabID       string
	visitID     string
	firstSeenAt time.Time
}

// retryTick is the lock-guarded body of Tick, split out so Reconciler
// owns all mutation of the orphan table and arena.
func (r *Reconciler) retryTick(now time.Time, maxAge time.Duration, maxRetries int) ([]Placement, []expiredOrphan) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var placements []Placement
	var expired []expiredOrphan

	tabs := make([]string, 0, len(r.orphansByTab))
	for tab := range r.orphansByTab {
		tabs = append(tabs, tab)
	}

	for _, tab := range tabs {
		entries := r.orphansByTab[tab]
		kept := entries[:0]

		for _, oe := range entries {
			if now.Sub(oe.FirstSeenAt) > maxAge {
				expired = append(expired, expiredOrphan{tabID: tab, visitID: oe.Visit.ID, firstSeenAt: oe.FirstSeenAt})
				continue
			}
			if oe.RetryCount >= maxRetries {
				continue
			}
			oe.RetryCount++

			if p, ok := r.tryAttach(oe.Visit, true); ok {
				placements = append(placements, p)
				r.cascadeReconnected(p.Visit.TabID, &placements)
				continue
			}
			kept = append(kept, oe)
		}

		if len(kept) == 0 {
			delete(r.orphansByTab, tab)
		} else {
			r.orphansByTab[tab] = kept
		}
	}

	return placements, expired
}

// cascadeReconnected re-offers every orphan now expecting tabID as its
// parent's tab, recursively, after a retry-driven reconnect.
func (r *Reconciler) cascadeReconnected(tabID string, out *[]Placement) {
	for _, orphan := range r.popOrphans(tabID) {
		r.placeAndCascade(orphan.Visit, true, out)
	}
}
