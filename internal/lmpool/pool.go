// Package lmpool bounds the concurrency of outbound language-model calls
// (spec §5: a fixed-size LM worker pool) over the placements produced
// for each dequeued visit, using an errgroup with a concurrency limit
// rather than a hand-rolled worker goroutine ring.
package lmpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool runs classification jobs with bounded concurrency.
type Pool struct {
	size int
}

// New creates a Pool that runs at most size jobs concurrently.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size}
}

// Run submits job for every item in parallel, bounded by the pool's
// size, and blocks until every submitted job has returned, even after ctx
// is cancelled. The first job error cancels the context handed to the
// other jobs (jobs not yet started are still run) and is what Run
// returns — each job is expected to handle its own
// failure by producing a fallback decision rather than propagating an
// error that would abort sibling visits.
func Run[T any](ctx context.Context, p *Pool, items []T, job func(context.Context, T) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)

	for _, item := range items {
		item := item
		g.Go(func() error {
			return job(gctx, item)
		})
	}
	return g.Wait()
}
