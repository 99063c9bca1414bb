// Package rerank implements the Reranker Pool (spec 4.F): a bounded
// concurrency lease around a pluggable cross-encoder reranker, so the
// retrieval pipeline never issues more concurrent rerank calls than the
// backend can sustain.
package rerank

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Result is one reranked document: its original index in the input
// slice and the cross-encoder's relevance score (not assumed to be in
// [0,1] — callers normalize).
type Result struct {
	Index int
	Score float32
}

// Reranker scores a batch of documents against a query. Implementations
// are expected to return one Result per input document, though callers
// must tolerate a reranker returning fewer (or an out-of-range index)
// and degrade gracefully.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]Result, error)
}

// Pool bounds how many rerank calls may be in flight at once, across
// however many concurrent retrieval requests are running.
type Pool struct {
	reranker Reranker
	sem      *semaphore.Weighted
}

// NewPool builds a Pool backed by reranker, allowing at most maxInFlight
// concurrent Rerank calls.
func NewPool(reranker Reranker, maxInFlight int64) *Pool {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Pool{reranker: reranker, sem: semaphore.NewWeighted(maxInFlight)}
}

// Lease is an acquired slot in the pool's concurrency budget, held for
// the duration of one retrieval request's rerank calls.
type Lease struct {
	pool *Pool
}

// Acquire blocks until a concurrency slot is free (or ctx is done) and
// returns a Lease that must be released.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &Lease{pool: p}, nil
}

// Release returns the lease's concurrency slot to the pool. Safe to
// call at most once per lease.
func (l *Lease) Release() {
	l.pool.sem.Release(1)
}

// Rerank delegates to the pool's underlying Reranker.
func (l *Lease) Rerank(ctx context.Context, query string, documents []string) ([]Result, error) {
	return l.pool.reranker.Rerank(ctx, query, documents)
}
