package service

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent agent invocations with a weighted semaphore. DAG
// waves and swarm fan-out batches share one Pool so a wide graph cannot
// exhaust sockets on the agent endpoints.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a Pool that allows at most limit concurrent invocations.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit))}
}

// Run acquires a slot, runs fn, and releases the slot. Blocks while all
// slots are busy and returns ctx.Err() if the context ends first. A nil
// pool runs fn directly.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
