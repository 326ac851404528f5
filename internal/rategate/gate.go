// Package rategate implements the single shared "next slot" timestamp
// described in spec.md §4.C and §9: a serial lock bounding how often any
// worker may issue an upstream request, independent of how many requests
// are in flight at once.
package rategate

import (
	"context"
	"sync"
	"time"
)

// Gate serializes acquisition of the next permitted request time. It does
// not bound concurrency — only the floor on inter-request spacing.
type Gate struct {
	mu       sync.Mutex
	next     time.Time
	interval time.Duration
}

// New returns a Gate enforcing minInterval between requests. A zero
// interval disables the gate entirely (spec.md §8: requests_per_second = 0
// means no sleep is taken).
func New(minInterval time.Duration) *Gate {
	return &Gate{interval: minInterval, next: time.Now()}
}

// Wait blocks until the next request slot is free, then reserves the slot
// after it. Cancelling ctx returns early with ctx.Err().
func (g *Gate) Wait(ctx context.Context) error {
	if g.interval <= 0 {
		return nil
	}

	g.mu.Lock()
	now := time.Now()
	var wait time.Duration
	if now.Before(g.next) {
		wait = g.next.Sub(now)
	}
	base := g.next
	if base.Before(now) {
		base = now
	}
	g.next = base.Add(g.interval)
	g.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
