// Package workpool implements the rate-limited, round-replaying job runner
// described in spec.md §4.C: bounded concurrency, a terminal outcome per
// key, and exponential cool-down replay of Error outcomes across rounds.
// The per-request retry/backoff loop lives in the upstream clients
// (internal/npiapi, internal/hcpcsapi); this package only owns round-level
// replay and concurrency bounding.
package workpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Outcome is the tagged-variant result of resolving one identifier
// (spec.md §9, "Polymorphic result per identifier").
type Outcome int

const (
	Found Outcome = iota
	NotFound
	Error
)

// Job resolves a single identifier key. A non-terminal failure must be
// reported as (Error, err); Run decides whether that earns a round replay.
// Job should itself respect ctx cancellation for any blocking I/O.
type Job[K any] func(ctx context.Context, key K) (Outcome, error)

// Result is a key's final settled outcome once no further round replay is
// possible (either it resolved, or the retry-round budget was exhausted).
type Result[K any] struct {
	Key     K
	Outcome Outcome
	Err     error
}

// Options configures the three simultaneous budgets from spec.md §4.C:
// concurrency, failure-retry rounds, and the base cool-down between them.
type Options struct {
	Concurrency        int
	FailureRetryRounds int
	FailureRetryDelay  time.Duration
	Shutdown           *atomic.Bool // polled; nil means never requested
}

// Run drains keys against job. Error outcomes from round k are replayed in
// round k+1 (up to FailureRetryRounds), after sleeping
// FailureRetryDelay*2^(k-1) seconds, clamped to one hour. Shutdown is
// polled before each dispatch, between completions, and once per second
// during cool-down sleeps; once observed, Run stops dispatching new work,
// lets in-flight jobs finish, and returns with interrupted=true. Keys left
// neither settled nor replayed after an interruption are omitted from
// results — callers must treat any key absent from results as unresolved.
func Run[K any](ctx context.Context, keys []K, opts Options, job Job[K]) (results []Result[K], interrupted bool) {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	settled := make([]Result[K], 0, len(keys))
	round := keys
	roundNum := 0

	for len(round) > 0 {
		if shutdownRequested(opts.Shutdown) {
			interrupted = true
			break
		}

		if roundNum > 0 && opts.FailureRetryDelay > 0 {
			shift := roundNum - 1
			if shift > 20 {
				shift = 20
			}
			delay := opts.FailureRetryDelay * time.Duration(int64(1)<<uint(shift))
			if delay > time.Hour {
				delay = time.Hour
			}
			if coolDown(delay, opts.Shutdown) {
				interrupted = true
				break
			}
		}

		var mu sync.Mutex
		var nextRound []K
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		stoppedDispatch := false

		for _, key := range round {
			if stoppedDispatch || shutdownRequested(opts.Shutdown) {
				stoppedDispatch = true
				mu.Lock()
				nextRound = append(nextRound, key)
				mu.Unlock()
				continue
			}

			k := key
			g.Go(func() error {
				outcome, err := job(gctx, k)
				mu.Lock()
				defer mu.Unlock()
				if outcome == Error && roundNum < opts.FailureRetryRounds && !shutdownRequested(opts.Shutdown) {
					nextRound = append(nextRound, k)
					return nil
				}
				settled = append(settled, Result[K]{Key: k, Outcome: outcome, Err: err})
				return nil
			})
		}
		_ = g.Wait()

		round = nextRound
		roundNum++
		if stoppedDispatch {
			interrupted = true
			break
		}
	}

	return settled, interrupted
}

func shutdownRequested(flag *atomic.Bool) bool {
	return flag != nil && flag.Load()
}

// coolDown sleeps d, polling shutdown once per second, and reports whether
// shutdown was observed during the sleep.
func coolDown(d time.Duration, shutdown *atomic.Bool) bool {
	deadline := time.Now().Add(d)
	for {
		if shutdownRequested(shutdown) {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		tick := time.Second
		if remaining < tick {
			tick = remaining
		}
		time.Sleep(tick)
	}
}
