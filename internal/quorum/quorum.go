// Package quorum implements the generic K-of-N replica result
// collector the coordinator builds GET/PUT/DELETE fan-out on top of:
// one type parametrized by the per-replica result type and a resolver
// function, short-circuiting as soon as the threshold is met rather
// than waiting for every replica.
package quorum

import (
	"context"
	"fmt"

	"quorumkv/internal/kverr"
)

// Task performs one replica's half of a quorum operation.
type Task[T any] func(ctx context.Context) (T, error)

// Resolver combines the replica results that reached quorum into a
// single outcome. It runs only after Collector.Run has confirmed at
// least needed results arrived; it never sees fewer.
type Resolver[T, R any] func(results []T) (R, error)

// Collector runs needed-of-len(tasks) Tasks concurrently and, once
// needed results have arrived, resolves them into R without waiting
// for the remaining stragglers. If fewer than needed tasks ever
// succeed, Run returns kverr.ErrInsufficientReplicas.
type Collector[T, R any] struct {
	needed  int
	resolve Resolver[T, R]
}

// New builds a Collector requiring needed successful Tasks before
// resolve is invoked.
func New[T, R any](needed int, resolve Resolver[T, R]) *Collector[T, R] {
	return &Collector[T, R]{needed: needed, resolve: resolve}
}

// Run fans tasks out onto their own goroutines, collects results as
// they arrive, and resolves as soon as needed of them have succeeded.
// A task that errors counts against the total but never against
// needed; a task that is still running when quorum is reached is
// abandoned, not cancelled: its goroutine simply finishes into a
// channel nobody reads from again.
func (c *Collector[T, R]) Run(ctx context.Context, tasks []Task[T]) (R, error) {
	var zero R
	total := len(tasks)
	if c.needed <= 0 || c.needed > total {
		return zero, fmt.Errorf("quorum: needed %d invalid for %d replicas", c.needed, total)
	}

	results := make(chan T, total)
	failures := make(chan error, total)
	for _, task := range tasks {
		go func(t Task[T]) {
			v, err := t(ctx)
			if err != nil {
				failures <- err
				return
			}
			results <- v
		}(task)
	}

	collected := make([]T, 0, c.needed)
	var lastErr error
	failed := 0
	for {
		select {
		case v := <-results:
			collected = append(collected, v)
			if len(collected) >= c.needed {
				return c.resolve(collected)
			}
		case err := <-failures:
			failed++
			lastErr = err
			// Once too many replicas have failed, quorum can no
			// longer be reached; don't wait out the stragglers.
			if total-failed < c.needed {
				return zero, c.insufficient(len(collected), total, lastErr)
			}
		case <-ctx.Done():
			return zero, c.insufficient(len(collected), total, ctx.Err())
		}
	}
}

func (c *Collector[T, R]) insufficient(got, total int, cause error) error {
	if cause != nil {
		return fmt.Errorf("quorum: %w: got %d of %d needed (%d total replicas): %v",
			kverr.ErrInsufficientReplicas, got, c.needed, total, cause)
	}
	return fmt.Errorf("quorum: %w: got %d of %d needed (%d total replicas)",
		kverr.ErrInsufficientReplicas, got, c.needed, total)
}
