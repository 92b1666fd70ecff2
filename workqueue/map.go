package workqueue

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Map runs fn over items on q and returns the results in input order.
//
// The first error cancels the context passed to running tasks and stops
// scheduling. fn must not schedule work on the same queue, since a task
// waiting on its own queue can starve it.
func Map[T, R any](ctx context.Context, q *Queue, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	err := run(ctx, q, len(items), func(ctx context.Context, i int) error {
		r, err := fn(ctx, items[i])
		if err != nil {
			return err
		}
		results[i] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// MapUnordered runs fn over items on q and returns the results in completion
// order.
func MapUnordered[T, R any](ctx context.Context, q *Queue, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	var mu sync.Mutex
	results := make([]R, 0, len(items))
	err := run(ctx, q, len(items), func(ctx context.Context, i int) error {
		r, err := fn(ctx, items[i])
		if err != nil {
			return err
		}
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ForEach runs fn over items on q.
func ForEach[T any](ctx context.Context, q *Queue, items []T, fn func(context.Context, T) error) error {
	return run(ctx, q, len(items), func(ctx context.Context, i int) error {
		return fn(ctx, items[i])
	})
}

func run(ctx context.Context, q *Queue, n int, fn func(context.Context, int) error) error {
	if n == 0 {
		return ctx.Err()
	}
	g, gctx := errgroup.WithContext(ctx)
	var done atomic.Int64
	for i := range n {
		if err := q.acquire(gctx); err != nil {
			break
		}
		g.Go(func() error {
			defer q.release()
			if err := fn(gctx, i); err != nil {
				return err
			}
			d := int(done.Add(1))
			q.emit(ProgressEvent{
				Stage:   StageWorking,
				Done:    d,
				Total:   n,
				Percent: float64(d) / float64(n),
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
