// Package workqueue runs work functions over sequences of items on a bounded,
// resizable pool of workers.
//
// Two primitives are provided: [Map] preserves input order in its output and
// [MapUnordered] returns results in completion order. Both stop scheduling new
// items after the first error or when the context is canceled.
package workqueue

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
)

// Queue is a bounded-concurrency scheduler shared by the indexer, the
// matching pipeline and patch building.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	limit    int
	active   int
	progress ProgressFunc
	logger   *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithProgress sets the progress callback. It must be safe for concurrent calls.
func WithProgress(fn ProgressFunc) Option {
	return func(q *Queue) {
		q.progress = fn
	}
}

// WithLogger sets the queue logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// New returns a Queue with the given worker count. A count below one uses
// runtime.NumCPU.
func New(workers int, opts ...Option) *Queue {
	q := &Queue{limit: normalize(workers)}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func normalize(n int) int {
	if n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// SetWorkers changes the worker count. Running tasks are not interrupted;
// lowering the count takes effect as tasks finish.
func (q *Queue) SetWorkers(n int) {
	q.mu.Lock()
	q.limit = normalize(n)
	q.mu.Unlock()
	q.cond.Broadcast()
	q.log().Debug("work queue resized", "workers", n)
}

// Workers returns the current worker count.
func (q *Queue) Workers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit
}

// Active returns the number of running tasks.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

func (q *Queue) log() *slog.Logger {
	if q.logger != nil {
		return q.logger
	}
	return slog.New(slog.DiscardHandler)
}

// acquire blocks until a worker slot is free or ctx is done.
func (q *Queue) acquire(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.active >= q.limit {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	q.active++
	return nil
}

func (q *Queue) release() {
	q.mu.Lock()
	q.active--
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Report publishes a progress update. Percent is clamped to [0, 1].
func (q *Queue) Report(description string, percent float64) {
	q.emit(ProgressEvent{Stage: StageWorking, Description: description, Percent: clamp(percent)})
}

func (q *Queue) emit(ev ProgressEvent) {
	if q.progress != nil {
		q.progress(ev)
	}
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

// Do runs fn in a worker slot, waiting for one to become free. It is the
// building block for pipelines that pull items from channels instead of
// slices.
func (q *Queue) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := q.acquire(ctx); err != nil {
		return err
	}
	defer q.release()
	return fn(ctx)
}
