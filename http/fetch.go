package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultChunkSize is the size of each parallel range request.
	DefaultChunkSize = 16 << 20
	// DefaultRetries is the number of attempts per part.
	DefaultRetries = 10
	// DefaultParallelism bounds concurrent range requests.
	DefaultParallelism = 4
)

// ErrRetriesExhausted is returned when a part fails more times than allowed.
var ErrRetriesExhausted = errors.New("http: retries exhausted")

// FetchOptions tunes Fetch. Zero values select the defaults.
type FetchOptions struct {
	ChunkSize   int64
	Retries     int
	Parallelism int
	Logger      *slog.Logger
}

func (o FetchOptions) withDefaults() FetchOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Retries <= 0 {
		o.Retries = DefaultRetries
	}
	if o.Parallelism <= 0 {
		o.Parallelism = DefaultParallelism
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Fetch copies the whole of src into w and returns the byte count. Servers
// that support ranges are read in parallel parts of ChunkSize; a failed part
// is retried from the first byte it has not yet written.
func Fetch(ctx context.Context, src *Source, w io.WriterAt, opts FetchOptions) (int64, error) {
	opts = opts.withDefaults()
	if !src.AcceptsRanges() || src.Size() < 0 || src.Size() <= opts.ChunkSize {
		return fetchStream(ctx, src, w, opts)
	}

	guarded := &lockedWriterAt{w: w}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)
	for off := int64(0); off < src.Size(); off += opts.ChunkSize {
		length := min(opts.ChunkSize, src.Size()-off)
		g.Go(func() error {
			return fetchPart(gctx, src, guarded, off, length, opts)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return src.Size(), nil
}

func fetchPart(ctx context.Context, src *Source, w io.WriterAt, off, length int64, opts FetchOptions) error {
	var done int64
	var lastErr error
	for attempt := range opts.Retries {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := copyRange(ctx, src, w, off+done, length-done)
		done += n
		if err == nil && done == length {
			return nil
		}
		if errors.Is(err, ErrRangesUnsupported) {
			return err
		}
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		lastErr = err
		opts.Logger.Debug("retrying range", "url", src.URL(), "offset", off+done, "attempt", attempt+1, "err", err)
	}
	return fmt.Errorf("%w: %s at offset %d: %w", ErrRetriesExhausted, src.URL(), off+done, lastErr)
}

func copyRange(ctx context.Context, src *Source, w io.WriterAt, off, length int64) (int64, error) {
	body, err := src.ReadRange(ctx, off, length)
	if err != nil {
		return 0, err
	}
	defer body.Close()
	return io.Copy(io.NewOffsetWriter(w, off), body)
}

func fetchStream(ctx context.Context, src *Source, w io.WriterAt, opts FetchOptions) (int64, error) {
	var lastErr error
	for attempt := range opts.Retries {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := streamOnce(ctx, src, w)
		if err == nil {
			if src.Size() >= 0 && n != src.Size() {
				err = fmt.Errorf("http: short body: got %d of %d bytes", n, src.Size())
			} else {
				return n, nil
			}
		}
		lastErr = err
		opts.Logger.Debug("retrying download", "url", src.URL(), "attempt", attempt+1, "err", err)
	}
	return 0, fmt.Errorf("%w: %s: %w", ErrRetriesExhausted, src.URL(), lastErr)
}

func streamOnce(ctx context.Context, src *Source, w io.WriterAt) (int64, error) {
	body, err := src.Open(ctx)
	if err != nil {
		return 0, err
	}
	defer body.Close()
	return io.Copy(io.NewOffsetWriter(w, 0), body)
}

// lockedWriterAt serializes writes from concurrent parts.
type lockedWriterAt struct {
	mu sync.Mutex
	w  io.WriterAt
}

func (l *lockedWriterAt) WriteAt(p []byte, off int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.WriteAt(p, off)
}
