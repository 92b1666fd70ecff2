package patch

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/modlist/cache"
	"github.com/meigma/modlist/hashing"
)

// DefaultPatchers returns the built-in patchers in priority order: the
// format-aware DDS patcher first, then the generic delta.
func DefaultPatchers() []Patcher {
	return []Patcher{DDS{}, Delta{}}
}

// Dispatcher selects a patcher for each pair and caches the results.
type Dispatcher struct {
	patchers []Patcher
	cache    cache.PatchCache
	logger   *slog.Logger
	group    singleflight.Group
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPatchers replaces the patchers, in priority order.
func WithPatchers(patchers ...Patcher) Option {
	return func(d *Dispatcher) {
		d.patchers = patchers
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher returns a Dispatcher backed by pc. A nil pc uses an
// in-memory cache.
func NewDispatcher(pc cache.PatchCache, opts ...Option) *Dispatcher {
	d := &Dispatcher{cache: pc, patchers: DefaultPatchers()}
	for _, opt := range opts {
		opt(d)
	}
	if d.cache == nil {
		d.cache = cache.NewMemory()
	}
	return d
}

func (d *Dispatcher) log() *slog.Logger {
	if d.logger != nil {
		return d.logger
	}
	return slog.New(slog.DiscardHandler)
}

// Cache returns the patch cache.
func (d *Dispatcher) Cache() cache.PatchCache {
	return d.cache
}

// Cached returns the cached patch for the pair, if any.
func (d *Dispatcher) Cached(ctx context.Context, srcHash, destHash hashing.Hash) ([]byte, bool, error) {
	return d.cache.GetPatch(ctx, srcHash, destHash)
}

// Build returns a patch turning src into dest.
//
// The cache is consulted first. Otherwise the first patcher that accepts the
// pair builds the patch, which is stored in the cache before it is returned.
// Concurrent requests for the same pair share one build. Invalid hashes are
// computed from the bytes.
func (d *Dispatcher) Build(ctx context.Context, src []byte, srcHash hashing.Hash, dest []byte, destHash hashing.Hash) ([]byte, error) {
	if !srcHash.IsValid() {
		srcHash = hashing.Sum(src)
	}
	if !destHash.IsValid() {
		destHash = hashing.Sum(dest)
	}
	key := string(cache.PatchKey(srcHash, destHash))
	v, err, shared := d.group.Do(key, func() (any, error) {
		return d.build(ctx, src, srcHash, dest, destHash)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		d.log().Debug("patch build shared", "src", srcHash, "hash", destHash)
	}
	return v.([]byte), nil //nolint:errcheck // group only stores []byte values
}

func (d *Dispatcher) build(ctx context.Context, src []byte, srcHash hashing.Hash, dest []byte, destHash hashing.Hash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p, ok, err := d.cache.GetPatch(ctx, srcHash, destHash); err != nil {
		d.log().Warn("patch cache lookup failed", "src", srcHash, "hash", destHash, "err", err)
	} else if ok {
		return p, nil
	}

	for _, p := range d.patchers {
		if !p.CanPatch(src, dest) {
			continue
		}
		out, err := p.Build(src, dest)
		if err != nil {
			return nil, fmt.Errorf("patch: %s %s -> %s: %w", p.Name(), srcHash, destHash, err)
		}
		if err := d.cache.PutPatch(ctx, srcHash, destHash, out); err != nil {
			return nil, fmt.Errorf("patch: cache %s -> %s: %w", srcHash, destHash, err)
		}
		d.log().Debug("patch built", "patcher", p.Name(), "src", srcHash, "hash", destHash, "size", len(out))
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrNoPatcher, srcHash, destHash)
}
