package download

import (
	"context"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"os"

	mlhttp "github.com/meigma/modlist/http"
)

// Defaults for the HTTP downloader.
const (
	DefaultChunkSize = mlhttp.DefaultChunkSize
	DefaultRetries   = mlhttp.DefaultRetries
)

// HTTP downloads archives from direct URLs.
type HTTP struct {
	client *nethttp.Client
	fetch  mlhttp.FetchOptions
}

// HTTPOption configures the HTTP downloader.
type HTTPOption func(*HTTP)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(client *nethttp.Client) HTTPOption {
	return func(h *HTTP) {
		h.client = client
	}
}

// WithChunkSize sets the size of each parallel range request.
func WithChunkSize(size int64) HTTPOption {
	return func(h *HTTP) {
		h.fetch.ChunkSize = size
	}
}

// WithRetries sets the number of attempts per range.
func WithRetries(n int) HTTPOption {
	return func(h *HTTP) {
		h.fetch.Retries = n
	}
}

// WithParallelism bounds concurrent range requests per archive.
func WithParallelism(n int) HTTPOption {
	return func(h *HTTP) {
		h.fetch.Parallelism = n
	}
}

// WithHTTPLogger sets the logger for retry events.
func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(h *HTTP) {
		h.fetch.Logger = logger
	}
}

// NewHTTP creates an HTTP downloader.
func NewHTTP(opts ...HTTPOption) *HTTP {
	h := &HTTP{client: nethttp.DefaultClient}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTP) Kind() Kind                      { return KindHTTP }
func (h *HTTP) Prepare(_ context.Context) error { return nil }

func (h *HTTP) Download(ctx context.Context, archive *Archive, dest string) error {
	src, err := h.source(ctx, archive)
	if err != nil {
		return err
	}
	if archive.Size > 0 && src.Size() >= 0 && src.Size() != archive.Size {
		return fmt.Errorf("download: %s reports %d bytes, want %d", src.URL(), src.Size(), archive.Size)
	}

	return writeAtomic(dest, func(f *os.File) error {
		_, err := mlhttp.Fetch(ctx, src, f, h.fetch)
		return err
	})
}

// Verify checks the URL without fetching the body.
func (h *HTTP) Verify(ctx context.Context, archive *Archive) (bool, error) {
	src, err := h.source(ctx, archive)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, nil
	}
	return archive.Size <= 0 || src.Size() < 0 || src.Size() == archive.Size, nil
}

func (h *HTTP) source(ctx context.Context, archive *Archive) (*mlhttp.Source, error) {
	state, ok := archive.State.(*HTTPState)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an http archive", ErrNoDownloader, archive.Name)
	}
	opts := []mlhttp.Option{mlhttp.WithClient(h.client)}
	for _, line := range state.Headers {
		opts = append(opts, mlhttp.WithHeader(Header(line)))
	}
	return mlhttp.NewSource(ctx, state.URL, opts...)
}
