// Package download fetches the source archives a plan references.
//
// Each archive carries a State parsed from its .meta file. A Dispatcher
// routes the archive to the Downloader registered for the state's kind and
// checks the result against the archive's content hash before it is moved
// into place.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	mlhttp "github.com/meigma/modlist/http"
	"github.com/meigma/modlist/hashing"
)

// ErrRetriesExhausted is returned when a transfer fails more times than allowed.
var ErrRetriesExhausted = mlhttp.ErrRetriesExhausted

// Downloader fetches archives of one state kind.
type Downloader interface {
	// Kind is the state kind this downloader handles.
	Kind() Kind
	// Prepare runs once before the first download, for login or probing.
	Prepare(ctx context.Context) error
	// Download writes the archive's bytes to dest.
	Download(ctx context.Context, archive *Archive, dest string) error
	// Verify reports whether the archive is still obtainable.
	Verify(ctx context.Context, archive *Archive) (bool, error)
}

// Dispatcher routes archives to downloaders by state kind.
type Dispatcher struct {
	downloaders map[Kind]Downloader
	logger      *slog.Logger

	mu       sync.Mutex
	prepared map[Kind]*prepareOnce
}

type prepareOnce struct {
	once sync.Once
	err  error
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDownloader registers d, replacing any downloader of the same kind.
func WithDownloader(d Downloader) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.downloaders[d.Kind()] = d
	}
}

// WithDispatcherLogger sets the logger for download events.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a Dispatcher with the HTTP and manual downloaders
// registered. Others are added with WithDownloader.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		downloaders: map[Kind]Downloader{},
		prepared:    map[Kind]*prepareOnce{},
	}
	for _, def := range []Downloader{NewHTTP(), Manual{}} {
		d.downloaders[def.Kind()] = def
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) log() *slog.Logger {
	if d.logger != nil {
		return d.logger
	}
	return slog.New(slog.DiscardHandler)
}

// Downloader returns the downloader for the archive's state.
func (d *Dispatcher) Downloader(archive *Archive) (Downloader, error) {
	if err := archive.ResolveState(); err != nil {
		return nil, err
	}
	dl, ok := d.downloaders[archive.State.Kind()]
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrNoDownloader, archive.Name, archive.State.Kind())
	}
	return dl, nil
}

// Download fetches archive to dest. The bytes land in a temporary file next
// to dest and are renamed into place only after the content hash, and the
// strong digest when one is recorded, match.
func (d *Dispatcher) Download(ctx context.Context, archive *Archive, dest string) error {
	dl, err := d.Downloader(archive)
	if err != nil {
		return err
	}
	if err := d.prepare(ctx, dl); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.%s.part", dest, uuid.NewString())
	defer os.Remove(tmp)

	d.log().Info("downloading archive", "archive", archive.Name, "kind", archive.State.Kind(), "size", archive.Size)
	if err := dl.Download(ctx, archive, tmp); err != nil {
		return fmt.Errorf("download %s: %w", archive.Name, err)
	}
	if err := verifyFile(tmp, archive); err != nil {
		return fmt.Errorf("download %s: %w", archive.Name, err)
	}
	return os.Rename(tmp, dest)
}

// Verify reports whether the archive can still be downloaded.
func (d *Dispatcher) Verify(ctx context.Context, archive *Archive) (bool, error) {
	dl, err := d.Downloader(archive)
	if err != nil {
		return false, err
	}
	if err := d.prepare(ctx, dl); err != nil {
		return false, err
	}
	return dl.Verify(ctx, archive)
}

func (d *Dispatcher) prepare(ctx context.Context, dl Downloader) error {
	d.mu.Lock()
	p, ok := d.prepared[dl.Kind()]
	if !ok {
		p = &prepareOnce{}
		d.prepared[dl.Kind()] = p
	}
	d.mu.Unlock()

	p.once.Do(func() {
		p.err = dl.Prepare(ctx)
	})
	return p.err
}

func verifyFile(path string, archive *Archive) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	got, n, err := hashing.Reader(f)
	if err != nil {
		return err
	}
	if archive.Size > 0 && n != archive.Size {
		return fmt.Errorf("%w: size %d, want %d", hashing.ErrHashMismatch, n, archive.Size)
	}
	if archive.Hash.IsValid() {
		if err := hashing.Verify(archive.Hash, got); err != nil {
			return err
		}
	}
	if archive.Digest == "" {
		return nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return hashing.VerifyStrong(f, archive.Digest)
}

// IsManual reports whether err asks the user to fetch the archive by hand.
func IsManual(err error) bool {
	return errors.Is(err, ErrManualDownload)
}

// writeAtomic streams into a temporary file next to dest and renames it into
// place once write succeeds. A failed write leaves nothing at dest.
func writeAtomic(dest string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
