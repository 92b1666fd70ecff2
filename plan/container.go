package plan

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/meigma/modlist/internal/sizing"
)

// ManifestEntry is the container entry holding the encoded ModList.
const ManifestEntry = "modlist"

// Extension is the conventional plan file extension.
const Extension = ".modlist"

// ErrBlobNotFound is returned for blob ids the container does not hold.
var ErrBlobNotFound = errors.New("plan: blob not found")

// ErrEntryTooLarge is returned when an entry inflates past its recorded size.
var ErrEntryTooLarge = errors.New("plan: entry exceeds recorded size")

// Writer builds a plan container. Blobs are added first; Finish writes the
// manifest and moves the file into place.
type Writer struct {
	path string
	tmp  *os.File
	zw   *zip.Writer
	ids  map[string]struct{}
}

// Create starts a container that will be written to path.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, err
	}
	zw := zip.NewWriter(tmp)
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())
	return &Writer{path: path, tmp: tmp, zw: zw, ids: map[string]struct{}{}}, nil
}

// AddBlob stores data under a fresh id and returns the id.
func (w *Writer) AddBlob(data []byte) (string, error) {
	id := uuid.NewString()
	if err := w.PutBlob(id, data); err != nil {
		return "", err
	}
	return id, nil
}

// PutBlob stores data under id.
func (w *Writer) PutBlob(id string, data []byte) error {
	if id == ManifestEntry {
		return fmt.Errorf("plan: blob id %q is reserved", id)
	}
	if _, dup := w.ids[id]; dup {
		return fmt.Errorf("plan: duplicate blob id %q", id)
	}
	fw, err := w.zw.CreateHeader(&zip.FileHeader{Name: id, Method: zstd.ZipMethodWinZip})
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	w.ids[id] = struct{}{}
	return nil
}

// Finish writes m as the manifest and atomically replaces the target path.
func (w *Writer) Finish(m *ModList) error {
	data, err := Marshal(m)
	if err != nil {
		w.Abort()
		return err
	}
	fw, err := w.zw.CreateHeader(&zip.FileHeader{Name: ManifestEntry, Method: zip.Deflate})
	if err == nil {
		_, err = fw.Write(data)
	}
	if err == nil {
		err = w.zw.Close()
	}
	if err == nil {
		err = w.tmp.Sync()
	}
	if cerr := w.tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(w.tmp.Name(), w.path)
	}
	if err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("plan: write %s: %w", w.path, err)
	}
	return nil
}

// Abort discards the partial container.
func (w *Writer) Abort() {
	w.tmp.Close()
	os.Remove(w.tmp.Name())
}

// File is an open plan container.
type File struct {
	zr      *zip.ReadCloser
	modlist *ModList
	entries map[string]*zip.File
}

// Open reads the manifest of the container at path.
func Open(path string) (*File, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	f := &File{zr: zr, entries: make(map[string]*zip.File, len(zr.File))}
	for _, e := range zr.File {
		f.entries[e.Name] = e
	}
	man, ok := f.entries[ManifestEntry]
	if !ok {
		zr.Close()
		return nil, fmt.Errorf("%w: %s has no %s entry", ErrInvalidPlan, path, ManifestEntry)
	}
	data, err := readEntry(man)
	if err != nil {
		zr.Close()
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	if f.modlist, err = Unmarshal(data); err != nil {
		zr.Close()
		return nil, err
	}
	return f, nil
}

// ModList returns the decoded plan.
func (f *File) ModList() *ModList {
	return f.modlist
}

// OpenBlob streams the blob with the given id.
func (f *File) OpenBlob(id string) (io.ReadCloser, error) {
	e, ok := f.entries[id]
	if !ok || id == ManifestEntry {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, id)
	}
	return e.Open()
}

// ReadBlob returns the blob with the given id.
func (f *File) ReadBlob(id string) ([]byte, error) {
	e, ok := f.entries[id]
	if !ok || id == ManifestEntry {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, id)
	}
	return readEntry(e)
}

// Close releases the container.
func (f *File) Close() error {
	return f.zr.Close()
}

func readEntry(e *zip.File) ([]byte, error) {
	rc, err := e.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := sizing.ReadDeclared(rc, e.UncompressedSize64)
	if errors.Is(err, sizing.ErrSizeMismatch) {
		return nil, fmt.Errorf("%w: %s: %v", ErrEntryTooLarge, e.Name, err)
	}
	return data, err
}
