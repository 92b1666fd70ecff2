package vfs

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/meigma/modlist/bsa"
	"github.com/meigma/modlist/internal/pathutil"
)

// Extractor unpacks one kind of container.
type Extractor interface {
	// Name identifies the extractor in logs.
	Name() string

	// CanExtract reports whether the file at path is a container this
	// extractor understands, judged by its signature.
	CanExtract(path string) bool

	// Extract writes every member of src beneath dest.
	Extract(ctx context.Context, src, dest string) error
}

// DefaultExtractors returns the built-in extractors: zip, tar (plain, gzip
// or zstd compressed) and Bethesda archives.
func DefaultExtractors() []Extractor {
	return []Extractor{ZipExtractor{}, TarExtractor{}, BSAExtractor{}}
}

var (
	magicZip  = []byte("PK\x03\x04")
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

const (
	tarMagicOffset = 257
	sniffSize      = 512
)

func sniff(path string, n int) []byte {
	f, err := os.Open(path) //nolint:gosec // indexer-supplied path
	if err != nil {
		return nil
	}
	defer f.Close()
	buf := make([]byte, n)
	m, _ := io.ReadFull(f, buf)
	return buf[:m]
}

// ZipExtractor unpacks zip archives.
type ZipExtractor struct{}

// Name implements Extractor.
func (ZipExtractor) Name() string { return "zip" }

// CanExtract implements Extractor.
func (ZipExtractor) CanExtract(path string) bool {
	return bytes.HasPrefix(sniff(path, len(magicZip)), magicZip)
}

// Extract implements Extractor.
func (ZipExtractor) Extract(ctx context.Context, src, dest string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotExtractable, src, err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			continue
		}
		target, err := pathutil.SafeJoin(dest, zf.Name)
		if err != nil {
			return err
		}
		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("%w: %s: %s: %v", ErrNotExtractable, src, zf.Name, err)
		}
		err = writeMember(target, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// TarExtractor unpacks tar archives, optionally gzip or zstd compressed.
type TarExtractor struct{}

// Name implements Extractor.
func (TarExtractor) Name() string { return "tar" }

// CanExtract implements Extractor. Compressed streams are peeked to confirm
// a tar header follows.
func (TarExtractor) CanExtract(path string) bool {
	f, err := os.Open(path) //nolint:gosec // indexer-supplied path
	if err != nil {
		return false
	}
	defer f.Close()
	r, closeFn, err := decompressTar(f)
	if err != nil {
		return false
	}
	defer closeFn()
	buf := make([]byte, sniffSize)
	n, _ := io.ReadFull(r, buf)
	return n >= tarMagicOffset+5 && string(buf[tarMagicOffset:tarMagicOffset+5]) == "ustar"
}

// decompressTar wraps r in the decompressor its signature calls for.
func decompressTar(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(4)
	switch {
	case bytes.HasPrefix(head, magicGzip):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return gz, func() { gz.Close() }, nil
	case bytes.HasPrefix(head, magicZstd):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	default:
		return br, func() {}, nil
	}
}

// Extract implements Extractor.
func (TarExtractor) Extract(ctx context.Context, src, dest string) error {
	f, err := os.Open(src) //nolint:gosec // indexer-supplied path
	if err != nil {
		return err
	}
	defer f.Close()
	r, closeFn, err := decompressTar(f)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotExtractable, src, err)
	}
	defer closeFn()

	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrNotExtractable, src, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		target, err := pathutil.SafeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		if err := writeMember(target, tr); err != nil {
			return err
		}
	}
}

// BSAExtractor unpacks Bethesda archives.
type BSAExtractor struct{}

// Name implements Extractor.
func (BSAExtractor) Name() string { return "bsa" }

// CanExtract implements Extractor.
func (BSAExtractor) CanExtract(path string) bool {
	return bsa.MightBeArchive(path)
}

// Extract implements Extractor.
func (BSAExtractor) Extract(ctx context.Context, src, dest string) error {
	r, err := bsa.OpenRead(src)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotExtractable, err)
	}
	defer r.Close()
	_, err = bsa.Extract(ctx, r, dest)
	return err
}

func writeMember(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}
	out, err := os.Create(target) //nolint:gosec // joined under the staging root
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
