package bsa

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"

	"github.com/meigma/modlist/internal/sizing"
)

type codec uint8

const (
	codecZlib codec = iota
	codecLZ4
)

func compress(c codec, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	switch c {
	case codecLZ4:
		zw := lz4.NewWriter(&buf)
		if err := zw.Apply(lz4.ChecksumOption(false)); err != nil {
			return nil, err
		}
		w = zw
	default:
		w = zlib.NewWriter(&buf)
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(c codec, r io.Reader, w io.Writer, size int64) error {
	var src io.Reader
	switch c {
	case codecLZ4:
		src = lz4.NewReader(r)
	default:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return fmt.Errorf("%w: zlib: %v", ErrCorrupt, err)
		}
		defer zr.Close()
		src = zr
	}
	if err := sizing.CopyDeclared(w, src, size); err != nil {
		return fmt.Errorf("%w: decompress: %v", ErrCorrupt, err)
	}
	return nil
}
