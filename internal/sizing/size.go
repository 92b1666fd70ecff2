// Package sizing holds payloads read out of containers to the size their
// headers declare.
package sizing

import (
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrSizeMismatch is returned when a payload is longer or shorter than its
// declared size.
var ErrSizeMismatch = errors.New("payload size differs from declared size")

// ReadDeclared reads r to EOF into a buffer sized for declared bytes. A
// stream that runs past declared fails with ErrSizeMismatch before the excess
// is buffered, so a header that under-reports cannot force an unbounded read.
func ReadDeclared(r io.Reader, declared uint64) ([]byte, error) {
	if declared > uint64(math.MaxInt-1) {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrSizeMismatch, declared)
	}
	buf := make([]byte, 0, declared+1)
	lr := &io.LimitedReader{R: r, N: int64(declared) + 1} //nolint:gosec // checked above
	for {
		n, err := lr.Read(buf[len(buf):cap(buf)])
		buf = buf[:len(buf)+n]
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if uint64(len(buf)) > declared {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrSizeMismatch, declared)
	}
	return buf, nil
}

// CopyDeclared copies exactly declared bytes from r to w and then checks that
// r is exhausted. Nothing past declared reaches w.
func CopyDeclared(w io.Writer, r io.Reader, declared int64) error {
	n, err := io.CopyN(w, r, declared)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, n, declared)
		}
		return err
	}
	var extra [1]byte
	switch m, err := io.ReadFull(r, extra[:]); {
	case m > 0:
		return fmt.Errorf("%w: more than %d bytes", ErrSizeMismatch, declared)
	case errors.Is(err, io.EOF):
		return nil
	default:
		return err
	}
}
