// Package file implements a local filesystem-backed data source with
// transparent decompression and file-name based format detection.
package file

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ulikunitz/xz"
)

// Local is a filesystem data source that opens files from the local disk.
type Local struct{ path string }

// NewLocal returns a new Local data source bound to path.
func NewLocal(path string) *Local { return &Local{path: path} }

// Path returns the configured path.
func (l *Local) Path() string { return l.path }

// Open opens the configured path for reading. Files ending in .gz, .bz2 or
// .xz are decompressed on the fly; closing the returned reader closes the
// underlying file.
//
// If ctx is already done Open returns its error without touching the
// filesystem. Filesystem errors are the *os.PathError from os.Open, which
// already names the path and matches errors.Is(err, os.ErrNotExist).
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, err
	}

	var r io.Reader
	switch DetectCompression(l.path) {
	case Gzip:
		zr, err := gzip.NewReader(bufio.NewReader(f))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gzip %s: %w", l.path, err)
		}
		return &readCloser{Reader: zr, closers: []io.Closer{zr, f}}, nil
	case Bzip2:
		r = bzip2.NewReader(bufio.NewReader(f))
	case XZ:
		xr, err := xz.NewReader(bufio.NewReader(f))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("xz %s: %w", l.path, err)
		}
		r = xr
	default:
		return f, nil
	}
	return &readCloser{Reader: r, closers: []io.Closer{f}}, nil
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (rc *readCloser) Close() error {
	var first error
	for _, c := range rc.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
