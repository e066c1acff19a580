// Package datasource abstracts where input bytes come from.
package datasource

import (
	"context"
	"io"
)

// Source opens a stream of input bytes. Implementations return the
// decompressed payload.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}
