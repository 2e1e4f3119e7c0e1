// Package blobs fetches compiled models from local disk, GCS buckets or
// HTTP servers.
package blobs

import (
	"context"
	"io"
)

// Reader opens stored objects by key.
type Reader interface {
	// Open returns the object's contents. If no such object exists the
	// error satisfies errors.Is(err, os.ErrNotExist).
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}
