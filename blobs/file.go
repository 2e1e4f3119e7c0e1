package blobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"
)

// FileStore reads objects from a directory; keys are relative paths.
type FileStore struct {
	Dir string
}

var _ Reader = (*FileStore)(nil)

func (s *FileStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	path := key
	if s.Dir != "" && !filepath.IsAbs(key) {
		path = filepath.Join(s.Dir, key)
	}
	klog.FromContext(ctx).V(2).Info("opening model file", "path", path)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	return f, nil
}
