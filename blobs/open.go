package blobs

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

// Resolve splits a model location into a Reader and the key to open with
// it. Locations are gs://bucket/object, http(s)://host/path or a local path.
func Resolve(location string) (Reader, string, error) {
	switch {
	case strings.HasPrefix(location, "gs://"):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(location, "gs://"), "/")
		if !ok || bucket == "" || key == "" {
			return nil, "", fmt.Errorf("invalid GCS location %q, want gs://bucket/object", location)
		}
		return &GCSStore{Bucket: bucket}, key, nil
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		u, err := url.Parse(location)
		if err != nil {
			return nil, "", fmt.Errorf("parsing %q: %w", location, err)
		}
		key := path.Base(u.Path)
		u.Path = path.Dir(u.Path)
		return &HTTPStore{BaseURL: u}, key, nil
	case location == "":
		return nil, "", fmt.Errorf("empty model location")
	default:
		return &FileStore{}, location, nil
	}
}

// Open resolves location and opens it.
func Open(ctx context.Context, location string) (io.ReadCloser, error) {
	r, key, err := Resolve(location)
	if err != nil {
		return nil, err
	}
	return r.Open(ctx, key)
}

// Download copies location to destPath through a temp file in the same
// directory, so destPath never holds a partial model.
func Download(ctx context.Context, location, destPath string) error {
	log := klog.FromContext(ctx)

	src, err := Open(ctx, location)
	if err != nil {
		return err
	}
	defer src.Close()

	startedAt := time.Now()
	n, err := writeToFile(ctx, src, destPath)
	if err != nil {
		return fmt.Errorf("downloading %q: %w", location, err)
	}
	log.Info("downloaded model", "source", location, "destination", destPath, "bytes", n, "duration", time.Since(startedAt))
	return nil
}

func writeToFile(ctx context.Context, src io.Reader, destinationPath string) (int64, error) {
	log := klog.FromContext(ctx)

	tempFile, err := os.CreateTemp(filepath.Dir(destinationPath), "download")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	shouldDeleteTempFile := true
	defer func() {
		if shouldDeleteTempFile {
			if err := os.Remove(tempFile.Name()); err != nil {
				log.Error(err, "removing temp file", "path", tempFile.Name())
			}
		}
	}()

	shouldCloseTempFile := true
	defer func() {
		if shouldCloseTempFile {
			if err := tempFile.Close(); err != nil {
				log.Error(err, "closing temp file", "path", tempFile.Name())
			}
		}
	}()

	n, err := io.Copy(tempFile, src)
	if err != nil {
		return n, fmt.Errorf("copying from source: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return n, fmt.Errorf("closing temp file: %w", err)
	}
	shouldCloseTempFile = false

	if err := os.Rename(tempFile.Name(), destinationPath); err != nil {
		return n, fmt.Errorf("renaming temp file: %w", err)
	}
	shouldDeleteTempFile = false
	return n, nil
}
