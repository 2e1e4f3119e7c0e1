package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"k8s.io/klog/v2"
)

// GCSStore reads objects from a Google Cloud Storage bucket.
type GCSStore struct {
	Bucket string
}

var _ Reader = (*GCSStore)(nil)

func (s *GCSStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	log := klog.FromContext(ctx)
	gcsURL := "gs://" + s.Bucket + "/" + key

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS storage client: %w", err)
	}

	log.Info("reading model from GCS", "url", gcsURL)
	r, err := client.Bucket(s.Bucket).Object(key).NewReader(ctx)
	if err != nil {
		client.Close()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("object %q: %w", gcsURL, os.ErrNotExist)
		}
		return nil, fmt.Errorf("opening object from GCS %q: %w", gcsURL, err)
	}
	return &gcsObject{Reader: r, client: client}, nil
}

// gcsObject closes the client together with the object reader.
type gcsObject struct {
	*storage.Reader
	client *storage.Client
}

func (o *gcsObject) Close() error {
	err := o.Reader.Close()
	if cerr := o.client.Close(); err == nil {
		err = cerr
	}
	return err
}
