package blobs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"k8s.io/klog/v2"
)

// HTTPStore reads objects from a plain HTTP server; keys are joined onto BaseURL.
type HTTPStore struct {
	BaseURL *url.URL
	Client  *http.Client
}

var _ Reader = (*HTTPStore)(nil)

func (s *HTTPStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	u := s.BaseURL.JoinPath(key).String()
	klog.FromContext(ctx).Info("downloading model", "url", u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %q: %w", u, err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("fetching %q: %w", u, os.ErrNotExist)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("fetching %q: unexpected status %s", u, resp.Status)
	}
}
