package blobs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	t.Parallel()
	tests := []struct {
		location string
		wantKey  string
		wantType string
		wantErr  bool
	}{
		{"gs://models/keyword/v1.sgm", "keyword/v1.sgm", "*blobs.GCSStore", false},
		{"gs://models", "", "", true},
		{"gs:///x.sgm", "", "", true},
		{"https://example.com/models/keyword.sgm", "keyword.sgm", "*blobs.HTTPStore", false},
		{"/tmp/keyword.sgm", "/tmp/keyword.sgm", "*blobs.FileStore", false},
		{"keyword.sgm", "keyword.sgm", "*blobs.FileStore", false},
		{"", "", "", true},
	}
	for _, tt := range tests {
		r, key, err := Resolve(tt.location)
		if (err != nil) != tt.wantErr {
			t.Errorf("Resolve(%q) error = %v, wantErr %v", tt.location, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			continue
		}
		if key != tt.wantKey {
			t.Errorf("Resolve(%q) key = %q, want %q", tt.location, key, tt.wantKey)
		}
		if got := typeName(r); got != tt.wantType {
			t.Errorf("Resolve(%q) reader = %s, want %s", tt.location, got, tt.wantType)
		}
	}
	r, _, _ := Resolve("gs://models/keyword/v1.sgm")
	if bucket := r.(*GCSStore).Bucket; bucket != "models" {
		t.Errorf("bucket = %q, want models", bucket)
	}
}

func typeName(r Reader) string {
	switch r.(type) {
	case *GCSStore:
		return "*blobs.GCSStore"
	case *HTTPStore:
		return "*blobs.HTTPStore"
	case *FileStore:
		return "*blobs.FileStore"
	default:
		return "unknown"
	}
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "m.sgm"), []byte("model"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := &FileStore{Dir: dir}
	rc, err := store.Open(context.Background(), "m.sgm")
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil || string(b) != "model" {
		t.Errorf("read %q, %v", b, err)
	}

	if _, err := store.Open(context.Background(), "missing.sgm"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Open(missing) = %v, want os.ErrNotExist", err)
	}
}

func TestHTTPStoreAndDownload(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/keyword.sgm" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("compiled"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "keyword.sgm")
	if err := Download(context.Background(), srv.URL+"/models/keyword.sgm", dest); err != nil {
		t.Fatalf("Download() = %v", err)
	}
	b, err := os.ReadFile(dest)
	if err != nil || string(b) != "compiled" {
		t.Errorf("downloaded %q, %v", b, err)
	}

	_, err = Open(context.Background(), srv.URL+"/models/missing.sgm")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Open(missing) = %v, want os.ErrNotExist", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(dest))
	if len(entries) != 1 {
		t.Errorf("download left %d files, want 1", len(entries))
	}
}
