package runtime

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/sbl8/staticgraph/model"
)

// Load reads a compiled graph file and binds it to a new session.
func Load(path string, opts *Options) (*Session, error) {
	g, err := LoadGraph(path)
	if err != nil {
		return nil, err
	}
	return NewSession(g, opts)
}

// LoadGraph reads and decodes a compiled graph file without creating a session.
func LoadGraph(path string) (*model.Graph, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	g, err := model.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return g, nil
}

// ReadGraph decodes a compiled graph from r.
func ReadGraph(r io.Reader) (*model.Graph, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return model.Decode(buf.Bytes())
}
