package store

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pithecene-io/seam/fsio"
)

// FSStore is a filesystem-backed Store, used for local mirrors and for
// exercising the upload path without credentials.
type FSStore struct {
	root string
}

// NewFSStore creates a store rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{root: dir}, nil
}

// Put implements Store.
func (s *FSStore) Put(_ context.Context, key string, body io.Reader, _ int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	target := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return fsio.WriteFileAtomic(target, data, 0o644)
}

// Close implements Store.
func (s *FSStore) Close() error { return nil }
