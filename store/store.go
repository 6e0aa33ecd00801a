// Package store pushes sealed run output trees to long-term storage.
//
// A Store is a flat key/object surface; the Uploader walks a sealed
// tree and writes one object per file under <prefix>/<run-dir>/<rel>.
// Upload never mutates the tree, so it is safe against locked runs.
package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pithecene-io/seam/log"
	"github.com/pithecene-io/seam/types"
)

// Store is a write-only object storage backend.
type Store interface {
	// Put writes one object. Implementations must not retain body after
	// returning.
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	// Close releases backend resources.
	Close() error
}

// Uploader mirrors sealed run trees into a Store.
type Uploader struct {
	store  Store
	prefix string
	logger *log.Logger
}

// NewUploader creates an uploader. prefix may be empty.
func NewUploader(store Store, prefix string, logger *log.Logger) *Uploader {
	return &Uploader{store: store, prefix: prefix, logger: logger}
}

// UploadTree uploads every regular file under dir and returns the
// object count. dir must be a sealed run output: the identity sentinel
// has to be present, and it is uploaded along with everything else so
// the stored copy is verifiable.
func (u *Uploader) UploadTree(ctx context.Context, dir string) (int, error) {
	if _, err := os.Stat(filepath.Join(dir, types.SentinelFile)); err != nil {
		return 0, fmt.Errorf("refusing to upload unsealed run %s: %w", dir, err)
	}

	base := filepath.Base(dir)
	count := 0
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := path.Join(u.prefix, base, filepath.ToSlash(rel))

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		if err := u.store.Put(ctx, key, f, info.Size()); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}

	u.logger.Info("run uploaded", map[string]any{
		"run_dir": base,
		"objects": count,
		"prefix":  u.prefix,
	})
	return count, nil
}
