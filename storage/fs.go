package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/havenfield/reductor/thunk"
)

// FS is a Backend backed by a second directory tree on the same or a
// mounted filesystem -- the simplest possible remote, used for tests
// and single-machine multi-user setups where "remote" just means "a
// shared NFS mount."
type FS struct {
	Root string
}

var _ Backend = FS{}

func (f FS) Label() string { return "fs:" + f.Root }

func (f FS) path(h thunk.Hash) string {
	return filepath.Join(f.Root, string(h))
}

func (f FS) IsAvailable(ctx context.Context, h thunk.Hash) (bool, error) {
	_, err := os.Stat(f.path(h))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (f FS) Upload(ctx context.Context, store thunk.Store, h thunk.Hash) error {
	src, err := os.Open(store.BlobPath(h))
	if err != nil {
		return fmt.Errorf("storage/fs: opening local blob %s: %w", h, err)
	}
	defer src.Close()

	if err := os.MkdirAll(f.Root, 0755); err != nil {
		return fmt.Errorf("storage/fs: preparing remote root: %w", err)
	}
	tmp, err := os.CreateTemp(f.Root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("storage/fs: staging remote blob: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return fmt.Errorf("storage/fs: copying %s: %w", h, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage/fs: closing staged blob %s: %w", h, err)
	}
	return os.Rename(tmpName, f.path(h))
}

func (f FS) Download(ctx context.Context, store thunk.Store, h thunk.Hash) error {
	src, err := os.Open(f.path(h))
	if os.IsNotExist(err) {
		return ErrNotAvailable{Hash: h}
	}
	if err != nil {
		return fmt.Errorf("storage/fs: opening remote blob %s: %w", h, err)
	}
	defer src.Close()

	dst := store.BlobPath(h)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("storage/fs: preparing local blob dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("storage/fs: staging local blob: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return fmt.Errorf("storage/fs: copying %s: %w", h, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage/fs: closing staged blob %s: %w", h, err)
	}
	return os.Rename(tmpName, dst)
}
