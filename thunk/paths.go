package thunk

import (
	"fmt"
	"path/filepath"
)

/*
	Store is the on-disk layout §6 pins down: a root directory containing
	a "blobs" subtree (raw content, keyed by hash) and a "reductions"
	subtree (ReductionResult records, keyed by "<thunk-hash>#<order>").
*/
type Store struct {
	Root string
}

// NewStore resolves root to an absolute path; it does not create directories.
func NewStore(root string) (Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Store{}, fmt.Errorf("resolving store root: %w", err)
	}
	return Store{Root: abs}, nil
}

// BlobPath returns the on-disk path raw content for h is stored under.
func (s Store) BlobPath(h Hash) string {
	return filepath.Join(s.Root, "blobs", string(h))
}

// ReductionPath returns the on-disk path the order-n reduction result of
// thunk h is stored under.
func (s Store) ReductionPath(h Hash, order int) string {
	return filepath.Join(s.Root, "reductions", fmt.Sprintf("%s#%d", h, order))
}

// ReductionDir returns the directory every reduction record lives in,
// regardless of thunk or order.
func (s Store) ReductionDir() string {
	return filepath.Join(s.Root, "reductions")
}
