/*
	Package storage defines the Storage Backend interface (C6): where
	blobs get pushed so a reduction's outputs survive past this process,
	and where they're pulled back from before a downstream thunk needs
	them as an input. It's the one component boundary that's pure policy
	-- the Reductor only ever calls Upload/Download/IsAvailable, never
	cares which concrete backend answers.
*/
package storage

import (
	"context"

	"github.com/havenfield/reductor/thunk"
)

// Backend is the C6 contract. Every method may block; callers that
// need to bound concurrency across many blobs do so themselves (the
// Reductor's pre-stage/final-stage brackets use golang.org/x/sync/errgroup
// for that).
type Backend interface {
	// Label names this backend for logging and status display.
	Label() string

	// IsAvailable reports whether h is already present remotely,
	// without downloading it.
	IsAvailable(ctx context.Context, h thunk.Hash) (bool, error)

	// Upload pushes the blob at store.BlobPath(h) to the remote side.
	Upload(ctx context.Context, store thunk.Store, h thunk.Hash) error

	// Download pulls h from the remote side into store.BlobPath(h),
	// atomically, the same way thunk.Store.PutFile stages local blobs.
	Download(ctx context.Context, store thunk.Store, h thunk.Hash) error
}

// ErrNotAvailable is returned by Download when the backend has never
// seen the requested hash.
type ErrNotAvailable struct{ Hash thunk.Hash }

func (e ErrNotAvailable) Error() string {
	return "storage: " + string(e.Hash) + " not available"
}
