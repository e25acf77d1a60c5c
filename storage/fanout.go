package storage

import (
	"context"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/havenfield/reductor/thunk"
)

// UploadAll pushes every hash in hashes to backend, at most
// concurrency at a time, returning the first error encountered (and
// canceling the rest via ctx). A hash the backend already reports as
// IsAvailable is skipped rather than re-uploaded.
func UploadAll(ctx context.Context, backend Backend, store thunk.Store, hashes []thunk.Hash, concurrency int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, h := range hashes {
		h := h
		g.Go(func() error {
			present, err := backend.IsAvailable(ctx, h)
			if err != nil {
				return err
			}
			if present {
				return nil
			}
			return backend.Upload(ctx, store, h)
		})
	}
	return g.Wait()
}

// DownloadAll pulls every hash in hashes from backend, at most
// concurrency at a time, skipping any hash already present locally.
func DownloadAll(ctx context.Context, backend Backend, store thunk.Store, hashes []thunk.Hash, concurrency int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, h := range hashes {
		h := h
		g.Go(func() error {
			if _, err := os.Stat(store.BlobPath(h)); err == nil {
				return nil
			}
			return backend.Download(ctx, store, h)
		})
	}
	return g.Wait()
}
