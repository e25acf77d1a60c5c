package storage

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/havenfield/reductor/thunk"
)

// countingBackend reports every hash in present as already available
// and records how many times Upload is actually called.
type countingBackend struct {
	present map[thunk.Hash]bool

	mu          sync.Mutex
	uploadCalls int
}

func (c *countingBackend) Label() string { return "counting" }

func (c *countingBackend) IsAvailable(ctx context.Context, h thunk.Hash) (bool, error) {
	return c.present[h], nil
}

func (c *countingBackend) Upload(ctx context.Context, store thunk.Store, h thunk.Hash) error {
	c.mu.Lock()
	c.uploadCalls++
	c.mu.Unlock()
	return nil
}

func (c *countingBackend) Download(ctx context.Context, store thunk.Store, h thunk.Hash) error {
	return nil
}

func TestUploadAllSkipsAlreadyAvailableHashes(t *testing.T) {
	present := thunk.Hash("thunk:present:0")
	missing := thunk.Hash("thunk:missing:0")
	backend := &countingBackend{present: map[thunk.Hash]bool{present: true}}

	err := UploadAll(context.Background(), backend, thunk.Store{}, []thunk.Hash{present, missing}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if backend.uploadCalls != 1 {
		t.Fatalf("expected exactly 1 upload (for the missing hash), got %d", backend.uploadCalls)
	}
}

func TestUploadAllThenDownloadAll(t *testing.T) {
	localDir := t.TempDir()
	store, err := thunk.NewStore(localDir)
	if err != nil {
		t.Fatal(err)
	}

	var hashes []thunk.Hash
	for i, content := range []string{"a", "bb", "ccc"} {
		path := localDir + "/f" + string(rune('0'+i))
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		h, err := store.PutFile(path, false)
		if err != nil {
			t.Fatal(err)
		}
		hashes = append(hashes, h)
	}

	backend := FS{Root: t.TempDir()}
	ctx := context.Background()
	if err := UploadAll(ctx, backend, store, hashes, 2); err != nil {
		t.Fatal(err)
	}

	freshStore, err := thunk.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := DownloadAll(ctx, backend, freshStore, hashes, 2); err != nil {
		t.Fatal(err)
	}
	for _, h := range hashes {
		if _, err := os.Stat(freshStore.BlobPath(h)); err != nil {
			t.Fatalf("expected %s to be downloaded: %s", h, err)
		}
	}
}
