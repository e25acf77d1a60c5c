package storage

import (
	"context"
	"os"
	"testing"

	"github.com/havenfield/reductor/thunk"
)

func TestFSUploadDownloadRoundTrip(t *testing.T) {
	localDir := t.TempDir()
	remoteDir := t.TempDir()
	store, err := thunk.NewStore(localDir)
	if err != nil {
		t.Fatal(err)
	}

	srcPath := localDir + "/input.txt"
	if err := os.WriteFile(srcPath, []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}
	h, err := store.PutFile(srcPath, false)
	if err != nil {
		t.Fatal(err)
	}

	backend := FS{Root: remoteDir}
	ctx := context.Background()

	if ok, _ := backend.IsAvailable(ctx, h); ok {
		t.Fatal("expected not yet available")
	}
	if err := backend.Upload(ctx, store, h); err != nil {
		t.Fatal(err)
	}
	if ok, err := backend.IsAvailable(ctx, h); err != nil || !ok {
		t.Fatalf("expected available after upload, ok=%v err=%v", ok, err)
	}

	otherLocal := t.TempDir()
	otherStore, err := thunk.NewStore(otherLocal)
	if err != nil {
		t.Fatal(err)
	}
	if err := backend.Download(ctx, otherStore, h); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(otherStore.BlobPath(h))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestFSDownloadMissingReturnsErrNotAvailable(t *testing.T) {
	store, err := thunk.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	backend := FS{Root: t.TempDir()}
	h := thunk.New(thunk.TypeValue, "nonexistent", 0)
	err = backend.Download(context.Background(), store, h)
	if _, ok := err.(ErrNotAvailable); !ok {
		t.Fatalf("expected ErrNotAvailable, got %v", err)
	}
}

func TestNopAlwaysSucceeds(t *testing.T) {
	store, err := thunk.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h := thunk.New(thunk.TypeValue, "x", 0)
	var backend Backend = Nop{}
	if ok, err := backend.IsAvailable(context.Background(), h); err != nil || !ok {
		t.Fatalf("expected nop to report available, ok=%v err=%v", ok, err)
	}
	if err := backend.Upload(context.Background(), store, h); err != nil {
		t.Fatal(err)
	}
	if err := backend.Download(context.Background(), store, h); err != nil {
		t.Fatal(err)
	}
}
