package cache

import (
	"testing"

	"github.com/havenfield/reductor/thunk"
)

func TestDiskCacheStoreAndCheckRoundTrip(t *testing.T) {
	dc, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	h := thunk.New(thunk.TypeThunk, "abc", 0)
	r := Result{Hash: thunk.New(thunk.TypeValue, "xyz", 10), Order: 0}

	if err := dc.Store(h, r); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	got, ok, err := dc.Check(h)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if got != r {
		t.Fatalf("expected %+v, got %+v", r, got)
	}
}

func TestDiskCacheRejectsConflictingStore(t *testing.T) {
	dc, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	h := thunk.New(thunk.TypeThunk, "abc", 0)
	r1 := Result{Hash: thunk.New(thunk.TypeValue, "xyz", 10), Order: 0}
	r2 := Result{Hash: thunk.New(thunk.TypeValue, "other", 10), Order: 0}

	if err := dc.Store(h, r1); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := dc.Store(h, r2); err == nil {
		t.Fatal("expected conflicting store to be rejected")
	}
}

func TestDiskCacheMissReturnsNotFound(t *testing.T) {
	dc, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	_, ok, err := dc.Check(thunk.New(thunk.TypeThunk, "nope", 0))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if ok {
		t.Fatal("expected a miss")
	}
}
