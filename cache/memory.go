package cache

import "github.com/havenfield/reductor/thunk"

// interface assertion
var _ Cache = &MemoryCache{}

// MemoryCache is a non-durable Cache used by tests and by tooling (e.g.
// `examine`) that wants cache semantics without touching disk.
type MemoryCache struct {
	entries map[thunk.Hash]Result
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[thunk.Hash]Result)}
}

func (c *MemoryCache) Check(h thunk.Hash) (Result, bool, error) {
	r, ok := c.entries[h]
	return r, ok, nil
}

func (c *MemoryCache) Store(thunkHash thunk.Hash, result Result) error {
	if existing, ok := c.entries[thunkHash]; ok && existing != result {
		return ErrConflictingStore{ThunkHash: thunkHash, Existing: existing, New: result}
	}
	c.entries[thunkHash] = result
	return nil
}

// ErrConflictingStore mirrors DiskCache's monotonicity guard for the
// in-memory implementation so both satisfy the same law under test.
type ErrConflictingStore struct {
	ThunkHash thunk.Hash
	Existing  Result
	New       Result
}

func (e ErrConflictingStore) Error() string {
	return "cache store would overwrite an existing, different result"
}
