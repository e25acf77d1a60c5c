/*
	Package cache implements the Reduction Cache (C2): a durable,
	content-addressed mapping from thunk-hash to reduction result,
	written atomically so an interrupted run may safely reuse whatever
	made it to disk.
*/
package cache

import (
	"github.com/inconshreveable/log15"

	"github.com/havenfield/reductor/thunk"
)

var log = log15.New("pkg", "cache")

// Result records one reduction: either a terminal hash (Order == 0)
// or a further thunk-hash that itself needs reducing (Order >= 1),
// used when reduction is staged across multiple hops.
type Result struct {
	Hash  thunk.Hash `json:"hash"`
	Order int        `json:"order"`
}

// Cache is the persistent store the Reductor consults before dispatching
// any job, and writes to after every successful reduction.
type Cache interface {
	// Check returns the cached reduction for h, if any. Pure lookup.
	Check(h thunk.Hash) (Result, bool, error)
	// Store records a reduction for thunkHash. Implementations must make
	// this durable enough that a later process restart can still see it.
	Store(thunkHash thunk.Hash, result Result) error
}

// ErrInconsistentCache is raised when chasing lands on a thunk whose
// per-output child entries are not all present -- §4.1 forbids
// speculating past this point.
type ErrInconsistentCache struct {
	ThunkHash thunk.Hash
	Tag       thunk.OutputTag
}

func (e ErrInconsistentCache) Error() string {
	return "inconsistent cache entries: missing output " + string(e.Tag) + " for " + string(e.ThunkHash)
}

// Chase repeatedly follows cache hits starting from h until no further
// hop is possible, returning the terminal hash reached. Chasing is
// idempotent: Chase(Chase(h)) == Chase(h), since the loop only stops
// (short of an error) at a hash that has no entry or whose entry
// points back at itself.
func Chase(c Cache, h thunk.Hash) (thunk.Hash, error) {
	current := h
	for {
		result, ok, err := c.Check(current)
		if err != nil {
			return "", err
		}
		if !ok {
			return current, nil
		}
		if result.Hash == current {
			// A cache entry pointing at itself would spin forever;
			// treat it as already terminal rather than loop.
			return current, nil
		}
		current = result.Hash
	}
}
