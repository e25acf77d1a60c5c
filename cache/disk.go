package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/json"

	"github.com/havenfield/reductor/thunk"
)

// interface assertion
var _ Cache = &DiskCache{}

// DiskCache persists reduction results as one file per thunk-hash under
// Dir, written via temp-file-then-rename so concurrent readers -- this
// cache is shared process-wide, same as the blob store -- always see
// either the old value or the new one, never a torn write.
type DiskCache struct {
	Dir string
}

// NewDiskCache resolves dir to an absolute path and ensures it exists.
func NewDiskCache(dir string) (*DiskCache, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving cache dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &DiskCache{Dir: abs}, nil
}

func (c *DiskCache) path(h thunk.Hash) string {
	return filepath.Join(c.Dir, string(h))
}

func (c *DiskCache) Check(h thunk.Hash) (Result, bool, error) {
	f, err := os.Open(c.path(h))
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, false, nil
		}
		return Result{}, false, fmt.Errorf("reading cache entry for %q: %w", h, err)
	}
	defer f.Close()

	var r Result
	if err := refmt.NewUnmarshaller(json.DecodeOptions{}, f).Unmarshal(&r); err != nil {
		return Result{}, false, fmt.Errorf("parsing cache entry for %q: %w", h, err)
	}
	return r, true, nil
}

func (c *DiskCache) Store(thunkHash thunk.Hash, result Result) error {
	// Monotonicity: once written, a cache entry for a given hash is
	// never overwritten with a different value (§8). A matching
	// existing entry is a harmless re-store (duplicate completion);
	// a conflicting one indicates a non-deterministic thunk and is a
	// caller bug we surface rather than silently paper over.
	if existing, ok, err := c.Check(thunkHash); err != nil {
		return err
	} else if ok {
		if existing != result {
			return fmt.Errorf("cache store for %q would overwrite %+v with %+v", thunkHash, existing, result)
		}
		return nil
	}

	tmp, err := os.CreateTemp(c.Dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("staging cache entry for %q: %w", thunkHash, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if err := refmt.NewMarshaller(json.EncodeOptions{}, tmp).Marshal(result); err != nil {
		tmp.Close()
		return fmt.Errorf("writing cache entry for %q: %w", thunkHash, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cache entry for %q: %w", thunkHash, err)
	}
	if err := os.Rename(tmpName, c.path(thunkHash)); err != nil {
		return fmt.Errorf("committing cache entry for %q: %w", thunkHash, err)
	}
	log.Debug("stored reduction", "hash", thunkHash, "result", result)
	return nil
}
