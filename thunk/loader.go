package thunk

import (
	"fmt"
	"os"

	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/cbor"
)

// Loader reads a Thunk's canonical CBOR blob back out of the blob store.
// This is the "thunk binary format parser" §6 treats as an external
// collaborator; the only contract this package relies on is that
// Load(h) returns a Thunk whose own Hash() recomputes to h.
type Loader interface {
	Load(h Hash) (Thunk, error)
}

// ErrHashMismatch is raised when a loaded blob's recomputed hash
// disagrees with the hash it was loaded under -- store corruption,
// or a caller passing the wrong key.
type ErrHashMismatch struct {
	Requested Hash
	Actual    Hash
}

func (e ErrHashMismatch) Error() string {
	return fmt.Sprintf("thunk blob loaded from %q actually hashes to %q", e.Requested, e.Actual)
}

// FileLoader loads Thunk blobs out of a Store on local disk.
type FileLoader struct {
	Store Store
}

func (l FileLoader) Load(h Hash) (Thunk, error) {
	f, err := os.Open(l.Store.BlobPath(h))
	if err != nil {
		return Thunk{}, fmt.Errorf("loading thunk %q: %w", h, err)
	}
	defer f.Close()

	var wire struct {
		Inputs  []Hash      `json:"inputs"`
		Action  Action      `json:"action"`
		Outputs []OutputTag `json:"outputs"`
	}
	if err := refmt.NewUnmarshaller(cbor.DecodeOptions{}, f).Unmarshal(&wire); err != nil {
		return Thunk{}, fmt.Errorf("parsing thunk %q: %w", h, err)
	}
	t := Thunk{Inputs: wire.Inputs, Action: wire.Action, Outputs: wire.Outputs}
	if got := t.Hash(); got != h {
		return Thunk{}, ErrHashMismatch{Requested: h, Actual: got}
	}
	return t, nil
}
