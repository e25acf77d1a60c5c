package storage

import (
	"context"

	"github.com/havenfield/reductor/thunk"
)

// Nop is the nil-backend escape hatch: every call succeeds instantly
// without moving any bytes. It's what a Reductor run configured with
// no remote storage at all uses, so the upload/download brackets
// around the main loop stay unconditional code paths rather than
// nil-checks sprinkled through the scheduler.
type Nop struct{}

var _ Backend = Nop{}

func (Nop) Label() string { return "nop" }

func (Nop) IsAvailable(ctx context.Context, h thunk.Hash) (bool, error) { return true, nil }

func (Nop) Upload(ctx context.Context, store thunk.Store, h thunk.Hash) error { return nil }

func (Nop) Download(ctx context.Context, store thunk.Store, h thunk.Hash) error { return nil }
