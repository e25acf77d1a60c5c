package null

import (
	"sync"
	"testing"
	"time"

	"github.com/havenfield/reductor/engine"
	"github.com/havenfield/reductor/poller"
	"github.com/havenfield/reductor/thunk"
)

func TestForceThunkAlwaysSucceeds(t *testing.T) {
	e := New(4)
	var mu sync.Mutex
	var gotOutputs []thunk.ThunkOutput
	e.SetSuccessCallback(func(h thunk.Hash, outputs []thunk.ThunkOutput, cost float32) {
		mu.Lock()
		gotOutputs = outputs
		mu.Unlock()
	})
	e.SetFailureCallback(func(h thunk.Hash, s engine.Status) {})

	loop := poller.New(1)
	th := thunk.Thunk{Outputs: []thunk.OutputTag{thunk.TagMain, "log"}}
	h := th.Hash()

	if err := e.ForceThunk(h, th, loop); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := loop.LoopOnce(time.Second); got != poller.Ready {
		t.Fatalf("expected Ready, got %s", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gotOutputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(gotOutputs))
	}
}

func TestCapacityTracksInFlightJobs(t *testing.T) {
	e := New(2)
	e.SetSuccessCallback(func(h thunk.Hash, outputs []thunk.ThunkOutput, cost float32) {})

	loop := poller.New(2)
	th := thunk.Thunk{Outputs: []thunk.OutputTag{thunk.TagMain}}

	if err := e.ForceThunk(th.Hash(), th, loop); err != nil {
		t.Fatal(err)
	}
	if e.JobCount() != 1 {
		t.Fatalf("expected job count 1, got %d", e.JobCount())
	}
	loop.LoopOnce(time.Second)
	if e.JobCount() != 0 {
		t.Fatalf("expected job count 0 after completion, got %d", e.JobCount())
	}
}
