/*
	Package null provides a no-op execution engine: it synthesizes
	deterministic outputs for any thunk without touching the OS at
	all. It exists for the same reason the teacher codebase's
	executor/null does -- tests and tooling (`examine`, `scan`-alikes)
	that want scheduler behavior without real process execution.
*/
package null

import (
	"sync"

	"github.com/havenfield/reductor/engine"
	"github.com/havenfield/reductor/poller"
	"github.com/havenfield/reductor/thunk"
)

// syntheticOutput deterministically derives a terminal Value hash from
// a thunk hash and output tag, so repeated runs of the same thunk
// collapse to the same synthesized result under content addressing.
func syntheticOutput(h thunk.Hash, tag thunk.OutputTag) thunk.Hash {
	return thunk.New(thunk.TypeValue, h.Digest()+"#"+string(tag), 0)
}

// interface assertion
var _ engine.Engine = &Engine{}

// Engine always succeeds, immediately, producing one terminal output
// per declared output tag, each hashed from the thunk hash and tag so
// that results stay deterministic and content-addressed across runs.
type Engine struct {
	MaxCapacity int

	mu      sync.Mutex
	running int
	onOK    engine.SuccessFunc
	onFail  engine.FailureFunc
}

func New(maxCapacity int) *Engine {
	return &Engine{MaxCapacity: maxCapacity}
}

func (e *Engine) Label() string { return "null" }

func (e *Engine) MaxJobs() int { return e.MaxCapacity }

func (e *Engine) JobCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) CanExecute(t thunk.Thunk) bool { return true }

func (e *Engine) SetSuccessCallback(f engine.SuccessFunc) { e.onOK = f }
func (e *Engine) SetFailureCallback(f engine.FailureFunc) { e.onFail = f }

func (e *Engine) Init(loop *poller.Loop) error { return nil }

func (e *Engine) ForceThunk(h thunk.Hash, t thunk.Thunk, loop *poller.Loop) error {
	e.mu.Lock()
	e.running++
	e.mu.Unlock()

	outbox := loop.Outbox()
	go func() {
		outputs := make([]thunk.ThunkOutput, 0, len(t.Outputs))
		for _, tag := range t.Outputs {
			outputs = append(outputs, thunk.ThunkOutput{
				Hash: syntheticOutput(h, tag),
				Tag:  tag,
			})
		}
		outbox <- poller.Event{Deliver: func() {
			e.mu.Lock()
			e.running--
			e.mu.Unlock()
			e.onOK(h, outputs, 0)
		}}
	}()
	return nil
}
