/*
	Package remote implements an Execution Engine (C4) that dispatches
	thunks to a pool of worker connections speaking the protocol
	package's wire format, rather than running anything locally. It is
	meant to be installed as a fallback engine: the scheduler only ever
	consults fallback engines when no exec-tier engine admits a thunk at
	all, never merely because the exec tier is at capacity, matching the
	admission order in the original scheduler's dispatch loop.
*/
package remote

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/inconshreveable/log15"
	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/json"

	"github.com/havenfield/reductor/engine"
	"github.com/havenfield/reductor/poller"
	"github.com/havenfield/reductor/protocol"
	"github.com/havenfield/reductor/thunk"
)

var log = log15.New("pkg", "engine/remote")

// interface assertion
var _ engine.Engine = &Engine{}

// Worker is one live connection to a remote executor. Conn carries
// the protocol.Message framing both directions.
type Worker struct {
	Conn     net.Conn
	MaxSlots int

	mu    sync.Mutex
	slots int
}

func (w *Worker) hasCapacity() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.slots < w.MaxSlots
}

// executePayload is the body an Execute message carries, encoded with
// refmt's json mode rather than its cbor mode: CBOR is reserved for
// content that feeds Thunk.Hash's canonical encoding, and this
// payload never does.
type executePayload struct {
	Hash    thunk.Hash        `json:"hash"`
	Action  thunk.Action      `json:"action"`
	Outputs []thunk.OutputTag `json:"outputs"`
}

type resultPayload struct {
	Hash    thunk.Hash          `json:"hash"`
	OK      bool                `json:"ok"`
	Status  engine.Status       `json:"status,omitempty"`
	Outputs []thunk.ThunkOutput `json:"outputs,omitempty"`
	Cost    float32             `json:"cost,omitempty"`
}

// Engine fans thunks out across a fixed pool of Workers, each capable
// of running MaxSlots jobs concurrently, and multiplexes their
// completions back through a single poller.Loop.
type Engine struct {
	Workers []*Worker

	mu       sync.Mutex
	dispatch map[thunk.Hash]*Worker
	onOK     engine.SuccessFunc
	onFail   engine.FailureFunc
}

func New(workers []*Worker) *Engine {
	return &Engine{
		Workers:  workers,
		dispatch: make(map[thunk.Hash]*Worker),
	}
}

func (e *Engine) Label() string { return "remote" }

func (e *Engine) MaxJobs() int {
	total := 0
	for _, w := range e.Workers {
		total += w.MaxSlots
	}
	return total
}

func (e *Engine) JobCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.dispatch)
}

// CanExecute admits any thunk as long as the worker pool has at least
// one slot configured; whether a slot is free right now is reported
// separately through JobCount/MaxJobs, as the engine.Engine contract
// requires. This engine does not otherwise police binary
// compatibility, since that's a property of what's running on the
// far end, not something dispatch can see from here.
func (e *Engine) CanExecute(t thunk.Thunk) bool {
	return e.MaxJobs() > 0
}

func (e *Engine) SetSuccessCallback(f engine.SuccessFunc) { e.onOK = f }
func (e *Engine) SetFailureCallback(f engine.FailureFunc) { e.onFail = f }

// Init starts one reader goroutine per worker; each goroutine decodes
// framed Execute results off its connection and forwards them as
// poller.Events, so all callback delivery still happens serialized on
// the loop thread.
func (e *Engine) Init(loop *poller.Loop) error {
	outbox := loop.Outbox()
	for _, w := range e.Workers {
		w := w
		go e.readLoop(w, outbox)
	}
	return nil
}

func (e *Engine) readLoop(w *Worker, outbox chan<- poller.Event) {
	var parser protocol.Parser
	buf := make([]byte, 4096)
	for {
		n, err := w.Conn.Read(buf)
		if n > 0 {
			if ferr := parser.Feed(buf[:n]); ferr != nil {
				log.Error("remote: malformed frame", "err", ferr)
				return
			}
			for {
				msg, ok := parser.Next()
				if !ok {
					break
				}
				e.handleMessage(w, msg, outbox)
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Warn("remote: worker connection read error", "err", err)
			}
			return
		}
	}
}

func (e *Engine) handleMessage(w *Worker, msg protocol.Message, outbox chan<- poller.Event) {
	if msg.Opcode != protocol.Execute {
		return
	}
	var res resultPayload
	if err := refmt.NewUnmarshaller(json.DecodeOptions{}, bytes.NewReader(msg.Payload)).Unmarshal(&res); err != nil {
		log.Error("remote: unparsable result payload", "err", err)
		return
	}

	outbox <- poller.Event{Deliver: func() {
		e.mu.Lock()
		delete(e.dispatch, res.Hash)
		w.mu.Lock()
		w.slots--
		w.mu.Unlock()
		e.mu.Unlock()

		if res.OK {
			e.onOK(res.Hash, res.Outputs, res.Cost)
		} else {
			e.onFail(res.Hash, res.Status)
		}
	}}
}

func (e *Engine) ForceThunk(h thunk.Hash, t thunk.Thunk, loop *poller.Loop) error {
	w := e.pickWorker()
	if w == nil {
		return fmt.Errorf("remote: no worker has spare capacity")
	}

	var payloadBuf bytes.Buffer
	if err := refmt.NewMarshaller(json.EncodeOptions{}, &payloadBuf).Marshal(
		executePayload{Hash: h, Action: t.Action, Outputs: t.Outputs},
	); err != nil {
		return fmt.Errorf("remote: encoding execute payload: %w", err)
	}
	frame := protocol.Message{Opcode: protocol.Execute, Payload: payloadBuf.Bytes()}.Encode()

	w.mu.Lock()
	w.slots++
	w.mu.Unlock()

	e.mu.Lock()
	e.dispatch[h] = w
	e.mu.Unlock()

	if _, err := w.Conn.Write(frame); err != nil {
		e.mu.Lock()
		delete(e.dispatch, h)
		e.mu.Unlock()
		w.mu.Lock()
		w.slots--
		w.mu.Unlock()
		return fmt.Errorf("remote: dispatching to worker: %w", err)
	}
	return nil
}

func (e *Engine) pickWorker() *Worker {
	var best *Worker
	bestFree := -1
	for _, w := range e.Workers {
		w.mu.Lock()
		free := w.MaxSlots - w.slots
		w.mu.Unlock()
		if free > bestFree {
			bestFree = free
			best = w
		}
	}
	if bestFree <= 0 {
		return nil
	}
	return best
}
