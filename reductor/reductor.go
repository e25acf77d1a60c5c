/*
	Package reductor implements the Reductor (C7): the orchestrator
	tying the reduction cache, dependency graph, execution engines,
	poller, and storage backend together into the actual scheduling
	loop. Everything else in this tree exists to be called from here.
*/
package reductor

import (
	"context"
	"fmt"
	"time"

	"github.com/inconshreveable/log15"

	"github.com/havenfield/reductor/cache"
	"github.com/havenfield/reductor/engine"
	"github.com/havenfield/reductor/graph"
	"github.com/havenfield/reductor/poller"
	"github.com/havenfield/reductor/status"
	"github.com/havenfield/reductor/storage"
	"github.com/havenfield/reductor/thunk"
)

var log = log15.New("pkg", "reductor")

// ErrNoEngine is raised when no primary or fallback engine admits a
// thunk at all -- not a capacity problem, an admissibility one.
type ErrNoEngine struct{ Hash thunk.Hash }

func (e ErrNoEngine) Error() string {
	return fmt.Sprintf("reductor: no engine can execute %q", e.Hash)
}

// ErrUnhandledPoll is raised when the event loop exits before every
// target resolved.
type ErrUnhandledPoll struct{}

func (ErrUnhandledPoll) Error() string { return "reductor: poller exited before completion" }

// ErrFatal wraps an engine-reported failure whose taxonomy marks it
// unrecoverable (§7: ExecutionFailure or an unrecognized reason).
type ErrFatal struct {
	Hash   thunk.Hash
	Status engine.Status
}

func (e ErrFatal) Error() string {
	return fmt.Sprintf("reductor: %s: %s", e.Hash, e.Status)
}

// Reductor holds every piece of state §4.5 names, plus the collaborators
// (cache, graph, engines, storage, status) it drives.
type Reductor struct {
	Store   thunk.Store
	Graph   *graph.Graph
	Cache   cache.Cache
	Storage storage.Backend

	ExecEngines     []engine.Engine
	FallbackEngines []engine.Engine

	StatusBar           *status.Bar
	BasePollerTimeoutMs int64
	UploadConcurrency   int
	DownloadConcurrency int

	loop *poller.Loop

	targetHashes     []thunk.Hash
	remainingTargets map[thunk.Hash]struct{}
	jobQueue         []thunk.Hash
	runningJobs      map[thunk.Hash]struct{}
	finishedJobs     int
	estimatedCost    float64
	pollerTimeoutMs  int64

	fatalErr error
}

// New builds a Reductor ready to Run. Storage may be storage.Nop{} if
// this run never needs a remote backend.
func New(store thunk.Store, g *graph.Graph, c cache.Cache, backend storage.Backend) *Reductor {
	return &Reductor{
		Store:               store,
		Graph:               g,
		Cache:               c,
		Storage:             backend,
		UploadConcurrency:   8,
		DownloadConcurrency: 8,
		runningJobs:         make(map[thunk.Hash]struct{}),
	}
}

func (r *Reductor) allEngines() []engine.Engine {
	all := make([]engine.Engine, 0, len(r.ExecEngines)+len(r.FallbackEngines))
	all = append(all, r.ExecEngines...)
	all = append(all, r.FallbackEngines...)
	return all
}

// Run drives targets to concrete terminal values and returns their
// final hashes in the same order the targets were given.
func (r *Reductor) Run(ctx context.Context, targets []thunk.Hash) ([]thunk.Hash, error) {
	if len(targets) == 0 {
		return nil, nil
	}

	r.targetHashes = targets
	r.remainingTargets = make(map[thunk.Hash]struct{}, len(targets))
	seen := make(map[thunk.Hash]bool)

	for _, t := range targets {
		if err := r.Graph.AddThunk(t); err != nil {
			return nil, fmt.Errorf("reductor: seeding target %s: %w", t, err)
		}
		r.remainingTargets[t] = struct{}{}
		ready, err := r.Graph.OrderOneDependencies(t)
		if err != nil {
			return nil, fmt.Errorf("reductor: computing frontier for %s: %w", t, err)
		}
		for h := range ready {
			if seen[h] {
				continue
			}
			seen[h] = true
			r.jobQueue = append(r.jobQueue, h)
		}
	}

	// Single target already fully cached resolves without ever
	// touching loop_once: the dispatch drain below handles that by
	// cache-chasing before any engine is consulted.
	if err := r.preStage(ctx); err != nil {
		return nil, err
	}

	r.loop = poller.New(64)
	for _, e := range r.allEngines() {
		e.SetSuccessCallback(r.onSuccess)
		e.SetFailureCallback(r.onFailure)
		if err := e.Init(r.loop); err != nil {
			return nil, fmt.Errorf("reductor: initializing engine %s: %w", e.Label(), err)
		}
	}
	r.pollerTimeoutMs = r.BasePollerTimeoutMs

	for {
		if err := r.dispatchDrain(); err != nil {
			return nil, err
		}
		if r.fatalErr != nil {
			return nil, r.fatalErr
		}

		if r.StatusBar != nil {
			r.StatusBar.Refresh(r.snapshot(), time.Now())
		}

		if r.isDone() {
			break
		}

		res := r.loop.LoopOnce(time.Duration(r.pollerTimeoutMs) * time.Millisecond)
		if r.fatalErr != nil {
			return nil, r.fatalErr
		}

		switch res {
		case poller.Timeout:
			r.onTimeout()
		case poller.Exit:
			if !r.isDone() {
				return nil, ErrUnhandledPoll{}
			}
		default:
			r.pollerTimeoutMs = r.BasePollerTimeoutMs
		}

		if r.isDone() {
			break
		}
	}

	return r.postStage(ctx)
}

func (r *Reductor) isDone() bool {
	return len(r.remainingTargets) == 0 && len(r.runningJobs) == 0 && len(r.jobQueue) == 0
}

// onTimeout implements straggler duplication: every in-flight hash is
// copied to the tail of the queue, and the poller timeout grows per
// the bit-for-bit-preserved rule pollerTimeout = max(pollerTimeout *
// basePollerTimeout, pollerTimeout).
func (r *Reductor) onTimeout() {
	if r.BasePollerTimeoutMs <= 0 {
		return
	}
	log.Info("reductor: poll timed out, duplicating in-flight jobs", "count", len(r.runningJobs))
	for h := range r.runningJobs {
		r.jobQueue = append(r.jobQueue, h)
	}
	grown := r.pollerTimeoutMs * r.BasePollerTimeoutMs
	if grown > r.pollerTimeoutMs {
		r.pollerTimeoutMs = grown
	}
}

func (r *Reductor) snapshot() status.Snapshot {
	engines := make([]status.EngineStat, 0, len(r.ExecEngines)+len(r.FallbackEngines))
	for _, e := range r.allEngines() {
		engines = append(engines, status.EngineStat{Label: e.Label(), JobCount: e.JobCount(), MaxJobs: e.MaxJobs()})
	}
	return status.Snapshot{
		QueueSize:     len(r.jobQueue),
		Engines:       engines,
		FinishedJobs:  r.finishedJobs,
		RemainingSize: r.Graph.Size(),
		EstimatedCost: r.estimatedCost,
	}
}

func (r *Reductor) fail(err error) {
	if r.fatalErr == nil {
		r.fatalErr = err
	}
	r.loop.RequestExit()
}

// preStage pushes every value and executable dependency currently
// known to the graph up to the storage backend before dispatch
// begins, so an engine that needs them can fetch them from a shared
// location rather than assuming local-disk presence.
func (r *Reductor) preStage(ctx context.Context) error {
	if r.Storage == nil {
		return nil
	}
	hashes := append(r.Graph.ValueDependencies(), r.Graph.ExecutableDependencies()...)
	if len(hashes) == 0 {
		return nil
	}
	return storage.UploadAll(ctx, r.Storage, r.Store, hashes, r.concurrency(r.UploadConcurrency))
}

// postStage resolves every target to its terminal hash and returns
// them in the caller's original order. The cache is only ever written
// under a thunk's current (forced-time) hash, never its original one,
// so a target with any Thunk dependency -- which gets cascade-rewritten
// to a new hash before it is ever forced -- must be resolved starting
// from Graph.UpdatedHash(t), not from t itself; chasing the cache from
// the unrewritten original hash would never find an entry. Chasing
// further from there catches any remaining staged (order >= 1) hop.
// The original raises "internal error: final answer not found" on a
// miss here, since reaching this point with an unresolved or uncached
// target means the cache is corrupt or incomplete, not a recoverable
// condition. Once every target resolves, their terminal blobs are
// fetched from the storage backend into the local store.
func (r *Reductor) postStage(ctx context.Context) ([]thunk.Hash, error) {
	out := make([]thunk.Hash, len(r.targetHashes))
	for i, t := range r.targetHashes {
		resolved, ok := r.Graph.UpdatedHash(t)
		if !ok {
			resolved = t
		}
		h, err := cache.Chase(r.Cache, resolved)
		if err != nil {
			return nil, err
		}
		if h.IsThunk() {
			return nil, fmt.Errorf("reductor: internal error: final answer not found for target %s", t)
		}
		out[i] = h
	}
	if r.Storage != nil {
		if err := storage.DownloadAll(ctx, r.Storage, r.Store, out, r.concurrency(r.DownloadConcurrency)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Reductor) concurrency(want int) int {
	if want <= 0 {
		return 1
	}
	return want
}

// dispatchDrain pops the queue front-to-back, resolving cache hits
// immediately and handing reducible thunks to an admissible engine.
// It stops draining (but does not error) the moment the thunk at the
// front of the queue finds every admissible engine at capacity,
// leaving it and everything behind it queued for the next tick.
func (r *Reductor) dispatchDrain() error {
	for len(r.jobQueue) > 0 {
		h := r.jobQueue[0]

		hstar, err := cache.Chase(r.Cache, h)
		if err != nil {
			return err
		}
		if hstar != h && !hstar.IsThunk() {
			r.jobQueue = r.jobQueue[1:]
			if err := r.finalizeFromCache(h, hstar); err != nil {
				return err
			}
			continue
		}

		dispatched, sawFull, err := r.tryDispatch(h)
		if err != nil {
			return err
		}
		if dispatched {
			r.jobQueue = r.jobQueue[1:]
			continue
		}
		if sawFull {
			// Every admissible engine is at capacity right now; leave
			// the queue as-is and wait for a completion to free a slot.
			return nil
		}
		return ErrNoEngine{Hash: h}
	}
	return nil
}

// tryDispatch hands h to the first admissible exec-tier engine with
// spare capacity. Fallback engines are only ever consulted when no
// exec engine admits h at all (CanExecute==false across the board) --
// per reductor.cc:225-262, an exec engine that admits h but is at
// capacity still wins over any fallback, so the thunk waits rather
// than spilling over. sawFull reports whether at least one admissible
// engine existed but was full, which distinguishes "wait for capacity"
// from the fatal "nothing can run this at all" case.
func (r *Reductor) tryDispatch(h thunk.Hash) (dispatched bool, sawFull bool, err error) {
	t, gerr := r.Graph.GetThunk(h)
	if gerr != nil {
		return false, false, gerr
	}

	dispatched, sawFull, admissible, err := r.tryDispatchTier(r.ExecEngines, h, t)
	if err != nil || dispatched || admissible {
		return dispatched, sawFull, err
	}

	// No exec engine would even admit h: fall back.
	dispatched, sawFull, _, err = r.tryDispatchTier(r.FallbackEngines, h, t)
	return dispatched, sawFull, err
}

// tryDispatchTier hands h to the first engine in tier that admits it
// and has spare capacity. admissible reports whether any engine in
// tier admitted h at all, regardless of capacity.
func (r *Reductor) tryDispatchTier(tier []engine.Engine, h thunk.Hash, t thunk.Thunk) (dispatched, sawFull, admissible bool, err error) {
	for _, e := range tier {
		if !e.CanExecute(t) {
			continue
		}
		admissible = true
		if e.JobCount() >= e.MaxJobs() {
			sawFull = true
			continue
		}
		if err := e.ForceThunk(h, t, r.loop); err != nil {
			return false, sawFull, admissible, err
		}
		r.runningJobs[h] = struct{}{}
		return true, sawFull, admissible, nil
	}
	return false, sawFull, admissible, nil
}

// finalizeFromCache completes h using a cache hit alone, without ever
// touching an engine: the primary output is hstar itself, and every
// other declared output tag is looked up as its own per-output cache
// entry. Per §4.1, any missing per-output entry at this point is an
// inconsistency, not a miss to recompute through.
//
// h is loaded through the graph's Loader rather than Graph.GetThunk,
// because h may already have been forced out of the graph by the time
// this runs -- a straggler duplicate left queued behind a full engine,
// whose original finishes and gets forced during the same LoopOnce,
// reaches here with h no longer a live node. The blob still exists
// (reductor.cc:211 reads the thunk back from disk for exactly this
// case), and finalize's call into Graph.Force degrades to its
// existing ok=false no-op for an h the graph no longer has, so the
// duplicate still finalizes as a harmless no-op instead of aborting
// the run with ErrUnknownThunk.
func (r *Reductor) finalizeFromCache(h thunk.Hash, hstar thunk.Hash) error {
	t, err := r.Graph.Loader().Load(h)
	if err != nil {
		return err
	}

	outputs := make([]thunk.ThunkOutput, 0, len(t.Outputs))
	for _, tag := range t.Outputs {
		if tag == thunk.TagMain {
			outputs = append(outputs, thunk.ThunkOutput{Hash: hstar, Tag: tag})
			continue
		}
		result, ok, cerr := r.Cache.Check(thunk.ForOutput(h, tag))
		if cerr != nil {
			return cerr
		}
		if !ok {
			return cache.ErrInconsistentCache{ThunkHash: h, Tag: tag}
		}
		outputs = append(outputs, thunk.ThunkOutput{Hash: result.Hash, Tag: tag})
	}
	return r.finalize(h, outputs, 0)
}

// finalize applies a completed reduction -- whether it came from an
// engine or a cache hit -- to the graph, memoizes every declared
// output, and enqueues whatever the cascading rewrite just made ready.
func (r *Reductor) finalize(h thunk.Hash, outputs []thunk.ThunkOutput, cost float32) error {
	primary, err := primaryOutput(h, outputs)
	if err != nil {
		return err
	}

	newReady, ok, err := r.Graph.Force(h, outputs)
	if err != nil {
		return err
	}
	if !ok {
		// Duplicate completion (straggler, or a cache hit that beat an
		// in-flight job to the punch): already handled, nothing to do.
		return nil
	}

	if err := r.Cache.Store(h, cache.Result{Hash: primary, Order: 0}); err != nil {
		return err
	}
	for _, o := range outputs {
		if o.Tag == thunk.TagMain {
			continue
		}
		if err := r.Cache.Store(thunk.ForOutput(h, o.Tag), cache.Result{Hash: o.Hash, Order: 0}); err != nil {
			return err
		}
	}

	r.finishedJobs++
	r.estimatedCost += float64(cost)
	for ready := range newReady {
		r.jobQueue = append(r.jobQueue, ready)
	}
	r.resolveTargets()
	return nil
}

// primaryOutput duplicates graph's unexported selection rule (TagMain,
// else outputs[0]) so a cache-only completion can compute it without
// going through Force.
func primaryOutput(h thunk.Hash, outputs []thunk.ThunkOutput) (thunk.Hash, error) {
	for _, o := range outputs {
		if o.Tag == thunk.TagMain {
			return o.Hash, nil
		}
	}
	if len(outputs) > 0 {
		return outputs[0].Hash, nil
	}
	return "", fmt.Errorf("reductor: %s completed with no declared outputs", h)
}

// resolveTargets drops any original target whose updated hash is no
// longer a Thunk -- i.e. it has reached a terminal value.
func (r *Reductor) resolveTargets() {
	for t := range r.remainingTargets {
		cur, ok := r.Graph.UpdatedHash(t)
		if ok && !cur.IsThunk() {
			delete(r.remainingTargets, t)
		}
	}
}

// onSuccess is installed as every engine's SuccessFunc.
func (r *Reductor) onSuccess(h thunk.Hash, outputs []thunk.ThunkOutput, cost float32) {
	delete(r.runningJobs, h)
	if err := r.finalize(h, outputs, cost); err != nil {
		r.fail(err)
	}
}

// onFailure is installed as every engine's FailureFunc. Fatal failures
// abort the run; everything else is requeued to the tail so other
// ready work isn't starved behind a single stuck job.
func (r *Reductor) onFailure(h thunk.Hash, status engine.Status) {
	delete(r.runningJobs, h)
	if status.Fatal() {
		r.fail(ErrFatal{Hash: h, Status: status})
		return
	}
	log.Warn("reductor: job failed, requeuing", "hash", h, "status", status)
	r.jobQueue = append(r.jobQueue, h)
}
