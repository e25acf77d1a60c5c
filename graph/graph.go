/*
	Package graph implements the Dependency Graph (C3): the mutable,
	in-memory DAG of known thunks, the order-one frontier it exposes,
	and the cascading hash-rewrite that substitutes a reduction's
	output into every dependent when a thunk is forced.
*/
package graph

import (
	"fmt"

	"github.com/inconshreveable/log15"

	"github.com/havenfield/reductor/thunk"
)

var log = log15.New("pkg", "graph")

// ErrUnknownThunk is raised by any lookup on a hash the graph has
// never seen (and was not asked to load).
type ErrUnknownThunk struct {
	Hash thunk.Hash
}

func (e ErrUnknownThunk) Error() string {
	return fmt.Sprintf("graph: unknown thunk %q", e.Hash)
}

// ErrNoOutputs is raised when Force is given an outputs list with
// nothing in it to substitute as the primary output.
type ErrNoOutputs struct {
	Hash thunk.Hash
}

func (e ErrNoOutputs) Error() string {
	return fmt.Sprintf("graph: force of %q supplied no outputs", e.Hash)
}

type node struct {
	t            thunk.Thunk
	pendingCount int
}

// Graph is the DAG. It is not safe for concurrent use -- per §5, all
// scheduler state including the graph is touched only from the single
// loop thread that owns the Reductor.
type Graph struct {
	loader thunk.Loader

	// nodes is keyed by each thunk's *current* hash.
	nodes map[thunk.Hash]*node

	// dependents[x] is the set of current-hashes of thunks that list x
	// among their inputs. Only ever keyed by Thunk-type hashes: a
	// terminal hash never gets forced, so it never needs a dependents
	// entry.
	dependents map[thunk.Hash]map[thunk.Hash]struct{}

	// originalHash/updatedHash are inverses of each other, and together
	// let a caller find "the current name of what I added" regardless
	// of how many cascading rewrites have happened since.
	originalHash map[thunk.Hash]thunk.Hash // current -> original
	updatedHash  map[thunk.Hash]thunk.Hash // original -> current
}

// New builds an empty Graph that loads thunk blobs through loader.
func New(loader thunk.Loader) *Graph {
	return &Graph{
		loader:       loader,
		nodes:        make(map[thunk.Hash]*node),
		dependents:   make(map[thunk.Hash]map[thunk.Hash]struct{}),
		originalHash: make(map[thunk.Hash]thunk.Hash),
		updatedHash:  make(map[thunk.Hash]thunk.Hash),
	}
}

// AddThunk loads the thunk blob for h and inserts it, along with every
// Thunk-typed dependency it transitively reaches, idempotently.
func (g *Graph) AddThunk(h thunk.Hash) error {
	if _, ok := g.nodes[h]; ok {
		return nil
	}
	t, err := g.loader.Load(h)
	if err != nil {
		return err
	}
	g.nodes[h] = &node{t: t, pendingCount: t.PendingCount()}
	g.originalHash[h] = h
	g.updatedHash[h] = h

	seen := make(map[thunk.Hash]bool, len(t.Inputs))
	for _, in := range t.Inputs {
		if !in.IsThunk() || seen[in] {
			continue
		}
		seen[in] = true
		g.addDependentEdge(in, h)
		if err := g.AddThunk(in); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) addDependentEdge(dep, dependent thunk.Hash) {
	set, ok := g.dependents[dep]
	if !ok {
		set = make(map[thunk.Hash]struct{})
		g.dependents[dep] = set
	}
	set[dependent] = struct{}{}
}

func (g *Graph) removeDependentEdge(dep, dependent thunk.Hash) {
	set, ok := g.dependents[dep]
	if !ok {
		return
	}
	delete(set, dependent)
	if len(set) == 0 {
		delete(g.dependents, dep)
	}
}

// GetThunk looks up the Thunk currently stored under h.
func (g *Graph) GetThunk(h thunk.Hash) (thunk.Thunk, error) {
	n, ok := g.nodes[h]
	if !ok {
		return thunk.Thunk{}, ErrUnknownThunk{h}
	}
	return n.t, nil
}

// Loader returns the Loader this graph reads thunk blobs through. A
// hash that Force has already retired out of the graph -- a
// straggler duplicate finishing after the original, for instance --
// is still loadable through it, since the underlying blob outlives
// the in-memory node.
func (g *Graph) Loader() thunk.Loader {
	return g.loader
}

// OrderOneDependencies returns every descendant of h (h included) that
// is currently reducible -- every dependency of theirs is non-Thunk.
func (g *Graph) OrderOneDependencies(h thunk.Hash) (map[thunk.Hash]struct{}, error) {
	ready := make(map[thunk.Hash]struct{})
	visited := make(map[thunk.Hash]bool)
	var visit func(thunk.Hash) error
	visit = func(cur thunk.Hash) error {
		if visited[cur] {
			return nil
		}
		visited[cur] = true
		n, ok := g.nodes[cur]
		if !ok {
			return ErrUnknownThunk{cur}
		}
		if n.pendingCount == 0 {
			ready[cur] = struct{}{}
		}
		for _, in := range n.t.Inputs {
			if in.IsThunk() {
				if err := visit(in); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := visit(h); err != nil {
		return nil, err
	}
	return ready, nil
}

// OriginalHash returns the hash h was first inserted under, chasing
// back through any number of rewrites.
func (g *Graph) OriginalHash(h thunk.Hash) (thunk.Hash, bool) {
	orig, ok := g.originalHash[h]
	return orig, ok
}

// UpdatedHash returns the current hash of whatever was originally
// inserted as h.
func (g *Graph) UpdatedHash(h thunk.Hash) (thunk.Hash, bool) {
	cur, ok := g.updatedHash[h]
	return cur, ok
}

// Size reports the count of still-unresolved (tracked) thunk nodes.
func (g *Graph) Size() int {
	return len(g.nodes)
}

// ValueDependencies returns every terminal Value hash referenced by
// any input of any node currently in the graph.
func (g *Graph) ValueDependencies() []thunk.Hash {
	return g.terminalDependencies(thunk.TypeValue)
}

// ExecutableDependencies returns every terminal Executable hash
// referenced by any input of any node currently in the graph.
func (g *Graph) ExecutableDependencies() []thunk.Hash {
	return g.terminalDependencies(thunk.TypeExecutable)
}

func (g *Graph) terminalDependencies(t thunk.Type) []thunk.Hash {
	seen := make(map[thunk.Hash]struct{})
	for _, n := range g.nodes {
		for _, in := range n.t.Inputs {
			if in.Type() == t {
				seen[in] = struct{}{}
			}
		}
	}
	out := make([]thunk.Hash, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	return out
}

// substitution is one hop of the cascading rewrite: every occurrence
// of old as a dependency should become new.
type substitution struct {
	old, new thunk.Hash
}

// Force applies a reduction: h produced outputs, whose primary output
// (tagged thunk.TagMain, or outputs[0] if none carries that tag) gets
// substituted for h in every dependent, cascading transitively. It
// returns the set of thunks that became newly ready as a direct result,
// and false if h is not currently present (a duplicate or late callback,
// which is always a safe no-op).
func (g *Graph) Force(h thunk.Hash, outputs []thunk.ThunkOutput) (map[thunk.Hash]struct{}, bool, error) {
	if _, ok := g.nodes[h]; !ok {
		return nil, false, nil
	}
	primary, err := primaryOutput(h, outputs)
	if err != nil {
		return nil, false, err
	}

	// h itself is being replaced by primary; carry its original-hash
	// identity forward so a target registered as h's ancestor can still
	// be found.
	if orig, ok := g.originalHash[h]; ok {
		delete(g.originalHash, h)
		g.originalHash[primary] = orig
		g.updatedHash[orig] = primary
	}
	delete(g.nodes, h)

	newReady := make(map[thunk.Hash]struct{})
	visited := make(map[thunk.Hash]bool)
	queue := []substitution{{old: h, new: primary}}

	for len(queue) > 0 {
		sub := queue[0]
		queue = queue[1:]

		deps := g.dependents[sub.old]
		delete(g.dependents, sub.old)

		for d := range deps {
			if visited[d] {
				continue
			}
			visited[d] = true

			dn, ok := g.nodes[d]
			if !ok {
				continue
			}
			oldThunk := dn.t
			newThunk := oldThunk.WithInput(sub.old, sub.new)
			newHash := newThunk.Hash()
			newPending := newThunk.PendingCount()

			// Repoint every other (unchanged) dependency edge of d
			// from d to newHash, since d's identity just changed.
			seenInput := make(map[thunk.Hash]bool)
			for _, in := range oldThunk.Inputs {
				if in == sub.old || seenInput[in] || !in.IsThunk() {
					continue
				}
				seenInput[in] = true
				g.removeDependentEdge(in, d)
				g.addDependentEdge(in, newHash)
			}
			if sub.new.IsThunk() {
				g.addDependentEdge(sub.new, newHash)
			}

			delete(g.nodes, d)
			g.nodes[newHash] = &node{t: newThunk, pendingCount: newPending}

			if orig, ok := g.originalHash[d]; ok {
				delete(g.originalHash, d)
				g.originalHash[newHash] = orig
				g.updatedHash[orig] = newHash
			}

			if newPending == 0 {
				newReady[newHash] = struct{}{}
			}

			// d's own hash changed; anything that depended on d must
			// now be rewritten in turn.
			queue = append(queue, substitution{old: d, new: newHash})
		}
	}

	log.Debug("forced thunk", "hash", h, "primary", primary, "new-ready", len(newReady))
	return newReady, true, nil
}

func primaryOutput(h thunk.Hash, outputs []thunk.ThunkOutput) (thunk.Hash, error) {
	for _, o := range outputs {
		if o.Tag == thunk.TagMain {
			return o.Hash, nil
		}
	}
	if len(outputs) > 0 {
		return outputs[0].Hash, nil
	}
	return "", ErrNoOutputs{h}
}
