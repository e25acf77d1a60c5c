package thunk

import (
	"crypto/sha512"
	"sort"

	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/cbor"
	"github.com/polydawn/refmt/misc"
)

// OutputTag names one of a Thunk's declared outputs. The primary output
// (the one a dependent thunk substitutes when only one output matters)
// always carries TagMain.
type OutputTag string

const TagMain OutputTag = "main"

// Env is the environment a Thunk's Action runs under.
type Env map[string]string

// Action is everything an engine needs besides the resolved inputs:
// what to run, in what environment, and under what policy.
type Action struct {
	Argv []string  `json:"argv"`
	Cwd  string    `json:"cwd,omitempty"`
	Env  Env       `json:"env,omitempty"`
	Cost float32   `json:"cost,omitempty"` // engine-reported cost estimate hint, not part of the hash
}

// Thunk is an immutable description of one computation: its inputs
// (each itself a Hash -- Thunk, Value, or Executable), the action to
// run once every input is terminal, and the outputs it promises to
// produce.
type Thunk struct {
	Inputs  []Hash              `json:"inputs"`
	Action  Action              `json:"action"`
	Outputs []OutputTag         `json:"outputs"`
}

// ThunkOutput is a (hash, tag) pair produced by a successful reduction.
type ThunkOutput struct {
	Hash Hash      `json:"hash"`
	Tag  OutputTag `json:"tag"`
}

// IsReducible reports whether every dependency is already non-Thunk,
// i.e. this Thunk is order-one and ready to dispatch.
func (t Thunk) IsReducible() bool {
	for _, in := range t.Inputs {
		if in.IsThunk() {
			return false
		}
	}
	return true
}

// PendingCount is the number of dependencies still classified as Thunk.
func (t Thunk) PendingCount() int {
	n := 0
	for _, in := range t.Inputs {
		if in.IsThunk() {
			n++
		}
	}
	return n
}

// WithInput returns a copy of t with every occurrence of from replaced by to.
func (t Thunk) WithInput(from, to Hash) Thunk {
	t2 := t.clone()
	for i, in := range t2.Inputs {
		if in == from {
			t2.Inputs[i] = to
		}
	}
	return t2
}

func (t Thunk) clone() Thunk {
	inputs := make([]Hash, len(t.Inputs))
	copy(inputs, t.Inputs)
	env := make(Env, len(t.Action.Env))
	for k, v := range t.Action.Env {
		env[k] = v
	}
	argv := make([]string, len(t.Action.Argv))
	copy(argv, t.Action.Argv)
	outputs := make([]OutputTag, len(t.Outputs))
	copy(outputs, t.Outputs)
	return Thunk{
		Inputs: inputs,
		Action: Action{Argv: argv, Cwd: t.Action.Cwd, Env: env, Cost: t.Action.Cost},
		Outputs: outputs,
	}
}

// canonical is the subset of Thunk content that's hashed: every input
// hash, every argv entry, the working directory, the environment, and
// every declared output tag, since each changes what execution means.
// Action.Cost is the one field left out: it is an estimate hint, not
// part of what runs.
type canonical struct {
	Inputs  []Hash      `json:"inputs"`
	Argv    []string    `json:"argv"`
	Cwd     string      `json:"cwd"`
	Env     []envPair   `json:"env"`
	Outputs []OutputTag `json:"outputs"`
}

type envPair struct {
	Key   string `json:"k"`
	Value string `json:"v"`
}

// Hash computes the content-addressed identifier for t: canonical CBOR
// encoding of every conjecture-bearing field, SHA-384, base58 -- the same
// recipe this codebase's Formula.Hash uses.
//
// The returned Hash is always tagged TypeThunk, and its size field is
// the byte length of the canonical encoding that was hashed.
func (t Thunk) Hash() Hash {
	c := canonical{
		Inputs:  t.Inputs,
		Argv:    t.Action.Argv,
		Cwd:     t.Action.Cwd,
		Outputs: t.Outputs,
	}
	keys := make([]string, 0, len(t.Action.Env))
	for k := range t.Action.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.Env = append(c.Env, envPair{k, t.Action.Env[k]})
	}

	msg, err := refmt.Marshal(cbor.EncodeOptions{}, c)
	if err != nil {
		panic(err) // canonical is composed entirely of CBOR-safe types; this cannot fail.
	}
	hasher := sha512.New384()
	hasher.Write(msg)
	digest := misc.Base58Encode(hasher.Sum(nil))
	return New(TypeThunk, digest, int64(len(msg)))
}

// ForOutput builds the cache key used to look up a single declared
// output of thunk h under tag -- the "per-output child" entries §4.1
// requires to all be present when chasing lands on a staged reduction.
func ForOutput(h Hash, tag OutputTag) Hash {
	digest := h.Digest() + "#" + string(tag)
	return New(TypeThunk, digest, 0)
}
