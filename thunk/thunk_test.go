package thunk

import "testing"

func TestHashParseRoundTrip(t *testing.T) {
	h := New(TypeValue, "7f9Km2", 4096)
	parsed, err := Parse(h.String())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if parsed.Type() != TypeValue {
		t.Fatalf("expected type value, got %s", parsed.Type())
	}
	if parsed.Digest() != "7f9Km2" {
		t.Fatalf("expected digest 7f9Km2, got %s", parsed.Digest())
	}
	if parsed.Size() != 4096 {
		t.Fatalf("expected size 4096, got %d", parsed.Size())
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"value:onlytwo",
		"bogus:digest:4",
		"value::4",
		"value:digest:notanumber",
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("expected Parse(%q) to fail", c)
		}
	}
}

func TestIsReducibleAndPendingCount(t *testing.T) {
	leaf := New(TypeValue, "aaa", 1)
	pending := New(TypeThunk, "bbb", 0)

	ready := Thunk{Inputs: []Hash{leaf}, Outputs: []OutputTag{TagMain}}
	if !ready.IsReducible() {
		t.Fatal("expected thunk with only terminal inputs to be reducible")
	}
	if ready.PendingCount() != 0 {
		t.Fatalf("expected pending count 0, got %d", ready.PendingCount())
	}

	notReady := Thunk{Inputs: []Hash{leaf, pending}, Outputs: []OutputTag{TagMain}}
	if notReady.IsReducible() {
		t.Fatal("expected thunk with a thunk input to be irreducible")
	}
	if notReady.PendingCount() != 1 {
		t.Fatalf("expected pending count 1, got %d", notReady.PendingCount())
	}
}

func TestHashIsDeterministicAndContentSensitive(t *testing.T) {
	a := Thunk{
		Inputs:  []Hash{New(TypeValue, "x", 1)},
		Action:  Action{Argv: []string{"/bin/true"}, Env: Env{"A": "1", "B": "2"}},
		Outputs: []OutputTag{TagMain},
	}
	b := a.clone()

	if a.Hash() != b.Hash() {
		t.Fatal("expected identical thunks to hash identically")
	}

	c := a.WithInput(New(TypeValue, "x", 1), New(TypeValue, "y", 1))
	if a.Hash() == c.Hash() {
		t.Fatal("expected changing an input to change the hash")
	}
}

func TestWithInputSubstitutesOnlyMatchingHash(t *testing.T) {
	x := New(TypeValue, "x", 1)
	y := New(TypeThunk, "y", 0)
	orig := Thunk{Inputs: []Hash{x, y}, Outputs: []OutputTag{TagMain}}

	updated := orig.WithInput(x, New(TypeValue, "z", 1))
	if updated.Inputs[0].Digest() != "z" {
		t.Fatalf("expected substitution, got %s", updated.Inputs[0])
	}
	if updated.Inputs[1] != y {
		t.Fatalf("expected untouched input to remain y, got %s", updated.Inputs[1])
	}
	// original must not have been mutated
	if orig.Inputs[0] != x {
		t.Fatal("WithInput must not mutate the receiver")
	}
}
