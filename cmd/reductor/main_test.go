package main

import (
	"bytes"
	"context"
	"testing"
)

// Returns the behavior from an invocation of Main.
func determineBehavior(args ...string) behavior {
	stdin := &bytes.Buffer{}
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	return Main(context.Background(), args, stdin, stdout, stderr)
}

func TestCLIParse(t *testing.T) {
	bhv := determineBehavior("reductor", "wow")
	t.Logf("%#v\n", bhv.parsedArgs)

	bhv = determineBehavior("reductor", "reduce")
	t.Logf("%#v\n", bhv.parsedArgs)

	bhv = determineBehavior("reductor", "reduce", "thunk:abc:0")
	t.Logf("%#v\n", bhv.parsedArgs)
}

func TestExitCodeForError(t *testing.T) {
	if got := exitCodeForError(nil); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}
