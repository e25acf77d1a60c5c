package main

import (
	"context"
	"fmt"
	"io"
	"os"

	. "github.com/polydawn/go-errcat"
	warpfork "github.com/warpfork/go-errcat"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/havenfield/reductor/cache"
	"github.com/havenfield/reductor/config"
	"github.com/havenfield/reductor/engine"
	"github.com/havenfield/reductor/engine/local"
	"github.com/havenfield/reductor/engine/null"
	"github.com/havenfield/reductor/graph"
	"github.com/havenfield/reductor/reductor"
	"github.com/havenfield/reductor/status"
	"github.com/havenfield/reductor/storage"
	"github.com/havenfield/reductor/thunk"
)

func main() {
	ctx := context.Background()
	bhv := Main(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	err := bhv.action()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
	}
	os.Exit(exitCodeForError(err))
}

// Holder type which makes it easier for test code to inspect the args
// parser result before running logic.
type behavior struct {
	parsedArgs interface{}
	action     func() error
}

// ErrUsage is the category every argument-parsing failure is tagged
// with, so main's exit code mapping can recognize it without string
// matching.
const ErrUsage = "usage"

const (
	exitUsage         = 1
	exitNoEngine      = 2
	exitUnhandledPoll = 3
	exitJobFatal      = 4
)

func exitCodeForError(err error) int {
	if err == nil {
		return 0
	}
	switch Category(err) {
	case ErrUsage:
		return exitUsage
	case exitJobFatal:
		return exitJobFatal
	}
	switch err.(type) {
	case reductor.ErrNoEngine:
		return exitNoEngine
	case reductor.ErrUnhandledPoll:
		return exitUnhandledPoll
	case reductor.ErrFatal:
		return exitJobFatal
	default:
		return exitJobFatal
	}
}

func Main(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) behavior {
	app := kingpin.New("reductor", "Content-addressed reduction scheduler.")
	app.HelpFlag.Short('h')
	app.UsageWriter(stderr)
	app.ErrorWriter(stderr)

	cmdReduce := app.Command("reduce", "Reduce one or more thunks to terminal values.")
	argsReduce := struct {
		Targets       []string
		Status        bool
		PollerTimeout int
		Engine        string
	}{}
	cmdReduce.Arg("target", "Target thunk hash(es) to reduce.").
		Required().
		StringsVar(&argsReduce.Targets)
	cmdReduce.Flag("status", "Print a live status line while reducing.").
		BoolVar(&argsReduce.Status)
	cmdReduce.Flag("poller-timeout", "Base poller timeout in milliseconds (0 disables straggler duplication; unset uses REDUCTOR_POLLER_TIMEOUT_MS).").
		Default("-1").
		IntVar(&argsReduce.PollerTimeout)
	cmdReduce.Flag("engine", "Execution engine to use for reducible thunks.").
		Default("local").
		EnumVar(&argsReduce.Engine, "local", "null")

	parsedCmdStr, err := app.Parse(args[1:])
	if err != nil {
		return behavior{
			parsedArgs: err,
			action: func() error {
				return Errorf(ErrUsage, "error parsing args: %s", err)
			},
		}
	}
	if parsedCmdStr != cmdReduce.FullCommand() {
		panic("unreachable, cli parser must error on unknown commands")
	}
	return behavior{&argsReduce, func() error {
		return reduceCmd(ctx, argsReduce.Targets, argsReduce.Engine, argsReduce.Status, argsReduce.PollerTimeout, stdout)
	}}
}

func reduceCmd(ctx context.Context, rawTargets []string, engineName string, showStatus bool, pollerTimeoutMsFlag int, stdout io.Writer) error {
	targets := make([]thunk.Hash, 0, len(rawTargets))
	for _, raw := range rawTargets {
		h, err := thunk.Parse(raw)
		if err != nil {
			return Errorf(ErrUsage, "invalid target hash %q: %s", raw, err)
		}
		targets = append(targets, h)
	}

	blobDir, err := config.BlobDir()
	if err != nil {
		return warpfork.Recategorize(exitJobFatal, err)
	}
	store, err := thunk.NewStore(blobDir)
	if err != nil {
		return warpfork.Recategorize(exitJobFatal, err)
	}

	g := graph.New(thunk.FileLoader{Store: store})

	cacheDirPtr, err := config.CacheDir()
	if err != nil {
		return warpfork.Recategorize(exitJobFatal, err)
	}
	var c cache.Cache
	if cacheDirPtr != nil {
		c, err = cache.NewDiskCache(*cacheDirPtr)
		if err != nil {
			return warpfork.Recategorize(exitJobFatal, err)
		}
	} else {
		c = cache.NewMemoryCache()
	}

	r := reductor.New(store, g, c, storage.Nop{})

	pollerTimeout, err := config.PollerTimeout()
	if err != nil {
		return warpfork.Recategorize(exitJobFatal, err)
	}
	r.BasePollerTimeoutMs = int64(pollerTimeout.Milliseconds())
	if pollerTimeoutMsFlag >= 0 {
		r.BasePollerTimeoutMs = int64(pollerTimeoutMsFlag)
	}

	switch engineName {
	case "null":
		r.ExecEngines = []engine.Engine{null.New(4)}
	default:
		workDir, err := config.LocalWorkDir()
		if err != nil {
			return warpfork.Recategorize(exitJobFatal, err)
		}
		r.ExecEngines = []engine.Engine{local.New(4, workDir, store)}
	}

	if showStatus {
		interval, err := config.StatusInterval()
		if err != nil {
			return warpfork.Recategorize(exitJobFatal, err)
		}
		r.StatusBar = &status.Bar{Interval: interval, Out: func(line string) {
			fmt.Fprintf(os.Stderr, "\r%s", line)
		}}
	}

	results, err := r.Run(ctx, targets)
	if err != nil {
		return err
	}
	for _, h := range results {
		fmt.Fprintln(stdout, h)
	}
	return nil
}
