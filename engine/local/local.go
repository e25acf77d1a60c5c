/*
	Package local implements an Execution Engine (C4) that runs thunks as
	plain host subprocesses. It is the only engine in this tree that
	touches the real OS: everything else (null, remote) exists precisely
	so the scheduler never has to special-case "am I talking to a real
	process."

	Commands are invoked through gosh rather than os/exec directly,
	matching the teacher's own subprocess-invocation convention (see
	rio/transmat/impl/git), and capability dropping follows the same
	policy table the teacher's runc executor uses, applied here via
	gocapability against the forked child instead of a container
	runtime.
*/
package local

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/inconshreveable/log15"
	"github.com/polydawn/gosh"
	"github.com/syndtr/gocapability/capability"

	"github.com/havenfield/reductor/engine"
	"github.com/havenfield/reductor/poller"
	"github.com/havenfield/reductor/thunk"
)

var log = log15.New("pkg", "engine/local")

// interface assertion
var _ engine.Engine = &Engine{}

// Policy names a capability set a job's child process retains. Routine
// is the only one used unless a thunk's action opts into more.
type Policy string

const (
	PolicyRoutine  Policy = "routine"
	PolicyGovernor Policy = "governor"
)

// capsForPolicy mirrors the teacher's GetCapsForPolicy table, trimmed
// to the two tiers this engine actually grants: routine jobs get
// almost nothing, governor jobs get enough to manage their own
// subprocess tree and touch the network as root would.
func capsForPolicy(p Policy) ([]capability.Cap, error) {
	switch p {
	case "", PolicyRoutine:
		return []capability.Cap{
			capability.CAP_AUDIT_WRITE,
			capability.CAP_KILL,
			capability.CAP_NET_BIND_SERVICE,
		}, nil
	case PolicyGovernor:
		return []capability.Cap{
			capability.CAP_AUDIT_WRITE,
			capability.CAP_CHOWN,
			capability.CAP_DAC_OVERRIDE,
			capability.CAP_FSETID,
			capability.CAP_FOWNER,
			capability.CAP_KILL,
			capability.CAP_NET_BIND_SERVICE,
			capability.CAP_NET_RAW,
			capability.CAP_SETGID,
			capability.CAP_SETUID,
		}, nil
	default:
		return nil, fmt.Errorf("local: invalid capability policy %q", p)
	}
}

// dropLauncher returns a gosh launcher customizer that restricts the
// child's ambient capability set to caps before gosh execs it,
// the same policy-driven narrowing the teacher's runc executor does
// at the container boundary, applied here directly to the child
// process since this engine has no container layer of its own.
func dropLauncher(caps []capability.Cap) func(*exec.Cmd) {
	bits := make([]uintptr, len(caps))
	for i, c := range caps {
		bits[i] = uintptr(c)
	}
	return func(cmd *exec.Cmd) {
		cmd.SysProcAttr = &syscall.SysProcAttr{
			AmbientCaps: bits,
		}
	}
}

// Engine runs thunks as host subprocesses inside a scratch workspace
// directory, one per job, writing declared outputs back into a
// content-addressed thunk.Store once the command exits zero.
type Engine struct {
	MaxCapacity int
	WorkDir     string
	Store       thunk.Store
	Policy      Policy

	mu      sync.Mutex
	running int
	onOK    engine.SuccessFunc
	onFail  engine.FailureFunc
}

func New(maxCapacity int, workDir string, store thunk.Store) *Engine {
	return &Engine{MaxCapacity: maxCapacity, WorkDir: workDir, Store: store, Policy: PolicyRoutine}
}

func (e *Engine) Label() string { return "local" }

func (e *Engine) MaxJobs() int { return e.MaxCapacity }

func (e *Engine) JobCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// CanExecute admits any thunk with a non-empty Argv. Binary
// compatibility beyond "this is a program we can exec" is out of
// scope for this engine.
func (e *Engine) CanExecute(t thunk.Thunk) bool {
	return len(t.Action.Argv) > 0
}

func (e *Engine) SetSuccessCallback(f engine.SuccessFunc) { e.onOK = f }
func (e *Engine) SetFailureCallback(f engine.FailureFunc) { e.onFail = f }

func (e *Engine) Init(loop *poller.Loop) error {
	return os.MkdirAll(e.WorkDir, 0755)
}

// ForceThunk stages a fresh job workspace named by a random UUID --
// rather than a thunk-derived name -- so two concurrent dispatches of
// the same hash (straggler duplication) never collide on disk.
func (e *Engine) ForceThunk(h thunk.Hash, t thunk.Thunk, loop *poller.Loop) error {
	jobDir := filepath.Join(e.WorkDir, uuid.New().String())
	outputDir := filepath.Join(jobDir, "output")
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		os.RemoveAll(jobDir)
		return err
	}

	e.mu.Lock()
	e.running++
	e.mu.Unlock()

	outbox := loop.Outbox()
	go func() {
		defer os.RemoveAll(jobDir)
		outputs, failStatus, failed := e.run(h, t, jobDir, outputDir)

		outbox <- poller.Event{Deliver: func() {
			e.mu.Lock()
			e.running--
			e.mu.Unlock()
			if failed {
				e.onFail(h, failStatus)
				return
			}
			e.onOK(h, outputs, t.Action.Cost)
		}}
	}()
	return nil
}

// run executes t's action synchronously and is meant to be called
// from the background goroutine ForceThunk spawns, never from the
// loop thread.
func (e *Engine) run(h thunk.Hash, t thunk.Thunk, jobDir, outputDir string) ([]thunk.ThunkOutput, engine.Status, bool) {
	caps, err := capsForPolicy(e.Policy)
	if err != nil {
		log.Error("local: bad capability policy", "thunk", h, "err", err)
		return nil, engine.OperationalFailure, true
	}

	cwd := t.Action.Cwd
	if cwd == "" {
		cwd = jobDir
	}
	env := map[string]string{"REDUCTOR_OUTPUT": outputDir}
	for k, v := range t.Action.Env {
		env[k] = v
	}

	var stdout, stderr bytes.Buffer
	cmd := gosh.Gosh(
		t.Action.Argv[0],
		gosh.NullIO,
		gosh.Opts{
			Env:      env,
			Cwd:      cwd,
			OkExit:   gosh.AnyExit,
			Out:      &stdout,
			Err:      &stderr,
			Launcher: gosh.ExecCustomizingLauncher(dropLauncher(caps)),
		},
	)

	var proc gosh.Proc
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Warn("local: invocation failed", "thunk", h, "err", r)
			}
		}()
		bakeArgs := make([]interface{}, len(t.Action.Argv[1:]))
		for i, a := range t.Action.Argv[1:] {
			bakeArgs[i] = a
		}
		proc = cmd.Bake(bakeArgs...).Run()
	}()
	if proc == nil {
		return nil, engine.InvocationFailure, true
	}

	if code := proc.GetExitCode(); code != 0 {
		log.Info("local: job exited nonzero",
			"thunk", h, "code", code, "stderr", stderr.String())
		return nil, engine.ExecutionFailure, true
	}

	outputs, err := e.collectOutputs(t, outputDir)
	if err != nil {
		log.Warn("local: failed to collect outputs", "thunk", h, "err", err)
		return nil, engine.UploadOutputFailure, true
	}
	return outputs, 0, false
}

// collectOutputs reads back one file per declared output tag from
// outputDir/<tag> and ingests it into the blob store.
func (e *Engine) collectOutputs(t thunk.Thunk, outputDir string) ([]thunk.ThunkOutput, error) {
	outputs := make([]thunk.ThunkOutput, 0, len(t.Outputs))
	for _, tag := range t.Outputs {
		path := filepath.Join(outputDir, string(tag))
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("missing declared output %q: %w", tag, err)
		}
		executable := info.Mode()&0111 != 0
		h, err := e.Store.PutFile(path, executable)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, thunk.ThunkOutput{Hash: h, Tag: tag})
	}
	return outputs, nil
}
