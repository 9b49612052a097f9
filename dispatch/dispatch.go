//go:build !windows

// Package dispatch implements the tool dispatcher (spec §4.5): it takes
// {code, env, session?} from the tool-call layer, routes to an ephemeral
// one-shot execution or a persistent session, and formats the combined
// result.
//
// Grounded on the teacher's Engine.Start validation sequence
// (engine/acp/engine.go: resolve binary, validate options, spawn) for the
// general "validate inputs, route, wrap errors" shape, and on
// nevindra-oasis/cmd/sandbox/handler.go's handleExecute for the concrete
// ephemeral path: a semaphore bounds concurrent ephemeral executions and
// fails fast under load, exactly as handleExecute's `sem chan struct{}`
// does ahead of spawning a one-shot runner.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dmora/sandcode"
	"github.com/dmora/sandcode/internal/errfmt"
	"github.com/dmora/sandcode/session"
)

// Dispatcher routes {code, env, session?} tool calls.
type Dispatcher struct {
	catalog *sandcode.Catalog
	manager *session.Manager
	log     zerolog.Logger

	sem chan struct{}
}

// New constructs a Dispatcher. maxConcurrentEphemeral bounds how many
// ephemeral executions may run at once; additional calls fail fast with
// ErrSpawnFailed rather than queueing (nevindra-oasis handler.go's
// fail-fast-under-load discipline). A value <= 0 means unbounded.
func New(catalog *sandcode.Catalog, manager *session.Manager, maxConcurrentEphemeral int, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{catalog: catalog, manager: manager, log: log}
	if maxConcurrentEphemeral > 0 {
		d.sem = make(chan struct{}, maxConcurrentEphemeral)
	}
	return d
}

// Run executes code in the named environment, either ephemerally or
// against a session, and returns a formatted Result. Session-terminating
// errors are returned as an error-flagged Result, never propagated as a
// Go error that would bring down the outer tool-call transport (spec
// §4.5's "does not propagate to the tool-call transport").
func (d *Dispatcher) Run(ctx context.Context, code, envName, sessionID string) (sandcode.Result, error) {
	env, err := d.catalog.Lookup(envName)
	if err != nil {
		return sandcode.Result{}, err
	}

	if sessionID == "" {
		return d.runEphemeral(ctx, env, code)
	}

	res, err := d.manager.Execute(ctx, sessionID, envName, code)
	if err != nil {
		if errors.Is(err, sandcode.ErrSessionEnvMismatch) || errors.Is(err, sandcode.ErrUnknownEnv) {
			// Caller-facing input errors: surface as a Go error so the
			// tool layer can reject the call outright.
			return sandcode.Result{}, err
		}
		// Session-terminating errors (ErrSessionDead wrapping a transport
		// failure) become an error-flagged result instead — the daemon
		// itself must stay up.
		d.log.Warn().Err(err).Str("session_id", sessionID).Msg("session execution failed")
		return sandcode.Result{Stderr: errfmt.Truncate(err.Error()), ExitCode: 1}, nil
	}
	return res, nil
}

// runEphemeral spawns env's EphemeralExec with code on stdin, waits up to
// the environment's advisory timeout, and captures its output (spec
// §4.5's ephemeral path).
func (d *Dispatcher) runEphemeral(ctx context.Context, env sandcode.Environment, code string) (sandcode.Result, error) {
	if d.sem != nil {
		select {
		case d.sem <- struct{}{}:
			defer func() { <-d.sem }()
		default:
			return sandcode.Result{}, fmt.Errorf("%w: server busy, at ephemeral execution capacity", sandcode.ErrSpawnFailed)
		}
	}

	timeout := env.Timeout(30 * time.Second)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, env.EphemeralExec)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdin = bytes.NewReader([]byte(code))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cancelGroup := func() {
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
	}

	err := cmd.Start()
	if err != nil {
		return sandcode.Result{}, fmt.Errorf("%w: start %s: %v", sandcode.ErrSpawnFailed, env.EphemeralExec, err)
	}

	waitErr := cmd.Wait()
	if runCtx.Err() != nil {
		cancelGroup()
		return sandcode.Result{}, fmt.Errorf("%w: %s exceeded %s", sandcode.ErrExecutionTimeout, env.Name, timeout)
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return sandcode.Result{}, fmt.Errorf("%w: %v", sandcode.ErrSpawnFailed, waitErr)
		}
	}

	return sandcode.Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
}
