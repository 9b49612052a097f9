//go:build !windows

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/dmora/sandcode/transport"
)

// InterpreterType mirrors sandcode.InterpreterType without importing the
// root package, keeping this package importable from a minimal in-sandbox
// binary that has no reason to link the daemon's session/manager code.
type InterpreterType string

const (
	InterpreterPython InterpreterType = "python"
	InterpreterBash   InterpreterType = "bash"
	InterpreterNode   InterpreterType = "node"
)

// Agent hosts exactly one interpreter, fixed at construction, and serves a
// read-one-request/write-one-response loop over its control stdio (spec
// §4.2). The interpreter adapter is materialized lazily on first request,
// not at startup, so session creation never waits on interpreter cold
// start (spec §4.2's "lazy initialization").
type Agent struct {
	interp     InterpreterType
	scratchDir string
	scratchFs  afero.Fs
	log        zerolog.Logger

	once    sync.Once
	adapter Adapter
	initErr error
}

// New constructs an Agent for one interpreter type. scratchDir and fs are
// only used by the Node adapter, which needs a writable location for its
// REPL bootstrap script; both may be zero-valued for python/bash.
func New(interp InterpreterType, scratchDir string, fs afero.Fs, log zerolog.Logger) *Agent {
	return &Agent{interp: interp, scratchDir: scratchDir, scratchFs: fs, log: log}
}

// Run reads one framed Request at a time from r and writes one framed
// Response to w, until r reaches EOF or a fatal parse error occurs (spec
// §4.2's "the loop terminates on EOF or a fatal parse error"). ctx
// cancellation interrupts an in-flight Execute call.
func (a *Agent) Run(ctx context.Context, r io.Reader, w io.Writer, maxFrameBytes int) error {
	for {
		var req Request
		if err := transport.ReadFrame(r, maxFrameBytes, &req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		resp := a.handle(ctx, req)
		if err := transport.WriteFrame(w, resp); err != nil {
			return err
		}
	}
}

func (a *Agent) handle(ctx context.Context, req Request) Response {
	adapter, err := a.ensureAdapter()
	if err != nil {
		return Response{ID: req.ID, Stderr: err.Error(), ExitCode: 1}
	}

	stdout, stderr, exitCode, err := adapter.Execute(ctx, req.Code)
	if err != nil {
		a.log.Error().Err(err).Str("request_id", req.ID).Msg("interpreter execution failed")
		return Response{ID: req.ID, Stderr: err.Error(), ExitCode: 1}
	}
	return Response{ID: req.ID, Stdout: stdout, Stderr: stderr, ExitCode: exitCode}
}

// ensureAdapter materializes the backing interpreter subprocess on first
// call and reuses it thereafter. A construction failure is sticky — once
// the interpreter fails to start, every subsequent request fails the same
// way rather than retrying a broken launch repeatedly.
func (a *Agent) ensureAdapter() (Adapter, error) {
	a.once.Do(func() {
		switch a.interp {
		case InterpreterPython:
			a.adapter, a.initErr = newPythonAdapter()
		case InterpreterBash:
			a.adapter, a.initErr = newBashAdapter()
		case InterpreterNode:
			a.adapter, a.initErr = newNodeAdapter(a.scratchFs, a.scratchDir)
		default:
			a.initErr = fmt.Errorf("agent: unknown interpreter type %q", a.interp)
		}
	})
	return a.adapter, a.initErr
}

// Close terminates the backing interpreter subprocess, if one was ever
// materialized.
func (a *Agent) Close() error {
	if a.adapter == nil {
		return nil
	}
	return a.adapter.Close()
}

// SeizeControlStdio implements spec §4.2 item 1: duplicate the inherited
// stdin/stdout file descriptors for exclusive use by the control-channel
// transport, then reassign the language-level standard streams (os.Stdin,
// os.Stdout) so any stray output from a library the agent binary links
// cannot leak into the framed protocol. The returned files are the
// control channel; os.Stdin/os.Stdout are repointed at /dev/null.
func SeizeControlStdio() (ctrlIn, ctrlOut *os.File, err error) {
	inFd, err := syscall.Dup(int(os.Stdin.Fd()))
	if err != nil {
		return nil, nil, fmt.Errorf("agent: dup stdin: %w", err)
	}
	outFd, err := syscall.Dup(int(os.Stdout.Fd()))
	if err != nil {
		return nil, nil, fmt.Errorf("agent: dup stdout: %w", err)
	}
	ctrlIn = os.NewFile(uintptr(inFd), "sandcode-ctrl-in")
	ctrlOut = os.NewFile(uintptr(outFd), "sandcode-ctrl-out")

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("agent: open %s: %w", os.DevNull, err)
	}
	os.Stdin = devNull
	os.Stdout = devNull

	return ctrlIn, ctrlOut, nil
}
