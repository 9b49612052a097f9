//go:build !windows

package agent

import (
	"bufio"
	"context"
	"fmt"
)

// pythonAdapter drives a persistent `python3 -u -i -q` subprocess. Per the
// Python adapter redesign in SPEC_FULL.md, this replaces spec §4.2.2's
// in-process-namespace description (unavailable to Go) while preserving
// its cross-call persistence invariant: the REPL's module globals play the
// role the spec's shared attribute namespace plays, carrying imports,
// definitions, and bindings from call to call.
type pythonAdapter struct {
	proc   *subprocess
	stdout *bufio.Reader
	stderr *bufio.Reader
}

// newPythonAdapter spawns python3 in unbuffered, interactive, quiet mode
// (-u disables stdio buffering so marker lines aren't held back; -i keeps
// the interpreter reading further statements after each one; -q suppresses
// the startup banner, which would otherwise appear ahead of the first
// marker block).
func newPythonAdapter() (*pythonAdapter, error) {
	proc, err := spawn("python3", "-u", "-i", "-q")
	if err != nil {
		return nil, fmt.Errorf("agent: spawn python3: %w", err)
	}
	return &pythonAdapter{
		proc:   proc,
		stdout: bufio.NewReader(proc.stdout),
		stderr: bufio.NewReader(proc.stderr),
	}, nil
}

func (a *pythonAdapter) Execute(ctx context.Context, code string) (string, string, int, error) {
	nonce, err := newNonce()
	if err != nil {
		return "", "", 0, err
	}
	m := newMarkerSet(nonce)

	script := pythonExecScript(code, m)

	type result struct {
		stdout   string
		stderr   string
		exitCode int
		err      error
	}
	stdoutCh := make(chan result, 1)
	stderrCh := make(chan result, 1)

	go func() {
		out, code, err := captureStdout(a.stdout, m)
		stdoutCh <- result{stdout: out, exitCode: code, err: err}
	}()
	go func() {
		out, err := captureStderr(a.stderr, m)
		stderrCh <- result{stderr: out, err: err}
	}()

	if err := writeLine(a.proc.stdin, script); err != nil {
		return "", "", 0, fmt.Errorf("%w: write to python3: %v", ErrInterpreterGone, err)
	}

	var out, errOut result
	select {
	case out = <-stdoutCh:
	case <-ctx.Done():
		return "", "", 0, ctx.Err()
	}
	select {
	case errOut = <-stderrCh:
	case <-ctx.Done():
		return "", "", 0, ctx.Err()
	}

	if out.err != nil || errOut.err != nil {
		return "", "", 0, fmt.Errorf("%w: %v", ErrInterpreterGone, firstNonNil(out.err, errOut.err))
	}
	return out.stdout, errOut.stderr, out.exitCode, nil
}

func (a *pythonAdapter) Close() error {
	return a.proc.Close()
}

// pythonExecScript wraps user code in a single compound statement the
// REPL's -i loop reads as one unit: exec user code inside a try/except so
// a raised exception becomes exit code 1 with its traceback on stderr
// (spec §4.2.2's "exit code 1 if the user code raised; traceback appended
// to stderr"), with the marker block written in a finally clause so it
// fires exactly once regardless of how the try exits. Markers go out via
// sys.stdout/sys.stderr directly, bypassing print()'s own buffering; each
// write's return value is assigned to a throwaway name so the REPL's
// interactive echo does not print the character count into the output.
//
// The trailing blank line is required: python3 -i's incremental compiler
// needs a blank line to recognize a multi-line compound statement (the
// try/except/finally block) as complete and execute it.
func pythonExecScript(code string, m markerSet) string {
	return fmt.Sprintf(`import sys, traceback
__sandcode_n = sys.stdout.write(%q); sys.stdout.flush()
__sandcode_n = sys.stderr.write(%q); sys.stderr.flush()
__sandcode_exit = 0
try:
    exec(compile(%q, "<session>", "exec"), globals())
except SystemExit as __sandcode_se:
    __sandcode_exit = __sandcode_se.code if isinstance(__sandcode_se.code, int) else 1
except BaseException:
    traceback.print_exc(file=sys.stderr)
    __sandcode_exit = 1
finally:
    __sandcode_n = sys.stderr.write(%q); sys.stderr.flush()
    __sandcode_n = sys.stdout.write(%q); sys.stdout.flush()
    __sandcode_n = sys.stdout.write(%q + str(__sandcode_exit) + "\n"); sys.stdout.flush()

`,
		m.beginStdout()+"\n",
		m.beginStderr()+"\n",
		code,
		m.endStderr()+"\n",
		m.endStdout()+"\n",
		m.exitPrefix(),
	)
}

func firstNonNil(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
