//go:build !windows

package agent

import (
	"bufio"
	"context"
	"fmt"
)

// bashAdapter drives a persistent bash subprocess in its own process group
// (spec §4.2.3). Shell state (exported variables, cwd, functions) persists
// across calls because it is the same interactive shell process.
type bashAdapter struct {
	proc   *subprocess
	stdout *bufio.Reader
	stderr *bufio.Reader
}

func newBashAdapter() (*bashAdapter, error) {
	proc, err := spawn("bash", "--noprofile", "--norc")
	if err != nil {
		return nil, fmt.Errorf("agent: spawn bash: %w", err)
	}
	return &bashAdapter{
		proc:   proc,
		stdout: bufio.NewReader(proc.stdout),
		stderr: bufio.NewReader(proc.stderr),
	}, nil
}

func (a *bashAdapter) Execute(ctx context.Context, code string) (string, string, int, error) {
	nonce, err := newNonce()
	if err != nil {
		return "", "", 0, err
	}
	m := newMarkerSet(nonce)

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

	if err := a.writeRequest(code, m); err != nil {
		return "", "", 0, fmt.Errorf("%w: write to bash: %v", ErrInterpreterGone, err)
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

// writeRequest writes, in order (spec §4.2.3): the begin markers, an EXIT
// trap that emits the end markers and the EXIT sentinel if the user's code
// exits the shell, the user's code verbatim, a line capturing the last exit
// status, the trap's removal, then the end markers and the EXIT sentinel.
// A shell exited this way reports its exit status for this call; the next
// call finds the interpreter gone.
func (a *bashAdapter) writeRequest(code string, m markerSet) error {
	lines := []string{
		"echo " + m.beginStdout() + " >&1",
		"echo " + m.beginStderr() + " >&2",
		`trap '__sandcode_status=$?; echo ` + m.endStderr() + ` >&2; echo ` + m.endStdout() + ` >&1; echo "` + m.exitPrefix() + `${__sandcode_status}" >&1' EXIT`,
		code,
		"__sandcode_status=$?",
		"trap - EXIT",
		"echo " + m.endStderr() + " >&2",
		"echo " + m.endStdout() + " >&1",
		`echo "` + m.exitPrefix() + `${__sandcode_status}" >&1`,
	}
	for _, line := range lines {
		if err := writeLine(a.proc.stdin, line); err != nil {
			return err
		}
	}
	return nil
}

func (a *bashAdapter) Close() error {
	return a.proc.Close()
}
