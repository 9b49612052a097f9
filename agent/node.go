//go:build !windows

package agent

import (
	"bufio"
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// nodeBootstrapScript configures a REPL with no prompt, no input echo, and
// a restored console object so console.log reaches real stdout instead of
// the REPL's own writer (spec §4.2.4), then starts reading statements from
// stdin.
const nodeBootstrapScript = `
const repl = require('repl');
const r = repl.start({
  prompt: '',
  terminal: false,
  useColors: false,
  ignoreUndefined: true,
  writer: () => '',
});
r.context.console = console;
`

// nodeAdapter drives a custom Node REPL via a bootstrap script written to
// the session's scratch directory. Direct `node -e` invocation is rejected
// by spec §4.2.4 because stdin would not be presented to the REPL as a
// readable stream; the script must exist as a file invoked by path.
type nodeAdapter struct {
	proc   *subprocess
	stdout *bufio.Reader
	stderr *bufio.Reader
}

// newNodeAdapter writes the bootstrap script into scratchDir via fs (an
// afero.Fs so tests can substitute afero.MemMapFs, though the real
// subprocess always needs afero.OsFs since node must read the file from
// disk) and launches node against it.
func newNodeAdapter(fs afero.Fs, scratchDir string) (*nodeAdapter, error) {
	scriptPath := filepath.Join(scratchDir, "repl_bootstrap.js")
	if err := afero.WriteFile(fs, scriptPath, []byte(nodeBootstrapScript), 0o600); err != nil {
		return nil, fmt.Errorf("agent: write node bootstrap script: %w", err)
	}

	proc, err := spawn("node", scriptPath)
	if err != nil {
		return nil, fmt.Errorf("agent: spawn node: %w", err)
	}
	return &nodeAdapter{
		proc:   proc,
		stdout: bufio.NewReader(proc.stdout),
		stderr: bufio.NewReader(proc.stderr),
	}, nil
}

func (a *nodeAdapter) Execute(ctx context.Context, code string) (string, string, int, error) {
	nonce, err := newNonce()
	if err != nil {
		return "", "", 0, err
	}
	m := newMarkerSet(nonce)

	type result struct {
		stdout   string
		stderr   string
		err      error
	}
	stdoutCh := make(chan result, 1)
	stderrCh := make(chan result, 1)

	go func() {
		out, _, err := captureStdout(a.stdout, m)
		stdoutCh <- result{stdout: out, err: err}
	}()
	go func() {
		out, err := captureStderr(a.stderr, m)
		stderrCh <- result{stderr: out, err: err}
	}()

	if err := a.writeRequest(code, m); err != nil {
		return "", "", 0, fmt.Errorf("%w: write to node: %v", ErrInterpreterGone, err)
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

	// Exit code is inferred, not reported by the REPL per statement (spec
	// §4.2.4): non-empty stderr means something landed on the error
	// channel, which this adapter treats as failure.
	exitCode := 0
	if errOut.stderr != "" {
		exitCode = 1
	}
	return out.stdout, errOut.stderr, exitCode, nil
}

// writeRequest sends user code directly to the REPL — not wrapped in
// try/catch, because block-scoped `let`/`const` declarations would
// otherwise fail to persist across calls (spec §4.2.4) — then emits the
// marker block via process.stdout.write/process.stderr.write (bypassing
// console.log, which the REPL's writer suppresses; each write is prefixed
// with `void` so its result is undefined and ignoreUndefined keeps the REPL
// from echoing a blank line for it), and finally issues
// `.break` to cancel any pending multi-line state unbalanced user input
// may have left behind.
func (a *nodeAdapter) writeRequest(code string, m markerSet) error {
	lines := []string{
		fmt.Sprintf("void process.stdout.write(%q)", m.beginStdout()+"\n"),
		fmt.Sprintf("void process.stderr.write(%q)", m.beginStderr()+"\n"),
		code,
		fmt.Sprintf("void process.stderr.write(%q)", m.endStderr()+"\n"),
		fmt.Sprintf("void process.stdout.write(%q)", m.endStdout()+"\n"),
		fmt.Sprintf("void process.stdout.write(%q)", m.exitLine(0)+"\n"),
		".break",
	}
	for _, line := range lines {
		if err := writeLine(a.proc.stdin, line); err != nil {
			return err
		}
	}
	return nil
}

func (a *nodeAdapter) Close() error {
	return a.proc.Close()
}
