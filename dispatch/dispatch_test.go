//go:build !windows

package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dmora/sandcode"
	"github.com/dmora/sandcode/session"
)

// writeEphemeralScript writes a tiny shell script acting as a stand-in
// ephemeral_exec binary: it echoes stdin to stdout and exits with
// exitCode, which is written into the script.
func writeEphemeralScript(t *testing.T, dir string, exitCode int) string {
	t.Helper()
	path := filepath.Join(dir, "ephemeral.sh")
	script := "#!/bin/sh\ncat\nexit " + itoa(exitCode) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700))
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestRunEphemeralCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	script := writeEphemeralScript(t, dir, 0)

	catalog := sandcode.NewCatalog([]sandcode.Environment{
		{Name: "sh", InterpreterType: sandcode.InterpreterBash, EphemeralExec: script, TimeoutSeconds: 5},
	})
	mgr := session.NewManager(catalog, sandcode.RuntimeConfig{}, zerolog.Nop())
	d := New(catalog, mgr, 0, zerolog.Nop())

	res, err := d.Run(context.Background(), "hello\n", "sh", "")
	require.NoError(t, err)
	require.Equal(t, "hello\n", res.Stdout)
	require.False(t, res.IsError())
}

func TestRunEphemeralNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	script := writeEphemeralScript(t, dir, 3)

	catalog := sandcode.NewCatalog([]sandcode.Environment{
		{Name: "sh", InterpreterType: sandcode.InterpreterBash, EphemeralExec: script, TimeoutSeconds: 5},
	})
	mgr := session.NewManager(catalog, sandcode.RuntimeConfig{}, zerolog.Nop())
	d := New(catalog, mgr, 0, zerolog.Nop())

	res, err := d.Run(context.Background(), "oops\n", "sh", "")
	require.NoError(t, err)
	require.Equal(t, 3, res.ExitCode)
	require.True(t, res.IsError())
}

func TestRunUnknownEnv(t *testing.T) {
	catalog := sandcode.NewCatalog(nil)
	mgr := session.NewManager(catalog, sandcode.RuntimeConfig{}, zerolog.Nop())
	d := New(catalog, mgr, 0, zerolog.Nop())

	_, err := d.Run(context.Background(), "code", "missing", "")
	require.ErrorIs(t, err, sandcode.ErrUnknownEnv)
}

func TestRunEphemeralFailsFastAtCapacity(t *testing.T) {
	dir := t.TempDir()
	script := writeEphemeralScript(t, dir, 0)

	catalog := sandcode.NewCatalog([]sandcode.Environment{
		{Name: "sh", InterpreterType: sandcode.InterpreterBash, EphemeralExec: script, TimeoutSeconds: 5},
	})
	mgr := session.NewManager(catalog, sandcode.RuntimeConfig{}, zerolog.Nop())
	d := New(catalog, mgr, 1, zerolog.Nop())

	// Occupy the single slot manually to force the next call to fail fast.
	d.sem <- struct{}{}
	defer func() { <-d.sem }()

	_, err := d.Run(context.Background(), "code\n", "sh", "")
	require.ErrorIs(t, err, sandcode.ErrSpawnFailed)
}
