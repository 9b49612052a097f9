//go:build !windows

package session

import (
	"context"
	"io"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dmora/sandcode"
	"github.com/dmora/sandcode/agent"
	"github.com/dmora/sandcode/transport"
)

// fakeAgentProcess spawns a real harmless subprocess (so Session.Close has
// a genuine process group to signal) wired to an in-test echo loop over
// io.Pipe, standing in for a real session_exec launcher.
type fakeAgentProcess struct {
	cmd *exec.Cmd
	w   io.WriteCloser
	r   io.ReadCloser
}

func newFakeAgentProcess(t *testing.T) *fakeAgentProcess {
	t.Helper()
	cmd := exec.Command("sleep", "30")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())

	agentIn, toAgent := io.Pipe()
	agentOut, fromAgent := io.Pipe()

	go func() {
		for {
			var req agent.Request
			if err := transport.ReadFrame(agentIn, 0, &req); err != nil {
				return
			}
			resp := agent.Response{ID: req.ID, Stdout: "echo:" + req.Code}
			if err := transport.WriteFrame(fromAgent, resp); err != nil {
				return
			}
		}
	}()

	return &fakeAgentProcess{cmd: cmd, w: toAgent, r: agentOut}
}

func newManagerWithCatalog(t *testing.T, cfg sandcode.RuntimeConfig) (*Manager, func()) {
	t.Helper()
	catalog := sandcode.NewCatalog([]sandcode.Environment{
		{Name: "python", InterpreterType: sandcode.InterpreterPython, SessionExec: "unused-in-this-test"},
	})
	mgr := NewManager(catalog, cfg, zerolog.Nop())
	return mgr, func() { mgr.Close() }
}

// injectSession bypasses New (which would spawn SessionExec for real) and
// directly inserts a Session wired to a fake agent process, mirroring how
// session_test.go's newTestSession avoids needing a real launcher binary.
func injectSession(t *testing.T, mgr *Manager, id, envName string) *fakeAgentProcess {
	t.Helper()
	fp := newFakeAgentProcess(t)
	sess := &Session{
		ID:              id,
		EnvName:         envName,
		InterpreterType: sandcode.InterpreterPython,
		CreatedAt:       time.Now(),
		lastUsedAt:      time.Now(),
		cmd:             fp.cmd,
		tr:              transport.New(fp.w, fp.r),
		log:             zerolog.Nop(),
	}
	mgr.mu.Lock()
	mgr.sessions[id] = sess
	mgr.mu.Unlock()
	return fp
}

func TestManagerEnvMismatchRejected(t *testing.T) {
	mgr, cleanup := newManagerWithCatalog(t, sandcode.RuntimeConfig{})
	defer cleanup()

	injectSession(t, mgr, "s1", "python")

	_, err := mgr.Execute(context.Background(), "s1", "bash", "code")
	require.ErrorIs(t, err, sandcode.ErrSessionEnvMismatch)
}

func TestManagerExecuteReusesExistingSession(t *testing.T) {
	mgr, cleanup := newManagerWithCatalog(t, sandcode.RuntimeConfig{})
	defer cleanup()

	injectSession(t, mgr, "s1", "python")

	res, err := mgr.Execute(context.Background(), "s1", "python", "1+1")
	require.NoError(t, err)
	require.Equal(t, "echo:1+1", res.Stdout)
}

func TestManagerUnknownEnvRejected(t *testing.T) {
	mgr, cleanup := newManagerWithCatalog(t, sandcode.RuntimeConfig{})
	defer cleanup()

	_, err := mgr.Execute(context.Background(), "fresh", "ruby", "code")
	require.ErrorIs(t, err, sandcode.ErrUnknownEnv)
}

func TestManagerRemoveDropsSession(t *testing.T) {
	mgr, cleanup := newManagerWithCatalog(t, sandcode.RuntimeConfig{})
	defer cleanup()

	injectSession(t, mgr, "s1", "python")
	mgr.Remove("s1")

	mgr.mu.RLock()
	_, ok := mgr.sessions["s1"]
	mgr.mu.RUnlock()
	require.False(t, ok)
}

func TestManagerReapEvictsIdleSession(t *testing.T) {
	mgr, cleanup := newManagerWithCatalog(t, sandcode.RuntimeConfig{
		IdleTimeout: 10 * time.Millisecond,
		MaxLifetime: time.Hour,
	})
	defer cleanup()

	injectSession(t, mgr, "s1", "python")
	time.Sleep(20 * time.Millisecond)

	mgr.reap()

	mgr.mu.RLock()
	_, ok := mgr.sessions["s1"]
	mgr.mu.RUnlock()
	require.False(t, ok)
}

func TestManagerReapKeepsFreshSession(t *testing.T) {
	mgr, cleanup := newManagerWithCatalog(t, sandcode.RuntimeConfig{
		IdleTimeout: time.Hour,
		MaxLifetime: time.Hour,
	})
	defer cleanup()

	injectSession(t, mgr, "s1", "python")
	mgr.reap()

	mgr.mu.RLock()
	_, ok := mgr.sessions["s1"]
	mgr.mu.RUnlock()
	require.True(t, ok)
}

func TestManagerCloseTerminatesAllSessions(t *testing.T) {
	mgr, _ := newManagerWithCatalog(t, sandcode.RuntimeConfig{})
	injectSession(t, mgr, "s1", "python")
	injectSession(t, mgr, "s2", "python")

	mgr.Close()

	mgr.mu.RLock()
	count := len(mgr.sessions)
	mgr.mu.RUnlock()
	require.Equal(t, 0, count)
}
