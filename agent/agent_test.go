package agent

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dmora/sandcode/transport"
)

// fakeAdapter lets agent-loop tests exercise Run without a real
// interpreter subprocess.
type fakeAdapter struct {
	execute func(ctx context.Context, code string) (string, string, int, error)
	closed  bool
}

func (f *fakeAdapter) Execute(ctx context.Context, code string) (string, string, int, error) {
	return f.execute(ctx, code)
}

func (f *fakeAdapter) Close() error {
	f.closed = true
	return nil
}

func TestAgentRunEchoesRequests(t *testing.T) {
	fake := &fakeAdapter{
		execute: func(ctx context.Context, code string) (string, string, int, error) {
			return "out:" + code, "", 0, nil
		},
	}
	a := &Agent{log: zerolog.Nop()}
	a.adapter = fake
	a.once.Do(func() {}) // mark materialized so ensureAdapter reuses fake

	agentR, callerW := io.Pipe()
	callerR, agentW := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, agentR, agentW, 0) }()

	require.NoError(t, transport.WriteFrame(callerW, Request{ID: "1", Code: "print(1)"}))
	var resp Response
	require.NoError(t, transport.ReadFrame(callerR, 0, &resp))
	require.Equal(t, "1", resp.ID)
	require.Equal(t, "out:print(1)", resp.Stdout)
	require.Equal(t, 0, resp.ExitCode)

	require.NoError(t, callerW.Close())
	require.NoError(t, <-done)
}

func TestAgentRunSurfacesExecuteError(t *testing.T) {
	fake := &fakeAdapter{
		execute: func(ctx context.Context, code string) (string, string, int, error) {
			return "", "", 0, ErrInterpreterGone
		},
	}
	a := &Agent{log: zerolog.Nop()}
	a.adapter = fake
	a.once.Do(func() {})

	agentR, callerW := io.Pipe()
	callerR, agentW := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, agentR, agentW, 0) }()

	require.NoError(t, transport.WriteFrame(callerW, Request{ID: "2", Code: "boom"}))
	var resp Response
	require.NoError(t, transport.ReadFrame(callerR, 0, &resp))
	require.Equal(t, 1, resp.ExitCode)
	require.Contains(t, resp.Stderr, "interpreter subprocess is gone")

	require.NoError(t, callerW.Close())
	require.NoError(t, <-done)
}

func TestAgentEnsureAdapterUnknownInterpreter(t *testing.T) {
	a := New(InterpreterType("ruby"), "", nil, zerolog.Nop())
	_, err := a.ensureAdapter()
	require.Error(t, err)
}
