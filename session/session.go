//go:build !windows

// Package session implements the persistent per-session agent (spec §4.3)
// and the keyed manager that owns a pool of them (spec §4.4).
//
// Session is grounded on the teacher's engine/acp/process.go: a turnMu
// mutex serializes all transport use exactly like the teacher's process
// struct serializes Send() calls, and shutdown follows the same
// SIGTERM-then-SIGKILL shape (Session.Close's own process-group signaling,
// the same sequence agent.subprocess uses for an interpreter adapter,
// applied here to the whole session child). The ACP-specific
// handshake, streaming update channel, and permission RPCs have no
// counterpart here — a session agent is strictly request/response.
package session

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dmora/sandcode"
	"github.com/dmora/sandcode/agent"
	"github.com/dmora/sandcode/transport"
)

// Session owns one agent child process, its transport, and the lock that
// serializes all use of that transport (spec §3's SessionRecord).
type Session struct {
	ID              string
	EnvName         string
	InterpreterType sandcode.InterpreterType

	CreatedAt  time.Time
	lastUsedMu sync.Mutex
	lastUsedAt time.Time

	cmd *exec.Cmd
	tr  *transport.Transport

	turnMu sync.Mutex // serializes Execute calls, the sole enforcement of transport.RoundTrip's single-exchange rule
	dead   bool
	deadErr error

	log zerolog.Logger
}

// defaultGracePeriod matches the teacher's EngineOptions.GracePeriod
// default: how long Close waits for SIGTERM before escalating to SIGKILL.
const defaultGracePeriod = 3 * time.Second

// New launches sessionExec with piped stdio in its own process group,
// wires a Transport over its stdin/stdout, and returns a live Session.
// Creation blocks only until the child is spawned and its stdio wired
// (spec §4.3's startup contract) — it never waits for the interpreter
// inside the child to initialize.
func New(ctx context.Context, id, envName string, interp sandcode.InterpreterType, sessionExec string, maxFrameBytes int, log zerolog.Logger) (*Session, error) {
	// Deliberately exec.Command, not exec.CommandContext(ctx, ...): ctx is
	// the request-scoped context of the single call that happens to create
	// this session, and it is done as soon as that call returns. The child
	// must outlive it for the session's whole lifetime; only Close (below)
	// is allowed to terminate it.
	cmd := exec.Command(sessionExec)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", sandcode.ErrSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", sandcode.ErrSpawnFailed, err)
	}
	cmd.Stderr = nil // the session agent's stderr is diagnostic only; not part of the protocol

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", sandcode.ErrSpawnFailed, sessionExec, err)
	}

	now := time.Now()
	return &Session{
		ID:              id,
		EnvName:         envName,
		InterpreterType: interp,
		CreatedAt:       now,
		lastUsedAt:      now,
		cmd:             cmd,
		tr:              transport.New(stdin, stdout, transport.WithMaxFrameBytes(maxFrameBytes)),
		log:             log,
	}, nil
}

// Execute performs one round-trip with the session agent: acquire the
// session lock, send code, receive the result, release the lock (spec
// §4.3). Any transport failure is fatal — the session marks itself dead
// and every subsequent call returns the same sticky error until the
// manager reaps it.
func (s *Session) Execute(ctx context.Context, code string) (sandcode.Result, error) {
	s.turnMu.Lock()

	if s.dead {
		s.turnMu.Unlock()
		return sandcode.Result{}, s.deadErr
	}

	req := agent.Request{ID: uuid.NewString(), Code: code}
	var resp agent.Response

	done := make(chan error, 1)
	go func() { done <- s.tr.RoundTrip(req, &resp) }()

	select {
	case err := <-done:
		defer s.turnMu.Unlock()
		if err != nil {
			s.markDead(err)
			return sandcode.Result{}, s.deadErr
		}
	case <-ctx.Done():
		// Session executions are never cancelled mid-flight (spec §4.5,
		// §9's "no cancellation of in-flight session calls") — the
		// marker protocol must see its terminators to resynchronize.
		// ctx.Done() here only means the *caller* stopped waiting; the
		// round-trip above keeps running and keeps turnMu until it
		// completes, marking the session dead first if it fails.
		go func() {
			if err := <-done; err != nil {
				s.markDead(err)
			}
			s.turnMu.Unlock()
		}()
		return sandcode.Result{}, ctx.Err()
	}

	s.touch()
	return sandcode.Result{Stdout: resp.Stdout, Stderr: resp.Stderr, ExitCode: resp.ExitCode}, nil
}

// markDead records a fatal transport error. Must be called with turnMu held.
func (s *Session) markDead(err error) {
	s.dead = true
	s.deadErr = fmt.Errorf("%w: %v", sandcode.ErrSessionDead, err)
	s.log.Warn().Err(err).Str("session_id", s.ID).Msg("session transport failed, marking dead")
}

func (s *Session) touch() {
	s.lastUsedMu.Lock()
	s.lastUsedAt = time.Now()
	s.lastUsedMu.Unlock()
}

// LastUsedAt returns the last time Execute completed successfully.
func (s *Session) LastUsedAt() time.Time {
	s.lastUsedMu.Lock()
	defer s.lastUsedMu.Unlock()
	return s.lastUsedAt
}

// Close terminates the child's entire process group (SIGTERM, then
// SIGKILL after defaultGracePeriod), so any grandchild the session agent spawned
// dies with it (spec §4.2.3, §9).
func (s *Session) Close() error {
	pid := s.cmd.Process.Pid
	_ = signalGroup(pid, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(defaultGracePeriod):
		_ = signalGroup(pid, syscall.SIGKILL)
		return <-done
	}
}

func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if err == syscall.ESRCH {
		return nil
	}
	return err
}
