// Package transport implements the length-prefixed JSON framing the daemon
// speaks to a session agent's stdio (spec §4.1, §6).
//
// Grounded on github.com/dmora/sandcode's teacher package engine/acp, whose
// Conn type is a JSON-RPC 2.0 multiplexer over newline-delimited JSON with a
// pending-call table keyed by request id. This package keeps Conn's
// mutex-guarded writer but simplifies the rest in two ways the spec
// requires:
//
//   - Framing is 4-byte big-endian length prefix + JSON body, not
//     newline-delimited — the agent's own stdout/stderr can contain
//     newlines from a REPL's marker protocol, so line-splitting would be
//     unsafe even if it weren't explicitly out of spec.
//   - A Transport is single-exchange: one RoundTrip is one send followed
//     by one receive, with no pending-call table. Session agents never
//     call back into the daemon (unlike an ACP coding agent, which can
//     request permissions), so there is nothing to multiplex.
package transport

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dmora/sandcode"
)

// defaultMaxFrameBytes is the frame cap used when none is configured. It
// has the same value as sandcode.DefaultMaxFrameBytes, written here as a
// literal.
const defaultMaxFrameBytes = 16 << 20

// Transport owns the writable end of a child's stdin and the readable end
// of its stdout. It provides one operation, RoundTrip: send one JSON value,
// wait for exactly one framed response, return it.
//
// A Transport is NOT safe for concurrent RoundTrip calls — callers must
// serialize access externally (the session package does this with a
// per-session mutex, per spec §3's "all reads and writes on a session's
// transport occur under its lock"). The internal mutex here is a second,
// defense-in-depth layer guarding the write half only.
type Transport struct {
	w io.Writer
	r io.Reader

	writeMu sync.Mutex

	maxFrameBytes int
}

// Option configures a Transport at construction time.
type Option func(*Transport)

// WithMaxFrameBytes overrides the frame size cap. Values <= 0 are ignored.
func WithMaxFrameBytes(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.maxFrameBytes = n
		}
	}
}

// New creates a Transport writing to w and reading from r — typically a
// child process's stdin and stdout pipes respectively.
func New(w io.Writer, r io.Reader, opts ...Option) *Transport {
	t := &Transport{w: w, r: r, maxFrameBytes: defaultMaxFrameBytes}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip marshals req to JSON, writes it as one length-prefixed frame,
// then reads and unmarshals exactly one response frame into resp.
//
// Failure modes map directly to spec §4.1:
//   - a short read (EOF before the length header or before the full
//     payload) or a broken pipe on write returns sandcode.ErrTransportClosed.
//   - a length prefix exceeding the configured cap returns
//     sandcode.ErrFrameTooLarge without consuming the oversized payload
//     (the connection is assumed dead either way — callers must not reuse
//     a Transport after any RoundTrip error).
//   - a payload that fails to unmarshal as JSON returns
//     sandcode.ErrProtocolCorruption.
func (t *Transport) RoundTrip(req, resp any) error {
	if err := t.send(req); err != nil {
		return err
	}
	return t.receive(resp)
}

// send writes one length-prefixed frame. Marshal errors are the caller's
// bug (a Go value that can't become JSON), not a transport failure, so
// they're returned without a transport sentinel error.
func (t *Transport) send(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal request: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := t.w.Write(header[:]); err != nil {
		return fmt.Errorf("%w: write length header: %v", sandcode.ErrTransportClosed, err)
	}
	if _, err := t.w.Write(body); err != nil {
		return fmt.Errorf("%w: write body: %v", sandcode.ErrTransportClosed, err)
	}
	if f, ok := t.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("%w: flush: %v", sandcode.ErrTransportClosed, err)
		}
	}
	return nil
}

// receive reads one length-prefixed frame and unmarshals it into resp.
func (t *Transport) receive(resp any) error {
	var header [4]byte
	if _, err := io.ReadFull(t.r, header[:]); err != nil {
		return fmt.Errorf("%w: read length header: %v", sandcode.ErrTransportClosed, err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if int(size) > t.maxFrameBytes {
		return fmt.Errorf("%w: frame of %d bytes exceeds cap of %d", sandcode.ErrFrameTooLarge, size, t.maxFrameBytes)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(t.r, body); err != nil {
		return fmt.Errorf("%w: read body: %v", sandcode.ErrTransportClosed, err)
	}

	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(body, resp); err != nil {
		return fmt.Errorf("%w: unmarshal response: %v", sandcode.ErrProtocolCorruption, err)
	}
	return nil
}

// flusher is implemented by buffered writers (e.g. bufio.Writer). Not all
// io.Writer values need flushing (an os.File's Write is unbuffered), so
// this is checked rather than required.
type flusher interface {
	Flush() error
}

// WriteFrame and ReadFrame are the agent-side counterparts to RoundTrip,
// used by the in-sandbox agent runtime (package agent) to read one request
// and write one response without pulling in the client-side RoundTrip
// pairing assumption.

// WriteFrame writes v as one length-prefixed JSON frame to w.
func WriteFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal frame: %w", err)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("%w: write length header: %v", sandcode.ErrTransportClosed, err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("%w: write body: %v", sandcode.ErrTransportClosed, err)
	}
	if f, ok := w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("%w: flush: %v", sandcode.ErrTransportClosed, err)
		}
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON frame from r into v, enforcing
// maxFrameBytes (use 0 for the package default).
func ReadFrame(r io.Reader, maxFrameBytes int, v any) error {
	if maxFrameBytes <= 0 {
		maxFrameBytes = defaultMaxFrameBytes
	}
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %w", sandcode.ErrTransportClosed, err)
		}
		return fmt.Errorf("%w: read length header: %v", sandcode.ErrTransportClosed, err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if int(size) > maxFrameBytes {
		return fmt.Errorf("%w: frame of %d bytes exceeds cap of %d", sandcode.ErrFrameTooLarge, size, maxFrameBytes)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("%w: read body: %v", sandcode.ErrTransportClosed, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: unmarshal frame: %v", sandcode.ErrProtocolCorruption, err)
	}
	return nil
}
