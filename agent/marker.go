package agent

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// The marker protocol lets the Python, Bash and Node adapters multiplex a captured
// result (stdout, stderr, exit code) through the same stdio streams their
// REPL writes to, by bracketing user output with nonce-parameterized
// sentinels the REPL can't plausibly produce on its own (spec §4.2.1).

// newNonce returns 16 random hex characters. Drawn from crypto/rand rather
// than google/uuid: the requirement is unpredictability to user code
// running in the same session, not global uniqueness, and 8 random bytes
// from a CSPRNG satisfies that more directly than parsing a UUID string
// would.
func newNonce() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("agent: generate nonce: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// markerSet holds the fixed-spelling markers for one execution's nonce.
type markerSet struct {
	nonce string
}

func newMarkerSet(nonce string) markerSet {
	return markerSet{nonce: nonce}
}

func (m markerSet) beginStdout() string { return "BEGIN_STDOUT" + m.nonce }
func (m markerSet) endStdout() string   { return "END_STDOUT" + m.nonce }
func (m markerSet) beginStderr() string { return "BEGIN_STDERR" + m.nonce }
func (m markerSet) endStderr() string   { return "END_STDERR" + m.nonce }
func (m markerSet) exitPrefix() string  { return "EXIT" + m.nonce + ":" }

// exitLine formats the full EXIT<nonce>:<code> sentinel line an adapter
// should emit after the end-of-stdout marker.
func (m markerSet) exitLine(code int) string { return m.exitPrefix() + strconv.Itoa(code) }

// captureStdout scans r line by line, collecting everything between the
// begin and end stdout markers, and separately watches for the
// EXIT<nonce>:<code> sentinel. The exit sentinel carries the same nonce as
// the begin/end markers so user code printing a line that merely looks like
// "EXIT:7" can't forge the exit code or leave a stale exit line unconsumed
// for the next execution on this session. It stops as soon as both the
// end-of-stdout marker and an exit line have been observed, or r reaches EOF
// first (a dead interpreter).
//
// Returns the captured text and the parsed exit code. If the end marker is
// never observed, err is non-nil and the session must be treated as dead —
// the marker protocol has desynchronized and cannot be trusted again.
func captureStdout(r io.Reader, m markerSet) (text string, exitCode int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxCaptureLineBytes)

	var (
		inBody    bool
		sawEnd    bool
		sawExit   bool
		foundExit int
		body      limitedWriter
	)
	body.limit = maxCaptureTotalBytes

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, m.beginStdout()):
			inBody = true
		case strings.Contains(line, m.endStdout()):
			sawEnd = true
			inBody = false
		case strings.HasPrefix(strings.TrimSpace(line), m.exitPrefix()):
			code, perr := parseExitLine(line, m.exitPrefix())
			if perr == nil {
				foundExit = code
				sawExit = true
			}
		case inBody:
			_, _ = body.Write([]byte(line))
			_, _ = body.Write([]byte{'\n'})
		}
		if sawEnd && sawExit {
			return body.String(), foundExit, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return body.String(), 0, fmt.Errorf("agent: read stdout: %w", err)
	}
	return body.String(), 0, fmt.Errorf("agent: stdout closed before end marker: %w", errMarkerDesync)
}

// captureStderr scans r line by line, collecting everything between the
// begin and end stderr markers. It stops as soon as the end marker is
// observed, or r reaches EOF first.
func captureStderr(r io.Reader, m markerSet) (text string, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxCaptureLineBytes)

	var (
		inBody bool
		body   limitedWriter
	)
	body.limit = maxCaptureTotalBytes

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, m.beginStderr()):
			inBody = true
		case strings.Contains(line, m.endStderr()):
			return body.String(), nil
		case inBody:
			_, _ = body.Write([]byte(line))
			_, _ = body.Write([]byte{'\n'})
		}
	}
	if err := scanner.Err(); err != nil {
		return body.String(), fmt.Errorf("agent: read stderr: %w", err)
	}
	return body.String(), fmt.Errorf("agent: stderr closed before end marker: %w", errMarkerDesync)
}

func parseExitLine(line, prefix string) (int, error) {
	idx := strings.Index(line, prefix)
	if idx < 0 {
		return 0, fmt.Errorf("no exit prefix")
	}
	rest := strings.TrimSpace(line[idx+len(prefix):])
	return strconv.Atoi(rest)
}

// maxCaptureLineBytes bounds a single marker-delimited line the bufio
// scanner will buffer. maxCaptureTotalBytes bounds the cumulative captured
// body across all lines, matching the 16 MiB transport frame cap (spec
// §4.1) — an unbounded capture buffer inside the agent would let output let
// through the scanner still defeat that cap once it reaches framing.
const (
	maxCaptureLineBytes  = 4 << 20
	maxCaptureTotalBytes = 16 << 20
)

// limitedWriter captures up to limit bytes and silently discards the rest,
// the same shape nevindra-oasis's sandbox runner uses to bound captured
// subprocess stderr ahead of a response size cap.
type limitedWriter struct {
	buf   strings.Builder
	limit int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.buf.Len() < w.limit {
		remaining := w.limit - w.buf.Len()
		if len(p) > remaining {
			p = p[:remaining]
		}
		w.buf.Write(p)
	}
	return len(p), nil
}

func (w *limitedWriter) String() string { return w.buf.String() }
