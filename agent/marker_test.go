package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCaptureStdoutHappyPath(t *testing.T) {
	m := newMarkerSet("deadbeefcafef00d")
	input := strings.Join([]string{
		m.beginStdout(),
		"2",
		m.endStdout(),
		m.exitLine(0),
		"",
	}, "\n")

	out, code, err := captureStdout(strings.NewReader(input), m)
	require.NoError(t, err)
	require.Equal(t, "2\n", out)
	require.Equal(t, 0, code)
}

func TestCaptureStdoutNonZeroExit(t *testing.T) {
	m := newMarkerSet("0123456789abcdef")
	input := strings.Join([]string{
		m.beginStdout(),
		m.endStdout(),
		m.exitLine(1),
		"",
	}, "\n")

	out, code, err := captureStdout(strings.NewReader(input), m)
	require.NoError(t, err)
	require.Equal(t, "", out)
	require.Equal(t, 1, code)
}

func TestCaptureStdoutIgnoresForgedExitLine(t *testing.T) {
	m := newMarkerSet("c0ffeec0ffeec0ff")
	input := strings.Join([]string{
		m.beginStdout(),
		"EXIT:7", // user output that looks like an old, non-nonced sentinel
		m.endStdout(),
		m.exitLine(0),
		"",
	}, "\n")

	out, code, err := captureStdout(strings.NewReader(input), m)
	require.NoError(t, err)
	require.Equal(t, "EXIT:7\n", out, "forged line must be treated as body output, not the exit sentinel")
	require.Equal(t, 0, code)
}

func TestCaptureStdoutDesyncOnEOF(t *testing.T) {
	m := newMarkerSet("feedfacefeedface")
	input := m.beginStdout() + "\nunterminated output\n"

	_, _, err := captureStdout(strings.NewReader(input), m)
	require.ErrorIs(t, err, errMarkerDesync)
}

func TestCaptureStderrHappyPath(t *testing.T) {
	m := newMarkerSet("aaaaaaaaaaaaaaaa")
	input := strings.Join([]string{
		m.beginStderr(),
		"traceback line 1",
		"traceback line 2",
		m.endStderr(),
		"",
	}, "\n")

	out, err := captureStderr(strings.NewReader(input), m)
	require.NoError(t, err)
	require.Equal(t, "traceback line 1\ntraceback line 2\n", out)
}

func TestCaptureStderrDesyncOnEOF(t *testing.T) {
	m := newMarkerSet("bbbbbbbbbbbbbbbb")
	_, err := captureStderr(strings.NewReader("no markers at all\n"), m)
	require.ErrorIs(t, err, errMarkerDesync)
}

func TestLimitedWriterBounds(t *testing.T) {
	var w limitedWriter
	w.limit = 4
	_, _ = w.Write([]byte("hello world"))
	require.Equal(t, "hell", w.String())
}

func TestNewNonceIsHex16(t *testing.T) {
	n, err := newNonce()
	require.NoError(t, err)
	require.Len(t, n, 16)
	for _, c := range n {
		require.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'))
	}

	n2, err := newNonce()
	require.NoError(t, err)
	require.NotEqual(t, n, n2)
}
