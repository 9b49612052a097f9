package agent

import "errors"

// errMarkerDesync indicates the agent's reader reached EOF on an
// interpreter's stdout or stderr pipe before observing the expected end
// marker. The interpreter subprocess is presumed dead or corrupted; the
// caller must not attempt another execution against the same adapter.
var errMarkerDesync = errors.New("agent: marker protocol desynchronized")

// ErrInterpreterGone indicates an adapter's backing subprocess exited
// unexpectedly. Returned from Execute once the marker reader observes
// errMarkerDesync or a pipe read fails outright.
var ErrInterpreterGone = errors.New("agent: interpreter subprocess is gone")
