package sandcode

import "errors"

// Sentinel errors for daemon-level failures (spec §7 error taxonomy).
// Interpreter-level failures (syntax errors, exceptions, non-zero shell
// exit) are never represented as Go errors — they travel in-band as a
// populated [Result] with a non-zero ExitCode.
var (
	// ErrUnknownEnv indicates the caller named an environment absent from
	// the catalog.
	ErrUnknownEnv = errors.New("sandcode: unknown environment")

	// ErrSessionEnvMismatch indicates a call supplied an env different
	// from the one a session was created with. A session's environment
	// is immutable after creation.
	ErrSessionEnvMismatch = errors.New("sandcode: session bound to a different environment")

	// ErrSpawnFailed indicates the session or ephemeral subprocess could
	// not be started.
	ErrSpawnFailed = errors.New("sandcode: spawn failed")

	// ErrExecutionTimeout indicates an ephemeral execution exceeded its
	// environment's advisory timeout. Never returned for session calls —
	// session executions are not cancelled mid-flight (spec §5).
	ErrExecutionTimeout = errors.New("sandcode: execution timed out")

	// ErrTransportClosed indicates a session's transport hit EOF or a
	// broken pipe mid round-trip. Fatal to the session.
	ErrTransportClosed = errors.New("sandcode: transport closed")

	// ErrFrameTooLarge indicates an inbound frame exceeded the configured
	// size cap. Fatal to the session.
	ErrFrameTooLarge = errors.New("sandcode: frame exceeds size cap")

	// ErrProtocolCorruption indicates a frame's payload was not valid
	// JSON, or a required field was missing. Fatal to the session.
	ErrProtocolCorruption = errors.New("sandcode: protocol corruption")

	// ErrSessionDead indicates a session previously marked itself dead
	// (via one of the transport errors above) and has not yet been
	// reaped. The caller should retry with a fresh session id.
	ErrSessionDead = errors.New("sandcode: session is dead")
)
