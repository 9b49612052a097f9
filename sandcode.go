// Package sandcode provides a sandboxed code execution daemon.
//
// sandcode mediates between an MCP tool-invocation layer and a pool of
// long-lived interpreter processes running inside OS-level sandboxes. It
// exposes one parameterized operation — run code in a named environment,
// optionally against a persistent session — and dispatches execution either
// ephemerally (new sandbox per call, no retained state) or against a
// per-session agent that keeps variables, imports, and working directory
// alive across calls.
//
// The primary types defined in this package are:
//
//   - [Environment] — a named, pre-built sandboxed execution target
//   - [Catalog] — the set of environments available to callers
//   - [Result] — the outcome of a single code execution
//
// Session lifecycle (session.Manager, session.Session), the agent wire
// transport (transport.Transport), and the in-sandbox interpreter runtime
// (agent.Agent) live in their own packages; dispatch.Dispatcher in the
// dispatch subpackage ties them together.
package sandcode
