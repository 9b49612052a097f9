package sandcode

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// InterpreterType identifies which in-sandbox interpreter an environment
// hosts. Fixed at launch by the environment's session-agent launcher; the
// daemon never inspects code to infer it.
type InterpreterType string

const (
	InterpreterPython InterpreterType = "python"
	InterpreterBash   InterpreterType = "bash"
	InterpreterNode   InterpreterType = "node"
)

// Valid reports whether t is one of the three supported interpreter types.
func (t InterpreterType) Valid() bool {
	switch t {
	case InterpreterPython, InterpreterBash, InterpreterNode:
		return true
	}
	return false
}

// Environment describes one named, pre-built sandboxed execution target.
// Environment is read-only after startup — the daemon never mutates a
// descriptor once the catalog is loaded.
type Environment struct {
	// Name uniquely identifies the environment to callers.
	Name string `yaml:"name"`

	// InterpreterType selects which adapter a session agent uses.
	InterpreterType InterpreterType `yaml:"interpreter_type"`

	// EphemeralExec is the path to a one-shot runner: stdin-in,
	// stdout/stderr-out, exits after one execution.
	EphemeralExec string `yaml:"ephemeral_exec"`

	// SessionExec is the path to a session-agent launcher: a persistent
	// process speaking the framed JSON protocol on its stdio.
	SessionExec string `yaml:"session_exec"`

	// TimeoutSeconds is an advisory wall-clock limit for one ephemeral
	// call. Session calls are never subject to this timeout (spec §5).
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// MemoryMB is an advisory memory limit enforced by the sandbox
	// itself, not by the daemon.
	MemoryMB int `yaml:"memory_mb"`
}

// Timeout returns TimeoutSeconds as a time.Duration, or def if unset.
func (e Environment) Timeout(def time.Duration) time.Duration {
	if e.TimeoutSeconds <= 0 {
		return def
	}
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// Catalog is the set of environments available to callers, keyed by name.
// A collaborator (a filesystem scanner, out of scope for this package)
// populates a Catalog once at startup; it is never mutated afterward.
type Catalog struct {
	environments map[string]Environment
	names        []string // insertion order, for stable error messages
}

// NewCatalog builds a Catalog from a slice of descriptors. Later entries
// with a duplicate Name overwrite earlier ones.
func NewCatalog(envs []Environment) *Catalog {
	c := &Catalog{environments: make(map[string]Environment, len(envs))}
	for _, e := range envs {
		if _, exists := c.environments[e.Name]; !exists {
			c.names = append(c.names, e.Name)
		}
		c.environments[e.Name] = e
	}
	return c
}

// Lookup returns the environment named name, or ErrUnknownEnv listing the
// available environments.
func (c *Catalog) Lookup(name string) (Environment, error) {
	env, ok := c.environments[name]
	if !ok {
		return Environment{}, fmt.Errorf("%w: %q (available: %v)", ErrUnknownEnv, name, c.names)
	}
	return env, nil
}

// Names returns the catalog's environment names in load order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// catalogFile is the on-disk shape accepted by LoadCatalogFile: a simple
// YAML list of environment descriptors. Production deployments receive a
// fully populated Catalog from a collaborator (a filesystem scanner,
// out of scope for this package); this loader exists for local runs and
// fixture-driven tests.
type catalogFile struct {
	Environments []Environment `yaml:"environments"`
}

// LoadCatalogFile reads a YAML catalog fixture from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sandcode: read catalog %q: %w", path, err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("sandcode: parse catalog %q: %w", path, err)
	}
	for _, e := range f.Environments {
		if !e.InterpreterType.Valid() {
			return nil, fmt.Errorf("sandcode: catalog %q: environment %q has invalid interpreter_type %q",
				path, e.Name, e.InterpreterType)
		}
	}
	return NewCatalog(f.Environments), nil
}
