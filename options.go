package sandcode

import (
	"os"
	"strconv"
	"time"
)

// Default runtime configuration values (spec §6).
const (
	DefaultIdleTimeout   = 300 * time.Second
	DefaultMaxLifetime   = 3600 * time.Second
	DefaultReapInterval  = 60 * time.Second
	DefaultMaxFrameBytes = 16 << 20 // 16 MiB, spec §4.1
)

// RuntimeConfig holds the daemon's tunable knobs. Zero values fall back to
// the package defaults above.
type RuntimeConfig struct {
	IdleTimeout   time.Duration
	MaxLifetime   time.Duration
	ReapInterval  time.Duration
	MaxFrameBytes int
}

// Resolved fills zero fields with defaults.
func (c RuntimeConfig) Resolved() RuntimeConfig {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = DefaultMaxLifetime
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = DefaultReapInterval
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = DefaultMaxFrameBytes
	}
	return c
}

// RuntimeConfigFromEnv reads SESSION_IDLE_TIMEOUT and SESSION_MAX_LIFETIME
// (seconds) from the process environment, per spec §6. Reap interval and
// frame cap have no environment variable in the spec; callers set them
// programmatically (e.g. from CLI flags).
func RuntimeConfigFromEnv() RuntimeConfig {
	var cfg RuntimeConfig
	if secs, ok := envPositiveInt("SESSION_IDLE_TIMEOUT"); ok {
		cfg.IdleTimeout = time.Duration(secs) * time.Second
	}
	if secs, ok := envPositiveInt("SESSION_MAX_LIFETIME"); ok {
		cfg.MaxLifetime = time.Duration(secs) * time.Second
	}
	return cfg.Resolved()
}

// envPositiveInt reads a positive integer environment variable. Absent,
// empty, or non-positive values yield (0, false) rather than an error —
// the daemon falls back to defaults rather than refusing to start over a
// malformed tuning variable.
func envPositiveInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
