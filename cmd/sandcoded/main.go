// Command sandcoded is the sandboxed code execution daemon. It loads an
// environment catalog, wires a session manager and tool dispatcher, and
// serves the MCP `run` tool over stdio.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sandcoded",
		Short: "Sandboxed code execution daemon",
	}
	root.AddCommand(newServeCmd())
	return root
}

// newLogger builds the daemon-wide structured logger, grounded on the
// corpus's near-universal zerolog setup: console-friendly output to
// stderr (stdout is reserved for the MCP stdio transport), level set from
// a flag rather than an environment variable to keep one source of truth
// per process invocation.
func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Str("component", "sandcoded").Logger()
}
