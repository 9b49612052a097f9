//go:build !windows

// Command sandbox-agent is the binary launched inside a sandbox by a
// session environment's session_exec (spec §4.2). It hosts exactly one
// interpreter, fixed by the -interpreter flag the launcher script passes,
// and serves the framed request/response loop over its seized stdio.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/dmora/sandcode"
	"github.com/dmora/sandcode/agent"
)

func main() {
	interpFlag := flag.String("interpreter", "", "interpreter type: python, bash, or node")
	scratchDir := flag.String("scratch-dir", os.TempDir(), "writable scratch directory (node adapter only)")
	maxFrameBytes := flag.Int("max-frame-bytes", sandcode.DefaultMaxFrameBytes, "maximum accepted frame size in bytes")
	flag.Parse()

	log := zerolog.New(os.Stderr).With().Timestamp().Str("component", "sandbox-agent").Logger()

	interp, err := parseInterpreter(*interpFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -interpreter flag")
	}

	ctrlIn, ctrlOut, err := agent.SeizeControlStdio()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to seize control stdio")
	}

	a := agent.New(interp, *scratchDir, afero.NewOsFs(), log)
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := a.Run(ctx, ctrlIn, ctrlOut, *maxFrameBytes); err != nil {
		log.Error().Err(err).Msg("agent request loop exited with error")
		os.Exit(1)
	}
}

func parseInterpreter(s string) (agent.InterpreterType, error) {
	switch sandcode.InterpreterType(s) {
	case sandcode.InterpreterPython:
		return agent.InterpreterPython, nil
	case sandcode.InterpreterBash:
		return agent.InterpreterBash, nil
	case sandcode.InterpreterNode:
		return agent.InterpreterNode, nil
	default:
		return "", errInvalidInterpreter(s)
	}
}

type errInvalidInterpreter string

func (e errInvalidInterpreter) Error() string {
	return "sandbox-agent: unknown interpreter " + string(e)
}
