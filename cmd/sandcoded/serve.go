package main

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/dmora/sandcode"
	"github.com/dmora/sandcode/dispatch"
	"github.com/dmora/sandcode/session"
)

// runArgs is the run tool's input schema (spec §6): {code, env, session?}.
type runArgs struct {
	Code    string `json:"code" jsonschema:"Source code to execute"`
	Env     string `json:"env" jsonschema:"Name of the execution environment to use"`
	Session string `json:"session,omitempty" jsonschema:"Optional session id; when set, execution persists interpreter state across calls"`
}

func newServeCmd() *cobra.Command {
	var (
		catalogPath     string
		idleTimeoutSecs int
		maxLifetimeSecs int
		reapIntervalSec int
		maxConcurrent   int
		debug           bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon, serving the MCP run tool over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(debug)

			catalog, err := sandcode.LoadCatalogFile(catalogPath)
			if err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}

			cfg := sandcode.RuntimeConfigFromEnv()
			if idleTimeoutSecs > 0 {
				cfg.IdleTimeout = time.Duration(idleTimeoutSecs) * time.Second
			}
			if maxLifetimeSecs > 0 {
				cfg.MaxLifetime = time.Duration(maxLifetimeSecs) * time.Second
			}
			if reapIntervalSec > 0 {
				cfg.ReapInterval = time.Duration(reapIntervalSec) * time.Second
			}
			cfg = cfg.Resolved()

			manager := session.NewManager(catalog, cfg, log)
			manager.Start()
			defer manager.Close()

			dispatcher := dispatch.New(catalog, manager, maxConcurrent, log)

			server := mcp.NewServer(&mcp.Implementation{
				Name:    "sandcoded",
				Version: "0.1.0",
			}, nil)

			mcp.AddTool(server, &mcp.Tool{
				Name:        "run",
				Description: "Execute source code in a named sandboxed environment, optionally against a persistent session",
			}, func(ctx context.Context, req *mcp.CallToolRequest, args runArgs) (*mcp.CallToolResult, any, error) {
				result, err := dispatcher.Run(ctx, args.Code, args.Env, args.Session)
				if err != nil {
					return nil, nil, err
				}
				return &mcp.CallToolResult{
					Content: []mcp.Content{&mcp.TextContent{Text: result.Combined()}},
					IsError: result.IsError(),
				}, nil, nil
			})

			log.Info().Strs("environments", catalog.Names()).Msg("sandcoded starting")
			return server.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}

	cmd.Flags().StringVar(&catalogPath, "catalog", "catalog.yaml", "path to the environment catalog YAML file")
	cmd.Flags().IntVar(&idleTimeoutSecs, "idle-timeout", 0, "session idle timeout in seconds (overrides SESSION_IDLE_TIMEOUT, default 300)")
	cmd.Flags().IntVar(&maxLifetimeSecs, "max-lifetime", 0, "session max lifetime in seconds (overrides SESSION_MAX_LIFETIME, default 3600)")
	cmd.Flags().IntVar(&reapIntervalSec, "reap-interval", 60, "reaper sweep cadence in seconds")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent-ephemeral", 0, "maximum concurrent ephemeral executions (0 = unbounded)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	return cmd
}
