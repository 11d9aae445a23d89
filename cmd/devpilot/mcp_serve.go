package main

import (
	"github.com/spf13/cobra"

	"github.com/m4xw311/devpilot/logging"
	"github.com/m4xw311/devpilot/mcpserver"
	"github.com/m4xw311/devpilot/tools"
)

func newMCPServeCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-serve",
		Short: "Expose the workspace tools as an MCP server over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			// Stdout belongs to the protocol.
			logger := logging.New(cmd.ErrOrStderr(), cfg.Log, false)

			reg, manager, err := buildRegistry(cmd.Context(), cfg, global.toolset, logger)
			if err != nil {
				return err
			}
			defer manager.Close()

			s := mcpserver.New("devpilot", version, reg, tools.ExecutionContext{WorkspaceRoot: cfg.WorkspaceRoot}, logger)
			return mcpserver.Serve(s)
		},
	}
}
