package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/m4xw311/devpilot/agent/acp"
	"github.com/m4xw311/devpilot/config"
	"github.com/m4xw311/devpilot/logging"
)

const traceFile = "acp.trace"

func newACPCmd(global *globalOptions) *cobra.Command {
	var trace bool
	cmd := &cobra.Command{
		Use:   "acp",
		Short: "Serve the Agent Client Protocol over stdio for editor integration",
		Long: `Serve the Agent Client Protocol (newline-delimited JSON-RPC) on stdin and
stdout. Stdout carries protocol messages only; logs go to stderr, or to
acp.trace in the current directory with --trace.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}

			var logOut io.Writer = cmd.ErrOrStderr()
			logCfg := cfg.Log
			if trace {
				f, err := os.OpenFile(traceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
				if err != nil {
					return err
				}
				defer f.Close()
				logOut = f
				logCfg = config.Log{Level: "debug", Format: cfg.Log.Format}
			}
			logger := logging.New(logOut, logCfg, trace)

			a, err := newApp(cmd.Context(), cfg, global.toolset, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			return acp.Run(cmd.Context(), a.agent, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
		},
	}
	cmd.Flags().BoolVar(&trace, "trace", false, "Write debug logs to "+traceFile)
	return cmd
}
