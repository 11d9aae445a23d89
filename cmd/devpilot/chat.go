package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/m4xw311/devpilot/agent"
	"github.com/m4xw311/devpilot/agent/terminal"
	"github.com/m4xw311/devpilot/errors"
	"github.com/m4xw311/devpilot/logging"
)

type chatOptions struct {
	mode       string
	verbosity  string
	transcript string
}

func (o *chatOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.mode, "mode", "m", "prompt", "Execution mode: 'auto' or 'prompt'")
	cmd.Flags().StringVar(&o.verbosity, "tool-verbosity", "info", "Tool verbosity level: 'none', 'info', or 'all'")
	cmd.Flags().StringVarP(&o.transcript, "transcript", "s", "", "Save the conversation to this file and resume from it")
}

func newChatCmd(global *globalOptions) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Start an interactive chat in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, global, opts, args)
		},
	}
	opts.bind(cmd)
	return cmd
}

func runChat(cmd *cobra.Command, global *globalOptions, opts *chatOptions, args []string) error {
	mode := agent.Mode(opts.mode)
	if mode != agent.ModeAuto && mode != agent.ModePrompt {
		return errors.New("invalid mode '%s'. Must be 'auto' or 'prompt'", opts.mode)
	}
	verbosity := terminal.Verbosity(opts.verbosity)
	switch verbosity {
	case terminal.VerbosityNone, terminal.VerbosityInfo, terminal.VerbosityAll:
	default:
		return errors.New("invalid tool verbosity '%s'. Must be 'none', 'info', or 'all'", opts.verbosity)
	}

	cfg, err := global.loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cmd.ErrOrStderr(), cfg.Log, false)

	a, err := newApp(cmd.Context(), cfg, global.toolset, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	term := terminal.New(a.agent,
		terminal.WithIO(cmd.InOrStdin(), cmd.OutOrStdout()),
		terminal.WithMode(mode),
		terminal.WithVerbosity(verbosity),
		terminal.WithWorkspace(cfg.WorkspaceRoot),
		terminal.WithTranscript(opts.transcript),
		terminal.WithLogger(logger),
	)
	return term.Run(cmd.Context(), strings.Join(args, " "))
}
