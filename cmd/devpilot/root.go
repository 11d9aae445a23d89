package main

import (
	"github.com/spf13/cobra"

	"github.com/m4xw311/devpilot/config"
	"github.com/m4xw311/devpilot/errors"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	provider   string
	model      string
	workspace  string
	logLevel   string
	toolset    string
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	chat := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "devpilot [prompt]",
		Short: "A tool-using coding assistant for your workspace",
		Long: `DevPilot talks to a language model and lets it inspect and change the
current workspace through tools.

Without a subcommand it starts an interactive chat; any arguments are sent
as the first prompt.

Examples:
  devpilot
  devpilot "list the files in src"
  devpilot --provider anthropic chat --mode auto
  devpilot serve --listen :8080
  devpilot usage`,
		Args:          cobra.ArbitraryArgs,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts, chat, args)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.provider, "provider", "", "LLM provider (anthropic, openai, gemini, bedrock, ollama, groq, mistral, mock, ...)")
	flags.StringVar(&opts.model, "model", "", "Model name (default depends on the provider)")
	flags.StringVar(&opts.workspace, "workspace", "", "Workspace root (default: current directory)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.StringVarP(&opts.toolset, "toolset", "t", "", "Toolset to use (default: 'default')")
	flags.StringVar(&opts.configFile, "config", "", "Extra config file merged over the standard ones")
	chat.bind(cmd)

	cmd.AddCommand(newChatCmd(opts))
	cmd.AddCommand(newACPCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMCPServeCmd(opts))
	cmd.AddCommand(newUsageCmd(opts))
	return cmd
}

// loadConfig reads the layered configuration and applies flag overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if o.configFile != "" {
		if err := config.LoadFile(o.configFile, cfg); err != nil {
			return nil, err
		}
	}
	if o.provider != "" {
		cfg.LLMClient = o.provider
	}
	if o.model != "" {
		cfg.Model = o.model
	}
	if o.workspace != "" {
		cfg.WorkspaceRoot = o.workspace
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration")
	}
	return cfg, nil
}
