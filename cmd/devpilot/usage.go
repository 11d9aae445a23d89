package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/m4xw311/devpilot/cost"
)

func newUsageCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show recorded token usage and estimated cost per model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			ledger, err := cost.OpenSQLiteLedger(cfg.UsageDBPath())
			if err != nil {
				return err
			}
			defer ledger.Close()

			summaries, err := ledger.Summaries()
			if err != nil {
				return err
			}
			renderUsage(cmd.OutOrStdout(), summaries)
			return nil
		},
	}
}

func renderUsage(w io.Writer, summaries []cost.Summary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No usage recorded yet.")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Provider", "Model", "Calls", "Input tokens", "Output tokens", "Est. USD"})

	var calls, in, out int64
	var usd float64
	for _, s := range summaries {
		t.AppendRow(table.Row{s.Provider, s.Model, s.Calls, s.InputTokens, s.OutputTokens, fmt.Sprintf("%.4f", s.EstimatedUSD)})
		calls += s.Calls
		in += s.InputTokens
		out += s.OutputTokens
		usd += s.EstimatedUSD
	}
	t.AppendFooter(table.Row{"Total", "", calls, in, out, fmt.Sprintf("%.4f", usd)})
	t.Render()
}
