package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/m4xw311/devpilot/agent"
	"github.com/m4xw311/devpilot/config"
	"github.com/m4xw311/devpilot/cost"
	"github.com/m4xw311/devpilot/errors"
	"github.com/m4xw311/devpilot/llm"
	"github.com/m4xw311/devpilot/metrics"
	"github.com/m4xw311/devpilot/session"
	"github.com/m4xw311/devpilot/tools"
	"github.com/m4xw311/devpilot/tools/mcp"
)

// app holds everything a running mode needs and closes it in one place.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	agent   *agent.Agent
	closers []io.Closer
}

// buildRegistry registers the built-in tools and those of every configured
// MCP server, restricted to the selected toolset.
func buildRegistry(ctx context.Context, cfg *config.Config, toolset string, logger *slog.Logger) (*tools.Registry, *mcp.Manager, error) {
	ts, err := cfg.GetToolset(toolset)
	if err != nil {
		return nil, nil, err
	}
	reg := tools.NewRegistry()
	external := tools.RegisterBuiltins(reg, cfg, ts, logger)

	manager := mcp.Start(ctx, cfg.AdditionalMCPServers, logger)
	n := manager.Register(reg, ts)
	logger.Debug("tools registered", "total", reg.Len(), "mcp", n, "requested_external", len(external))

	if err := tools.CheckToolset(reg, ts); err != nil {
		_ = manager.Close()
		return nil, nil, err
	}
	return reg, manager, nil
}

// newApp wires the ledger, model adapter, tools and agent. Metrics are
// registered with promReg when it is non-nil.
func newApp(ctx context.Context, cfg *config.Config, toolset string, logger *slog.Logger, promReg prometheus.Registerer) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var recorder cost.Recorder = cost.Nop{}
	ledger, err := cost.OpenSQLiteLedger(cfg.UsageDBPath())
	if err != nil {
		logger.Warn("usage ledger unavailable, token usage will not be recorded", "path", cfg.UsageDBPath(), "error", err)
	} else {
		recorder = ledger
		a.closers = append(a.closers, ledger)
	}

	client, err := llm.NewFromConfig(ctx, cfg, recorder, logger)
	if err != nil {
		a.Close()
		return nil, errors.Wrapf(err, "error initializing %s client", cfg.LLMClient)
	}
	if c, ok := client.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	reg, manager, err := buildRegistry(ctx, cfg, toolset, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, manager)

	agentOpts := []agent.Option{
		agent.WithMaxIterations(cfg.MaxIterations),
		agent.WithLogger(logger),
	}
	if promReg != nil {
		collector, err := metrics.New(promReg)
		if err != nil {
			a.Close()
			return nil, errors.Wrapf(err, "registering metrics")
		}
		agentOpts = append(agentOpts, agent.WithObserver(collector))
	}

	store := session.NewStore(session.WithIdleTTL(*cfg.SessionIdleTTL))
	a.agent = agent.New(client, reg, store, agentOpts...)
	logger.Info("agent ready", "provider", cfg.LLMClient, "model", cfg.Model, "tools", reg.Len())
	return a, nil
}

// Close releases every resource, reporting all failures together.
func (a *app) Close() error {
	var result error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	a.closers = nil
	return result
}
