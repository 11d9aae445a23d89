package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/m4xw311/devpilot/logging"
	"github.com/m4xw311/devpilot/transport/ws"
)

func newServeCmd(global *globalOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve agent sessions over WebSocket",
		Long: `Serve agent sessions over WebSocket on /ws, with /healthz and Prometheus
/metrics next to it. Idle sessions are evicted after session_idle_ttl.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			logger := logging.New(cmd.ErrOrStderr(), cfg.Log, false)

			promReg := prometheus.NewRegistry()
			promReg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, global.toolset, logger, promReg)
			if err != nil {
				return err
			}
			defer a.Close()

			server := ws.NewServer(a.agent,
				ws.WithRequestTimeout(cfg.Server.RequestTimeout),
				ws.WithWorkspaceRoot(cfg.WorkspaceRoot),
				ws.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
				ws.WithGatherer(promReg),
				ws.WithLogger(logger),
			)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.ListenAndServe(gctx, cfg.Server.Listen)
			})
			g.Go(func() error {
				a.agent.Store().RunJanitor(gctx, janitorInterval(*cfg.SessionIdleTTL), func(ids []string) {
					logger.Info("evicted idle sessions", "count", len(ids))
				})
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default: server.listen from config)")
	return cmd
}

// janitorInterval sweeps a few times per TTL, but not more than once a
// second.
func janitorInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return max(ttl/4, time.Second)
}
