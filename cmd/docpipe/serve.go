package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/docpipe/internal/logging"
	"github.com/dshills/docpipe/internal/mcp"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline as MCP tools over stdio",
		Long: `Starts an MCP server on stdin/stdout exposing ingest_directory, get_status
and search_documents. Logs go to stderr. With --metrics-addr, Prometheus
metrics are served on /metrics at that address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if metricsAddr != "" {
				stop := serveMetrics(ctx, a, metricsAddr)
				defer stop()
			}

			srv := mcp.NewServer(a.orchestrator, a.searcher, a.mode, logging.Component(a.logger, "mcp"))
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Serve(ctx) }()

			select {
			case <-ctx.Done():
				a.logger.Info().Msg("shutting down")
				return nil
			case err := <-errCh:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address for the Prometheus /metrics endpoint, e.g. :9090")
	return cmd
}

// serveMetrics starts the metrics endpoint and returns a function that shuts it down
func serveMetrics(ctx context.Context, a *app, addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}
