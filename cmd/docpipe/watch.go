package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/docpipe/internal/config"
	"github.com/dshills/docpipe/internal/logging"
	"github.com/dshills/docpipe/internal/watcher"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Ingest a directory, then again whenever its files change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			logger := logging.Component(a.logger, "watch")

			run := func(ctx context.Context) {
				report, err := a.orchestrator.Run(ctx, dir, a.mode)
				switch {
				case errors.Is(err, context.Canceled):
					logger.Info().Msg("run interrupted, checkpoint saved")
				case err != nil:
					logger.Error().Err(err).Msg("run failed")
				default:
					logger.Info().
						Str("run_id", report.RunID).
						Int("changed", report.FilesChanged).
						Int("succeeded", report.Summary.Succeeded).
						Int("failed", report.Summary.Failed).
						Str("message", report.Message).
						Msg("run finished")
				}
			}

			w, err := watcher.New(dir, watcher.Options{
				Debounce: debounce,
				Ignore:   stateFilter(cfg),
				Logger:   logger,
			})
			if err != nil {
				return err
			}

			run(cmd.Context())
			logger.Info().Str("dir", dir).Dur("debounce", debounce).Msg("watching for changes")
			if err := w.Run(cmd.Context(), run); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", watcher.DefaultDebounce, "quiet period before re-running")
	return cmd
}

// stateFilter ignores docpipe's own output when it lives under the watched dir
func stateFilter(cfg *config.Config) func(string) bool {
	abs := func(p string) string {
		if p == "" {
			return ""
		}
		a, err := filepath.Abs(p)
		if err != nil {
			return p
		}
		return a
	}
	stateDir := abs(cfg.StateDir)
	report := abs(cfg.ReportPath)

	return func(path string) bool {
		path = abs(path)
		if report != "" && path == report {
			return true
		}
		return stateDir != "" && (path == stateDir || strings.HasPrefix(path, stateDir+string(filepath.Separator)))
	}
}
