package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dshills/docpipe/internal/config"
)

// rootOptions are the flags shared by every command
type rootOptions struct {
	configPath string
	logLevel   string
	mode       string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "docpipe",
		Short: "Incremental document ingestion and extraction",
		Long: `docpipe walks a directory of documents, works out which ones changed
since the last run, and runs model-backed extraction over the new ones.

Runs are resumable: progress is checkpointed and an interrupted run picks up
where it stopped.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ./docpipe.toml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.mode, "mode", "", "pipeline mode: extract or knowledge")

	cmd.AddCommand(
		newIngestCmd(opts),
		newWatchCmd(opts),
		newServeCmd(opts),
		newStatusCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// loadConfig reads the configuration and applies flag overrides
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.mode != "" {
		cfg.Mode = o.mode
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
