package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Run the pipeline once over a directory",
		Long: `Processes every new or changed document under dir and prints the run report.
An interrupted run saves its checkpoint; the next ingest of the same
directory resumes from it.`,
		Args: cobra.ExactArgs(1),
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

			report, runErr := a.orchestrator.Run(cmd.Context(), args[0], a.mode)
			if report != nil {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			}
			if runErr != nil {
				return fmt.Errorf("ingest failed: %w", runErr)
			}
			return nil
		},
	}
}
