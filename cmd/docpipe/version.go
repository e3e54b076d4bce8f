package main

import (
	"github.com/spf13/cobra"

	"github.com/dshills/docpipe/internal/storage"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("docpipe version %s\n", version)
			cmd.Printf("Build Time: %s\n", buildTime)
			cmd.Printf("Build Mode: %s\n", storage.BuildMode)
			cmd.Printf("SQLite Driver: %s\n", storage.DriverName)
			cmd.Printf("Vector Extension: %v\n", storage.VectorExtensionAvailable)
		},
	}
}
