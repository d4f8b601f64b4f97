package main

import (
	"github.com/spf13/cobra"

	"github.com/corintai/corint/internal/engine"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Loads the repository and reports backend health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, lg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, cleanup, err := engine.Build(cmd.Context(), cfg, lg)
			if err != nil {
				return exitErr(exitLoad, err)
			}
			defer cleanup()

			printJSON(cmd, eng.Health(cmd.Context()))
			return nil
		},
	}
}
