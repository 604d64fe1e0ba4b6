package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/shardkit/internal/app"
)

// newServeCmd creates the 'serve' subcommand: the HTTP API alone, answering
// run lookups from the configured progress store until interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := resolveConfig(ctx)
			if err != nil {
				return err
			}
			a, err := app.Build(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer a.Close(context.WithoutCancel(ctx))
			return a.Serve(ctx)
		},
	}
}
