// File: cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/invisinsights/internal/collector"
	"github.com/xkilldash9x/invisinsights/internal/config"
	"github.com/xkilldash9x/invisinsights/internal/observability"
)

func newServeCmd(provider storeProvider) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collection endpoint",
		Long: `Accepts session-end payloads from installed engines, checks them against the
configured projects and stores them with their per-page rollups in PostgreSQL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runServe(ctx, observability.GetLogger(), cfg, provider)
		},
	}
	serveCmd.Flags().String("listen", "", "Listen address, e.g. :8080")
	return serveCmd
}

// runServe serves until ctx is cancelled.
func runServe(ctx context.Context, logger *zap.Logger, cfg *config.Config, provider storeProvider) error {
	directory := collector.NewStaticDirectory(cfg.Collector)
	if directory.Len() == 0 {
		return errors.New("no projects configured (collector.project_keys or collector.projects)")
	}

	storeService, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}
	if err := storeService.EnsureSchema(ctx); err != nil {
		return err
	}

	server, err := collector.New(cfg.Collector, directory, storeService, logger)
	if err != nil {
		return err
	}
	logger.Info("Starting collector",
		zap.String("addr", cfg.Collector.ListenAddr),
		zap.Int("projects", directory.Len()))
	return server.ListenAndServe(ctx)
}
