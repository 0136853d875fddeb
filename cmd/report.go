// File: cmd/report.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/invisinsights/internal/config"
	"github.com/xkilldash9x/invisinsights/internal/observability"
	"github.com/xkilldash9x/invisinsights/internal/store"
)

// storeProvider creates the signal store. Tests inject a provider backed by
// a mock pool instead of a live database.
type storeProvider interface {
	// Create returns the store and a cleanup function releasing its pool.
	Create(ctx context.Context, cfg *config.Config) (*store.Store, func(), error)
}

// defaultStoreProvider connects to PostgreSQL.
type defaultStoreProvider struct{}

// NewStoreProvider returns the production store provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

func (p *defaultStoreProvider) Create(ctx context.Context, cfg *config.Config) (*store.Store, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (%s_DATABASE_URL)", config.EnvPrefix)
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storeService, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return storeService, cleanup, nil
}

// pageReport is one page of a project report.
type pageReport struct {
	store.PageSummary
	FrictionScore float64 `json:"friction_score"`
}

type projectReport struct {
	ProjectID string       `json:"project_id"`
	Pages     []pageReport `json:"pages"`
}

func newReportCmd(provider storeProvider) *cobra.Command {
	var (
		projects []string
		limit    int
		sortBy   string
	)

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Print the per-page friction rollups of one or more projects",
		Long: `Reads the page rollups the collector maintains and prints them as JSON,
ranked by friction score (weighted friction signals per session) or by traffic.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReport(ctx, observability.GetLogger(), cfg, projects, limit, sortBy, cmd.OutOrStdout(), provider)
		},
	}

	reportCmd.Flags().StringSliceVarP(&projects, "project", "p", nil, "Project key to report on (repeatable, required)")
	_ = reportCmd.MarkFlagRequired("project")
	reportCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of pages per project")
	reportCmd.Flags().StringVar(&sortBy, "sort", "friction", "Ranking: 'friction' or 'sessions'")

	return reportCmd
}

// runReport contains the core, testable logic for the report command.
func runReport(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	projects []string,
	limit int,
	sortBy string,
	out io.Writer,
	provider storeProvider,
) error {
	if sortBy != "friction" && sortBy != "sessions" {
		return fmt.Errorf("unknown sort order %q (want 'friction' or 'sessions')", sortBy)
	}
	if limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", limit)
	}

	storeService, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	reports := make([]projectReport, len(projects))
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, projectID := range projects {
		g.Go(func() error {
			summaries, err := storeService.PageSummaries(groupCtx, projectID, limit)
			if err != nil {
				return fmt.Errorf("project %s: %w", projectID, err)
			}
			reports[i] = buildProjectReport(projectID, summaries, sortBy)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("Failed to load page rollups", zap.Error(err))
		return err
	}

	logger.Debug("Report generated", zap.Int("projects", len(reports)))
	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func buildProjectReport(projectID string, summaries []store.PageSummary, sortBy string) projectReport {
	pages := make([]pageReport, 0, len(summaries))
	for _, s := range summaries {
		pages = append(pages, pageReport{PageSummary: s, FrictionScore: s.FrictionScore()})
	}
	if sortBy == "friction" {
		sort.SliceStable(pages, func(i, j int) bool {
			return pages[i].FrictionScore > pages[j].FrictionScore
		})
	}
	return projectReport{ProjectID: projectID, Pages: pages}
}
