// Package cmd defines and implements the CLI commands for the feedscout
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/feedscout/feedscout/internal/app"
	"github.com/feedscout/feedscout/internal/config"
	"github.com/feedscout/feedscout/internal/pipeline"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It is a variable so tests can
// replace it.
var newApp = func() (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.New(cfg)
}

// newRootCmd creates and configures the root command. The application is
// built once in PersistentPreRunE and handed to subcommands via context.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedscout",
		Short: "A social feed monitoring pipeline",
		Long: `feedscout watches a social feed for posts matching a search query,
fetches and extracts the articles they link to, scores each article for
relevance, and produces a daily digest. Every stage persists its items
as frontmatter files, so reruns are idempotent.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				if err := a.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
				}
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults plus FEEDSCOUT_* env)")

	cmd.AddCommand(newCollectCmd())
	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newEvaluateCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newCronCmd())
	cmd.AddCommand(newStatsCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return a, nil
}

func logSummary(logger *zap.Logger, summary pipeline.Summary) {
	logger.Info("stage summary",
		zap.String("stage", summary.Stage),
		zap.String("date", summary.Date),
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("total", summary.Total),
	)
}
