package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/feedscout/feedscout/internal/pipeline"
)

// stageCmd builds one subcommand around a single stage runner.
func stageCmd(use, short string, run func(a stageRunner, ctx context.Context) (pipeline.Summary, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := run(a, cmd.Context())
			if err != nil {
				return fmt.Errorf("%s stage: %w", use, err)
			}
			logSummary(a.Logger, summary)
			return nil
		},
	}
}

// stageRunner is the slice of *app.App the stage commands need.
type stageRunner interface {
	RunCollect(ctx context.Context) (pipeline.Summary, error)
	RunFetch(ctx context.Context) (pipeline.Summary, error)
	RunEvaluate(ctx context.Context) (pipeline.Summary, error)
	RunReport(ctx context.Context) (pipeline.Summary, error)
}

func newCollectCmd() *cobra.Command {
	return stageCmd("collect", "Collect matching posts from the feed",
		func(a stageRunner, ctx context.Context) (pipeline.Summary, error) { return a.RunCollect(ctx) })
}

func newFetchCmd() *cobra.Command {
	return stageCmd("fetch", "Fetch and extract linked articles",
		func(a stageRunner, ctx context.Context) (pipeline.Summary, error) { return a.RunFetch(ctx) })
}

func newEvaluateCmd() *cobra.Command {
	return stageCmd("evaluate", "Score fetched articles for relevance",
		func(a stageRunner, ctx context.Context) (pipeline.Summary, error) { return a.RunEvaluate(ctx) })
}

func newReportCmd() *cobra.Command {
	return stageCmd("report", "Generate the daily digest",
		func(a stageRunner, ctx context.Context) (pipeline.Summary, error) { return a.RunReport(ctx) })
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: collect, fetch, evaluate, report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summaries, err := a.RunAll(cmd.Context())
			for _, summary := range summaries {
				logSummary(a.Logger, summary)
			}
			return err
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print URL registry statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			stats := a.Registry.Stats()
			fmt.Fprintf(cmd.OutOrStdout(),
				"urls: %d\noccurrences: %d\ndomains: %d\nevaluated: %d\nrelated: %d\navg score: %.3f\n",
				stats.TotalURLs, stats.TotalOccurrences, stats.UniqueDomains,
				stats.EvaluatedURLs, stats.RelatedURLs, stats.AvgRelevanceScore)
			return nil
		},
	}
}
