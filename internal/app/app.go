// Package app initializes and holds long-lived pipeline services, acting
// as the dependency injection point for the CLI commands.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedscout/feedscout/internal/clock/system"
	"github.com/feedscout/feedscout/internal/config"
	"github.com/feedscout/feedscout/internal/content"
	"github.com/feedscout/feedscout/internal/evaluation"
	"github.com/feedscout/feedscout/internal/feed"
	"github.com/feedscout/feedscout/internal/logging"
	"github.com/feedscout/feedscout/internal/pipeline"
	"github.com/feedscout/feedscout/internal/registry"
	"github.com/feedscout/feedscout/internal/stage"
	"github.com/feedscout/feedscout/internal/thread"
)

// App holds the shared services the stage commands run against.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Registry *registry.Registry

	clock    pipeline.Clock
	layout   stage.Layout
	collect  *stage.CollectStage
	fetch    *stage.FetchStage
	evaluate *stage.EvaluateStage
	report   *stage.ReportStage
}

// New builds the full service graph from configuration and loads the URL
// registry snapshot. It fails fast on anything misconfigured.
func New(cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	clk := system.Clock{}
	layout := stage.NewLayout(cfg.Storage.StagesRoot)

	reg := registry.New(clk, logger.Named("registry"))
	if err := reg.Load(cfg.Storage.RegistryPath); err != nil {
		return nil, fmt.Errorf("loading url registry: %w", err)
	}

	feedClient := feed.NewClient(feed.Config{
		BaseURL:   cfg.Feed.BaseURL,
		Timeout:   time.Duration(cfg.Feed.TimeoutSeconds) * time.Second,
		UserAgent: cfg.Feed.UserAgent,
	}, logger.Named("feed"))

	threads := thread.NewCollector(feedClient, thread.Config{
		MaxDepth:     cfg.Threads.MaxDepth,
		ParentHeight: cfg.Threads.ParentHeight,
		Delay:        cfg.ThreadDelay(),
	}, logger.Named("thread"))

	transport := content.NewCollyTransport(content.TransportConfig{
		UserAgent:      cfg.Fetcher.UserAgent,
		RequestTimeout: cfg.FetchTimeout(),
		MaxBodySize:    cfg.Fetcher.MaxContentSize,
	}, logger.Named("transport"))
	fetcher := content.NewFetcher(transport, content.FetcherConfig{
		MaxRetries:     cfg.Fetcher.MaxRetries,
		BackoffBase:    cfg.BackoffBase(),
		MaxContentSize: int64(cfg.Fetcher.MaxContentSize),
		MaxConcurrent:  cfg.Fetcher.MaxConcurrent,
	}, logger.Named("fetcher"))
	extractor := content.NewExtractor(content.ExtractorConfig{
		MinContentLength: cfg.Extractor.MinContentLength,
		MaxContentLength: cfg.Extractor.MaxContentLength,
	}, logger.Named("extractor"))

	evaluator := evaluation.NewClient(evaluation.Config{
		Endpoint:    cfg.Evaluation.Endpoint,
		Model:       cfg.Evaluation.Model,
		APIKey:      cfg.Evaluation.APIKey,
		Temperature: cfg.Evaluation.Temperature,
		MaxTokens:   cfg.Evaluation.MaxTokens,
		MaxWords:    cfg.Evaluation.MaxWords,
		MaxChars:    cfg.Evaluation.MaxChars,
	}, clk, logger.Named("evaluation"))

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		clock:    clk,
		layout:   layout,
	}
	a.collect = stage.NewCollectStage(layout, feedClient, threads, reg, stage.CollectConfig{
		Query:          cfg.Search.Query,
		MaxPosts:       cfg.Search.MaxPosts,
		CollectThreads: cfg.Search.CollectThreads,
	}, clk, logger.Named("collect"))
	a.fetch = stage.NewFetchStage(layout, fetcher, extractor, reg, stage.FetchConfig{
		DaysBack: cfg.Fetcher.DaysBack,
	}, clk, logger.Named("fetch"))
	a.evaluate = stage.NewEvaluateStage(layout, evaluator, reg, stage.EvaluateConfig{
		DaysBack: cfg.Evaluation.DaysBack,
		Delay:    cfg.EvaluationDelay(),
	}, clk, logger.Named("evaluate"))
	a.report = stage.NewReportStage(layout, stage.ReportConfig{
		DaysBack:     cfg.Report.DaysBack,
		MinRelevance: cfg.Report.MinRelevance,
	}, clk, logger.Named("report"))

	return a, nil
}

// Close persists the URL registry and flushes the logger.
func (a *App) Close() error {
	if err := a.Registry.Save(a.Config.Storage.RegistryPath); err != nil {
		a.Logger.Error("failed to save url registry", zap.Error(err))
		return err
	}
	_ = a.Logger.Sync()
	return nil
}

// RunCollect executes the collect stage for today's run date.
func (a *App) RunCollect(ctx context.Context) (pipeline.Summary, error) {
	return a.collect.Run(ctx, a.runDate())
}

// RunFetch executes the fetch stage over its lookback window.
func (a *App) RunFetch(ctx context.Context) (pipeline.Summary, error) {
	return a.fetch.Run(ctx, a.runDate())
}

// RunEvaluate executes the evaluate stage over its lookback window.
func (a *App) RunEvaluate(ctx context.Context) (pipeline.Summary, error) {
	return a.evaluate.Run(ctx, a.runDate())
}

// RunReport generates the digest for today's run date.
func (a *App) RunReport(ctx context.Context) (pipeline.Summary, error) {
	return a.report.Run(ctx, a.runDate())
}

// RunAll executes the full pipeline in stage order under a single run ID.
// A stage error stops the run; the summaries of completed stages are still
// returned.
func (a *App) RunAll(ctx context.Context) ([]pipeline.Summary, error) {
	runLogger := a.Logger.With(zap.String("run_id", uuid.NewString()))
	runs := []struct {
		name string
		fn   func(context.Context) (pipeline.Summary, error)
	}{
		{"collect", a.RunCollect},
		{"fetch", a.RunFetch},
		{"evaluate", a.RunEvaluate},
		{"report", a.RunReport},
	}

	var summaries []pipeline.Summary
	for _, run := range runs {
		summary, err := run.fn(ctx)
		if err != nil {
			return summaries, fmt.Errorf("%s stage: %w", run.name, err)
		}
		summaries = append(summaries, summary)
		runLogger.Info("stage finished",
			zap.String("stage", summary.Stage),
			zap.Int("processed", summary.Processed),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failed", summary.Failed),
		)
	}
	return summaries, nil
}

func (a *App) runDate() time.Time {
	return a.clock.Now().UTC().Truncate(24 * time.Hour)
}
