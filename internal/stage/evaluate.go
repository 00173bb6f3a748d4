package stage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/feedscout/feedscout/internal/evaluation"
	"github.com/feedscout/feedscout/internal/frontmatter"
	"github.com/feedscout/feedscout/internal/pipeline"
	"github.com/feedscout/feedscout/internal/registry"
)

// EvaluateConfig controls the evaluate stage.
type EvaluateConfig struct {
	// DaysBack is how many fetch partitions before the run date are
	// scanned for unevaluated records.
	DaysBack int
	// Delay is the pause between consecutive evaluation calls.
	Delay time.Duration
}

// EvaluateStage sends successfully fetched articles to the evaluation
// service and writes the verdict alongside the fetch metadata. A URL is
// evaluated at most once across runs; the registry carries that state.
type EvaluateStage struct {
	layout    Layout
	evaluator pipeline.Evaluator
	registry  *registry.Registry
	cfg       EvaluateConfig
	clock     pipeline.Clock
	logger    *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewEvaluateStage(layout Layout, evaluator pipeline.Evaluator, reg *registry.Registry,
	cfg EvaluateConfig, clock pipeline.Clock, logger *zap.Logger) *EvaluateStage {
	if cfg.DaysBack <= 0 {
		cfg.DaysBack = 7
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 300 * time.Millisecond
	}
	return &EvaluateStage{
		layout:    layout,
		evaluator: evaluator,
		registry:  reg,
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

func (s *EvaluateStage) Run(ctx context.Context, runDate time.Time) (pipeline.Summary, error) {
	t := newTally(pipeline.StageEvaluated)
	first := true

	for _, day := range window(runDate, s.cfg.DaysBack) {
		items, err := s.layout.ListItems(pipeline.StageFetched, day)
		if err != nil {
			return t.summary(runDate), err
		}
		for _, path := range items {
			if err := ctx.Err(); err != nil {
				return t.summary(runDate), err
			}
			if err := s.processRecord(ctx, path, day, t, &first); err != nil {
				if ctx.Err() != nil {
					return t.summary(runDate), err
				}
				t.fail()
				s.logger.Error("failed to evaluate record",
					zap.String("path", path),
					zap.Error(err),
				)
			}
		}
	}

	summary := t.summary(runDate)
	s.logger.Info("evaluate stage completed",
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (s *EvaluateStage) processRecord(ctx context.Context, path string, day time.Time,
	t *tally, first *bool) error {
	f, err := frontmatter.Load(path)
	if err != nil {
		return err
	}
	url := metaString(f.Meta, "url")

	if metaString(f.Meta, "fetch_status") != string(pipeline.FetchSuccess) {
		t.skip()
		return nil
	}
	if s.registry.IsEvaluated(url) {
		s.logger.Debug("url already evaluated", zap.String("url", url))
		t.skip()
		return nil
	}
	outPath := filepath.Join(s.layout.Dir(pipeline.StageEvaluated, day), filepath.Base(path))
	if _, err := os.Stat(outPath); err == nil {
		t.skip()
		return nil
	}

	if !*first {
		if err := s.sleep(ctx, s.cfg.Delay); err != nil {
			return err
		}
	}
	*first = false

	eval := s.evaluate(ctx, url, f)
	eval.URL = url

	if _, err := s.layout.EnsureDir(pipeline.StageEvaluated, day); err != nil {
		return err
	}
	f.Meta = frontmatter.Update(f.Meta, map[string]any{
		"evaluation": evaluationMeta(eval),
		"stage":      string(pipeline.StageEvaluated),
	})
	if err := frontmatter.Save(f, outPath); err != nil {
		return err
	}

	// The registry may have started empty this run; make sure the URL
	// has an entry so the verdict has somewhere to land.
	if !s.registry.Contains(url) {
		s.registry.Add(url, firstPostRef(f.Meta), "")
	}
	s.registry.MarkEvaluated(url, eval.IsRelated, eval.Score)
	t.process()
	s.logger.Info("evaluated url",
		zap.String("url", url),
		zap.Float64("score", eval.Score),
		zap.Bool("related", eval.IsRelated),
	)
	return nil
}

// evaluate calls the service; an unreachable service degrades to the
// default unrelated record rather than failing the item.
func (s *EvaluateStage) evaluate(ctx context.Context, url string, f frontmatter.File) pipeline.Evaluation {
	req := pipeline.EvaluationRequest{
		Text:            articleBody(f.Body),
		Title:           metaString(f.Meta, "title"),
		Language:        metaString(f.Meta, "language"),
		ContentTypeHint: metaString(f.Meta, "content_type"),
	}
	eval, err := s.evaluator.Evaluate(ctx, req)
	if err != nil {
		s.logger.Error("evaluation service failed",
			zap.String("url", url),
			zap.Error(err),
		)
		return evaluation.Default(url, err.Error(), metaInt(f.Meta, "word_count"), s.clock.Now())
	}
	return eval
}

// firstPostRef returns the earliest post that referenced the record.
func firstPostRef(meta map[string]any) string {
	refs := metaStrings(meta, "found_in_posts")
	if len(refs) == 0 {
		return ""
	}
	return refs[0]
}

// articleBody strips the leading "# Title" heading the fetch stage adds.
func articleBody(body string) string {
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "# ") {
		if idx := strings.IndexByte(body, '\n'); idx >= 0 {
			return strings.TrimSpace(body[idx+1:])
		}
		return ""
	}
	return body
}

func evaluationMeta(eval pipeline.Evaluation) map[string]any {
	meta := map[string]any{
		"is_related":      eval.IsRelated,
		"relevance_score": eval.Score,
		"summary":         eval.Summary,
		"perex":           eval.Perex,
		"key_topics":      eval.Topics,
		"content_type":    eval.ContentType,
		"language":        eval.Language,
		"evaluated_at":    eval.EvaluatedAt.UTC().Format(time.RFC3339),
		"truncated":       eval.Truncated,
	}
	if eval.Error != "" {
		meta["error"] = eval.Error
	}
	return meta
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
