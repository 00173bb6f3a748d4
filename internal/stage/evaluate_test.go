package stage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feedscout/feedscout/internal/frontmatter"
	"github.com/feedscout/feedscout/internal/pipeline"
	"github.com/feedscout/feedscout/internal/registry"
)

type fakeEvaluator struct {
	result pipeline.Evaluation
	err    error
	calls  int
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, req pipeline.EvaluationRequest) (pipeline.Evaluation, error) {
	f.calls++
	return f.result, f.err
}

func writeFetchRecord(t *testing.T, layout Layout, day time.Time, url, status string) string {
	t.Helper()
	_, err := layout.EnsureDir(pipeline.StageFetched, day)
	require.NoError(t, err)
	path := layout.URLPath(pipeline.StageFetched, day, url)
	meta := map[string]any{
		"url":            url,
		"fetch_status":   status,
		"title":          "Pooling Strategies",
		"language":       "en",
		"content_type":   "article",
		"word_count":     120,
		"found_in_posts": []string{"post777"},
		"stage":          "fetched",
	}
	body := "# Pooling Strategies\n\nThe article text."
	require.NoError(t, frontmatter.Save(frontmatter.File{Meta: meta, Body: body}, path))
	return path
}

func newEvaluateStage(layout Layout, evaluator pipeline.Evaluator, reg *registry.Registry) *EvaluateStage {
	s := NewEvaluateStage(layout, evaluator, reg, EvaluateConfig{DaysBack: 7}, fixedClock{testNow}, zap.NewNop())
	s.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return s
}

func TestEvaluateStageWritesVerdictOnce(t *testing.T) {
	t.Parallel()

	layout := NewLayout(t.TempDir())
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	url := "https://example.com/pooling"
	path := writeFetchRecord(t, layout, day, url, "success")

	reg := newTestRegistry()
	evaluator := &fakeEvaluator{result: pipeline.Evaluation{
		IsRelated:   true,
		Score:       0.8,
		Summary:     "A solid pooling overview.",
		Perex:       "Pooling overview.",
		Topics:      []string{"databases"},
		ContentType: "article",
		Language:    "en",
		EvaluatedAt: testNow,
	}}
	s := newEvaluateStage(layout, evaluator, reg)

	summary, err := s.Run(context.Background(), testRunDate)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Processed)

	outPath := filepath.Join(layout.Dir(pipeline.StageEvaluated, day), filepath.Base(path))
	f, err := frontmatter.Load(outPath)
	require.NoError(t, err)
	require.Equal(t, "evaluated", f.Meta["stage"])
	require.Equal(t, url, f.Meta["url"], "fetch metadata preserved")
	eval := f.Meta["evaluation"].(map[string]any)
	require.Equal(t, true, eval["is_related"])
	require.InDelta(t, 0.8, metaFloat(eval, "relevance_score"), 1e-9)

	// The registry starts empty here; the stage must register the URL
	// itself before recording the verdict.
	require.True(t, reg.IsEvaluated(url))
	entry, ok := reg.Get(url)
	require.True(t, ok)
	require.Equal(t, "post777", entry.FirstPostID)

	// Cross-run dedup: a second run calls the service zero times.
	summary, err = s.Run(context.Background(), testRunDate)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Skipped)
	require.Equal(t, 1, evaluator.calls)
}

func TestEvaluateStageSkipsFailedFetches(t *testing.T) {
	t.Parallel()

	layout := NewLayout(t.TempDir())
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	writeFetchRecord(t, layout, day, "https://example.com/gone", "error")

	evaluator := &fakeEvaluator{}
	s := newEvaluateStage(layout, evaluator, newTestRegistry())

	summary, err := s.Run(context.Background(), testRunDate)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Skipped)
	require.Zero(t, evaluator.calls)
}

func TestEvaluateStageDegradesOnServiceFailure(t *testing.T) {
	t.Parallel()

	layout := NewLayout(t.TempDir())
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	url := "https://example.com/pooling"
	path := writeFetchRecord(t, layout, day, url, "success")

	evaluator := &fakeEvaluator{err: errors.New("connection refused")}
	s := newEvaluateStage(layout, evaluator, newTestRegistry())

	summary, err := s.Run(context.Background(), testRunDate)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Processed, "degraded verdict still counts as processed")

	outPath := filepath.Join(layout.Dir(pipeline.StageEvaluated, day), filepath.Base(path))
	f, err := frontmatter.Load(outPath)
	require.NoError(t, err)
	eval := f.Meta["evaluation"].(map[string]any)
	require.Equal(t, false, eval["is_related"])
	require.Equal(t, "connection refused", eval["error"])
}
