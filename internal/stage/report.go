package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/feedscout/feedscout/internal/frontmatter"
	"github.com/feedscout/feedscout/internal/pipeline"
)

// ReportConfig controls the report stage.
type ReportConfig struct {
	// DaysBack is how many evaluate partitions before the run date feed
	// into one report.
	DaysBack int
	// MinRelevance excludes related articles scored below it.
	MinRelevance float64
}

// reportArticle is one line of the daily digest.
type reportArticle struct {
	URL    string
	Title  string
	Perex  string
	Score  float64
	Domain string
}

// ReportStage aggregates evaluated records over a date range into a
// single digest file under the reported partition of the run date. An
// existing digest is never regenerated.
type ReportStage struct {
	layout Layout
	cfg    ReportConfig
	clock  pipeline.Clock
	logger *zap.Logger
}

func NewReportStage(layout Layout, cfg ReportConfig, clock pipeline.Clock, logger *zap.Logger) *ReportStage {
	if cfg.DaysBack < 0 {
		cfg.DaysBack = 0
	}
	if cfg.MinRelevance <= 0 {
		cfg.MinRelevance = 0.3
	}
	return &ReportStage{layout: layout, cfg: cfg, clock: clock, logger: logger}
}

// ReportPath returns where the digest for a run date lives.
func (s *ReportStage) ReportPath(runDate time.Time) string {
	return filepath.Join(s.layout.Dir(pipeline.StageReported, runDate), "report_meta.md")
}

func (s *ReportStage) Run(ctx context.Context, runDate time.Time) (pipeline.Summary, error) {
	t := newTally(pipeline.StageReported)

	outPath := s.ReportPath(runDate)
	if _, err := os.Stat(outPath); err == nil {
		s.logger.Info("report already exists", zap.String("path", outPath))
		t.skip()
		return t.summary(runDate), nil
	}

	var articles []reportArticle
	totalEvaluated := 0

	for _, day := range window(runDate, s.cfg.DaysBack) {
		if err := ctx.Err(); err != nil {
			return t.summary(runDate), err
		}
		items, err := s.layout.ListItems(pipeline.StageEvaluated, day)
		if err != nil {
			return t.summary(runDate), err
		}
		for _, path := range items {
			totalEvaluated++
			article, include, err := s.readArticle(path)
			if err != nil {
				t.fail()
				s.logger.Error("unreadable evaluation record",
					zap.String("path", path),
					zap.Error(err),
				)
				continue
			}
			if !include {
				t.skip()
				continue
			}
			articles = append(articles, article)
			t.process()
		}
	}

	sort.SliceStable(articles, func(i, j int) bool { return articles[i].Score > articles[j].Score })

	if _, err := s.layout.EnsureDir(pipeline.StageReported, runDate); err != nil {
		return t.summary(runDate), err
	}
	if err := s.writeReport(outPath, runDate, totalEvaluated, articles); err != nil {
		return t.summary(runDate), err
	}

	summary := t.summary(runDate)
	s.logger.Info("report stage completed",
		zap.Int("articles", len(articles)),
		zap.Int("evaluated", totalEvaluated),
	)
	return summary, nil
}

// readArticle loads one evaluated record and decides whether it makes
// the digest: related and scored at or above the threshold.
func (s *ReportStage) readArticle(path string) (reportArticle, bool, error) {
	f, err := frontmatter.Load(path)
	if err != nil {
		return reportArticle{}, false, err
	}
	eval := metaMap(f.Meta, "evaluation")
	if eval == nil {
		return reportArticle{}, false, fmt.Errorf("record %s has no evaluation block", filepath.Base(path))
	}
	related, _ := eval["is_related"].(bool)
	score := metaFloat(eval, "relevance_score")
	if !related || score < s.cfg.MinRelevance {
		return reportArticle{}, false, nil
	}

	perex := metaString(eval, "perex")
	if perex == "" {
		perex = metaString(eval, "summary")
	}
	return reportArticle{
		URL:    metaString(f.Meta, "url"),
		Title:  metaString(f.Meta, "title"),
		Perex:  perex,
		Score:  score,
		Domain: metaString(f.Meta, "domain"),
	}, true, nil
}

func (s *ReportStage) writeReport(path string, runDate time.Time, totalEvaluated int, articles []reportArticle) error {
	summaries := make([]map[string]any, 0, len(articles))
	for _, a := range articles {
		perex := a.Perex
		if len(perex) > 100 {
			perex = perex[:100] + "..."
		}
		summaries = append(summaries, map[string]any{
			"url":             a.URL,
			"title":           a.Title,
			"relevance_score": a.Score,
			"perex":           perex,
		})
	}

	meta := map[string]any{
		"date":                runDate.Format(DateFormat),
		"days_back":           s.cfg.DaysBack,
		"total_evaluated":     totalEvaluated,
		"related_articles":    len(articles),
		"report_generated_at": s.clock.Now().Format(time.RFC3339),
		"stage":               string(pipeline.StageReported),
		"articles":            summaries,
	}

	var body strings.Builder
	fmt.Fprintf(&body, "# Daily Report for %s\n\n", runDate.Format(DateFormat))
	if len(articles) == 0 {
		body.WriteString("No related articles found for this period.\n")
	} else {
		fmt.Fprintf(&body, "%d related articles out of %d evaluated.\n\n", len(articles), totalEvaluated)
		for _, a := range articles {
			title := a.Title
			if title == "" {
				title = a.URL
			}
			fmt.Fprintf(&body, "## %s\n\n", title)
			fmt.Fprintf(&body, "Score: %.2f", a.Score)
			if a.Domain != "" {
				fmt.Fprintf(&body, " (%s)", a.Domain)
			}
			body.WriteString("\n\n")
			if a.Perex != "" {
				body.WriteString(a.Perex + "\n\n")
			}
			fmt.Fprintf(&body, "<%s>\n\n", a.URL)
		}
	}

	return frontmatter.Save(frontmatter.File{Meta: meta, Body: strings.TrimRight(body.String(), "\n")}, path)
}
