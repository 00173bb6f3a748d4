package stage

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/feedscout/feedscout/internal/content"
	"github.com/feedscout/feedscout/internal/frontmatter"
	"github.com/feedscout/feedscout/internal/pipeline"
	"github.com/feedscout/feedscout/internal/registry"
)

// FetchConfig controls the fetch stage.
type FetchConfig struct {
	// DaysBack is how many collect partitions before the run date are
	// scanned for unfetched links.
	DaysBack int
}

// FetchStage downloads and extracts every link found in recent collected
// posts. Each URL yields exactly one record across the whole tree; a URL
// seen again later only accumulates the new post reference.
type FetchStage struct {
	layout    Layout
	fetcher   *content.Fetcher
	extractor *content.Extractor
	registry  *registry.Registry
	cfg       FetchConfig
	clock     pipeline.Clock
	logger    *zap.Logger
}

func NewFetchStage(layout Layout, fetcher *content.Fetcher, extractor *content.Extractor,
	reg *registry.Registry, cfg FetchConfig, clock pipeline.Clock, logger *zap.Logger) *FetchStage {
	if cfg.DaysBack <= 0 {
		cfg.DaysBack = 7
	}
	return &FetchStage{
		layout:    layout,
		fetcher:   fetcher,
		extractor: extractor,
		registry:  reg,
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
	}
}

func (s *FetchStage) Run(ctx context.Context, runDate time.Time) (pipeline.Summary, error) {
	t := newTally(pipeline.StageFetched)

	fetched, err := s.scanFetched()
	if err != nil {
		return t.summary(runDate), err
	}
	s.logger.Info("fetch stage starting",
		zap.Int("days_back", s.cfg.DaysBack),
		zap.Int("already_fetched", len(fetched)),
	)

	for _, day := range window(runDate, s.cfg.DaysBack) {
		items, err := s.layout.ListItems(pipeline.StageCollected, day)
		if err != nil {
			return t.summary(runDate), err
		}
		for _, path := range items {
			if err := ctx.Err(); err != nil {
				return t.summary(runDate), err
			}
			if err := s.processPost(ctx, path, day, fetched, t); err != nil {
				t.fail()
				s.logger.Error("failed to process post file",
					zap.String("path", path),
					zap.Error(err),
				)
			}
		}
	}

	summary := t.summary(runDate)
	s.logger.Info("fetch stage completed",
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// scanFetched indexes every existing fetch record by URL so reruns are
// idempotent and issue no network calls for known URLs.
func (s *FetchStage) scanFetched() (map[string]string, error) {
	fetched := make(map[string]string)
	days, err := s.layout.Dates(pipeline.StageFetched)
	if err != nil {
		return nil, err
	}
	for _, day := range days {
		items, err := s.layout.ListItems(pipeline.StageFetched, day)
		if err != nil {
			return nil, err
		}
		for _, path := range items {
			f, err := frontmatter.Load(path)
			if err != nil {
				s.logger.Debug("unreadable fetch record", zap.String("path", path), zap.Error(err))
				continue
			}
			if url := metaString(f.Meta, "url"); url != "" {
				fetched[registry.Normalize(url)] = path
			}
		}
	}
	return fetched, nil
}

func (s *FetchStage) processPost(ctx context.Context, path string, fallbackDay time.Time,
	fetched map[string]string, t *tally) error {
	post, err := frontmatter.Load(path)
	if err != nil {
		return err
	}
	links := metaStrings(post.Meta, "links")
	postID := metaString(post.Meta, "id")
	if len(links) == 0 {
		t.skip()
		return nil
	}

	day := fallbackDay
	if created, ok := metaTime(post.Meta, "created_at"); ok {
		day = created
	}

	for _, url := range links {
		// Sightings are counted once, at collect time; re-adding here
		// would inflate times_seen on every daily rerun.
		key := registry.Normalize(url)

		if existing, ok := fetched[key]; ok {
			if err := s.accumulatePostRef(existing, postID); err != nil {
				s.logger.Warn("failed to record post reference",
					zap.String("url", url),
					zap.Error(err),
				)
			}
			continue
		}

		outPath, err := s.fetchOne(ctx, url, postID, day)
		if err != nil {
			s.logger.Error("failed to fetch url",
				zap.String("url", url),
				zap.Error(err),
			)
			continue
		}
		fetched[key] = outPath
	}

	t.process()
	return nil
}

// fetchOne writes the fetch record for one URL, successful or not. Fetch
// and extraction failures become error records, not stage failures.
func (s *FetchStage) fetchOne(ctx context.Context, url, postID string, day time.Time) (string, error) {
	if _, err := s.layout.EnsureDir(pipeline.StageFetched, day); err != nil {
		return "", err
	}
	outPath := s.layout.URLPath(pipeline.StageFetched, day, url)

	meta, body := s.fetchAndExtract(ctx, url)
	meta["found_in_posts"] = []string{postID}

	if err := frontmatter.Save(frontmatter.File{Meta: meta, Body: body}, outPath); err != nil {
		return "", err
	}
	s.logger.Info("fetched url",
		zap.String("url", url),
		zap.String("status", metaString(meta, "fetch_status")),
	)
	return outPath, nil
}

func (s *FetchStage) fetchAndExtract(ctx context.Context, url string) (map[string]any, string) {
	now := s.clock.Now().Format(time.RFC3339)

	page, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return s.errorMeta(url, now, err), "# Fetch Error\n\nFailed to fetch content: " + err.Error()
	}

	extraction, err := s.extractor.Extract(string(page.Body), url)
	if err != nil {
		return s.errorMeta(url, now, err), "# Extraction Error\n\nFailed to extract content: " + err.Error()
	}

	meta := map[string]any{
		"url":          url,
		"fetched_at":   now,
		"fetch_status": string(pipeline.FetchSuccess),
		"word_count":   extraction.WordCount,
		"title":        extraction.Title,
		"author":       extraction.Author,
		"domain":       extraction.Domain,
		"publication":  extraction.Publication,
		"language":     extraction.Language,
		"content_type": extraction.ContentType,
		"truncated":    extraction.Truncated,
		"stage":        string(pipeline.StageFetched),
	}
	if extraction.PublishedAt != nil {
		meta["published_date"] = extraction.PublishedAt.UTC().Format(time.RFC3339)
		s.registry.SetPublishedDate(url, *extraction.PublishedAt)
	}

	title := extraction.Title
	if title == "" {
		title = "Article"
	}
	return meta, "# " + title + "\n\n" + extraction.Text
}

func (s *FetchStage) errorMeta(url, now string, err error) map[string]any {
	kind := string(content.KindExtraction)
	var cerr *content.Error
	if errors.As(err, &cerr) {
		kind = string(cerr.Kind)
	}
	return map[string]any{
		"url":           url,
		"fetched_at":    now,
		"fetch_status":  string(pipeline.FetchError),
		"error_type":    kind,
		"error_message": err.Error(),
		"stage":         string(pipeline.StageFetched),
	}
}

// accumulatePostRef appends a post id to an existing fetch record's
// found_in_posts list. The rest of the record stays immutable.
func (s *FetchStage) accumulatePostRef(path, postID string) error {
	if postID == "" {
		return nil
	}
	f, err := frontmatter.Load(path)
	if err != nil {
		return err
	}
	refs := metaStrings(f.Meta, "found_in_posts")
	for _, ref := range refs {
		if ref == postID {
			return nil
		}
	}
	f.Meta = frontmatter.Update(f.Meta, map[string]any{
		"found_in_posts": append(refs, postID),
	})
	return frontmatter.Save(f, path)
}
