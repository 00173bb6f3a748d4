package stage

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/feedscout/feedscout/internal/frontmatter"
	"github.com/feedscout/feedscout/internal/pipeline"
	"github.com/feedscout/feedscout/internal/registry"
)

// PostSource produces seed posts for a search query, handling paging.
type PostSource interface {
	CollectPosts(ctx context.Context, query string, maxPosts int) ([]pipeline.Post, error)
}

// ThreadExpander grows seed posts into their full conversations.
type ThreadExpander interface {
	CollectFromSearch(ctx context.Context, seeds []pipeline.Post) ([]pipeline.Post, error)
}

// CollectConfig controls the collect stage.
type CollectConfig struct {
	Query          string
	MaxPosts       int
	CollectThreads bool
}

// CollectStage pulls posts from the feed and stores each as one
// frontmatter file, partitioned by the post's publication date. Reruns
// refresh engagement counters in place instead of duplicating posts.
type CollectStage struct {
	layout   Layout
	source   PostSource
	threads  ThreadExpander
	registry *registry.Registry
	cfg      CollectConfig
	clock    pipeline.Clock
	logger   *zap.Logger
}

func NewCollectStage(layout Layout, source PostSource, threads ThreadExpander,
	reg *registry.Registry, cfg CollectConfig, clock pipeline.Clock, logger *zap.Logger) *CollectStage {
	if cfg.MaxPosts <= 0 {
		cfg.MaxPosts = 100
	}
	return &CollectStage{
		layout:   layout,
		source:   source,
		threads:  threads,
		registry: reg,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
	}
}

func (s *CollectStage) Run(ctx context.Context, runDate time.Time) (pipeline.Summary, error) {
	t := newTally(pipeline.StageCollected)

	posts, err := s.source.CollectPosts(ctx, s.cfg.Query, s.cfg.MaxPosts)
	if err != nil {
		return t.summary(runDate), fmt.Errorf("collecting posts: %w", err)
	}
	s.logger.Info("search finished",
		zap.String("query", s.cfg.Query),
		zap.Int("posts", len(posts)),
	)

	if s.cfg.CollectThreads && s.threads != nil && len(posts) > 0 {
		expanded, err := s.threads.CollectFromSearch(ctx, posts)
		if err != nil {
			s.logger.Warn("thread expansion failed, keeping search results", zap.Error(err))
		} else {
			posts = expanded
		}
	}

	for _, post := range posts {
		if err := s.savePost(post, t); err != nil {
			t.fail()
			s.logger.Error("failed to save post",
				zap.String("post", post.ID),
				zap.Error(err),
			)
		}
		for _, link := range post.Links {
			s.registry.Add(link, post.ID, post.Author)
		}
	}

	summary := t.summary(runDate)
	s.logger.Info("collect stage completed",
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// savePost writes a new post file, or refreshes engagement counters on
// an existing one. Unchanged posts are skipped.
func (s *CollectStage) savePost(post pipeline.Post, t *tally) error {
	day := post.CreatedAt.UTC()
	if _, err := s.layout.EnsureDir(pipeline.StageCollected, day); err != nil {
		return err
	}
	path := s.layout.PostPath(pipeline.StageCollected, day, post)

	if _, err := os.Stat(path); err == nil {
		return s.refreshPost(path, post, t)
	}

	f := frontmatter.File{
		Meta: s.postMeta(post),
		Body: "# Post Content\n\n" + post.Content,
	}
	if err := frontmatter.Save(f, path); err != nil {
		return err
	}
	t.process()
	return nil
}

func (s *CollectStage) refreshPost(path string, post pipeline.Post, t *tally) error {
	existing, err := frontmatter.Load(path)
	if err != nil {
		return err
	}
	current := metaMap(existing.Meta, "engagement")
	if metaInt(current, "likes") == post.Engagement.Likes &&
		metaInt(current, "reposts") == post.Engagement.Reposts &&
		metaInt(current, "replies") == post.Engagement.Replies {
		t.skip()
		return nil
	}

	existing.Meta = frontmatter.Update(existing.Meta, map[string]any{
		"engagement": engagementMeta(post.Engagement),
		"updated_at": s.clock.Now().Format(time.RFC3339),
	})
	if err := frontmatter.Save(existing, path); err != nil {
		return err
	}
	t.process()
	s.logger.Debug("refreshed post engagement", zap.String("post", post.ID))
	return nil
}

func (s *CollectStage) postMeta(post pipeline.Post) map[string]any {
	meta := map[string]any{
		"id":           post.ID,
		"author":       post.Author,
		"created_at":   post.CreatedAt.UTC().Format(time.RFC3339),
		"engagement":   engagementMeta(post.Engagement),
		"links":        post.Links,
		"tags":         post.Tags,
		"stage":        string(pipeline.StageCollected),
		"collected_at": s.clock.Now().Format(time.RFC3339),
	}
	if post.Thread != nil {
		thread := map[string]any{
			"root_uri": post.Thread.RootURI,
			"position": string(post.Thread.Position),
			"depth":    post.Thread.Depth,
		}
		if post.Thread.ParentURI != "" {
			thread["parent_uri"] = post.Thread.ParentURI
		}
		meta["thread"] = thread
	}
	return meta
}

func engagementMeta(e pipeline.Engagement) map[string]any {
	return map[string]any{
		"likes":   e.Likes,
		"reposts": e.Reposts,
		"replies": e.Replies,
	}
}
