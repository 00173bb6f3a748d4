// Package thread walks conversation trees and flattens them into posts
// annotated with their position inside the thread.
package thread

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/feedscout/feedscout/internal/pipeline"
)

// Config controls how deep a conversation is walked and how politely
// consecutive threads are fetched.
type Config struct {
	// MaxDepth bounds how many reply levels below the root are kept.
	MaxDepth int
	// ParentHeight is passed through to the feed API when resolving a
	// thread from a mid-conversation post.
	ParentHeight int
	// Delay is the pause between consecutive thread fetches.
	Delay time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 6
	}
	if c.ParentHeight <= 0 {
		c.ParentHeight = 10
	}
	if c.Delay <= 0 {
		c.Delay = 300 * time.Millisecond
	}
}

// Collector expands seed posts into full conversations.
type Collector struct {
	client pipeline.FeedClient
	cfg    Config
	logger *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewCollector(client pipeline.FeedClient, cfg Config, logger *zap.Logger) *Collector {
	cfg.applyDefaults()
	return &Collector{
		client: client,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// queued is one breadth-first work item. Depth is relative to the thread
// root, which sits at depth zero.
type queued struct {
	node      *pipeline.ThreadNode
	parentURI string
	depth     int
}

// Collect fetches the conversation containing rootID and returns every
// readable post in breadth-first order, root first. Unreadable nodes
// (deleted, blocked) are skipped but their descendants are still walked.
func (c *Collector) Collect(ctx context.Context, rootID string) ([]pipeline.Post, error) {
	root, err := c.client.GetThread(ctx, rootID, c.cfg.MaxDepth, c.cfg.ParentHeight)
	if err != nil {
		return nil, fmt.Errorf("fetching thread %s: %w", rootID, err)
	}
	if root == nil || root.Post == nil {
		return nil, fmt.Errorf("thread %s: root post unavailable", rootID)
	}

	rootURI := root.Post.ID
	posts := make([]pipeline.Post, 0, 8)
	queue := []queued{{node: root, parentURI: "", depth: 0}}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if item.depth > c.cfg.MaxDepth {
			c.logger.Debug("reply depth limit reached",
				zap.String("root", rootURI),
				zap.Int("depth", item.depth),
			)
			continue
		}

		parentURI := item.parentURI
		if item.node.Post == nil {
			c.logger.Warn("skipping unreadable thread node",
				zap.String("root", rootURI),
				zap.Int("depth", item.depth),
			)
		} else {
			post := *item.node.Post
			post.Thread = &pipeline.ThreadInfo{
				RootURI:   rootURI,
				Position:  positionFor(item.depth),
				Depth:     item.depth,
				ParentURI: item.parentURI,
			}
			posts = append(posts, post)
			parentURI = post.ID
		}

		for _, reply := range item.node.Replies {
			queue = append(queue, queued{
				node:      reply,
				parentURI: parentURI,
				depth:     item.depth + 1,
			})
		}
	}

	return posts, nil
}

// CollectFromSearch expands each seed post into its full conversation,
// visiting every distinct thread at most once. Per-thread failures are
// logged and do not abort the remaining threads.
func (c *Collector) CollectFromSearch(ctx context.Context, seeds []pipeline.Post) ([]pipeline.Post, error) {
	seen := make(map[string]struct{}, len(seeds))
	var out []pipeline.Post

	for _, seed := range seeds {
		rootID := seed.ID
		if seed.Thread != nil && seed.Thread.RootURI != "" {
			rootID = seed.Thread.RootURI
		}
		if _, ok := seen[rootID]; ok {
			c.logger.Debug("thread already collected", zap.String("root", rootID))
			continue
		}
		seen[rootID] = struct{}{}

		if len(seen) > 1 {
			if err := c.sleep(ctx, c.cfg.Delay); err != nil {
				return out, err
			}
		}

		posts, err := c.Collect(ctx, rootID)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			c.logger.Warn("thread collection failed",
				zap.String("root", rootID),
				zap.Error(err),
			)
			continue
		}
		out = append(out, posts...)
	}

	c.logger.Info("thread collection finished",
		zap.Int("threads", len(seen)),
		zap.Int("posts", len(out)),
	)
	return out, nil
}

func positionFor(depth int) pipeline.ThreadPosition {
	switch {
	case depth == 0:
		return pipeline.PositionRoot
	case depth == 1:
		return pipeline.PositionReply
	default:
		return pipeline.PositionNestedReply
	}
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
