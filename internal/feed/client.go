// Package feed talks to an AT Protocol AppView over XRPC and converts
// its post payloads into the canonical pipeline types.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/feedscout/feedscout/internal/pipeline"
)

const (
	defaultBaseURL = "https://public.api.bsky.app"
	defaultTimeout = 30 * time.Second
	pageDelay      = 500 * time.Millisecond
	searchPageSize = 25
)

// Config holds the AppView endpoint settings.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

// Client is an XRPC client for the post search and thread endpoints.
// It implements pipeline.FeedClient.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		sleep:  sleepCtx,
	}
}

// SearchPosts runs one page of app.bsky.feed.searchPosts. Posts that
// fail normalization are logged and dropped, never fail the page.
func (c *Client) SearchPosts(ctx context.Context, query string, limit int, cursor, sort string) ([]pipeline.Post, string, error) {
	if limit <= 0 {
		limit = searchPageSize
	}
	if sort == "" {
		sort = "latest"
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("sort", sort)
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var resp struct {
		Posts  []json.RawMessage `json:"posts"`
		Cursor string            `json:"cursor"`
	}
	if err := c.get(ctx, "app.bsky.feed.searchPosts", params, &resp); err != nil {
		return nil, "", err
	}

	posts := make([]pipeline.Post, 0, len(resp.Posts))
	for _, raw := range resp.Posts {
		post, err := NormalizePost(raw)
		if err != nil {
			c.logger.Warn("dropping unconvertible post", zap.Error(err))
			continue
		}
		posts = append(posts, post)
	}

	c.logger.Info("search page fetched",
		zap.String("query", query),
		zap.Int("posts", len(posts)),
	)
	return posts, resp.Cursor, nil
}

// CollectPosts pages through search results until maxPosts are gathered
// or the cursor runs out, pausing briefly between pages.
func (c *Client) CollectPosts(ctx context.Context, query string, maxPosts int) ([]pipeline.Post, error) {
	var all []pipeline.Post
	cursor := ""

	for len(all) < maxPosts {
		batch := maxPosts - len(all)
		if batch > searchPageSize {
			batch = searchPageSize
		}
		posts, next, err := c.SearchPosts(ctx, query, batch, cursor, "latest")
		if err != nil {
			return all, err
		}
		if len(posts) == 0 {
			break
		}
		all = append(all, posts...)
		if next == "" {
			break
		}
		cursor = next
		if err := c.sleep(ctx, pageDelay); err != nil {
			return all, err
		}
	}
	return all, nil
}

// GetThread fetches app.bsky.feed.getPostThread for one post and maps
// the thread union into ThreadNodes. Unreadable branches (not found,
// blocked) become nodes with a nil Post.
func (c *Client) GetThread(ctx context.Context, postID string, depth, parentHeight int) (*pipeline.ThreadNode, error) {
	params := url.Values{}
	params.Set("uri", postID)
	params.Set("depth", strconv.Itoa(depth))
	params.Set("parentHeight", strconv.Itoa(parentHeight))

	var resp struct {
		Thread json.RawMessage `json:"thread"`
	}
	if err := c.get(ctx, "app.bsky.feed.getPostThread", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Thread) == 0 {
		return nil, fmt.Errorf("thread %s: empty response", postID)
	}
	return c.buildNode(resp.Thread), nil
}

func (c *Client) get(ctx context.Context, method string, params url.Values, out any) error {
	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/xrpc/" + method + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building %s request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	return nil
}

// threadView is the app.bsky.feed.defs thread union. NotFound and
// Blocked mark branches whose post cannot be read.
type threadView struct {
	Post     json.RawMessage   `json:"post"`
	Replies  []json.RawMessage `json:"replies"`
	NotFound bool              `json:"notFound"`
	Blocked  bool              `json:"blocked"`
}

func (c *Client) buildNode(raw json.RawMessage) *pipeline.ThreadNode {
	var view threadView
	if err := json.Unmarshal(raw, &view); err != nil {
		c.logger.Warn("unparseable thread node", zap.Error(err))
		return &pipeline.ThreadNode{}
	}

	node := &pipeline.ThreadNode{}
	if !view.NotFound && !view.Blocked && len(view.Post) > 0 {
		post, err := NormalizePost(view.Post)
		if err != nil {
			c.logger.Warn("dropping unconvertible thread post", zap.Error(err))
		} else {
			node.Post = &post
		}
	}
	for _, reply := range view.Replies {
		node.Replies = append(node.Replies, c.buildNode(reply))
	}
	return node
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
