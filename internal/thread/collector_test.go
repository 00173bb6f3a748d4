package thread

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feedscout/feedscout/internal/pipeline"
)

type fakeFeedClient struct {
	threads map[string]*pipeline.ThreadNode
	errs    map[string]error
	calls   []string
}

func (f *fakeFeedClient) SearchPosts(ctx context.Context, query string, limit int, cursor, sort string) ([]pipeline.Post, string, error) {
	return nil, "", errors.New("not used")
}

func (f *fakeFeedClient) GetThread(ctx context.Context, postID string, depth, parentHeight int) (*pipeline.ThreadNode, error) {
	f.calls = append(f.calls, postID)
	if err, ok := f.errs[postID]; ok {
		return nil, err
	}
	return f.threads[postID], nil
}

func post(id string) *pipeline.Post {
	return &pipeline.Post{ID: "at://did:plc:test/app.bsky.feed.post/" + id, Author: "alice.example"}
}

func newTestCollector(client pipeline.FeedClient) *Collector {
	c := NewCollector(client, Config{}, zap.NewNop())
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestCollectAssignsPositions(t *testing.T) {
	t.Parallel()

	root := post("root")
	tree := &pipeline.ThreadNode{
		Post: root,
		Replies: []*pipeline.ThreadNode{
			{Post: post("r1"), Replies: []*pipeline.ThreadNode{
				{Post: post("r1a")},
			}},
			{Post: post("r2")},
		},
	}
	client := &fakeFeedClient{threads: map[string]*pipeline.ThreadNode{root.ID: tree}}

	posts, err := newTestCollector(client).Collect(context.Background(), root.ID)
	require.NoError(t, err)
	require.Len(t, posts, 4)

	require.Equal(t, pipeline.PositionRoot, posts[0].Thread.Position)
	require.Equal(t, 0, posts[0].Thread.Depth)
	require.Equal(t, "", posts[0].Thread.ParentURI)

	var roots, replies, nested int
	for _, p := range posts {
		require.Equal(t, root.ID, p.Thread.RootURI)
		switch p.Thread.Position {
		case pipeline.PositionRoot:
			roots++
		case pipeline.PositionReply:
			replies++
			require.Equal(t, root.ID, p.Thread.ParentURI)
		case pipeline.PositionNestedReply:
			nested++
		}
	}
	require.Equal(t, 1, roots, "exactly one root per thread")
	require.Equal(t, 2, replies)
	require.Equal(t, 1, nested)
}

func TestCollectSkipsUnreadableNodesButWalksDescendants(t *testing.T) {
	t.Parallel()

	root := post("root")
	tree := &pipeline.ThreadNode{
		Post: root,
		Replies: []*pipeline.ThreadNode{
			{Post: nil, Replies: []*pipeline.ThreadNode{
				{Post: post("orphan")},
			}},
		},
	}
	client := &fakeFeedClient{threads: map[string]*pipeline.ThreadNode{root.ID: tree}}

	posts, err := newTestCollector(client).Collect(context.Background(), root.ID)
	require.NoError(t, err)
	require.Len(t, posts, 2)

	orphan := posts[1]
	require.Equal(t, pipeline.PositionNestedReply, orphan.Thread.Position)
	require.Equal(t, 2, orphan.Thread.Depth)
	require.Equal(t, root.ID, orphan.Thread.ParentURI, "parent falls back to nearest readable ancestor")
}

func TestCollectEnforcesDepthLimit(t *testing.T) {
	t.Parallel()

	root := post("root")
	deep := &pipeline.ThreadNode{Post: post("d1"), Replies: []*pipeline.ThreadNode{
		{Post: post("d2"), Replies: []*pipeline.ThreadNode{
			{Post: post("d3")},
		}},
	}}
	client := &fakeFeedClient{threads: map[string]*pipeline.ThreadNode{
		root.ID: {Post: root, Replies: []*pipeline.ThreadNode{deep}},
	}}

	c := NewCollector(client, Config{MaxDepth: 2}, zap.NewNop())
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	posts, err := c.Collect(context.Background(), root.ID)
	require.NoError(t, err)
	require.Len(t, posts, 3, "d3 at depth 3 excluded")
	for _, p := range posts {
		require.LessOrEqual(t, p.Thread.Depth, 2)
	}
}

func TestCollectRootUnavailable(t *testing.T) {
	t.Parallel()

	root := post("root")
	client := &fakeFeedClient{threads: map[string]*pipeline.ThreadNode{root.ID: {Post: nil}}}
	_, err := newTestCollector(client).Collect(context.Background(), root.ID)
	require.ErrorContains(t, err, "root post unavailable")
}

func TestCollectFromSearchDeduplicatesRoots(t *testing.T) {
	t.Parallel()

	root := post("root")
	tree := &pipeline.ThreadNode{Post: root, Replies: []*pipeline.ThreadNode{{Post: post("r1")}}}
	client := &fakeFeedClient{threads: map[string]*pipeline.ThreadNode{root.ID: tree}}

	reply := *post("r1")
	reply.Thread = &pipeline.ThreadInfo{RootURI: root.ID, Position: pipeline.PositionReply, Depth: 1}
	seeds := []pipeline.Post{*root, reply, *root}

	posts, err := newTestCollector(client).CollectFromSearch(context.Background(), seeds)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	require.Equal(t, []string{root.ID}, client.calls, "one thread fetch for three seeds")
}

func TestCollectFromSearchContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	good := post("good")
	bad := post("bad")
	client := &fakeFeedClient{
		threads: map[string]*pipeline.ThreadNode{good.ID: {Post: good}},
		errs:    map[string]error{bad.ID: errors.New("boom")},
	}

	posts, err := newTestCollector(client).CollectFromSearch(context.Background(), []pipeline.Post{*bad, *good})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, good.ID, posts[0].ID)
}

func TestCollectFromSearchHonorsCancellation(t *testing.T) {
	t.Parallel()

	a, b := post("a"), post("b")
	client := &fakeFeedClient{threads: map[string]*pipeline.ThreadNode{
		a.ID: {Post: a},
		b.ID: {Post: b},
	}}

	c := NewCollector(client, Config{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	posts, err := c.CollectFromSearch(ctx, []pipeline.Post{*a, *b})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, posts, 1, "first thread collected before cancellation")
}
