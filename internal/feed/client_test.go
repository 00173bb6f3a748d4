package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feedscout/feedscout/internal/pipeline"
)

const barePostJSON = `{
  "uri": "at://did:plc:abc/app.bsky.feed.post/3k001",
  "author": {"did": "did:plc:abc", "handle": "alice.example"},
  "record": {
    "$type": "app.bsky.feed.post",
    "text": "New write-up on connection pooling, worth a read",
    "createdAt": "2026-08-30T12:00:00Z",
    "facets": [
      {"features": [{"$type": "app.bsky.richtext.facet#link", "uri": "https://example.com/pooling"}]},
      {"features": [{"$type": "app.bsky.richtext.facet#tag", "tag": "databases"}]}
    ]
  },
  "likeCount": 7,
  "repostCount": 2,
  "replyCount": 3
}`

func TestNormalizePostBareView(t *testing.T) {
	t.Parallel()

	post, err := NormalizePost(json.RawMessage(barePostJSON))
	require.NoError(t, err)
	require.Equal(t, "at://did:plc:abc/app.bsky.feed.post/3k001", post.ID)
	require.Equal(t, "alice.example", post.Author)
	require.Equal(t, []string{"https://example.com/pooling"}, post.Links)
	require.Equal(t, []string{"databases"}, post.Tags)
	require.Equal(t, pipeline.Engagement{Likes: 7, Reposts: 2, Replies: 3}, post.Engagement)
	require.Equal(t, time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC), post.CreatedAt)
}

func TestNormalizePostWrappedView(t *testing.T) {
	t.Parallel()

	wrapped := json.RawMessage(`{"post": ` + barePostJSON + `, "reason": {"$type": "app.bsky.feed.defs#reasonRepost"}}`)
	post, err := NormalizePost(wrapped)
	require.NoError(t, err)
	require.Equal(t, "at://did:plc:abc/app.bsky.feed.post/3k001", post.ID)
	require.Equal(t, "alice.example", post.Author)
}

func TestNormalizePostRejectsEmptyContent(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{
	  "uri": "at://did:plc:abc/app.bsky.feed.post/3k002",
	  "author": {"handle": "bob.example"},
	  "record": {"text": "   ", "createdAt": "2026-08-30T12:00:00Z"}
	}`)
	_, err := NormalizePost(raw)
	require.ErrorContains(t, err, "content is empty")
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestSearchPostsDropsBadEntries(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xrpc/app.bsky.feed.searchPosts", r.URL.Path)
		require.Equal(t, "pooling", r.URL.Query().Get("q"))
		require.Equal(t, "latest", r.URL.Query().Get("sort"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"posts": [` + barePostJSON + `, {"uri": "", "record": {"text": "x"}}], "cursor": "page2"}`))
	}))

	posts, cursor, err := client.SearchPosts(context.Background(), "pooling", 25, "", "")
	require.NoError(t, err)
	require.Len(t, posts, 1, "post without uri dropped")
	require.Equal(t, "page2", cursor)
}

func TestSearchPostsHTTPError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"RateLimitExceeded"}`, http.StatusTooManyRequests)
	}))

	_, _, err := client.SearchPosts(context.Background(), "q", 10, "", "latest")
	require.ErrorContains(t, err, "status 429")
}

func TestCollectPostsPagination(t *testing.T) {
	t.Parallel()

	pages := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		cursor := ""
		if pages == 1 {
			require.Empty(t, r.URL.Query().Get("cursor"))
			cursor = `"cursor": "next",`
		} else {
			require.Equal(t, "next", r.URL.Query().Get("cursor"))
		}
		w.Write([]byte(`{` + cursor + `"posts": [` + barePostJSON + `]}`))
	}))

	posts, err := client.CollectPosts(context.Background(), "pooling", 5)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	require.Equal(t, 2, pages, "stops when cursor runs out")
}

func TestGetThreadMapsUnion(t *testing.T) {
	t.Parallel()

	reply := `{
	  "$type": "app.bsky.feed.defs#threadViewPost",
	  "post": {
	    "uri": "at://did:plc:abc/app.bsky.feed.post/3k010",
	    "author": {"handle": "carol.example"},
	    "record": {"text": "agreed", "createdAt": "2026-08-30T13:00:00Z"}
	  }
	}`
	blocked := `{"$type": "app.bsky.feed.defs#blockedPost", "uri": "at://x", "blocked": true}`

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xrpc/app.bsky.feed.getPostThread", r.URL.Path)
		require.Equal(t, "6", r.URL.Query().Get("depth"))
		require.Equal(t, "10", r.URL.Query().Get("parentHeight"))
		w.Write([]byte(`{"thread": {
		  "$type": "app.bsky.feed.defs#threadViewPost",
		  "post": ` + barePostJSON + `,
		  "replies": [` + reply + `, ` + blocked + `]
		}}`))
	}))

	node, err := client.GetThread(context.Background(), "at://did:plc:abc/app.bsky.feed.post/3k001", 6, 10)
	require.NoError(t, err)
	require.NotNil(t, node.Post)
	require.Equal(t, "alice.example", node.Post.Author)
	require.Len(t, node.Replies, 2)
	require.NotNil(t, node.Replies[0].Post)
	require.Equal(t, "carol.example", node.Replies[0].Post.Author)
	require.Nil(t, node.Replies[1].Post, "blocked branch carries no post")
}
