package pipeline

import (
	"context"
	"time"
)

// ThreadNode is one node of a conversation tree returned by the feed.
// Payload is nil when the node carried no parseable post; Replies are
// still traversed in that case.
type ThreadNode struct {
	Post    *Post
	Replies []*ThreadNode
}

// FeedClient is the social feed collaborator consumed by the collect and
// thread subsystems. Query construction happens outside the core; the
// client receives a ready-made query string.
type FeedClient interface {
	SearchPosts(ctx context.Context, query string, limit int, cursor string, sort string) ([]Post, string, error)
	GetThread(ctx context.Context, postID string, depth, parentHeight int) (*ThreadNode, error)
}

// EvaluationRequest carries the article text plus hints for the
// evaluation service.
type EvaluationRequest struct {
	Text            string
	Title           string
	Language        string
	ContentTypeHint string
}

// Evaluator classifies article relevance via the external evaluation
// service. Implementations own their own retry budget; a malformed reply
// degrades to a default unrelated record instead of an error.
type Evaluator interface {
	Evaluate(ctx context.Context, req EvaluationRequest) (Evaluation, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
