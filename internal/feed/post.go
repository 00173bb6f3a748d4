package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/feedscout/feedscout/internal/pipeline"
)

const (
	featureLink = "app.bsky.richtext.facet#link"
	featureTag  = "app.bsky.richtext.facet#tag"
)

// postView is a bare app.bsky.feed.defs#postView payload.
type postView struct {
	URI    string `json:"uri"`
	Author struct {
		Handle string `json:"handle"`
	} `json:"author"`
	Record struct {
		Text      string  `json:"text"`
		CreatedAt string  `json:"createdAt"`
		Facets    []facet `json:"facets"`
	} `json:"record"`
	LikeCount   int `json:"likeCount"`
	RepostCount int `json:"repostCount"`
	ReplyCount  int `json:"replyCount"`
}

type facet struct {
	Features []feature `json:"features"`
}

type feature struct {
	Type string `json:"$type"`
	URI  string `json:"uri"`
	Tag  string `json:"tag"`
}

// NormalizePost converts either of the two post payload shapes the API
// serves into a canonical Post: a feed item wrapping the view under
// "post", or the bare post view itself.
func NormalizePost(raw json.RawMessage) (pipeline.Post, error) {
	var probe struct {
		Post json.RawMessage `json:"post"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return pipeline.Post{}, fmt.Errorf("unparseable post payload: %w", err)
	}
	if len(probe.Post) > 0 {
		raw = probe.Post
	}

	var view postView
	if err := json.Unmarshal(raw, &view); err != nil {
		return pipeline.Post{}, fmt.Errorf("unparseable post view: %w", err)
	}
	if view.URI == "" {
		return pipeline.Post{}, fmt.Errorf("post payload has no uri")
	}
	if strings.TrimSpace(view.Record.Text) == "" {
		return pipeline.Post{}, fmt.Errorf("post %s: content is empty", view.URI)
	}

	createdAt, err := time.Parse(time.RFC3339, view.Record.CreatedAt)
	if err != nil {
		return pipeline.Post{}, fmt.Errorf("post %s: bad createdAt %q: %w", view.URI, view.Record.CreatedAt, err)
	}

	var links, tags []string
	for _, f := range view.Record.Facets {
		for _, feat := range f.Features {
			switch {
			case feat.Type == featureLink && feat.URI != "":
				links = append(links, feat.URI)
			case feat.Type == featureTag && feat.Tag != "":
				tags = append(tags, feat.Tag)
			}
		}
	}

	return pipeline.Post{
		ID:        view.URI,
		Author:    view.Author.Handle,
		Content:   view.Record.Text,
		CreatedAt: createdAt.UTC(),
		Links:     links,
		Tags:      tags,
		Engagement: pipeline.Engagement{
			Likes:   view.LikeCount,
			Reposts: view.RepostCount,
			Replies: view.ReplyCount,
		},
	}, nil
}
