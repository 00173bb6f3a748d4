// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"time"
)

// StageName identifies one phase of the processing pipeline.
type StageName string

// Stage names used in on-disk layout and frontmatter.
const (
	StageCollected StageName = "collected"
	StageFetched   StageName = "fetched"
	StageEvaluated StageName = "evaluated"
	StageReported  StageName = "reported"
)

// ThreadPosition locates a post inside its conversation tree.
type ThreadPosition string

// Thread position values.
const (
	PositionRoot        ThreadPosition = "root"
	PositionReply       ThreadPosition = "reply"
	PositionNestedReply ThreadPosition = "nested_reply"
)

// Engagement holds the engagement counters attached to a post.
type Engagement struct {
	Likes   int `json:"likes" yaml:"likes"`
	Reposts int `json:"reposts" yaml:"reposts"`
	Replies int `json:"replies" yaml:"replies"`
}

// ThreadInfo carries conversation metadata for posts collected via thread
// expansion. Exactly one post per collected thread has PositionRoot and
// Depth zero.
type ThreadInfo struct {
	RootURI   string         `json:"root_uri" yaml:"root_uri"`
	Position  ThreadPosition `json:"position" yaml:"position"`
	Depth     int            `json:"depth" yaml:"depth"`
	ParentURI string         `json:"parent_uri,omitempty" yaml:"parent_uri,omitempty"`
}

// Post is the canonical representation of one feed post.
type Post struct {
	ID         string      `json:"id"`
	Author     string      `json:"author"`
	Content    string      `json:"content"`
	CreatedAt  time.Time   `json:"created_at"`
	Links      []string    `json:"links"`
	Tags       []string    `json:"tags"`
	Engagement Engagement  `json:"engagement"`
	Thread     *ThreadInfo `json:"thread,omitempty"`
}

// ShortID returns the trailing path component of an AT-style URI, or the
// full id when the id has no such structure. Used for filenames.
func (p Post) ShortID() string {
	id := p.ID
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '/' {
			return id[i+1:]
		}
	}
	return id
}

// FetchStatus marks a fetch record as success or error.
type FetchStatus string

// Fetch status values persisted in frontmatter.
const (
	FetchSuccess FetchStatus = "success"
	FetchError   FetchStatus = "error"
)

// FetchRecord is persisted once per URL per date partition by the fetch
// stage and is immutable afterwards, except for FoundInPosts accumulation.
type FetchRecord struct {
	URL          string      `json:"url"`
	FetchedAt    time.Time   `json:"fetched_at"`
	Status       FetchStatus `json:"fetch_status"`
	WordCount    int         `json:"word_count,omitempty"`
	Title        string      `json:"title,omitempty"`
	Author       string      `json:"author,omitempty"`
	Domain       string      `json:"domain"`
	Publication  string      `json:"publication,omitempty"`
	Language     string      `json:"language,omitempty"`
	ErrorType    string      `json:"error_type,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	FoundInPosts []string    `json:"found_in_posts"`
}

// Evaluation is the relevance classification the evaluation service
// returned for one article.
type Evaluation struct {
	URL         string    `json:"url"`
	IsRelated   bool      `json:"is_related"`
	Score       float64   `json:"relevance_score"`
	Summary     string    `json:"summary"`
	Perex       string    `json:"perex"`
	Topics      []string  `json:"key_topics"`
	ContentType string    `json:"content_type"`
	Language    string    `json:"language"`
	EvaluatedAt time.Time `json:"evaluated_at"`
	WordCount   int       `json:"word_count"`
	Truncated   bool      `json:"truncated"`
	Error       string    `json:"error,omitempty"`
}

// Summary reports the outcome of one stage run over a date partition.
// A run always completes and reports counts, no matter how many items failed.
type Summary struct {
	Stage     string `json:"stage"`
	Date      string `json:"date"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Total     int    `json:"total"`
}
