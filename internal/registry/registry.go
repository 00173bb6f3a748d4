// Package registry tracks every URL the pipeline has ever seen, its
// first-seen context, occurrence count, and evaluation outcome.
//
// The registry is loaded once at the start of a run, mutated in memory,
// and persisted once at the end. It is not safe for concurrent
// multi-process mutation.
package registry

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/feedscout/feedscout/internal/pipeline"
)

// Entry is one row of the registry table, keyed by normalized URL.
type Entry struct {
	URL             string
	FirstSeen       time.Time
	PublishedDate   *time.Time
	FirstPostID     string
	FirstPostAuthor string
	TimesSeen       int
	LastUpdated     time.Time
	Evaluated       bool
	EvaluatedAt     *time.Time
	IsRelated       bool
	RelevanceScore  float64
}

// Stats summarizes the registry table.
type Stats struct {
	TotalURLs         int
	TotalOccurrences  int
	UniqueDomains     int
	EvaluatedURLs     int
	RelatedURLs       int
	AvgRelevanceScore float64
}

// Registry is the in-memory URL dedup table.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
	clock   pipeline.Clock
	logger  *zap.Logger
}

// New returns an empty registry.
func New(clock pipeline.Clock, logger *zap.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		clock:   clock,
		logger:  logger,
	}
}

// Normalize standardizes a URL for comparison. The only rewrite is
// stripping a trailing slash when the path is empty, so
// "https://example.com/" and "https://example.com" collapse to one key.
func Normalize(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	if !strings.HasSuffix(trimmed, "/") {
		return trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	if (u.Path == "/" || u.Path == "") && u.RawQuery == "" && u.Fragment == "" {
		return strings.TrimSuffix(trimmed, "/")
	}
	return trimmed
}

// Add records one sighting of a URL. On first sighting it creates an
// entry with TimesSeen 1 and returns true. On a repeat it increments
// TimesSeen, touches LastUpdated, leaves the first-seen context alone,
// and returns false.
func (r *Registry) Add(rawURL, postID, author string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Normalize(rawURL)
	now := r.clock.Now()
	if e, ok := r.entries[key]; ok {
		e.TimesSeen++
		e.LastUpdated = now
		return false
	}
	r.entries[key] = &Entry{
		URL:             key,
		FirstSeen:       now,
		FirstPostID:     postID,
		FirstPostAuthor: author,
		TimesSeen:       1,
		LastUpdated:     now,
	}
	return true
}

// Get returns a copy of the entry for a URL.
func (r *Registry) Get(rawURL string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[Normalize(rawURL)]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Contains reports whether the URL is known to the registry.
func (r *Registry) Contains(rawURL string) bool {
	_, ok := r.Get(rawURL)
	return ok
}

// IsEvaluated reports whether the URL has an evaluation outcome recorded.
func (r *Registry) IsEvaluated(rawURL string) bool {
	e, ok := r.Get(rawURL)
	return ok && e.Evaluated
}

// MarkEvaluated records the evaluation outcome for a URL. Unknown URLs
// are logged and ignored.
func (r *Registry) MarkEvaluated(rawURL string, isRelated bool, score float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Normalize(rawURL)
	e, ok := r.entries[key]
	if !ok {
		r.logger.Warn("mark evaluated for unknown url", zap.String("url", key))
		return
	}
	now := r.clock.Now()
	e.Evaluated = true
	e.EvaluatedAt = &now
	e.IsRelated = isRelated
	e.RelevanceScore = score
	e.LastUpdated = now
}

// SetPublishedDate records the article publish date when extraction
// discovered one.
func (r *Registry) SetPublishedDate(rawURL string, published time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[Normalize(rawURL)]; ok {
		e.PublishedDate = &published
	}
}

// Stats computes aggregate numbers over the whole table.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{TotalURLs: len(r.entries)}
	domains := make(map[string]struct{})
	var scoreSum float64
	for _, e := range r.entries {
		s.TotalOccurrences += e.TimesSeen
		if u, err := url.Parse(e.URL); err == nil && u.Host != "" {
			domains[u.Host] = struct{}{}
		}
		if e.Evaluated {
			s.EvaluatedURLs++
			scoreSum += e.RelevanceScore
			if e.IsRelated {
				s.RelatedURLs++
			}
		}
	}
	s.UniqueDomains = len(domains)
	if s.EvaluatedURLs > 0 {
		s.AvgRelevanceScore = scoreSum / float64(s.EvaluatedURLs)
	}
	return s
}

// snapshot returns all entries ordered by URL for deterministic saves.
func (r *Registry) snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// replace swaps the whole table for the given entries.
func (r *Registry) replace(entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]*Entry, len(entries))
	for i := range entries {
		e := entries[i]
		r.entries[e.URL] = &e
	}
}
