// Package stage implements the date-partitioned pipeline stages: collect,
// fetch, evaluate and report. Each stage reads the previous stage's
// partition and writes one frontmatter file per item, skipping items
// whose output file already exists.
package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/feedscout/feedscout/internal/hash/sha256"
	"github.com/feedscout/feedscout/internal/pipeline"
)

// DateFormat is the partition directory name layout.
const DateFormat = "2006-01-02"

// Layout maps stages and dates onto the on-disk directory tree
// <root>/<stage>/<YYYY-MM-DD>/<item>.md.
type Layout struct {
	Root   string
	hasher *sha256.Hasher
}

func NewLayout(root string) Layout {
	return Layout{Root: root, hasher: sha256.New()}
}

// Dir returns the partition directory for a stage and day.
func (l Layout) Dir(stage pipeline.StageName, day time.Time) string {
	return filepath.Join(l.Root, string(stage), day.Format(DateFormat))
}

// EnsureDir creates the partition directory if missing.
func (l Layout) EnsureDir(stage pipeline.StageName, day time.Time) (string, error) {
	dir := l.Dir(stage, day)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating stage dir %s: %w", dir, err)
	}
	return dir, nil
}

// PostPath is the item path for a post, keyed by the trailing component
// of its AT URI.
func (l Layout) PostPath(stage pipeline.StageName, day time.Time, post pipeline.Post) string {
	return filepath.Join(l.Dir(stage, day), "post_"+post.ShortID()+".md")
}

// URLPath is the item path for a fetched URL, keyed by a short content
// hash so reruns land on the same file.
func (l Layout) URLPath(stage pipeline.StageName, day time.Time, url string) string {
	return filepath.Join(l.Dir(stage, day), "url_"+l.hasher.ItemID(url)+".md")
}

// ListItems returns the markdown files of one partition, sorted by name.
// A missing partition is an empty list, not an error.
func (l Layout) ListItems(stage pipeline.StageName, day time.Time) ([]string, error) {
	return l.listDir(l.Dir(stage, day))
}

func (l Layout) listDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	var items []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		items = append(items, filepath.Join(dir, e.Name()))
	}
	sort.Strings(items)
	return items, nil
}

// Dates lists the partition days present for a stage, oldest first.
// Directory names that are not dates are ignored.
func (l Layout) Dates(stage pipeline.StageName) ([]time.Time, error) {
	dir := filepath.Join(l.Root, string(stage))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing stage %s: %w", stage, err)
	}
	var days []time.Time
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		day, err := time.Parse(DateFormat, e.Name())
		if err != nil {
			continue
		}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

// window returns the days from runDate-daysBack through runDate.
func window(runDate time.Time, daysBack int) []time.Time {
	days := make([]time.Time, 0, daysBack+1)
	for i := daysBack; i >= 0; i-- {
		days = append(days, runDate.AddDate(0, 0, -i))
	}
	return days
}
