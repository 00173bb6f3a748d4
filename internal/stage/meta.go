package stage

import (
	"time"

	"github.com/feedscout/feedscout/internal/metrics"
	"github.com/feedscout/feedscout/internal/pipeline"
)

// tally accumulates per-batch counters and mirrors each outcome to the
// stage metrics.
type tally struct {
	stage     pipeline.StageName
	processed int
	skipped   int
	failed    int
}

func newTally(stage pipeline.StageName) *tally {
	return &tally{stage: stage}
}

func (t *tally) process() {
	t.processed++
	metrics.StageItems.WithLabelValues(string(t.stage), "processed").Inc()
}

func (t *tally) skip() {
	t.skipped++
	metrics.StageItems.WithLabelValues(string(t.stage), "skipped").Inc()
}

func (t *tally) fail() {
	t.failed++
	metrics.StageItems.WithLabelValues(string(t.stage), "failed").Inc()
}

func (t *tally) summary(day time.Time) pipeline.Summary {
	return pipeline.Summary{
		Stage:     string(t.stage),
		Date:      day.Format(DateFormat),
		Processed: t.processed,
		Skipped:   t.skipped,
		Failed:    t.failed,
		Total:     t.processed + t.skipped + t.failed,
	}
}

// Frontmatter access helpers. YAML round-trips leave values as any, so
// readers normalize the handful of shapes the decoder produces.

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

func metaStrings(meta map[string]any, key string) []string {
	raw, ok := meta[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func metaFloat(meta map[string]any, key string) float64 {
	switch v := meta[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func metaMap(meta map[string]any, key string) map[string]any {
	if v, ok := meta[key].(map[string]any); ok {
		return v
	}
	return nil
}

func metaTime(meta map[string]any, key string) (time.Time, bool) {
	switch v := meta[key].(type) {
	case time.Time:
		return v.UTC(), true
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
