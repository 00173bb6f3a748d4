package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
storage:
  stages_root: /data/stages
  registry_path: /data/registry/urls.db
search:
  query: '"connection pooling"'
  max_posts: 50
  collect_threads: false
threads:
  max_depth: 4
  delay_ms: 500
fetcher:
  max_retries: 2
  backoff_base_ms: 250
  timeout_seconds: 20
  max_concurrent: 3
extractor:
  min_content_length: 200
  max_content_length: 20000
evaluation:
  endpoint: https://llm.internal/v1/chat/completions
  model: gpt-4o-mini
  api_key: secret
report:
  min_relevance: 0.5
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.StagesRoot != "/data/stages" {
		t.Fatalf("expected stages root override, got %q", cfg.Storage.StagesRoot)
	}
	if cfg.Search.MaxPosts != 50 || cfg.Search.CollectThreads {
		t.Fatalf("expected search overrides to apply: %+v", cfg.Search)
	}
	if cfg.Threads.MaxDepth != 4 {
		t.Fatalf("expected thread depth 4, got %d", cfg.Threads.MaxDepth)
	}
	if cfg.Evaluation.Model != "gpt-4o-mini" || cfg.Evaluation.APIKey != "secret" {
		t.Fatalf("expected evaluation overrides to apply: %+v", cfg.Evaluation)
	}
	if cfg.Report.MinRelevance != 0.5 {
		t.Fatalf("expected min relevance 0.5, got %v", cfg.Report.MinRelevance)
	}
	if got := cfg.FetchTimeout(); got != 20*time.Second {
		t.Fatalf("expected fetch timeout 20s, got %v", got)
	}
	if got := cfg.ThreadDelay(); got != 500*time.Millisecond {
		t.Fatalf("expected thread delay 500ms, got %v", got)
	}
	if cfg.Feed.BaseURL != "https://public.api.bsky.app" {
		t.Fatalf("expected default feed base url, got %q", cfg.Feed.BaseURL)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Search.MaxPosts != 100 {
		t.Fatalf("expected default max_posts 100, got %d", cfg.Search.MaxPosts)
	}
	if cfg.Fetcher.MaxConcurrent != 5 {
		t.Fatalf("expected default max_concurrent 5, got %d", cfg.Fetcher.MaxConcurrent)
	}
	if cfg.Report.MinRelevance != 0.3 {
		t.Fatalf("expected default min_relevance 0.3, got %v", cfg.Report.MinRelevance)
	}
	if cfg.Cron.Schedule == "" {
		t.Fatalf("expected a default cron schedule")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Storage:   StorageConfig{StagesRoot: "stages", RegistryPath: "registry/urls.db"},
		Search:    SearchConfig{MaxPosts: 10},
		Threads:   ThreadsConfig{MaxDepth: 6},
		Fetcher:   FetcherConfig{MaxConcurrent: 5},
		Extractor: ExtractorConfig{MinContentLength: 100, MaxContentLength: 50000},
		Report:    ReportConfig{MinRelevance: 0.3},
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "missing stages root",
			mutate: func(c *Config) { c.Storage.StagesRoot = "" },
			want:   "storage.stages_root",
		},
		{
			name:   "invalid max posts",
			mutate: func(c *Config) { c.Search.MaxPosts = 0 },
			want:   "search.max_posts",
		},
		{
			name:   "invalid concurrency",
			mutate: func(c *Config) { c.Fetcher.MaxConcurrent = 0 },
			want:   "fetcher.max_concurrent",
		},
		{
			name:   "inverted content bounds",
			mutate: func(c *Config) { c.Extractor.MaxContentLength = 10 },
			want:   "max_content_length",
		},
		{
			name:   "relevance out of range",
			mutate: func(c *Config) { c.Report.MinRelevance = 1.5 },
			want:   "min_relevance",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %q", tt.want, err.Error())
			}
		})
	}
}
