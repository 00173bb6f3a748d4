// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	Storage    StorageConfig    `mapstructure:"storage"`
	Search     SearchConfig     `mapstructure:"search"`
	Threads    ThreadsConfig    `mapstructure:"threads"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"`
	Extractor  ExtractorConfig  `mapstructure:"extractor"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Report     ReportConfig     `mapstructure:"report"`
	Cron       CronConfig       `mapstructure:"cron"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// StorageConfig sets the on-disk locations for stage output and the URL
// registry snapshot.
type StorageConfig struct {
	StagesRoot   string `mapstructure:"stages_root"`
	RegistryPath string `mapstructure:"registry_path"`
}

// SearchConfig governs the collect stage.
type SearchConfig struct {
	Query          string `mapstructure:"query"`
	MaxPosts       int    `mapstructure:"max_posts"`
	CollectThreads bool   `mapstructure:"collect_threads"`
}

// ThreadsConfig bounds conversation expansion.
type ThreadsConfig struct {
	MaxDepth     int `mapstructure:"max_depth"`
	ParentHeight int `mapstructure:"parent_height"`
	DelayMs      int `mapstructure:"delay_ms"`
}

// FetcherConfig configures HTTP fetch retry and concurrency behavior.
type FetcherConfig struct {
	MaxRetries     int    `mapstructure:"max_retries"`
	BackoffBaseMs  int    `mapstructure:"backoff_base_ms"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxConcurrent  int    `mapstructure:"max_concurrent"`
	MaxContentSize int    `mapstructure:"max_content_size"`
	UserAgent      string `mapstructure:"user_agent"`
	DaysBack       int    `mapstructure:"days_back"`
}

// ExtractorConfig bounds the text kept from extracted articles.
type ExtractorConfig struct {
	MinContentLength int `mapstructure:"min_content_length"`
	MaxContentLength int `mapstructure:"max_content_length"`
}

// EvaluationConfig points at the relevance evaluation service.
type EvaluationConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	MaxWords    int     `mapstructure:"max_words"`
	MaxChars    int     `mapstructure:"max_chars"`
	DaysBack    int     `mapstructure:"days_back"`
	DelayMs     int     `mapstructure:"delay_ms"`
}

// FeedConfig points at the AppView XRPC endpoint.
type FeedConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// ReportConfig controls digest generation.
type ReportConfig struct {
	DaysBack     int     `mapstructure:"days_back"`
	MinRelevance float64 `mapstructure:"min_relevance"`
}

// CronConfig drives daemon mode.
type CronConfig struct {
	Schedule string `mapstructure:"schedule"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FEEDSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.stages_root", "stages")
	v.SetDefault("storage.registry_path", "registry/urls.db")
	v.SetDefault("search.query", "")
	v.SetDefault("search.max_posts", 100)
	v.SetDefault("search.collect_threads", true)
	v.SetDefault("threads.max_depth", 6)
	v.SetDefault("threads.parent_height", 10)
	v.SetDefault("threads.delay_ms", 300)
	v.SetDefault("fetcher.max_retries", 3)
	v.SetDefault("fetcher.backoff_base_ms", 1000)
	v.SetDefault("fetcher.timeout_seconds", 30)
	v.SetDefault("fetcher.max_concurrent", 5)
	v.SetDefault("fetcher.max_content_size", 10*1024*1024)
	v.SetDefault("fetcher.days_back", 7)
	v.SetDefault("extractor.min_content_length", 100)
	v.SetDefault("extractor.max_content_length", 50000)
	v.SetDefault("evaluation.temperature", 0.2)
	v.SetDefault("evaluation.max_tokens", 1024)
	v.SetDefault("evaluation.max_words", 10000)
	v.SetDefault("evaluation.max_chars", 40000)
	v.SetDefault("evaluation.days_back", 7)
	v.SetDefault("evaluation.delay_ms", 300)
	v.SetDefault("feed.base_url", "https://public.api.bsky.app")
	v.SetDefault("feed.timeout_seconds", 30)
	v.SetDefault("report.days_back", 0)
	v.SetDefault("report.min_relevance", 0.3)
	v.SetDefault("cron.schedule", "0 6 * * *")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Storage.StagesRoot == "" {
		return fmt.Errorf("storage.stages_root must be set")
	}
	if c.Storage.RegistryPath == "" {
		return fmt.Errorf("storage.registry_path must be set")
	}
	if c.Search.MaxPosts <= 0 {
		return fmt.Errorf("search.max_posts must be > 0")
	}
	if c.Threads.MaxDepth <= 0 {
		return fmt.Errorf("threads.max_depth must be > 0")
	}
	if c.Fetcher.MaxRetries < 0 {
		return fmt.Errorf("fetcher.max_retries must be >= 0")
	}
	if c.Fetcher.MaxConcurrent <= 0 {
		return fmt.Errorf("fetcher.max_concurrent must be > 0")
	}
	if c.Extractor.MinContentLength <= 0 {
		return fmt.Errorf("extractor.min_content_length must be > 0")
	}
	if c.Extractor.MaxContentLength < c.Extractor.MinContentLength {
		return fmt.Errorf("extractor.max_content_length must be >= min_content_length")
	}
	if c.Report.MinRelevance < 0 || c.Report.MinRelevance > 1 {
		return fmt.Errorf("report.min_relevance must be within [0, 1]")
	}
	return nil
}

// FetchTimeout converts the fetcher timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}

// BackoffBase converts the fetcher backoff base into a duration.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Fetcher.BackoffBaseMs) * time.Millisecond
}

// ThreadDelay converts the thread courtesy delay into a duration.
func (c Config) ThreadDelay() time.Duration {
	return time.Duration(c.Threads.DelayMs) * time.Millisecond
}

// EvaluationDelay converts the evaluation courtesy delay into a duration.
func (c Config) EvaluationDelay() time.Duration {
	return time.Duration(c.Evaluation.DelayMs) * time.Millisecond
}
