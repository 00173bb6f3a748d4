// Package evaluation calls an OpenAI-compatible chat endpoint to score
// article relevance and maps the reply into an Evaluation record.
package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/feedscout/feedscout/internal/pipeline"
)

// Config holds evaluation service settings.
type Config struct {
	Endpoint    string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int
	// MaxWords and MaxChars bound the article text sent to the service.
	MaxWords int
	MaxChars int
	Timeout  time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.MaxWords <= 0 {
		c.MaxWords = 10000
	}
	if c.MaxChars <= 0 {
		c.MaxChars = 40000
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
}

// Client implements pipeline.Evaluator against a chat-completions API.
type Client struct {
	cfg    Config
	http   *http.Client
	clock  pipeline.Clock
	logger *zap.Logger
}

var _ pipeline.Evaluator = (*Client)(nil)

func NewClient(cfg Config, clock pipeline.Clock, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		clock:  clock,
		logger: logger,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// verdict is the JSON document the model is instructed to reply with.
type verdict struct {
	IsRelated   bool     `json:"is_related"`
	Score       float64  `json:"relevance_score"`
	Summary     string   `json:"summary"`
	Perex       string   `json:"perex"`
	KeyTopics   []string `json:"key_topics"`
	ContentType string   `json:"content_type"`
	Language    string   `json:"language"`
}

// Evaluate sends the article text for classification. Transport and HTTP
// failures return an error; a reply that is not valid JSON degrades to a
// default unrelated record with the Error field set.
func (c *Client) Evaluate(ctx context.Context, req pipeline.EvaluationRequest) (pipeline.Evaluation, error) {
	if c.cfg.Endpoint == "" || c.cfg.Model == "" {
		return pipeline.Evaluation{}, fmt.Errorf("evaluation client misconfigured")
	}

	wordCount := len(strings.Fields(req.Text))
	text, truncated := c.truncate(req.Text, wordCount)

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(text, req)},
		},
	})
	if err != nil {
		return pipeline.Evaluation{}, fmt.Errorf("marshal evaluation payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return pipeline.Evaluation{}, fmt.Errorf("new evaluation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return pipeline.Evaluation{}, fmt.Errorf("calling evaluation service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return pipeline.Evaluation{}, fmt.Errorf("evaluation service %s: %s",
			resp.Status, strings.TrimSpace(string(payload)))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return pipeline.Evaluation{}, fmt.Errorf("decoding evaluation response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return pipeline.Evaluation{}, fmt.Errorf("evaluation response has no choices")
	}

	out := c.parseVerdict(chat.Choices[0].Message.Content)
	out.EvaluatedAt = c.clock.Now()
	out.WordCount = wordCount
	out.Truncated = truncated
	return out, nil
}

// truncate applies the word bound, then the character bound.
func (c *Client) truncate(text string, wordCount int) (string, bool) {
	if wordCount <= c.cfg.MaxWords && len(text) <= c.cfg.MaxChars {
		return text, false
	}
	words := strings.Fields(text)
	if len(words) > c.cfg.MaxWords {
		words = words[:c.cfg.MaxWords]
	}
	text = strings.Join(words, " ")
	if len(text) > c.cfg.MaxChars {
		text = text[:c.cfg.MaxChars]
	}
	c.logger.Info("evaluation input truncated",
		zap.Int("original_words", wordCount),
		zap.Int("sent_chars", len(text)),
	)
	return text, true
}

// parseVerdict maps the model reply to an Evaluation. Anything that is
// not a valid verdict document becomes the default unrelated record.
func (c *Client) parseVerdict(reply string) pipeline.Evaluation {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")
	reply = strings.TrimSpace(reply)

	var v verdict
	if err := json.Unmarshal([]byte(reply), &v); err != nil {
		c.logger.Error("unparseable evaluation reply", zap.Error(err))
		return pipeline.Evaluation{
			IsRelated:   false,
			Score:       0,
			Summary:     "Failed to parse response",
			Perex:       "Failed to parse response",
			ContentType: "article",
			Language:    "en",
			Error:       fmt.Sprintf("parse failed: %v", err),
		}
	}

	if v.Score < 0 {
		v.Score = 0
	}
	if v.Score > 1 {
		v.Score = 1
	}
	if v.ContentType == "" {
		v.ContentType = "article"
	}
	if v.Language == "" {
		v.Language = "en"
	}
	return pipeline.Evaluation{
		IsRelated:   v.IsRelated,
		Score:       v.Score,
		Summary:     clip(v.Summary, 500),
		Perex:       clip(v.Perex, 200),
		Topics:      v.KeyTopics,
		ContentType: v.ContentType,
		Language:    v.Language,
	}
}

const systemPrompt = `You are an analyst classifying articles for a technology monitoring feed. Reply with a single JSON object and nothing else, using exactly these keys: is_related (bool), relevance_score (float 0..1), summary (string, max 500 chars), perex (string, max 200 chars), key_topics (array of strings), content_type (string), language (ISO 639-1 code).`

func buildPrompt(text string, req pipeline.EvaluationRequest) string {
	var b strings.Builder
	if req.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", req.Title)
	}
	if req.Language != "" {
		fmt.Fprintf(&b, "Detected language: %s\n", req.Language)
	}
	if req.ContentTypeHint != "" {
		fmt.Fprintf(&b, "Detected content type: %s\n", req.ContentTypeHint)
	}
	b.WriteString("\nArticle:\n")
	b.WriteString(text)
	return b.String()
}

// Default returns the degraded record used when the service itself is
// unreachable. The caller persists it instead of failing the item.
func Default(url, errMsg string, wordCount int, now time.Time) pipeline.Evaluation {
	return pipeline.Evaluation{
		URL:         url,
		IsRelated:   false,
		Score:       0,
		Summary:     "Evaluation failed",
		Perex:       "Evaluation failed",
		ContentType: "article",
		Language:    "en",
		EvaluatedAt: now,
		WordCount:   wordCount,
		Error:       errMsg,
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
