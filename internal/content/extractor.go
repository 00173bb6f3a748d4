package content

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// truncationMarker is appended when extracted text exceeds the maximum
// length.
const truncationMarker = "\n\n[Content truncated...]"

// minFragmentChars is the floor under which the readability fragment is
// considered empty.
const minFragmentChars = 50

// ExtractorConfig holds the extraction length gates.
type ExtractorConfig struct {
	MinContentLength int
	MaxContentLength int
}

// Extraction is the cleaned text plus derived metadata for one page.
type Extraction struct {
	URL         string
	Domain      string
	Title       string
	Author      string
	Publication string
	Language    string
	ContentType string
	Text        string
	WordCount   int
	Truncated   bool
	PublishedAt *time.Time
	ExtractedAt time.Time
}

// Extractor turns raw HTML into clean text plus derived metadata.
type Extractor struct {
	cfg    ExtractorConfig
	logger *zap.Logger
}

// NewExtractor constructs an Extractor.
func NewExtractor(cfg ExtractorConfig, logger *zap.Logger) *Extractor {
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = 100
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 50000
	}
	return &Extractor{cfg: cfg, logger: logger}
}

var (
	boilerplateAttr = regexp.MustCompile(`(?i)nav|sidebar|footer|menu|advert|\bads?\b`)
	wordToken       = regexp.MustCompile(`[\p{L}\p{N}]+`)
	byPrefix        = regexp.MustCompile(`(?i)^by\s+`)
	spaceRun        = regexp.MustCompile(`\s+`)
	blankRun        = regexp.MustCompile(`\n{3,}`)
)

// Extract converts raw HTML into clean text and metadata. The returned
// error, when not nil, is a *Error with KindExtraction.
func (e *Extractor) Extract(rawHTML, rawURL string) (Extraction, error) {
	pageURL, _ := url.Parse(rawURL)
	domain := ""
	if pageURL != nil {
		domain = pageURL.Host
	}

	cleaned, doc, err := cleanHTML(rawHTML)
	if err != nil {
		return Extraction{}, &Error{URL: rawURL, Kind: KindExtraction,
			Message: fmt.Sprintf("unparseable HTML: %v", err)}
	}

	article, err := readability.FromReader(strings.NewReader(cleaned), pageURL)
	if err != nil || len(strings.TrimSpace(article.Content)) < minFragmentChars {
		return Extraction{}, &Error{URL: rawURL, Kind: KindExtraction,
			Message: "Readability failed to extract meaningful content"}
	}

	// Strip line-trailing whitespace first so a blank line holding a
	// stray space still counts toward a blank run.
	text := stripTrailingSpace(renderFragment(article.Content))
	text = blankRun.ReplaceAllString(text, "\n\n")

	if len(text) < e.cfg.MinContentLength {
		return Extraction{}, &Error{URL: rawURL, Kind: KindExtraction,
			Message: fmt.Sprintf("content too short: %d characters (minimum: %d)", len(text), e.cfg.MinContentLength)}
	}

	truncated := false
	if len(text) > e.cfg.MaxContentLength {
		e.logger.Warn("content truncated",
			zap.String("url", rawURL),
			zap.Int("length", len(text)),
		)
		text = text[:e.cfg.MaxContentLength] + truncationMarker
		truncated = true
	}

	title := strings.TrimSpace(article.Title)
	if len(title) <= 3 {
		title = resolveTitle(doc)
	}

	out := Extraction{
		URL:         rawURL,
		Domain:      domain,
		Title:       title,
		Author:      resolveAuthor(doc, article.Byline),
		Publication: resolvePublication(doc, article.SiteName),
		Language:    resolveLanguage(doc, text),
		ContentType: classifyContentType(rawURL, doc),
		Text:        text,
		WordCount:   len(wordToken.FindAllString(text, -1)),
		Truncated:   truncated,
		PublishedAt: resolvePublishedDate(doc),
		ExtractedAt: time.Now().UTC(),
	}
	return out, nil
}

// ExtractMany processes pages sequentially; one failure does not block
// the others.
func (e *Extractor) ExtractMany(pages []Page) []ExtractOutcome {
	outcomes := make([]ExtractOutcome, 0, len(pages))
	for _, p := range pages {
		ex, err := e.Extract(string(p.Body), p.URL)
		outcomes = append(outcomes, ExtractOutcome{URL: p.URL, Extraction: ex, Err: err})
	}
	return outcomes
}

// ExtractOutcome pairs an input page with its independent result.
type ExtractOutcome struct {
	URL        string
	Extraction Extraction
	Err        error
}

// cleanHTML strips script/style/comment nodes and obvious boilerplate
// containers, returning both the cleaned markup and the original parsed
// document for metadata lookups.
func cleanHTML(rawHTML string) (string, *goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", nil, err
	}
	cleanDoc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", nil, err
	}

	cleanDoc.Find("script, style, noscript, nav, aside, footer, header").Remove()
	cleanDoc.Find("[class], [id]").Each(func(_ int, s *goquery.Selection) {
		class, _ := s.Attr("class")
		id, _ := s.Attr("id")
		if boilerplateAttr.MatchString(class) || boilerplateAttr.MatchString(id) {
			s.Remove()
		}
	})
	for _, n := range cleanDoc.Nodes {
		removeComments(n)
	}

	cleaned, err := cleanDoc.Html()
	if err != nil {
		return "", nil, err
	}
	return cleaned, doc, nil
}

func removeComments(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode {
			n.RemoveChild(c)
		} else {
			removeComments(c)
		}
		c = next
	}
}

// metaOrText reads a candidate selector: meta tags yield their content
// attribute, anything else its text.
func metaOrText(doc *goquery.Document, selector string) string {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return ""
	}
	if goquery.NodeName(sel) == "meta" {
		return strings.TrimSpace(sel.AttrOr("content", ""))
	}
	return strings.TrimSpace(sel.Text())
}

var titleSelectors = []string{
	`meta[property="og:title"]`,
	`meta[name="twitter:title"]`,
	"title",
	"h1",
	".title",
	"#title",
}

func resolveTitle(doc *goquery.Document) string {
	for _, sel := range titleSelectors {
		if v := metaOrText(doc, sel); len(v) > 3 {
			v = spaceRun.ReplaceAllString(v, " ")
			return clip(v, 200)
		}
	}
	return ""
}

var authorSelectors = []string{
	`meta[name="author"]`,
	`meta[property="article:author"]`,
	`meta[name="twitter:creator"]`,
	`[rel="author"]`,
	".author",
	".byline",
	".writer",
}

func resolveAuthor(doc *goquery.Document, fallback string) string {
	for _, sel := range authorSelectors {
		if v := metaOrText(doc, sel); len(v) > 1 {
			return cleanName(v)
		}
	}
	if len(strings.TrimSpace(fallback)) > 1 {
		return cleanName(fallback)
	}
	return ""
}

var publicationSelectors = []string{
	`meta[property="og:site_name"]`,
	`meta[name="publisher"]`,
	`meta[property="article:publisher"]`,
	".publication",
	".site-name",
	".brand",
}

func resolvePublication(doc *goquery.Document, fallback string) string {
	for _, sel := range publicationSelectors {
		if v := metaOrText(doc, sel); len(v) > 1 {
			return clip(spaceRun.ReplaceAllString(v, " "), 100)
		}
	}
	if len(strings.TrimSpace(fallback)) > 1 {
		return clip(spaceRun.ReplaceAllString(strings.TrimSpace(fallback), " "), 100)
	}
	return ""
}

var publishedSelectors = []string{
	`meta[property="article:published_time"]`,
	`meta[property="og:published_time"]`,
	`meta[name="date"]`,
	`meta[itemprop="datePublished"]`,
	"time[datetime]",
}

func resolvePublishedDate(doc *goquery.Document) *time.Time {
	for _, sel := range publishedSelectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		raw := s.AttrOr("content", "")
		if raw == "" {
			raw = s.AttrOr("datetime", "")
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if t, err := dateparse.ParseAny(raw); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

func cleanName(v string) string {
	v = byPrefix.ReplaceAllString(strings.TrimSpace(v), "")
	v = spaceRun.ReplaceAllString(v, " ")
	return clip(v, 100)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func stripTrailingSpace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
