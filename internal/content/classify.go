package content

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Content type labels reported to the evaluation service.
const (
	TypeArticle       = "article"
	TypeVideo         = "video"
	TypeNewsletter    = "newsletter"
	TypeDocumentation = "documentation"
	TypeProductUpdate = "product update"
	TypeBlogPost      = "blog post"
)

type urlPattern struct {
	fragment string
	label    string
}

// urlPatterns are checked in order against the lowercased URL; the first
// hit wins.
var urlPatterns = []urlPattern{
	{"youtube.com/", TypeVideo},
	{"youtu.be/", TypeVideo},
	{"vimeo.com/", TypeVideo},
	{"twitch.tv/", TypeVideo},
	{"substack.com", TypeNewsletter},
	{"buttondown.com", TypeNewsletter},
	{"/newsletter", TypeNewsletter},
	{"docs.", TypeDocumentation},
	{"/docs/", TypeDocumentation},
	{"/documentation", TypeDocumentation},
	{"readthedocs.", TypeDocumentation},
	{"/changelog", TypeProductUpdate},
	{"/releases/", TypeProductUpdate},
	{"/release-notes", TypeProductUpdate},
	{"medium.com/", TypeBlogPost},
	{"dev.to/", TypeBlogPost},
	{"hashnode.", TypeBlogPost},
	{"/blog/", TypeBlogPost},
}

// classifyContentType labels the page by URL pattern first, then by
// embedded-video detection, defaulting to "article".
func classifyContentType(rawURL string, doc *goquery.Document) string {
	lower := strings.ToLower(rawURL)
	for _, p := range urlPatterns {
		if strings.Contains(lower, p.fragment) {
			return p.label
		}
	}
	if doc != nil {
		if doc.Find("video").Length() > 0 {
			return TypeVideo
		}
		embedded := false
		doc.Find("iframe[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			src := strings.ToLower(s.AttrOr("src", ""))
			if strings.Contains(src, "youtube.com") || strings.Contains(src, "vimeo.com") {
				embedded = true
				return false
			}
			return true
		})
		if embedded {
			return TypeVideo
		}
	}
	return TypeArticle
}

// englishStopWords is a small list used by the keyword-frequency
// fallback when no declared language is present.
var englishStopWords = []string{
	"the", "and", "for", "are", "but", "not", "you", "all", "can",
	"had", "her", "was", "one", "our", "out", "has", "his", "how",
	"new", "now", "see", "two", "way", "who", "its", "she", "use",
}

// resolveLanguage walks the declared-language chain, then falls back to
// a stop-word heuristic. Returns "" when nothing matches.
func resolveLanguage(doc *goquery.Document, text string) string {
	if doc != nil {
		if lang := strings.TrimSpace(doc.Find("html").AttrOr("lang", "")); lang != "" {
			return primarySubtag(lang)
		}
		if lang := metaOrText(doc, `meta[http-equiv="content-language"]`); lang != "" {
			return primarySubtag(lang)
		}
		if locale := metaOrText(doc, `meta[property="og:locale"]`); locale != "" {
			return primarySubtag(locale)
		}
	}
	sample := strings.ToLower(clip(text, 1000))
	hits := 0
	for _, w := range englishStopWords {
		if strings.Contains(sample, " "+w+" ") {
			hits++
		}
	}
	if hits >= 5 {
		return "en"
	}
	return ""
}

// primarySubtag reduces "en-US" or "en_US" to "en".
func primarySubtag(lang string) string {
	lang = strings.TrimSpace(lang)
	for i, r := range lang {
		if r == '-' || r == '_' {
			return strings.ToLower(lang[:i])
		}
	}
	return strings.ToLower(lang)
}
