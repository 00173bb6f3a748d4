package content

import (
	"strings"

	"golang.org/x/net/html"
)

// renderFragment converts a content HTML fragment into plain structured
// text: headings and links survive in markdown form, block elements
// become paragraphs, and nothing is wrapped to a fixed width.
func renderFragment(fragment string) string {
	root, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	var sb strings.Builder
	renderNode(&sb, root)
	return sb.String()
}

var headingPrefix = map[string]string{
	"h1": "# ",
	"h2": "## ",
	"h3": "### ",
	"h4": "#### ",
	"h5": "##### ",
	"h6": "###### ",
}

var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"blockquote": true, "pre": true, "figure": true, "table": true,
	"tr": true, "ul": true, "ol": true,
}

func renderNode(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(collapseSpace(n.Data))
		return
	case html.ElementNode:
		switch {
		case n.Data == "br":
			sb.WriteString("\n")
			return
		case headingPrefix[n.Data] != "":
			sb.WriteString("\n\n")
			sb.WriteString(headingPrefix[n.Data])
			renderChildren(sb, n)
			sb.WriteString("\n\n")
			return
		case n.Data == "a":
			renderLink(sb, n)
			return
		case n.Data == "li":
			sb.WriteString("\n- ")
			renderChildren(sb, n)
			return
		case n.Data == "img", n.Data == "script", n.Data == "style":
			return
		case blockTags[n.Data]:
			sb.WriteString("\n\n")
			renderChildren(sb, n)
			sb.WriteString("\n\n")
			return
		}
	}
	renderChildren(sb, n)
}

func renderChildren(sb *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNode(sb, c)
	}
}

func renderLink(sb *strings.Builder, n *html.Node) {
	var inner strings.Builder
	renderChildren(&inner, n)
	text := strings.TrimSpace(inner.String())
	href := attr(n, "href")
	switch {
	case text == "" && href == "":
		return
	case href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:"):
		sb.WriteString(text)
	case text == "":
		sb.WriteString(href)
	default:
		sb.WriteString("[" + text + "](" + href + ")")
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// collapseSpace squeezes whitespace runs inside text nodes while
// keeping a single space so words don't fuse across tags.
func collapseSpace(s string) string {
	if strings.TrimSpace(s) == "" {
		if s == "" {
			return ""
		}
		return " "
	}
	return spaceRun.ReplaceAllString(s, " ")
}
