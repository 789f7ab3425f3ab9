package parser

import (
	stdhtml "html"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

var (
	scriptStyleBlock = regexp.MustCompile(`(?is)<(script|style)\b[^>]*>.*?</\s*(script|style)\s*>`)
	htmlComment      = regexp.MustCompile(`(?s)<!--.*?-->`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
)

var namedEntities = map[string]string{
	"&nbsp;": " ",
	"&amp;":  "&",
	"&lt;":   "<",
	"&gt;":   ">",
	"&quot;": `"`,
}

// parseHTML strips script/style blocks and comments, decodes named
// entities, then uses XPath to pull out the title and body.
func parseHTML(content []byte) (Result, error) {
	cleaned := scriptStyleBlock.ReplaceAll(content, nil)
	cleaned = htmlComment.ReplaceAll(cleaned, nil)

	text := string(cleaned)
	for entity, replacement := range namedEntities {
		text = strings.ReplaceAll(text, entity, replacement)
	}
	text = stdhtml.UnescapeString(text)

	doc, err := htmlquery.Parse(strings.NewReader(text))
	if err != nil {
		return Result{}, err
	}

	title := xpathText(doc, "//h1")
	if title == "" {
		title = xpathText(doc, "//title")
	}

	body := xpathText(doc, "//article")
	if body == "" {
		body = xpathText(doc, "//main")
	}
	if body == "" {
		body = htmlquery.InnerText(doc)
	}

	return Result{
		Title: normalizeWhitespace(title),
		Body:  normalizeWhitespace(body),
	}, nil
}

// xpathText evaluates expr against doc and returns the first matching
// node's inner text, or "" if nothing matches.
func xpathText(doc *html.Node, expr string) string {
	node := htmlquery.FindOne(doc, expr)
	if node == nil {
		return ""
	}
	return htmlquery.InnerText(node)
}

func normalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
