// Package parser extracts structured metadata from regulatory documents
// delivered as HTML, RSS/Atom XML, JSON feeds, or plain text. Parsing
// never aborts the caller: malformed input yields a ParseError and an
// empty Result, and the parser's error counter is incremented.
package parser

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/regulens/platform/internal/regerrors"
)

// Result is the metadata the parser extracts from one document.
type Result struct {
	Title          string
	Body           string
	EffectiveDate  *time.Time
	RegulatoryBody string
	DocumentType   string
	DocumentNumber string
	Keywords       []string
}

// Parser dispatches by content type to the HTML, XML/RSS/Atom, JSON, or
// plain-text sub-parser.
type Parser struct {
	parseErrors atomic.Int64
}

// New creates a Parser.
func New() *Parser { return &Parser{} }

// ParseErrors returns the number of parse failures observed so far.
func (p *Parser) ParseErrors() int64 { return p.parseErrors.Load() }

// Parse dispatches content to the appropriate sub-parser based on
// contentType, returning a zero Result and incrementing the error
// counter on failure rather than propagating the error up the monitor
// loop.
func (p *Parser) Parse(content []byte, contentType string) (Result, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))

	var (
		res Result
		err error
	)
	switch {
	case strings.Contains(ct, "html"):
		res, err = parseHTML(content)
	case strings.Contains(ct, "xml") || strings.Contains(ct, "rss") || strings.Contains(ct, "atom"):
		res, err = parseFeed(content)
	case strings.Contains(ct, "json"):
		res, err = parseJSON(content, "")
	default:
		res, err = parseText(content)
	}
	if err != nil {
		p.parseErrors.Add(1)
		return Result{}, &regerrors.ParseError{ContentType: ct, Detail: err.Error()}
	}

	res.RegulatoryBody = ExtractRegulatoryBody(res.Title + " " + res.Body)
	res.DocumentType = ExtractDocumentType(res.Title + " " + res.Body)
	res.DocumentNumber = ExtractDocumentNumber(res.Title + " " + res.Body)
	if res.EffectiveDate == nil {
		res.EffectiveDate = ExtractEffectiveDate(res.Body)
	}
	res.Keywords = ExtractKeywordsFromText(res.Title + " " + res.Body)
	return res, nil
}

// ExtractTitle dispatches to the content-type-specific title extractor.
func (p *Parser) ExtractTitle(content []byte, contentType string) string {
	res, err := p.Parse(content, contentType)
	if err != nil {
		return ""
	}
	return res.Title
}

// ExtractEffectiveDate extracts an effective date from free text, trying
// each of the supported layouts in spec order and never guessing.
func (p *Parser) ExtractEffectiveDate(content []byte) *time.Time {
	return ExtractEffectiveDate(string(content))
}
