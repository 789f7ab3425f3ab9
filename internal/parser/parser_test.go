package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractRegulatoryBody(t *testing.T) {
	assert.Equal(t, "SEC", ExtractRegulatoryBody("The Securities and Exchange Commission today announced a new SEC rule."))
	assert.Equal(t, "Unknown", ExtractRegulatoryBody("This document mentions nothing recognizable."))
}

func TestExtractDocumentType(t *testing.T) {
	assert.Equal(t, "guidance", ExtractDocumentType("This guidance document clarifies prior rule text but guidance wins."))
	assert.Equal(t, "general", ExtractDocumentType("Nothing matches any of the fixed categories here."))
}

func TestExtractDocumentNumber(t *testing.T) {
	assert.Equal(t, "34-12345", ExtractDocumentNumber("See Release No. 34-12345 for details."))
	assert.Equal(t, "", ExtractDocumentNumber("No identifiers here."))
}

func TestExtractEffectiveDateOrder(t *testing.T) {
	got := ExtractEffectiveDate("This rule is effective 01/02/2024 for all filers.")
	require.NotNil(t, got)
	assert.Equal(t, 1, int(got.Month()))
	assert.Equal(t, 2, got.Day())
	assert.Equal(t, 2024, got.Year())

	assert.Nil(t, ExtractEffectiveDate("No date mentioned anywhere in this text."))
}

func TestExtractKeywordsFromTextDedupes(t *testing.T) {
	kws := ExtractKeywordsFromText("Capital requirements increase by 10% and capital requirements apply from 2024-01-01.")
	count := 0
	for _, k := range kws {
		if k == "capital requirements" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestParseFeedItemsRSS(t *testing.T) {
	rss := []byte(`<?xml version="1.0"?>
<rss version="2.0"><channel>
  <item><title>Rule A</title><description>Desc A</description><link>http://x/a</link><pubDate>2024-01-01</pubDate></item>
  <item><title>Rule B</title><description>Desc B</description><link>http://x/b</link><pubDate>2024-01-02</pubDate></item>
</channel></rss>`)
	items, err := ParseFeedItems(rss)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Rule A", items[0].Title)
}

func TestParseFeedItemsAtom(t *testing.T) {
	atom := []byte(`<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry><title>Entry A</title><summary>Sum A</summary><link href="http://x/a" rel="alternate"/><id>1</id></entry>
</feed>`)
	items, err := ParseFeedItems(atom)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Entry A", items[0].Title)
	assert.Equal(t, "http://x/a", items[0].Link)
}

func TestParseJSONItemsDefaultPath(t *testing.T) {
	body := []byte(`{"items":[{"title":"A","description":"d","url":"u","severity":"high"}]}`)
	items, err := ParseJSONItems(body, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "A", items[0].Title)
	assert.Equal(t, "high", items[0].Severity)
}

func TestParseDispatchesByContentType(t *testing.T) {
	p := New()
	res, err := p.Parse([]byte("<html><body><h1>Capital Rule Update</h1><article>Capital requirements increase to 10%.</article></body></html>"), "text/html")
	require.NoError(t, err)
	assert.Contains(t, res.Title, "Capital")
	assert.NotEmpty(t, res.Keywords)
}

func TestParseNeverAbortsOnMalformedInput(t *testing.T) {
	p := New()
	_, err := p.Parse([]byte(`{not json`), "application/json")
	require.Error(t, err)
	assert.Equal(t, int64(1), p.ParseErrors())
}
