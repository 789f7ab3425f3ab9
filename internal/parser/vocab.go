package parser

import (
	"regexp"
	"sort"
	"strings"
)

// regulatoryBodies maps each recognized body to its alias list, scored by
// case-insensitive occurrence count; the highest-scoring body wins and
// "Unknown" is returned when every score is zero.
var regulatoryBodies = map[string][]string{
	"SEC":   {"sec", "securities and exchange commission"},
	"FCA":   {"fca", "financial conduct authority"},
	"ECB":   {"ecb", "european central bank"},
	"FINRA": {"finra", "financial industry regulatory authority"},
	"CFTC":  {"cftc", "commodity futures trading commission"},
	"OCC":   {"occ", "office of the comptroller of the currency"},
	"FDIC":  {"fdic", "federal deposit insurance corporation"},
	"FRB":   {"frb", "federal reserve board", "federal reserve"},
	"EBA":   {"eba", "european banking authority"},
	"ESMA":  {"esma", "european securities and markets authority"},
	"BCBS":  {"bcbs", "basel committee on banking supervision"},
	"PRA":   {"pra", "prudential regulation authority"},
}

// documentTypes maps each recognized document type to its alias list,
// scored the same way; "general" is the default when every score is zero.
var documentTypes = map[string][]string{
	"rule":      {"rule", "final rule", "proposed rule"},
	"guidance":  {"guidance", "guideline"},
	"order":     {"order", "administrative order"},
	"release":   {"release", "press release"},
	"report":    {"report", "annual report"},
	"policy":    {"policy", "policy statement"},
	"directive": {"directive"},
	"standard":  {"standard", "technical standard"},
}

// documentNumberPatterns are tried in this exact order; the first match wins.
var documentNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Release\s+No\.?\s*([A-Za-z0-9\-]+)`),
	regexp.MustCompile(`(?i)File\s+No\.?\s*([A-Za-z0-9\-]+)`),
	regexp.MustCompile(`(?i)Document\s+No\.?\s*([A-Za-z0-9\-]+)`),
	regexp.MustCompile(`(?i)Ref\.?\s*([A-Za-z0-9\-/]+)`),
	regexp.MustCompile(`(?i)Docket\s+No\.?\s*([A-Za-z0-9\-]+)`),
	regexp.MustCompile(`(?i)Case\s+No\.?\s*([A-Za-z0-9\-]+)`),
	regexp.MustCompile(`(?i)\bRIN\s*([0-9A-Za-z\-]+)`),
	regexp.MustCompile(`(?i)FR\s+Doc\.?\s*([0-9A-Za-z\-]+)`),
}

// regulatoryKeywordVocabulary is the fixed term list keyword extraction
// intersects against (case-insensitive, lowercased comparison).
var regulatoryKeywordVocabulary = []string{
	"capital requirements", "capital adequacy", "capital ratio",
	"reporting requirements", "disclosure requirements",
	"risk management", "risk assessment", "operational risk",
	"compliance", "compliance obligations", "compliance deadline",
	"liquidity requirements", "liquidity coverage ratio",
	"enforcement action", "penalty", "sanction",
	"effective date", "implementation date", "deadline",
	"guidance", "rule", "regulation", "directive", "standard",
	"supervision", "examination", "audit",
	"anti-money laundering", "know your customer", "sanctions screening",
	"stress test", "basel", "solvency",
	"consumer protection", "market conduct", "conduct risk",
}

var (
	capitalizedPhrasePattern = regexp.MustCompile(`\b([A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+){1,3})\b`)
	percentagePattern        = regexp.MustCompile(`\b\d+(?:\.\d+)?\s?%`)
	currencyPattern          = regexp.MustCompile(`[$£€]\s?\d[\d,]*(?:\.\d+)?\s?(?:million|billion|trillion)?`)
	relativeDatePattern      = regexp.MustCompile(`(?i)\b\d+\s+(?:days?|months?|years?)\b`)
	basisPointsPattern       = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s?(?:bps|basis points)\b`)
)

// scoreVocabulary counts case-insensitive occurrences of each alias and
// returns the best-scoring key, or fallback if every score is zero.
func scoreVocabulary(text string, table map[string][]string, fallback string) string {
	lower := strings.ToLower(text)
	best := fallback
	bestScore := 0

	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		score := 0
		for _, alias := range table[key] {
			score += strings.Count(lower, alias)
		}
		if score > bestScore {
			bestScore = score
			best = key
		}
	}
	return best
}

// ExtractRegulatoryBody scores the fixed body vocabulary against text.
func ExtractRegulatoryBody(text string) string {
	return scoreVocabulary(text, regulatoryBodies, "Unknown")
}

// ExtractDocumentType scores the fixed document-type vocabulary against text.
func ExtractDocumentType(text string) string {
	return scoreVocabulary(text, documentTypes, "general")
}

// ExtractDocumentNumber tries each documentNumberPatterns entry in order
// and returns the first match's captured group.
func ExtractDocumentNumber(text string) string {
	for _, re := range documentNumberPatterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// ExtractKeywordsFromText intersects normalized content against the fixed
// vocabulary, deduplicating while preserving first-occurrence order, and
// also emits capitalized multi-word phrases and numeric patterns.
func ExtractKeywordsFromText(text string) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	var out []string

	add := func(kw string) {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		out = append(out, kw)
	}

	for _, term := range regulatoryKeywordVocabulary {
		if strings.Contains(lower, term) {
			add(term)
		}
	}
	for _, m := range capitalizedPhrasePattern.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range percentagePattern.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range currencyPattern.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range relativeDatePattern.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range basisPointsPattern.FindAllString(text, -1) {
		add(m)
	}
	return out
}
