package detector

import (
	"strings"

	"github.com/regulens/platform/internal/parser"
)

type scoredChunk struct {
	chunk        DiffChunk
	significance float64
}

// chunkSignificance scores a chunk per the volume/keyword-density/
// change-type weighted formula.
func chunkSignificance(c DiffChunk) float64 {
	volume := minFloat(1, float64(len(c.Deleted)+len(c.Inserted))/10)

	text := strings.Join(append(append([]string{}, c.Deleted...), c.Inserted...), " ")
	keywordDensity := minFloat(1, float64(len(parser.ExtractKeywordsFromText(text)))/5)

	changeType := 0.5
	if len(c.Deleted) > 0 && len(c.Inserted) > 0 {
		changeType = 0.8
	}

	return 0.4*volume + 0.4*keywordDensity + 0.2*changeType
}

// categoryOrder is the priority order chunk categorization tries, first
// match wins.
var categoryOrder = []string{
	"capital_requirements",
	"reporting_requirements",
	"risk_management",
	"compliance_obligations",
	"timeline_changes",
	"enforcement",
	"liquidity_requirements",
	"general_regulatory",
}

var categoryKeywords = map[string][]string{
	"capital_requirements":   {"capital requirements", "capital adequacy", "capital ratio"},
	"reporting_requirements": {"reporting requirements", "disclosure requirements"},
	"risk_management":        {"risk management", "risk assessment", "operational risk"},
	"compliance_obligations": {"compliance", "compliance obligations", "compliance deadline"},
	"timeline_changes":       {"effective date", "implementation date", "deadline"},
	"enforcement":            {"enforcement action", "penalty", "sanction"},
	"liquidity_requirements": {"liquidity requirements", "liquidity coverage ratio"},
}

// categorizeForChunk picks the first matching category in priority
// order, defaulting to general_regulatory.
func categorizeForChunk(c DiffChunk) string {
	text := strings.ToLower(strings.Join(append(append([]string{}, c.Deleted...), c.Inserted...), " "))
	for _, cat := range categoryOrder {
		if cat == "general_regulatory" {
			continue
		}
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(text, kw) {
				return cat
			}
		}
	}
	return "general_regulatory"
}

// categorizeAndGroup buckets surviving chunks by category.
func categorizeAndGroup(chunks []scoredChunk) map[string][]scoredChunk {
	groups := make(map[string][]scoredChunk)
	for _, sc := range chunks {
		cat := categorizeForChunk(sc.chunk)
		groups[cat] = append(groups[cat], sc)
	}
	return groups
}

// orderedCategories returns the categories present in groups, in
// priority order.
func orderedCategories(groups map[string][]scoredChunk) []string {
	var out []string
	for _, cat := range categoryOrder {
		if _, ok := groups[cat]; ok {
			out = append(out, cat)
		}
	}
	return out
}

// highPriorityBodies get relaxed significance-gating thresholds.
var highPriorityBodies = map[string]bool{
	"SEC": true, "FCA": true, "ECB": true, "FINRA": true,
	"CFTC": true, "FDIC": true, "FRB": true,
}

func isHighPriorityBody(body string) bool {
	return highPriorityBodies[strings.ToUpper(body)]
}

// shouldEmitCategory applies the multi-factor significance gate: a
// category's chunk group must clear at least one of the change-count,
// single-change-length, total-length, or keyword-count thresholds.
// High-priority regulatory bodies use half the normal thresholds since a
// small structural change from one of these bodies still warrants
// surfacing.
func shouldEmitCategory(group []scoredChunk, regulatoryBody string) bool {
	minChanges, maxSingleChars, totalCharsThreshold, minKeywords := 5, 100, 500, 3
	if isHighPriorityBody(regulatoryBody) {
		minChanges, maxSingleChars, totalCharsThreshold, minKeywords = 2, 50, 250, 2
	}

	if len(group) >= minChanges {
		return true
	}

	totalChars := 0
	keywordCount := 0
	for _, sc := range group {
		text := strings.Join(append(append([]string{}, sc.chunk.Deleted...), sc.chunk.Inserted...), " ")
		if len(text) > maxSingleChars {
			return true
		}
		totalChars += len(text)
		keywordCount += len(parser.ExtractKeywordsFromText(text))
	}
	if totalChars > totalCharsThreshold {
		return true
	}
	if keywordCount >= minKeywords {
		return true
	}
	return false
}
