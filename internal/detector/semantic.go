package detector

import (
	"math"
	"regexp"
	"strings"

	"github.com/regulens/platform/internal/parser"
)

var tokenPattern = regexp.MustCompile(`\b\w{3,}\b`)

// semanticChangeScore computes the weighted semantic-divergence score
// between the baseline and new normalized content.
func semanticChangeScore(base, newContent string) float64 {
	jaccard := jaccardKeywords(base, newContent)
	cosine := cosineTokenFrequency(base, newContent)
	structural := structuralSimilarity(base, newContent)

	baseLen := float64(len(base))
	if baseLen == 0 {
		baseLen = 1
	}
	lengthDelta := minFloat(1, absFloat(float64(len(newContent)-len(base)))/baseLen)

	score := 0.35*(1-jaccard) + 0.35*(1-cosine) + 0.20*(1-structural) + 0.10*lengthDelta
	return clamp01(score)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func jaccardKeywords(a, b string) float64 {
	setA := toSet(parser.ExtractKeywordsFromText(a))
	setB := toSet(parser.ExtractKeywordsFromText(b))
	return jaccardSets(setA, setB)
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, it := range items {
		s[strings.ToLower(it)] = true
	}
	return s
}

func jaccardSets(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for k := range a {
		if b[k] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}

func tokenFrequency(s string) map[string]int {
	freq := make(map[string]int)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(s), -1) {
		freq[tok]++
	}
	return freq
}

// cosineTokenFrequency computes cosine similarity over token-frequency
// vectors of tokens longer than two characters.
func cosineTokenFrequency(a, b string) float64 {
	fa := tokenFrequency(a)
	fb := tokenFrequency(b)
	if len(fa) == 0 && len(fb) == 0 {
		return 1
	}

	var dot, normA, normB float64
	for tok, ca := range fa {
		normA += float64(ca * ca)
		if cb, ok := fb[tok]; ok {
			dot += float64(ca * cb)
		}
	}
	for _, cb := range fb {
		normB += float64(cb * cb)
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var (
	markdownHeaderPattern = regexp.MustCompile(`(?m)^#{1,6}\s+.+$`)
	sectionPattern        = regexp.MustCompile(`(?mi)^Section\s+\d+[A-Za-z]?\b.*$`)
	romanNumeralPattern   = regexp.MustCompile(`(?m)^[IVXLCDM]+\.\s+.+$`)
	numberedHeaderPattern = regexp.MustCompile(`(?m)^\d+(\.\d+)*\.\s+.+$`)
	allCapsLinePattern    = regexp.MustCompile(`(?m)^[A-Z][A-Z\s]{4,}$`)
)

// extractHeaders pulls candidate section/header strings using Markdown
// headers, "Section N" labels, Roman-numeral headers, "N." numbered
// headers, and ALL-CAPS lines.
func extractHeaders(s string) []string {
	var out []string
	out = append(out, markdownHeaderPattern.FindAllString(s, -1)...)
	out = append(out, sectionPattern.FindAllString(s, -1)...)
	out = append(out, romanNumeralPattern.FindAllString(s, -1)...)
	out = append(out, numberedHeaderPattern.FindAllString(s, -1)...)
	out = append(out, allCapsLinePattern.FindAllString(s, -1)...)
	return out
}

func structuralSimilarity(a, b string) float64 {
	setA := toSet(extractHeaders(a))
	setB := toSet(extractHeaders(b))
	return jaccardSets(setA, setB)
}
