package parser

import (
	"regexp"
	"time"
)

// dateLayouts are tried in this exact order; the first layout that
// parses the matched substring wins. Never guess: if nothing matches,
// ExtractEffectiveDate returns nil.
var dateLayouts = []string{
	"01/02/2006",
	"01-02-2006",
	"02/01/2006",
	"02-01-2006",
	"2006-01-02",
	"01/02/06",
	"January 2, 2006",
	"January 2 2006",
}

// datePattern finds date-shaped substrings loosely, leaving exact
// validation to time.Parse against each candidate layout.
var datePattern = regexp.MustCompile(
	`\b(\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4}|\d{4}-\d{1,2}-\d{1,2}|[A-Z][a-z]+ \d{1,2},? \d{4})\b`,
)

// ExtractEffectiveDate scans text for date-shaped substrings and parses
// each candidate against dateLayouts in spec order, returning the first
// successful parse. Returns nil if nothing matches.
func ExtractEffectiveDate(text string) *time.Time {
	for _, candidate := range datePattern.FindAllString(text, -1) {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, candidate); err == nil {
				return &t
			}
		}
	}
	return nil
}
