package parser

import (
	"regexp"
	"strings"
)

var headingLikePattern = regexp.MustCompile(`(?m)^([A-Z][A-Za-z0-9 ,.'\-]{3,80})$`)

// parseText extracts a title (the first heading-like or non-empty line)
// and treats the remainder as body.
func parseText(content []byte) (Result, error) {
	text := string(content)
	lines := strings.Split(text, "\n")

	title := ""
	bodyStart := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if headingLikePattern.MatchString(trimmed) || title == "" {
			title = trimmed
			bodyStart = i + 1
			break
		}
	}

	body := strings.TrimSpace(strings.Join(lines[bodyStart:], "\n"))
	return Result{Title: title, Body: normalizeWhitespace(body)}, nil
}
