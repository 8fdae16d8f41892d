package parser

import (
	"regexp"
	"strings"
	"time"
)

var timestampPatterns = []struct {
	re      *regexp.Regexp
	layouts []string
}{
	{
		re:      regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}(?:[ T]\d{2}:\d{2}(?::\d{2})?)?\b`),
		layouts: []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"},
	},
	{
		re:      regexp.MustCompile(`\b\d{2}:\d{2}(?::\d{2})?\s+\d{2}/\d{2}/\d{4}\b`),
		layouts: []string{"15:04:05 02/01/2006", "15:04 02/01/2006"},
	},
	{
		re:      regexp.MustCompile(`\b\d{2}/\d{2}/\d{4}(?:\s+\d{2}:\d{2}(?::\d{2})?)?\b`),
		layouts: []string{"02/01/2006 15:04:05", "02/01/2006 15:04", "02/01/2006"},
	},
}

// findTimestamp returns the first date (and optional time) on the line along
// with its byte span, or a zero time and nil span.
func findTimestamp(line string, loc *time.Location) (time.Time, []int) {
	for _, tp := range timestampPatterns {
		span := tp.re.FindStringIndex(line)
		if span == nil {
			continue
		}
		value := collapseSpaces(strings.Replace(line[span[0]:span[1]], "T", " ", 1))
		for _, layout := range tp.layouts {
			if ts, err := time.ParseInLocation(layout, value, loc); err == nil {
				return ts, span
			}
		}
		// Shaped like a date but not one (e.g. 31/02/2024): still blank it
		// out so its digits are not read as an amount.
		return time.Time{}, span
	}
	return time.Time{}, nil
}
