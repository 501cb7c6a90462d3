package server

import (
	"regexp"
	"strings"
)

var entrySeparators = regexp.MustCompile(",|\r?\n")

// splitEntries splits a string by comma and/or newline delimiters.
// It trims whitespace around each entry and filters out empty strings.
// Examples:
//   - "steve,alex" -> ["steve", "alex"]
//   - "steve, alex" -> ["steve", "alex"]
//   - "steve\r\nalex" -> ["steve", "alex"]
func splitEntries(s string) []string {
	parts := entrySeparators.Split(s, -1)

	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// parseRosterText reads the plain roster format: the mode as the first entry followed by
// player entries, all separated by commas or newlines. Lines starting with # are ignored.
func parseRosterText(content string) *AccessPolicySnapshot {
	var kept []string
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		kept = append(kept, line)
	}

	entries := splitEntries(strings.Join(kept, "\n"))
	if len(entries) == 0 {
		return &AccessPolicySnapshot{}
	}
	return &AccessPolicySnapshot{
		Mode:   Mode(strings.ToLower(entries[0])),
		Roster: entries[1:],
	}
}
