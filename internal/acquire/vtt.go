package acquire

import (
	"regexp"
	"strings"
)

var htmlTag = regexp.MustCompile(`<[^>]+>`)

// ParseVTT flattens WebVTT or SRT captions into plain text. Headers, cue
// numbers, timestamps and markup are dropped; consecutive duplicate lines,
// common in rolling automatic captions, are collapsed.
func ParseVTT(raw string) string {
	var (
		out  []string
		prev string
	)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "-->") || isDigits(line) {
			continue
		}
		if strings.HasPrefix(line, "WEBVTT") || strings.HasPrefix(line, "Kind:") || strings.HasPrefix(line, "Language:") {
			continue
		}
		line = strings.TrimSpace(htmlTag.ReplaceAllString(line, ""))
		if line == "" || line == prev {
			continue
		}
		out = append(out, line)
		prev = line
	}
	return strings.Join(out, " ")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
