package text

import (
	"regexp"
	"strings"
)

var horizontalWS = regexp.MustCompile(`[ \t\x{00a0}]+`)

// Normalize cleans extracted text before chunking: newline folding,
// horizontal whitespace collapse, recurring header/footer stripping, and
// blank-line deduplication. It is idempotent, which ingestion relies on when
// reprocessing cached text.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(horizontalWS.ReplaceAllString(line, " "))
	}

	lines = stripBoilerplate(lines)

	var b strings.Builder
	blank := 0
	for _, line := range lines {
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return strings.TrimSpace(b.String())
}

// stripBoilerplate removes short lines that recur across the document, the
// typical signature of repeated page headers and footers in extracted PDFs.
func stripBoilerplate(lines []string) []string {
	const (
		minRepeats = 3
		maxLen     = 80
	)

	counts := make(map[string]int)
	for _, line := range lines {
		if line == "" || len(line) > maxLen {
			continue
		}
		counts[line]++
	}

	out := lines[:0]
	for _, line := range lines {
		if line != "" && len(line) <= maxLen && counts[line] >= minRepeats {
			continue
		}
		out = append(out, line)
	}
	return out
}
