package tree

import "strings"

// EnsureHeadingBreaks guarantees a line break before every '#' so that a
// heading glued to preceding text parses as a heading. Segments between
// markers that do not already end in a newline get one appended.
func EnsureHeadingBreaks(s string) string {
	parts := strings.Split(s, "#")
	for i, p := range parts {
		if p != "" && !strings.HasSuffix(p, "\n") {
			parts[i] = p + "\n"
		}
	}
	return strings.Join(parts, "#")
}

// StripHeadings drops heading lines and empty lines, keeping the bullet
// content of an answer or evaluation for inclusion in a summary prompt.
func StripHeadings(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}
