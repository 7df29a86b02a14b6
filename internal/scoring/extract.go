// Package scoring extracts numeric scores from free-form judge responses.
//
// Extraction is deliberately permissive: it scans whitespace-separated
// tokens and takes the first one that is either the literal "N/A" or parses
// as a finite number. A response with no such token yields the N/A
// sentinel, never zero and never an error. Category-specific zeroing is the
// aggregator's job, not the extractor's.
package scoring

import (
	"math"
	"strconv"
	"strings"

	"github.com/ahrav/go-t2ieval/internal/domain"
)

// SummaryScoreSlots is the number of scores in an overall summary: the three
// category summaries followed by the overall score.
const SummaryScoreSlots = 4

// noneToken is accepted as N/A inside score lists.
const noneToken = "None"

// Extract returns the first score-shaped token of s.
func Extract(s string) domain.Score {
	for _, tok := range strings.Fields(s) {
		if tok == domain.NotApplicable {
			return domain.NA()
		}
		if v, ok := parseFinite(tok); ok {
			return domain.NewScore(v)
		}
	}
	return domain.NA()
}

// ExtractList collects every score-shaped token of s, treating "N/A" and
// "None" as N/A slots. When n > 0 the result is truncated or padded with N/A
// to exactly n entries.
func ExtractList(s string, n int) []domain.Score {
	var out []domain.Score
	for _, tok := range strings.Fields(s) {
		if tok == domain.NotApplicable || tok == noneToken {
			out = append(out, domain.NA())
			continue
		}
		if v, ok := parseFinite(tok); ok {
			out = append(out, domain.NewScore(v))
		}
	}
	if n <= 0 {
		return out
	}
	if len(out) > n {
		out = out[:n]
	}
	for len(out) < n {
		out = append(out, domain.NA())
	}
	return out
}

// ExtractLabeled prefers the last line carrying a "score:" label, falling
// back to Extract over the whole text. It reads scores out of rendered
// evaluations, where the first number in the text is rarely the score.
func ExtractLabeled(s string) domain.Score {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		lower := strings.ToLower(lines[i])
		idx := strings.LastIndex(lower, "score:")
		if idx < 0 {
			continue
		}
		return Extract(lines[i][idx+len("score:"):])
	}
	return Extract(s)
}

func parseFinite(tok string) (float64, bool) {
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
