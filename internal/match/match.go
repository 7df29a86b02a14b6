// Package match pairs two label lists by mutual best string similarity.
//
// Similarity is the ratio 2·M / (|a| + |b|), where M is the number of runes
// the two normalised labels have in common, counted with multiplicity and
// regardless of position. Reordered words therefore still match. A pair is
// returned only when each label is the other's best candidate, so noisy
// model-produced keys never steal a slot from a better-matching key.
package match

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/text/unicode/norm"
)

// PerfectThreshold is the similarity below which a returned pair is
// considered imperfect and worth reporting.
const PerfectThreshold = 0.9

// Pair is a mutual best match between Source[SourceIndex] and
// Target[TargetIndex].
type Pair struct {
	SourceIndex int
	TargetIndex int
	Similarity  float64
}

// Imperfect reports whether the pair scored below PerfectThreshold.
func (p Pair) Imperfect() bool { return p.Similarity < PerfectThreshold }

// Normalize folds a label for comparison: NFKC, lower case, trimmed.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}

// Ratio is the similarity of two labels in [0, 1]. Two empty labels are
// identical.
func Ratio(a, b string) float64 {
	return ratio(Normalize(a), Normalize(b))
}

func ratio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 || a == b {
		return 1
	}
	avail := make(map[rune]int, len(b))
	for _, r := range b {
		avail[r]++
	}
	var common int
	for _, r := range a {
		if avail[r] > 0 {
			avail[r]--
			common++
		}
	}
	return 2 * float64(common) / float64(total)
}

// Edit renders the character edits turning a into b, with deletions as
// [-x-] and insertions as {+x+}.
func Edit(a, b string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(a, b, false))
	var sb strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			sb.WriteString("[-" + d.Text + "-]")
		case diffmatchpatch.DiffInsert:
			sb.WriteString("{+" + d.Text + "+}")
		default:
			sb.WriteString(d.Text)
		}
	}
	return sb.String()
}

// Matrix computes similarity for every source/target pair, rows indexed by
// source.
func Matrix(source, target []string) [][]float64 {
	ns := make([]string, len(target))
	for j, t := range target {
		ns[j] = Normalize(t)
	}
	m := make([][]float64, len(source))
	for i, s := range source {
		m[i] = make([]float64, len(target))
		s = Normalize(s)
		for j := range target {
			m[i][j] = ratio(s, ns[j])
		}
	}
	return m
}

// Best returns all mutual best matches between source and target, ordered
// by target index. Ties in a row or column go to the lowest index. Either
// list being empty yields no pairs.
func Best(source, target []string) []Pair {
	if len(source) == 0 || len(target) == 0 {
		return nil
	}
	m := Matrix(source, target)

	rowBest := make([]int, len(source))
	for i := range source {
		rowBest[i] = argmax(len(target), func(j int) float64 { return m[i][j] })
	}
	colBest := make([]int, len(target))
	for j := range target {
		colBest[j] = argmax(len(source), func(i int) float64 { return m[i][j] })
	}

	var pairs []Pair
	for j, i := range colBest {
		if rowBest[i] == j {
			pairs = append(pairs, Pair{SourceIndex: i, TargetIndex: j, Similarity: m[i][j]})
		}
	}
	slices.SortStableFunc(pairs, func(a, b Pair) int { return a.TargetIndex - b.TargetIndex })
	return pairs
}

func argmax(n int, at func(int) float64) int {
	best := 0
	for k := 1; k < n; k++ {
		if at(k) > at(best) {
			best = k
		}
	}
	return best
}
