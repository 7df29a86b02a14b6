package reconcile

import (
	"log/slog"

	"github.com/ahrav/go-t2ieval/internal/match"
)

// MissedKey is a target key that no source key matched.
type MissedKey struct {
	Path        string `json:"path"`
	Placeholder string `json:"placeholder"`
}

// ImperfectMatch is a matched key pair whose similarity fell below
// match.PerfectThreshold.
type ImperfectMatch struct {
	Path       string  `json:"path"`
	SourceKey  string  `json:"src_key"`
	TargetKey  string  `json:"tgt_key"`
	Similarity float64 `json:"similarity"`
	Edit       string  `json:"edit"`
}

// MismatchLog records every deviation found while reconciling one tree.
// Error is set iff a key was missed outside a caption subtree, a source key
// was redundant, or any match was imperfect.
type MismatchLog struct {
	File             string           `json:"file,omitempty"`
	MissedKeys       []MissedKey      `json:"missed_keys"`
	RedundantKeys    []string         `json:"redundant_keys"`
	ImperfectMatches []ImperfectMatch `json:"imperfect_match"`
	Error            bool             `json:"error"`
}

// NewMismatchLog returns an empty log for the named source.
func NewMismatchLog(file string) *MismatchLog {
	return &MismatchLog{
		File:             file,
		MissedKeys:       []MissedKey{},
		RedundantKeys:    []string{},
		ImperfectMatches: []ImperfectMatch{},
	}
}

// LogValue summarises the log for structured logging.
func (l *MismatchLog) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("missed", len(l.MissedKeys)),
		slog.Int("redundant", len(l.RedundantKeys)),
		slog.Int("imperfect", len(l.ImperfectMatches)),
		slog.Bool("error", l.Error),
	)
}

// bestMatch runs the matcher and records imperfect pairs under path. A nil
// log disables recording.
func (l *MismatchLog) bestMatch(source, target []string, path string) []match.Pair {
	pairs := match.Best(source, target)
	if l == nil {
		return pairs
	}
	for _, p := range pairs {
		if !p.Imperfect() {
			continue
		}
		src, tgt := source[p.SourceIndex], target[p.TargetIndex]
		l.ImperfectMatches = append(l.ImperfectMatches, ImperfectMatch{
			Path:       path,
			SourceKey:  src,
			TargetKey:  tgt,
			Similarity: p.Similarity,
			Edit:       match.Edit(src, tgt),
		})
		l.Error = true
	}
	return pairs
}
