package domain

import (
	"fmt"
	"strings"
)

// StageKind identifies one discrete model round in the evaluation pipeline.
type StageKind string

const (
	// StageExtract builds the structure information and question set.
	StageExtract StageKind = "extract"
	// StageExtractError is the side-channel stream for failed extractions.
	StageExtractError StageKind = "extract-error"
	// StageAnswer answers a single question against the generated image.
	StageAnswer StageKind = "answer"
	// StageEval judges a single answer against the structure information.
	StageEval StageKind = "eval"
	// StageAspectSummary summarises one category when aspects are separated.
	StageAspectSummary StageKind = "summary"
	// StageSummarize produces the overall evaluation for an item.
	StageSummarize StageKind = "summarize"
)

// SubStage distinguishes the merged view of a stage from the two raw calls
// of a split explanation-then-score round.
type SubStage int

const (
	// Primary is the merged, caller-facing result of a stage.
	Primary SubStage = iota
	// SubStage1 is the explanation call of a split stage.
	SubStage1
	// SubStage2 is the scoring call of a split stage.
	SubStage2
)

func (s SubStage) suffix() string {
	switch s {
	case SubStage1:
		return "_stage_1"
	case SubStage2:
		return "_stage_2"
	default:
		return ""
	}
}

// StageKey is the typed identity of a persisted stage log. File names and
// progress-map lookups are both derived from it.
type StageKey struct {
	Kind     StageKind
	Category Category // empty for extract, extract-error and summarize
	Sub      SubStage
}

// Key constructs a StageKey.
func Key(kind StageKind, category Category, sub SubStage) StageKey {
	return StageKey{Kind: kind, Category: category, Sub: sub}
}

// ExtractKey is the key of the extract stage log.
func ExtractKey() StageKey { return StageKey{Kind: StageExtract} }

// ExtractErrorKey is the key of the extract error stream.
func ExtractErrorKey() StageKey { return StageKey{Kind: StageExtractError} }

// SummarizeKey is the key of the overall summary log.
func SummarizeKey(sub SubStage) StageKey { return StageKey{Kind: StageSummarize, Sub: sub} }

// Name renders the stage name, e.g. "intrinsic_eval_stage_1" or "summarize".
func (k StageKey) Name() string {
	var b strings.Builder
	if k.Category != "" {
		b.WriteString(string(k.Category))
		b.WriteByte('_')
	}
	b.WriteString(string(k.Kind))
	b.WriteString(k.Sub.suffix())
	return b.String()
}

// FileName is the append-only JSONL log file holding this stage's records.
func (k StageKey) FileName() string { return k.Name() + "-result.jsonl" }

func (k StageKey) String() string { return k.Name() }

// ParseStageKey is the inverse of Name.
func ParseStageKey(name string) (StageKey, error) {
	var key StageKey
	rest := name
	switch {
	case strings.HasSuffix(rest, SubStage1.suffix()):
		key.Sub = SubStage1
		rest = strings.TrimSuffix(rest, SubStage1.suffix())
	case strings.HasSuffix(rest, SubStage2.suffix()):
		key.Sub = SubStage2
		rest = strings.TrimSuffix(rest, SubStage2.suffix())
	}

	if cat, kind, ok := strings.Cut(rest, "_"); ok {
		c, err := ParseCategory(cat)
		if err != nil {
			return StageKey{}, fmt.Errorf("%w: %q", ErrUnknownStage, name)
		}
		key.Category = c
		rest = kind
	}

	switch k := StageKind(rest); k {
	case StageExtract, StageExtractError, StageSummarize:
		if key.Category != "" {
			return StageKey{}, fmt.Errorf("%w: %q", ErrUnknownStage, name)
		}
		key.Kind = k
	case StageAnswer, StageEval, StageAspectSummary:
		if key.Category == "" {
			return StageKey{}, fmt.Errorf("%w: %q", ErrUnknownStage, name)
		}
		key.Kind = k
	default:
		return StageKey{}, fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	return key, nil
}

// AllStageKeys enumerates every stage log the pipeline may write, in the
// order the stages run.
func AllStageKeys() []StageKey {
	subs := []SubStage{Primary, SubStage1, SubStage2}
	keys := []StageKey{ExtractKey(), ExtractErrorKey()}
	for _, c := range Categories() {
		for _, s := range subs {
			keys = append(keys, Key(StageAnswer, c, s))
		}
		if c == CategoryAppearance {
			continue
		}
		for _, s := range subs {
			keys = append(keys, Key(StageEval, c, s))
		}
	}
	for _, c := range Categories() {
		for _, s := range subs {
			keys = append(keys, Key(StageAspectSummary, c, s))
		}
	}
	for _, s := range subs {
		keys = append(keys, SummarizeKey(s))
	}
	return keys
}
