// Package reconcile maps loosely structured trees parsed from model output
// onto fixed target schemas.
//
// Keys are aligned level by level with mutual best matching. Unmatched
// target keys get a "No <key>" placeholder, and unmatched source keys are
// discarded. Every deviation is recorded in a MismatchLog. A soft mismatch
// never fails reconciliation; only structurally impossible input does.
package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ahrav/go-t2ieval/internal/tree"
)

// Hard reconciliation failures.
var (
	// ErrShapeMismatch is returned when the target expects a map but the
	// source holds something else at the same position.
	ErrShapeMismatch = errors.New("source shape does not match target schema")
	// ErrMissingStructureInfo is returned under ForceStructureInfo when the
	// first matched root key is not StructureInformation.
	ErrMissingStructureInfo = errors.New("missing structure information")
	// ErrMissingIntrinsicAttributes is returned under ForceStructureInfo when
	// structure information has no map of intrinsic attributes.
	ErrMissingIntrinsicAttributes = errors.New("missing intrinsic attributes")
)

const rootPath = "root"

// Options controls one reconciliation.
type Options struct {
	// File names the source in the mismatch log.
	File string
	// ForceStructureInfo makes a missing structure information block, or
	// one without an intrinsic attribute map, a hard failure.
	ForceStructureInfo bool
	// MatchQuestions runs the question pass after key matching, turning
	// raw bullet lists into question entries.
	MatchQuestions bool
	// StrictQuestions requires answer and evaluation labels to look like
	// questions during alignment. Extraction is always strict.
	StrictQuestions bool
	// Logger receives mismatch details at debug level. Nil uses the
	// default logger.
	Logger *slog.Logger
}

// DefaultOptions is the configuration used for full-schema parsing.
func DefaultOptions() Options {
	return Options{ForceStructureInfo: true, MatchQuestions: true, StrictQuestions: true}
}

type reconciler struct {
	opts   Options
	log    *MismatchLog
	logger *slog.Logger
	title  cases.Caser
}

// Reconcile produces a tree shaped like schema and populated from source.
// The schema is not modified. The returned log is non-nil even on error.
func Reconcile(source, schema *tree.Node, opts Options) (*tree.Node, *MismatchLog, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &reconciler{
		opts:   opts,
		log:    NewMismatchLog(opts.File),
		logger: logger.With("component", "reconcile"),
		title:  cases.Title(language.English),
	}

	out := schema.Clone()
	if err := r.matchKeys(source, out, rootPath); err != nil {
		return nil, r.log, err
	}
	if opts.MatchQuestions {
		r.matchQuestions(out)
	}
	if r.log.Error {
		r.logger.Debug("reconciled with mismatches", "file", opts.File, "mismatch", r.log)
	}
	return out, r.log, nil
}

// matchKeys fills target in place from source.
func (r *reconciler) matchKeys(source, target *tree.Node, path string) error {
	if !source.IsMap() {
		return fmt.Errorf("%s: expected map, got %s: %w", path, source.Kind(), ErrShapeMismatch)
	}
	srcKeys := source.Keys()
	tgtKeys := target.Keys()
	pairs := r.log.bestMatch(srcKeys, tgtKeys, path)

	atRoot := path == rootPath
	if atRoot && r.opts.ForceStructureInfo {
		if len(pairs) == 0 || tgtKeys[pairs[0].TargetIndex] != StructureInformation {
			return ErrMissingStructureInfo
		}
	}

	matchedSrc := make([]bool, len(srcKeys))
	matchedTgt := make([]bool, len(tgtKeys))
	for _, p := range pairs {
		matchedSrc[p.SourceIndex] = true
		matchedTgt[p.TargetIndex] = true

		srcKey, tgtKey := srcKeys[p.SourceIndex], tgtKeys[p.TargetIndex]
		srcVal, _ := source.Get(srcKey)
		tgtVal, _ := target.Get(tgtKey)
		subPath := path + " -> " + srcKey

		switch {
		case tgtVal.IsMap() && tgtKey == OverallEvaluation:
			if err := r.matchKeys(flattenOverall(srcVal), tgtVal, subPath); err != nil {
				return err
			}
		case tgtVal.IsMap():
			if err := r.matchKeys(srcVal, tgtVal, subPath); err != nil {
				return err
			}
		default:
			target.Set(tgtKey, srcVal.Clone())
		}

		if atRoot && tgtKey == StructureInformation {
			if err := r.seedEntities(target); err != nil {
				return err
			}
		}
	}

	inCaption := strings.Contains(r.title.String(path), ImageCaption)
	var missed bool
	for j, k := range tgtKeys {
		if matchedTgt[j] {
			continue
		}
		if inCaption {
			target.Delete(k)
			continue
		}
		missed = true
		placeholder := "No " + strings.ToLower(k)
		target.Set(k, tree.Leaf(placeholder))
		r.log.MissedKeys = append(r.log.MissedKeys, MissedKey{Path: path + " -> " + k, Placeholder: placeholder})
	}

	var redundant bool
	for i, k := range srcKeys {
		if matchedSrc[i] {
			continue
		}
		redundant = true
		r.log.RedundantKeys = append(r.log.RedundantKeys, path+" -> "+k)
	}

	if missed || redundant {
		r.log.Error = true
	}
	return nil
}

// seedEntities cleans the entity keys of the intrinsic attribute block and
// seeds per-entity containers in the sibling blocks the schema carries.
func (r *reconciler) seedEntities(root *tree.Node) error {
	info, _ := root.Get(StructureInformation)
	attrs, ok := info.Get(IntrinsicAttributes)
	if !ok || !attrs.IsMap() {
		if r.opts.ForceStructureInfo {
			return ErrMissingIntrinsicAttributes
		}
		return nil
	}

	cleaned := tree.NewMap()
	for _, k := range attrs.Keys() {
		v, _ := attrs.Get(k)
		cleaned.Set(cleanEntityKey(k), v)
	}
	info.Set(IntrinsicAttributes, cleaned)

	entities := cleaned.Keys()
	seed := func(parent *tree.Node, key string) {
		if parent.IsMap() {
			parent.Set(key, entityMap(entities))
		}
	}
	if q, ok := root.Get(Questions); ok {
		seed(q, perEntityQuestionsKeys[0])
		seed(q, perEntityQuestionsKeys[1])
	}
	if root.Has(ImageCaption) {
		root.Set(ImageCaption, entityMap(entities))
	}
	if a, ok := root.Get(Answers); ok {
		seed(a, perEntityQuestionsKeys[0])
		seed(a, perEntityQuestionsKeys[1])
	}
	if e, ok := root.Get(Evaluation); ok {
		seed(e, perEntityAnswersKeys[0])
		seed(e, perEntityAnswersKeys[1])
	}
	return nil
}

func entityMap(entities []string) *tree.Node {
	m := tree.NewMap()
	for _, e := range entities {
		m.Set(e, tree.Null())
	}
	return m
}

// cleanEntityKey strips a qualifier prefix: "Entity 1: cat" becomes "cat",
// as does "1. cat".
func cleanEntityKey(k string) string {
	if i := strings.LastIndex(k, ":"); i >= 0 {
		return strings.TrimSpace(k[i+1:])
	}
	if i := strings.LastIndex(k, "."); i >= 0 {
		return strings.TrimSpace(k[i+1:])
	}
	return k
}

// flattenOverall turns the overall evaluation bullet list into a map of
// summary label to attributes. Labels starting with "attribute" are moved
// under the intrinsic summary name.
func flattenOverall(src *tree.Node) *tree.Node {
	if !src.IsList() {
		return src
	}
	out := tree.NewMap()
	labels := labelMap(src, isString, false)
	for _, k := range labels.Keys() {
		v, _ := labels.Get(k)
		if strings.HasPrefix(k, "Attribute") || strings.HasPrefix(k, "attribute") {
			k = "Intrinsic " + k
		}
		out.Set(k, v)
	}
	return out
}
