// Package prompt renders the prompt templates for every model round.
//
// Templates are embedded text/template files named after the stage they
// serve, e.g. "intrinsic_eval_stage_1.tmpl", with a "_ref" variant when a
// reference image is interleaved. Wherever a template needs an image it
// carries ImageMarker; the model client splits on it.
package prompt

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/ahrav/go-t2ieval/internal/domain"
)

// ImageMarker marks the place of an image inside a prompt.
const ImageMarker = "<ImagePlaceholder>"

// KindMerge is the template family of the merge step that combines the
// per-aspect summaries. Its records are persisted as the overall summary.
const KindMerge domain.StageKind = "merge"

// ErrNoTemplate is returned when no template serves a key.
var ErrNoTemplate = errors.New("no prompt template")

//go:embed templates/*.tmpl
var templateFS embed.FS

// Key selects a template.
type Key struct {
	Kind     domain.StageKind
	Category domain.Category
	Sub      domain.SubStage
	// Reference selects the variant that interleaves a reference image.
	// Keys without such a variant fall back to the plain template.
	Reference bool
}

func (k Key) name(withRef bool) string {
	n := domain.Key(k.Kind, k.Category, k.Sub).Name()
	if withRef {
		n += "_ref"
	}
	return n + ".tmpl"
}

func (k Key) String() string { return strings.TrimSuffix(k.name(k.Reference), ".tmpl") }

// Data holds every placeholder a template may reference. Markdown-valued
// fields are rendered by the caller.
type Data struct {
	TextPrompt               string
	Question                 string
	QuestionAndExplanation   string
	Answer                   string
	AnswerAndExplanation     string
	StructureInfo            string
	EvalResult               string
	EvalResultAndExplanation string
}

// Library is a parsed template set. It is safe for concurrent use.
type Library struct {
	set               *template.Template
	stage1FromPrimary bool
}

// Option configures a Library.
type Option func(*Library)

// WithStage1FromPrimary makes the explanation call of a split answer or
// evaluation round use the round's single-call template.
func WithStage1FromPrimary(enabled bool) Option {
	return func(l *Library) { l.stage1FromPrimary = enabled }
}

// New parses the embedded templates.
func New(opts ...Option) (*Library, error) {
	set, err := template.New("prompts").Option("missingkey=error").ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}
	l := &Library{set: set}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// resolve applies the stage-1 override and the reference fallback.
func (l *Library) resolve(k Key) (*template.Template, error) {
	if l.stage1FromPrimary && k.Sub == domain.SubStage1 && (k.Kind == domain.StageAnswer || k.Kind == domain.StageEval) {
		k.Sub = domain.Primary
	}
	if k.Reference {
		if t := l.set.Lookup(k.name(true)); t != nil {
			return t, nil
		}
	}
	if t := l.set.Lookup(k.name(false)); t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("%w for %s", ErrNoTemplate, k)
}

// Has reports whether a template serves k.
func (l *Library) Has(k Key) bool {
	_, err := l.resolve(k)
	return err == nil
}

// Render executes the template for k.
func (l *Library) Render(k Key, d Data) (string, error) {
	t, err := l.resolve(k)
	if err != nil {
		return "", err
	}
	var b bytes.Buffer
	if err := t.Execute(&b, d); err != nil {
		return "", fmt.Errorf("render %s: %w", k, err)
	}
	return b.String(), nil
}

// ImageCount is the number of image markers in a rendered prompt.
func ImageCount(prompt string) int { return strings.Count(prompt, ImageMarker) }
