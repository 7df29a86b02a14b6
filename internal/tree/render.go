package tree

import (
	"strings"
)

// Keys that mark a question entry, i.e. a map {question: label, value: attrs}.
const (
	QuestionKey = "question"
	ValueKey    = "value"
)

// Score attribute names filtered by WithoutScores.
const (
	scoreAttr       = "score"
	manualScoreAttr = "manual_score"
)

// RenderOption configures ToMarkdown.
type RenderOption func(*renderConfig)

type renderConfig struct {
	titleLevel  int
	ignoreScore bool
	overall     bool
}

// WithTitleLevel offsets heading depth; top-level keys render at level+1.
func WithTitleLevel(level int) RenderOption {
	return func(c *renderConfig) { c.titleLevel = level }
}

// WithoutScores drops score and manual_score attributes from question
// entries, so a scoring prompt does not see an earlier score.
func WithoutScores() RenderOption {
	return func(c *renderConfig) { c.ignoreScore = true }
}

// AsOverallEvaluation renders a map of summary name to attributes as a
// bullet list, the layout expected under an "Overall Evaluation" heading.
// Summaries that are not maps render with N/A explanation and score.
func AsOverallEvaluation() RenderOption {
	return func(c *renderConfig) { c.overall = true }
}

// QuestionEntry builds the map form of a labelled question.
func QuestionEntry(label string, attrs *Node) *Node {
	return NewMap().Set(QuestionKey, Leaf(label)).Set(ValueKey, attrs)
}

// IsQuestionEntry reports whether n has the question-entry shape.
func IsQuestionEntry(n *Node) bool {
	return n.IsMap() && n.Has(QuestionKey) && n.Has(ValueKey)
}

// ToMarkdown renders a tree back to markdown: map keys become headings,
// lists become bullets indented four spaces per level, and question
// entries become a "question:" bullet followed by their attributes.
func ToMarkdown(n *Node, opts ...RenderOption) string {
	cfg := renderConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.overall && n.IsMap() {
		return render(overallList(n, cfg.ignoreScore), cfg.titleLevel, 0, false, cfg.ignoreScore)
	}
	return render(n, cfg.titleLevel, 0, false, cfg.ignoreScore)
}

func render(n *Node, titleLevel, listLevel int, fromList, ignoreScore bool) string {
	switch n.Kind() {
	case KindMap:
		if IsQuestionEntry(n) {
			level := listLevel
			if fromList {
				level--
			}
			return render(entryList(n, ignoreScore), titleLevel, level, false, ignoreScore)
		}
		var b strings.Builder
		for _, k := range n.keys {
			v := n.values[k]
			if v.IsNull() {
				continue
			}
			b.WriteString(strings.Repeat("#", titleLevel+1))
			b.WriteByte(' ')
			b.WriteString(k)
			b.WriteByte('\n')
			b.WriteString(render(v, titleLevel+1, listLevel, false, ignoreScore))
		}
		return b.String()
	case KindList:
		var b strings.Builder
		for _, it := range n.items {
			sub := render(it, titleLevel, listLevel+1, true, ignoreScore)
			if it.IsList() || it.IsMap() {
				b.WriteString(sub)
				continue
			}
			b.WriteString(strings.Repeat("    ", listLevel))
			b.WriteString("- ")
			b.WriteString(sub)
			b.WriteByte('\n')
		}
		return b.String()
	default:
		return scalar(n)
	}
}

func entryList(n *Node, ignoreScore bool) *Node {
	q, _ := n.Get(QuestionKey)
	out := Strings(QuestionKey + ": " + scalar(q))
	v, _ := n.Get(ValueKey)
	if v.IsNull() {
		return out
	}
	out.Append(attrList(v, ignoreScore))
	return out
}

func attrList(v *Node, ignoreScore bool) *Node {
	attrs := List()
	for _, k := range v.Keys() {
		if ignoreScore && (k == scoreAttr || k == manualScoreAttr) {
			continue
		}
		val, _ := v.Get(k)
		attrs.Append(Leaf(k + ": " + scalar(val)))
	}
	return attrs
}

func overallList(n *Node, ignoreScore bool) *Node {
	out := List()
	for _, k := range n.keys {
		out.Append(Leaf(k))
		v := n.values[k]
		if v.IsMap() {
			out.Append(attrList(v, ignoreScore))
			continue
		}
		out.Append(Strings("explanation: N/A", "score: N/A"))
	}
	return out
}

// scalar is the inline text form of a node.
func scalar(n *Node) string {
	switch n.Kind() {
	case KindLeaf:
		return n.text
	case KindNull:
		return "N/A"
	default:
		return n.String()
	}
}
