package reconcile

import (
	"strings"

	"github.com/ahrav/go-t2ieval/internal/domain"
	"github.com/ahrav/go-t2ieval/internal/scoring"
	"github.com/ahrav/go-t2ieval/internal/tree"
)

// labelCheck decides whether a list item can serve as a question label.
type labelCheck func(*tree.Node) bool

func isString(n *tree.Node) bool { return n.IsLeaf() }

// IsQuestionLabel is the strict label predicate: a string starting with
// "question" or "Question" that contains a question mark.
func IsQuestionLabel(n *tree.Node) bool {
	if !n.IsLeaf() {
		return false
	}
	s := strings.TrimSpace(n.Text())
	return (strings.HasPrefix(s, "question") || strings.HasPrefix(s, "Question")) && strings.Contains(s, "?")
}

func checkFor(strict bool) labelCheck {
	if strict {
		return IsQuestionLabel
	}
	return isString
}

// labelMap reduces a raw bullet list to an ordered map of label to
// attributes. An accepted label followed by a nested list takes that list,
// parsed, as its attributes; otherwise its value is Null. With cleanKey the
// "questionN:" style prefix is stripped from labels.
func labelMap(items *tree.Node, check labelCheck, cleanKey bool) *tree.Node {
	raw := tree.NewMap()
	list := items.Items()
	for i, it := range list {
		if check(it) {
			raw.Set(strings.TrimSpace(it.Text()), tree.Null())
			continue
		}
		if it.IsList() && i > 0 && check(list[i-1]) {
			raw.Set(strings.TrimSpace(list[i-1].Text()), parseAttributes(it))
		}
	}
	if !cleanKey {
		return raw
	}
	out := tree.NewMap()
	for _, k := range raw.Keys() {
		v, _ := raw.Get(k)
		out.Set(cleanLabel(k), v)
	}
	return out
}

// cleanLabel drops everything up to the first colon. Labels without a colon
// are kept whole.
func cleanLabel(k string) string {
	if _, after, ok := strings.Cut(k, ":"); ok {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(k)
}

// parseAttributes turns "key: value" bullets into a map keyed by the
// canonical attribute vocabulary. Unmatched keys are dropped and score
// values are normalised through score extraction.
func parseAttributes(list *tree.Node) *tree.Node {
	raw := tree.NewMap()
	for _, it := range list.Items() {
		if !it.IsLeaf() {
			continue
		}
		k, v, _ := strings.Cut(it.Text(), ":")
		raw.Set(strings.TrimSpace(k), tree.Leaf(strings.TrimSpace(v)))
	}

	keys := raw.Keys()
	out := tree.NewMap()
	for _, p := range (*MismatchLog)(nil).bestMatch(keys, AttributeVocabulary, "") {
		v, _ := raw.Get(keys[p.SourceIndex])
		out.Set(AttributeVocabulary[p.TargetIndex], v)
	}
	if s, ok := out.Get(AttrScore); ok {
		out.Set(AttrScore, tree.Leaf(scoring.Extract(s.Text()).String()))
	}
	return out
}

// attrsToStrings converts a parsed attribute map into a flat string map.
func attrsToStrings(n *tree.Node) map[string]string {
	if !n.IsMap() {
		return nil
	}
	out := make(map[string]string, n.Len())
	for _, k := range n.Keys() {
		v, _ := n.Get(k)
		out[k] = v.Text()
	}
	return out
}

// entriesToQuestions reads a list of question entries as typed questions.
func entriesToQuestions(entries *tree.Node, entity string) []domain.Question {
	var out []domain.Question
	for _, e := range entries.Items() {
		if !tree.IsQuestionEntry(e) {
			continue
		}
		label, _ := e.Get(tree.QuestionKey)
		attrs, _ := e.Get(tree.ValueKey)
		out = append(out, domain.Question{
			Text:       label.Text(),
			Entity:     entity,
			Attributes: attrsToStrings(attrs),
		})
	}
	return out
}

// QuestionsFromTree reads the question inventory out of a reconciled
// extract tree. Missing or malformed branches contribute no questions.
func QuestionsFromTree(t *tree.Node) *domain.QuestionSet {
	set := &domain.QuestionSet{}
	for _, c := range domain.Categories() {
		block := t.Lookup(Questions, c.QuestionsKey())
		if !c.PerEntity() {
			set.Set(c, entriesToQuestions(block, ""))
			continue
		}
		var qs []domain.Question
		for _, entity := range block.Keys() {
			entries, _ := block.Get(entity)
			qs = append(qs, entriesToQuestions(entries, entity)...)
		}
		set.Set(c, qs)
	}
	return set
}

// QuestionEntries renders typed questions back into entry form, e.g. for
// inclusion in a prompt.
func QuestionEntries(qs ...domain.Question) *tree.Node {
	out := tree.List()
	for _, q := range qs {
		out.Append(QuestionEntry(q))
	}
	return out
}

// QuestionEntry renders one typed question as a question entry. Attributes
// follow the canonical vocabulary order.
func QuestionEntry(q domain.Question) *tree.Node {
	var attrs *tree.Node
	if len(q.Attributes) > 0 {
		attrs = tree.NewMap()
		for _, k := range AttributeVocabulary {
			if v, ok := q.Attributes[k]; ok {
				attrs.Set(k, tree.Leaf(v))
			}
		}
	}
	return tree.QuestionEntry(q.Text, attrs)
}
