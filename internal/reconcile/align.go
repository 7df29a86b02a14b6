package reconcile

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ahrav/go-t2ieval/internal/domain"
	"github.com/ahrav/go-t2ieval/internal/match"
	"github.com/ahrav/go-t2ieval/internal/tree"
)

// aligned is one surviving triple, as indices into the three label lists.
type aligned struct {
	question, answer, evaluation int
}

// alignLabels matches answer labels and evaluation labels onto question
// labels independently. A question survives only when both sides matched
// it; the other half-matched questions are dropped.
func (l *MismatchLog) alignLabels(questions, answers, evals []string, answerPath, evalPath string) []aligned {
	ap := l.bestMatch(answers, questions, answerPath)
	ep := l.bestMatch(evals, questions, evalPath)

	byQuestion := func(pairs []match.Pair) map[int]int {
		m := make(map[int]int, len(pairs))
		for _, p := range pairs {
			m[p.TargetIndex] = p.SourceIndex
		}
		return m
	}
	aq, eq := byQuestion(ap), byQuestion(ep)

	fromAnswers := mapset.NewThreadUnsafeSet[int]()
	for q := range aq {
		fromAnswers.Add(q)
	}
	fromEvals := mapset.NewThreadUnsafeSet[int]()
	for q := range eq {
		fromEvals.Add(q)
	}
	common := fromAnswers.Intersect(fromEvals)

	// Pairs are ordered by target index, so walking the answer pairs keeps
	// question order.
	out := make([]aligned, 0, common.Cardinality())
	for _, p := range ap {
		if !common.Contains(p.TargetIndex) {
			continue
		}
		out = append(out, aligned{question: p.TargetIndex, answer: p.SourceIndex, evaluation: eq[p.TargetIndex]})
	}
	return out
}

// Align groups questions with the answers and evaluations whose labels
// match them. Each triple carries the question's own text; a question that
// lacks a matching answer or a matching evaluation yields no triple. The
// log may be nil.
func Align(questions []domain.Question, answers []domain.Answer, evals []domain.Evaluation, log *MismatchLog) []domain.Triple {
	if len(questions) == 0 || len(answers) == 0 || len(evals) == 0 {
		return nil
	}
	ql := make([]string, len(questions))
	for i, q := range questions {
		ql[i] = q.Text
	}
	al := make([]string, len(answers))
	for i, a := range answers {
		al[i] = a.QuestionRef
	}
	el := make([]string, len(evals))
	for i, e := range evals {
		el[i] = e.QuestionRef
	}

	var triples []domain.Triple
	for _, t := range log.alignLabels(ql, al, el, "answers", "evaluations") {
		q := questions[t.question]
		a := answers[t.answer]
		e := evals[t.evaluation]
		a.QuestionRef, e.QuestionRef = q.Text, q.Text
		triples = append(triples, domain.Triple{Question: q.Clone(), Answer: a, Evaluation: e})
	}
	return triples
}

func chainPath(chain []string) string {
	return rootPath + " -> " + strings.Join(chain, " -> ")
}

// setChain stores v at the end of chain when every parent is a map.
func setChain(t *tree.Node, chain []string, v *tree.Node) {
	parent := t.Lookup(chain[:len(chain)-1]...)
	if parent.IsMap() {
		parent.Set(chain[len(chain)-1], v)
	}
}

// alignChains rewrites the question, answer and evaluation lists found at
// the three chains into aligned question entries. Answer and evaluation
// entries are relabelled with the question text they matched.
func (r *reconciler) alignChains(t *tree.Node, qc, ac, ec []string) {
	qs, as, es := tree.List(), tree.List(), tree.List()
	defer func() {
		setChain(t, qc, qs)
		setChain(t, ac, as)
		setChain(t, ec, es)
	}()

	rawQ, rawA, rawE := t.Lookup(qc...), t.Lookup(ac...), t.Lookup(ec...)
	if !rawQ.IsList() || !rawA.IsList() || !rawE.IsList() {
		return
	}
	check := checkFor(r.opts.StrictQuestions)
	vq := labelMap(rawQ, check, true)
	va := labelMap(rawA, check, true)
	ve := labelMap(rawE, check, true)
	if vq.Len() == 0 || va.Len() == 0 || ve.Len() == 0 {
		return
	}

	ql, al, el := vq.Keys(), va.Keys(), ve.Keys()
	for _, a := range r.log.alignLabels(ql, al, el, chainPath(ac), chainPath(ec)) {
		label := ql[a.question]
		qv, _ := vq.Get(label)
		av, _ := va.Get(al[a.answer])
		ev, _ := ve.Get(el[a.evaluation])
		qs.Append(tree.QuestionEntry(label, qv))
		as.Append(tree.QuestionEntry(label, av))
		es.Append(tree.QuestionEntry(label, ev))
	}
}

// extractChain rewrites the raw list at chain into question entries. Only
// strict question labels are accepted.
func extractChain(t *tree.Node, chain []string) {
	out := tree.List()
	if raw := t.Lookup(chain...); raw.IsList() {
		labels := labelMap(raw, IsQuestionLabel, true)
		for _, k := range labels.Keys() {
			v, _ := labels.Get(k)
			out.Append(tree.QuestionEntry(k, v))
		}
	}
	setChain(t, chain, out)
}

// matchQuestions turns the raw question, answer and evaluation bullet lists
// of a reconciled tree into question entries. With answers and evaluations
// present the three lists are aligned; otherwise questions are extracted on
// their own. A tree without structure information is treated as a single
// response rooted at its first key.
func (r *reconciler) matchQuestions(t *tree.Node) {
	if !t.Has(StructureInformation) {
		keys := t.Keys()
		if len(keys) == 0 {
			return
		}
		chain := []string{keys[0]}
		if first, _ := t.Get(keys[0]); first.IsMap() && first.Len() > 0 {
			chain = append(chain, first.Keys()[0])
		}
		extractChain(t, chain)
		return
	}

	full := t.Has(Answers) && t.Has(Evaluation)
	entities := t.Lookup(StructureInformation, IntrinsicAttributes).Keys()
	for _, c := range domain.Categories() {
		if !c.PerEntity() {
			continue
		}
		for _, entity := range entities {
			qc := []string{Questions, c.QuestionsKey(), entity}
			if full {
				r.alignChains(t, qc, []string{Answers, c.QuestionsKey(), entity}, []string{Evaluation, c.AnswersKey(), entity})
				continue
			}
			extractChain(t, qc)
		}
	}

	rel := domain.CategoryRelationship
	qc := []string{Questions, rel.QuestionsKey()}
	if full {
		r.alignChains(t, qc, []string{Answers, rel.QuestionsKey()}, []string{Evaluation, rel.AnswersKey()})
		return
	}
	extractChain(t, qc)
}
