package stage

import (
	"context"

	"github.com/ahrav/go-t2ieval/internal/domain"
	"github.com/ahrav/go-t2ieval/internal/llm"
	"github.com/ahrav/go-t2ieval/internal/prompt"
	"github.com/ahrav/go-t2ieval/internal/reconcile"
	"github.com/ahrav/go-t2ieval/internal/scoring"
	"github.com/ahrav/go-t2ieval/internal/tree"
)

// simpleEvalPrompt continues an answer conversation in simple format.
const simpleEvalPrompt = "Give an explanation for the answer according to the image.\nAnswer: "

// QuestionInput is one question of an item.
type QuestionInput struct {
	Item     *domain.DatasetItem
	Category domain.Category
	Question domain.Question
	// StructureInfo is the reconciled extract tree, rendered into
	// evaluation prompts.
	StructureInfo *tree.Node
}

func (in QuestionInput) id() domain.ItemID { return domain.ItemID(in.Question.ID) }

// splitsAnswer reports whether the answer round of c is split into an
// explanation call and a score call. Only appearance answers carry a score.
func (e *Executor) splitsAnswer(c domain.Category) bool {
	return e.opts.MultiStage && c == domain.CategoryAppearance
}

// Answer asks the question against the target image. For appearance
// questions the reference image is shown alongside when the item has one.
func (e *Executor) Answer(ctx context.Context, in QuestionInput) (*Result, error) {
	c, q := in.Category, in.Question
	appearance := c == domain.CategoryAppearance
	ref := ""
	if appearance {
		ref = in.Item.RefImage
	}
	split := e.splitsAnswer(c)

	tmpl := prompt.Key{Kind: domain.StageAnswer, Category: c, Reference: ref != ""}
	if split {
		tmpl.Sub = domain.SubStage1
	}
	key := domain.Key(domain.StageAnswer, c, domain.Primary)

	var req llm.ChatRequest
	if e.opts.SimpleFormat {
		req = llm.ChatRequest{Prompt: q.Text, TargetImage: in.Item.GTImage}
	} else {
		text, err := e.prompts.Render(tmpl, prompt.Data{Question: tree.ToMarkdown(reconcile.QuestionEntries(q), tree.WithoutScores())})
		if err != nil {
			return nil, err
		}
		req = llm.ChatRequest{Prompt: text, TargetImage: in.Item.GTImage, ReferenceImage: ref}
	}

	resp, err := e.client.Chat(ctx, req)
	if err != nil {
		return nil, callError(key, err)
	}
	response := resp.Text
	if !e.opts.SimpleFormat {
		response = tree.EnsureHeadingBreaks(response)
	}

	base := func() *domain.Record {
		r := e.record(in.id(), in.Item)
		r.Entity = q.Entity
		if appearance {
			r.RefImage = in.Item.RefImage
		}
		return r
	}

	primary := base()
	primary.Query = req.Prompt
	primary.Response = response
	primary.History = resp.History
	if e.opts.SimpleFormat {
		qc := q.Clone()
		primary.Question = &qc
	}
	res := &Result{Key: key, Primary: primary, History: resp.History}
	if !split {
		return res, nil
	}

	structured := e.answerTree(q, response)
	tmpl.Sub = domain.SubStage2
	scoreText, err := e.prompts.Render(tmpl, prompt.Data{QuestionAndExplanation: tree.ToMarkdown(structured, tree.WithoutScores())})
	if err != nil {
		return nil, err
	}
	scoreResp, err := e.client.Chat(ctx, llm.ChatRequest{Prompt: scoreText, TargetImage: in.Item.GTImage, ReferenceImage: ref})
	if err != nil {
		return nil, callError(domain.Key(domain.StageAnswer, c, domain.SubStage2), err)
	}
	score := scoring.Extract(scoreResp.Text)
	setEntryAttr(firstEntry(structured, reconcile.AnswerRoot, q.Entity), reconcile.AttrScore, score.String())

	res.Stage1 = base()
	res.Stage1.Query = req.Prompt
	res.Stage1.Response = response
	res.Stage1.History = resp.History

	res.Stage2 = base()
	res.Stage2.Query = scoreText
	res.Stage2.Response = scoreResp.Text
	res.Stage2.WithScore(score)

	primary.Structured = structured
	primary.WithScore(score)
	if !e.opts.SimpleFormat {
		primary.Response = tree.ToMarkdown(structured)
	}
	return res, nil
}

// answerTree shapes an explanation reply as a single answer entry. Template
// replies are reconciled; a reply that does not reconcile into an entry
// falls back to the question itself.
func (e *Executor) answerTree(q domain.Question, response string) *tree.Node {
	if e.opts.SimpleFormat {
		entry := reconcile.QuestionEntry(q)
		setEntryAttr(entry, reconcile.AttrExplanation, response)
		return singleResponse(reconcile.AnswerRoot, q.Entity, entry)
	}
	if t := e.reconcileSingle(reconcile.AnswerRoot, q.Entity, response); t != nil {
		return t
	}
	return singleResponse(reconcile.AnswerRoot, q.Entity, reconcile.QuestionEntry(q))
}

// reconcileSingle reconciles a per-question reply. It returns nil unless the
// reply holds at least one question entry.
func (e *Executor) reconcileSingle(root, entity, response string) *tree.Node {
	out, _, err := reconcile.Reconcile(tree.FromMarkdown(response), reconcile.SingleResponseSchema(root, entity), reconcile.Options{
		File:            root,
		MatchQuestions:  true,
		StrictQuestions: e.opts.StrictQuestions,
		Logger:          e.logger,
	})
	if err != nil || firstEntry(out, root, entity) == nil {
		return nil
	}
	return out
}

// Evaluate judges an answer against the structure information. It
// continues the answer's conversation, then, when split, scores the
// explanation in a fresh call.
func (e *Executor) Evaluate(ctx context.Context, in QuestionInput, answer *Result) (*Result, error) {
	c, q := in.Category, in.Question
	key := domain.Key(domain.StageEval, c, domain.Primary)
	structureInfo := structureMarkdown(in.StructureInfo)

	tmpl := prompt.Key{Kind: domain.StageEval, Category: c}
	if e.opts.MultiStage {
		tmpl.Sub = domain.SubStage1
	}

	var text string
	if e.opts.SimpleFormat {
		text = simpleEvalPrompt + answer.Primary.Response
	} else {
		var err error
		text, err = e.prompts.Render(tmpl, prompt.Data{Answer: answer.Primary.Response, StructureInfo: structureInfo})
		if err != nil {
			return nil, err
		}
	}

	resp, err := e.client.Chat(ctx, llm.ChatRequest{Prompt: text, TargetImage: in.Item.GTImage, History: answer.History})
	if err != nil {
		return nil, callError(key, err)
	}
	response := tree.EnsureHeadingBreaks(resp.Text)

	base := func() *domain.Record {
		r := e.record(in.id(), in.Item)
		r.Entity = q.Entity
		return r
	}
	primary := base()
	primary.Query = text
	primary.Response = response
	primary.History = resp.History
	res := &Result{Key: key, Primary: primary, History: resp.History}
	if !e.opts.MultiStage {
		return res, nil
	}

	structured := e.evaluationTree(q, answer.Primary.Response, response)
	tmpl.Sub = domain.SubStage2
	scoreText, err := e.prompts.Render(tmpl, prompt.Data{
		AnswerAndExplanation: tree.ToMarkdown(structured, tree.WithoutScores()),
		StructureInfo:        structureInfo,
	})
	if err != nil {
		return nil, err
	}
	scoreResp, err := e.client.Chat(ctx, llm.ChatRequest{Prompt: scoreText, TargetImage: in.Item.GTImage})
	if err != nil {
		return nil, callError(domain.Key(domain.StageEval, c, domain.SubStage2), err)
	}
	score := scoring.Extract(scoreResp.Text)
	setEntryAttr(firstEntry(structured, reconcile.EvaluationRoot, q.Entity), reconcile.AttrScore, score.String())

	res.Stage1 = base()
	res.Stage1.Query = text
	res.Stage1.Response = response
	res.Stage1.History = resp.History

	res.Stage2 = base()
	res.Stage2.Query = scoreText
	res.Stage2.Response = scoreResp.Text
	res.Stage2.WithScore(score)

	primary.Response = tree.ToMarkdown(structured)
	primary.Structured = structured
	primary.WithScore(score)
	return res, nil
}

// evaluationTree shapes an explanation reply as a single evaluation entry.
// In simple format the entry is the question with the answer and the
// explanation attached.
func (e *Executor) evaluationTree(q domain.Question, answer, response string) *tree.Node {
	if e.opts.SimpleFormat {
		entry := reconcile.QuestionEntry(q)
		setEntryAttr(entry, reconcile.AttrAnswer, answer)
		setEntryAttr(entry, reconcile.AttrExplanation, response)
		return singleResponse(reconcile.EvaluationRoot, q.Entity, entry)
	}
	if t := e.reconcileSingle(reconcile.EvaluationRoot, q.Entity, response); t != nil {
		return t
	}
	return singleResponse(reconcile.EvaluationRoot, q.Entity, tree.QuestionEntry(q.Text, tree.NewMap()))
}
