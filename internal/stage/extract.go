package stage

import (
	"context"
	"fmt"

	"github.com/ahrav/go-t2ieval/internal/domain"
	"github.com/ahrav/go-t2ieval/internal/llm"
	"github.com/ahrav/go-t2ieval/internal/prompt"
	"github.com/ahrav/go-t2ieval/internal/reconcile"
	"github.com/ahrav/go-t2ieval/internal/tree"
)

// ExtractResult is the outcome of extraction. Record is nil for prebuilt
// structure information that needed no model call.
type ExtractResult struct {
	Record     *domain.Record
	Structured *tree.Node
	Questions  *domain.QuestionSet
}

func extractOptions(file string) reconcile.Options {
	return reconcile.Options{File: file, ForceStructureInfo: true, MatchQuestions: true}
}

// Extract asks the model for the structure information and question set of
// the item's caption. When no attempt reconciles, the returned record has
// Error set and the error wraps domain.ErrExhaustedRetries; the record then
// belongs in the extract error stream.
func (e *Executor) Extract(ctx context.Context, item *domain.DatasetItem) (*ExtractResult, error) {
	key := domain.ExtractKey()
	text, err := e.prompts.Render(prompt.Key{Kind: domain.StageExtract}, prompt.Data{TextPrompt: item.ImageCaption})
	if err != nil {
		return nil, err
	}

	a, err := e.reconciledRound(ctx, llm.ChatRequest{Prompt: text, TargetImage: item.GTImage}, "", reconcile.ExtractSchema(), extractOptions(key.Name()))
	if a == nil {
		return nil, err
	}

	rec := e.record(item.ID, item)
	rec.Query = a.prompt
	rec.Response = a.response
	if err != nil {
		rec.Error = true
		return &ExtractResult{Record: rec}, err
	}

	questions := reconcile.QuestionsFromTree(a.tree)
	assignIDs(item.ID, questions)
	rec.Structured = a.tree
	rec.Questions = questions
	return &ExtractResult{Record: rec, Structured: a.tree, Questions: questions}, nil
}

// Prebuilt reconciles an item's supplied structure information without a
// model call. Explicit question lists take precedence over the questions
// found in it.
func (e *Executor) Prebuilt(item *domain.DatasetItem) (*ExtractResult, error) {
	res := &ExtractResult{}
	if item.Data != nil {
		opts := extractOptions(domain.ExtractKey().Name())
		opts.Logger = e.logger
		out, _, err := reconcile.Reconcile(item.Data, reconcile.ExtractSchema(), opts)
		if err != nil {
			rec := e.record(item.ID, item)
			rec.Response = item.Data.String()
			rec.Error = true
			return &ExtractResult{Record: rec}, fmt.Errorf("%w: item %s: %w", domain.ErrInvalidDatasetItem, item.ID, err)
		}
		res.Structured = out
		res.Questions = reconcile.QuestionsFromTree(out)
	}
	if item.HasExplicitQuestions() {
		res.Questions = cloneSet(item.ExplicitQuestions())
	}
	if res.Questions == nil {
		return nil, fmt.Errorf("%w: item %s has neither data nor questions", domain.ErrInvalidDatasetItem, item.ID)
	}
	assignIDs(item.ID, res.Questions)
	return res, nil
}

// assignIDs numbers the questions of each category from 0.
func assignIDs(id domain.ItemID, set *domain.QuestionSet) {
	for _, c := range domain.Categories() {
		qs := set.For(c)
		for i := range qs {
			qs[i].ID = string(id.SubID(i))
		}
	}
}

func cloneSet(s *domain.QuestionSet) *domain.QuestionSet {
	out := &domain.QuestionSet{}
	for _, c := range domain.Categories() {
		src := s.For(c)
		qs := make([]domain.Question, len(src))
		for i, q := range src {
			qs[i] = q.Clone()
		}
		out.Set(c, qs)
	}
	return out
}
