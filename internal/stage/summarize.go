package stage

import (
	"context"
	"errors"
	"slices"

	"github.com/ahrav/go-t2ieval/internal/domain"
	"github.com/ahrav/go-t2ieval/internal/llm"
	"github.com/ahrav/go-t2ieval/internal/prompt"
	"github.com/ahrav/go-t2ieval/internal/reconcile"
	"github.com/ahrav/go-t2ieval/internal/scoring"
	"github.com/ahrav/go-t2ieval/internal/tree"
)

// overallPrefix is prepended to summary replies, which start below the
// heading the template ends with.
const overallPrefix = "## " + reconcile.OverallEvaluation + "\n"

// SummaryInput holds everything the summary round reads.
type SummaryInput struct {
	Item          *domain.DatasetItem
	StructureInfo *tree.Node
	// Evaluations lists the scored records of the item per category: the
	// appearance answers and the intrinsic and relationship evaluations.
	Evaluations map[domain.Category][]*domain.Record
}

// EvaluationTree groups the evaluation responses for a summary prompt.
// Per-entity categories hold one text per entity, seeded in the order of
// the structure information; relationship evaluations are concatenated.
func EvaluationTree(structure *tree.Node, evals map[domain.Category][]*domain.Record) *tree.Node {
	var entities []string
	if attrs := structure.Lookup(reconcile.StructureInformation, reconcile.IntrinsicAttributes); attrs.IsMap() {
		entities = attrs.Keys()
	} else {
		seen := map[string]bool{}
		for _, c := range []domain.Category{domain.CategoryAppearance, domain.CategoryIntrinsic} {
			for _, r := range evals[c] {
				if !seen[r.Entity] {
					seen[r.Entity] = true
					entities = append(entities, r.Entity)
				}
			}
		}
	}

	out := tree.NewMap()
	for _, c := range domain.Categories() {
		if !c.PerEntity() {
			var text string
			for _, r := range evals[c] {
				text += tree.StripHeadings(r.Response) + "\n"
			}
			out.Set(c.AnswersKey(), tree.Leaf(text))
			continue
		}
		texts := make(map[string]string, len(entities))
		order := slices.Clone(entities)
		for _, r := range evals[c] {
			if !slices.Contains(order, r.Entity) {
				order = append(order, r.Entity)
			}
			texts[r.Entity] += tree.StripHeadings(r.Response) + "\n"
		}
		m := tree.NewMap()
		for _, e := range order {
			m.Set(e, tree.Leaf(texts[e]))
		}
		out.Set(c.AnswersKey(), m)
	}
	return out
}

func summaryOptions(file string) reconcile.Options {
	return reconcile.Options{File: file}
}

// Summarize produces the item's summary records keyed by log. The overall
// summarize record is always present under SummarizeKey(Primary) and carries
// the four summary scores. A summary that never reconciles is recorded with
// Error set and N/A scores rather than failing the item.
func (e *Executor) Summarize(ctx context.Context, in SummaryInput) (map[domain.StageKey]*domain.Record, error) {
	evals := EvaluationTree(in.StructureInfo, in.Evaluations)
	if e.opts.SeparateAspects {
		return e.summarizeAspects(ctx, in, evals)
	}
	return e.summarizeOverall(ctx, in, evals)
}

func naScores() []domain.Score {
	out := make([]domain.Score, scoring.SummaryScoreSlots)
	for i := range out {
		out[i] = domain.NA()
	}
	return out
}

// splitKey is the template key of a summary round, selecting the
// explanation template when scoring is split off.
func (e *Executor) splitKey(kind domain.StageKind, c domain.Category) prompt.Key {
	k := prompt.Key{Kind: kind, Category: c}
	if e.opts.MultiStage {
		k.Sub = domain.SubStage1
	}
	return k
}

// summaryRound runs one reconciled summary call. On exhaustion it returns
// the last attempt with a nil tree.
func (e *Executor) summaryRound(ctx context.Context, in SummaryInput, text string, schema *tree.Node, file string) (*attempt, error) {
	a, err := e.reconciledRound(ctx, llm.ChatRequest{Prompt: text, TargetImage: in.Item.GTImage}, overallPrefix, schema, summaryOptions(file))
	if err != nil && !errors.Is(err, domain.ErrExhaustedRetries) {
		return nil, err
	}
	if err != nil {
		e.logger.Warn("summary did not reconcile", "id", in.Item.ID, "file", file, "error", err)
		a.tree = nil
	}
	return a, nil
}

func (e *Executor) summarizeOverall(ctx context.Context, in SummaryInput, evals *tree.Node) (map[domain.StageKey]*domain.Record, error) {
	structureInfo := structureMarkdown(in.StructureInfo)
	evalText := tree.ToMarkdown(evals)
	text, err := e.prompts.Render(e.splitKey(domain.StageSummarize, ""), prompt.Data{EvalResult: evalText, StructureInfo: structureInfo})
	if err != nil {
		return nil, err
	}
	file := domain.SummarizeKey(domain.Primary).Name()
	a, err := e.summaryRound(ctx, in, text, reconcile.OverallSchema(), file)
	if err != nil {
		return nil, err
	}

	primary := e.record(in.Item.ID, in.Item)
	primary.Query = a.prompt
	primary.Response = a.response
	out := map[domain.StageKey]*domain.Record{domain.SummarizeKey(domain.Primary): primary}
	if a.tree == nil {
		primary.Error = true
		primary.Scores = naScores()
		if e.opts.MultiStage {
			s1 := e.record(in.Item.ID, in.Item)
			s1.Query, s1.Response, s1.Error = a.prompt, a.response, true
			out[domain.SummarizeKey(domain.SubStage1)] = s1
		}
		return out, nil
	}

	inner := a.tree.Lookup(reconcile.OverallEvaluation)
	keys := summarySlotKeys()
	primary.Structured = a.tree

	if !e.opts.MultiStage {
		scores := make([]domain.Score, len(keys))
		for i, k := range keys {
			scores[i] = scoring.Extract(inner.Lookup(k, reconcile.AttrScore).Text())
		}
		primary.Scores = scores
		return out, nil
	}

	s1 := e.record(in.Item.ID, in.Item)
	s1.Query = a.prompt
	s1.Response = a.response
	out[domain.SummarizeKey(domain.SubStage1)] = s1

	scoreText, err := e.prompts.Render(prompt.Key{Kind: domain.StageSummarize, Sub: domain.SubStage2}, prompt.Data{
		EvalResultAndExplanation: evalText + "\n# " + reconcile.OverallEvaluation + "\n" +
			tree.ToMarkdown(inner, tree.AsOverallEvaluation(), tree.WithoutScores()),
		StructureInfo: structureInfo,
	})
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Chat(ctx, llm.ChatRequest{Prompt: scoreText, TargetImage: in.Item.GTImage})
	if err != nil {
		return nil, callError(domain.SummarizeKey(domain.SubStage2), err)
	}
	scores := scoring.ExtractList(resp.Text, scoring.SummaryScoreSlots)

	s2 := e.record(in.Item.ID, in.Item)
	s2.Query = scoreText
	s2.Response = resp.Text
	s2.Scores = scores
	out[domain.SummarizeKey(domain.SubStage2)] = s2

	for i, k := range keys {
		if inner.Lookup(k).IsMap() {
			inner.Lookup(k).Set(reconcile.AttrScore, tree.Leaf(scores[i].String()))
		}
	}
	primary.Scores = scores
	return out, nil
}

// summarySlotKeys are the summary keys in score-slot order.
func summarySlotKeys() []string {
	var keys []string
	for _, c := range domain.Categories() {
		keys = append(keys, c.SummaryKey())
	}
	return append(keys, reconcile.OverallScore)
}

// summarizeAspects summarises each category on its own and merges the
// aspect summaries into the overall score.
func (e *Executor) summarizeAspects(ctx context.Context, in SummaryInput, evals *tree.Node) (map[domain.StageKey]*domain.Record, error) {
	structureInfo := structureMarkdown(in.StructureInfo)
	out := map[domain.StageKey]*domain.Record{}
	aspects := tree.NewMap()
	scores := naScores()

	for i, c := range domain.Categories() {
		cevals := tree.NewMap()
		if v, ok := evals.Get(c.AnswersKey()); ok {
			cevals.Set(c.AnswersKey(), v)
		}
		cevalText := tree.ToMarkdown(cevals)
		text, err := e.prompts.Render(e.splitKey(domain.StageAspectSummary, c), prompt.Data{EvalResult: cevalText, StructureInfo: structureInfo})
		if err != nil {
			return nil, err
		}
		key := domain.Key(domain.StageAspectSummary, c, domain.Primary)
		a, err := e.summaryRound(ctx, in, text, reconcile.AspectSummarySchema(c), key.Name())
		if err != nil {
			return nil, err
		}

		rec := e.record(in.Item.ID, in.Item)
		rec.Query = a.prompt
		rec.Response = a.response
		out[key] = rec
		if e.opts.MultiStage {
			s1 := e.record(in.Item.ID, in.Item)
			s1.Query, s1.Response = a.prompt, a.response
			out[domain.Key(domain.StageAspectSummary, c, domain.SubStage1)] = s1
		}
		if a.tree == nil {
			rec.Error = true
			rec.WithScore(domain.NA())
			continue
		}
		rec.Structured = a.tree
		summary := a.tree.Lookup(reconcile.OverallEvaluation, c.SummaryKey())

		score := scoring.Extract(summary.Lookup(reconcile.AttrScore).Text())
		if e.opts.MultiStage {
			scoreText, err := e.prompts.Render(prompt.Key{Kind: domain.StageAspectSummary, Category: c, Sub: domain.SubStage2}, prompt.Data{
				EvalResultAndExplanation: cevalText + "\n# " + reconcile.OverallEvaluation + "\n" +
					tree.ToMarkdown(a.tree.Lookup(reconcile.OverallEvaluation), tree.AsOverallEvaluation(), tree.WithoutScores()),
				StructureInfo: structureInfo,
			})
			if err != nil {
				return nil, err
			}
			resp, err := e.client.Chat(ctx, llm.ChatRequest{Prompt: scoreText, TargetImage: in.Item.GTImage})
			if err != nil {
				return nil, callError(domain.Key(domain.StageAspectSummary, c, domain.SubStage2), err)
			}
			score = scoring.Extract(resp.Text)
			s2 := e.record(in.Item.ID, in.Item)
			s2.Query = scoreText
			s2.Response = resp.Text
			s2.WithScore(score)
			out[domain.Key(domain.StageAspectSummary, c, domain.SubStage2)] = s2
			if summary.IsMap() {
				summary.Set(reconcile.AttrScore, tree.Leaf(score.String()))
			}
		}
		rec.WithScore(score)
		scores[i] = score
		aspects.Set(c.SummaryKey(), summary)
	}

	merged, err := e.merge(ctx, in, evals, aspects, structureInfo, out)
	if err != nil {
		return nil, err
	}
	scores[len(scores)-1] = merged
	out[domain.SummarizeKey(domain.Primary)].Scores = scores
	return out, nil
}

// merge runs the merge round over the aspect summaries, adding the
// summarize records to out, and returns the overall score.
func (e *Executor) merge(ctx context.Context, in SummaryInput, evals, aspects *tree.Node, structureInfo string, out map[domain.StageKey]*domain.Record) (domain.Score, error) {
	evalText := tree.ToMarkdown(evals) + "\n# " + reconcile.OverallEvaluation + "\n"
	text, err := e.prompts.Render(e.splitKey(prompt.KindMerge, ""), prompt.Data{
		EvalResult:    evalText + tree.ToMarkdown(aspects, tree.AsOverallEvaluation()),
		StructureInfo: structureInfo,
	})
	if err != nil {
		return domain.NA(), err
	}
	a, err := e.summaryRound(ctx, in, text, reconcile.MergeSummarySchema(), domain.SummarizeKey(domain.Primary).Name())
	if err != nil {
		return domain.NA(), err
	}

	primary := e.record(in.Item.ID, in.Item)
	primary.Query = a.prompt
	primary.Response = a.response
	out[domain.SummarizeKey(domain.Primary)] = primary
	if e.opts.MultiStage {
		s1 := e.record(in.Item.ID, in.Item)
		s1.Query, s1.Response = a.prompt, a.response
		out[domain.SummarizeKey(domain.SubStage1)] = s1
	}
	if a.tree == nil {
		primary.Error = true
		primary.WithScore(domain.NA())
		return domain.NA(), nil
	}
	primary.Structured = a.tree
	overall := a.tree.Lookup(reconcile.OverallEvaluation, reconcile.OverallScore)
	score := scoring.Extract(overall.Lookup(reconcile.AttrScore).Text())

	if e.opts.MultiStage {
		scoreText, err := e.prompts.Render(prompt.Key{Kind: prompt.KindMerge, Sub: domain.SubStage2}, prompt.Data{
			EvalResultAndExplanation: evalText +
				tree.ToMarkdown(aspects, tree.AsOverallEvaluation()) +
				tree.ToMarkdown(a.tree.Lookup(reconcile.OverallEvaluation), tree.AsOverallEvaluation(), tree.WithoutScores()),
			StructureInfo: structureInfo,
		})
		if err != nil {
			return domain.NA(), err
		}
		resp, err := e.client.Chat(ctx, llm.ChatRequest{Prompt: scoreText, TargetImage: in.Item.GTImage})
		if err != nil {
			return domain.NA(), callError(domain.SummarizeKey(domain.SubStage2), err)
		}
		score = scoring.Extract(resp.Text)
		s2 := e.record(in.Item.ID, in.Item)
		s2.Query = scoreText
		s2.Response = resp.Text
		s2.WithScore(score)
		out[domain.SummarizeKey(domain.SubStage2)] = s2
		if overall.IsMap() {
			overall.Set(reconcile.AttrScore, tree.Leaf(score.String()))
		}
	}
	primary.WithScore(score)
	return score, nil
}
