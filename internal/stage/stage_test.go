package stage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-t2ieval/internal/domain"
	"github.com/ahrav/go-t2ieval/internal/llm"
	"github.com/ahrav/go-t2ieval/internal/llm/llmtest"
	"github.com/ahrav/go-t2ieval/internal/prompt"
	"github.com/ahrav/go-t2ieval/internal/reconcile"
	"github.com/ahrav/go-t2ieval/internal/tree"
)

const extractReply = `# Structure Information
## Intrinsic Attributes
### cat
- color: black
## Relationship Attributes
- cat sits on mat
# Questions
## Appearance Quality Questions
### cat
- question: Is the cat realistic?
## Intrinsic Attribute Consistency Questions
### cat
- question: What color is the cat?
    - entities: cat
## Relationship Attribute Consistency Questions
- question: Is the cat on the mat?
# Image Caption
## cat
A black cat.
`

const overallReply = `- Appearance Quality Summary
    - explanation: crisp
    - score: 9
- Intrinsic Attribute Consistency Summary
    - explanation: mostly right
    - score: 7
- Relationship Attribute Consistency Summary
    - explanation: fine
    - score: N/A
- Overall Score
    - explanation: good
    - score: 8
`

func newExecutor(t *testing.T, client llm.Client, opts Options) *Executor {
	t.Helper()
	lib, err := prompt.New()
	require.NoError(t, err)
	opts.RunID = "run-1"
	return New(client, lib, opts, nil)
}

func testItem() *domain.DatasetItem {
	return &domain.DatasetItem{ID: "1", GTImage: "cat.png", RefImage: "ref.png", ImageCaption: "A black cat on a mat."}
}

func TestExtract(t *testing.T) {
	client := llmtest.New(extractReply)
	e := newExecutor(t, client, Options{})

	res, err := e.Extract(context.Background(), testItem())
	require.NoError(t, err)

	require.Equal(t, 1, client.Len())
	call := client.Calls()[0]
	assert.Equal(t, "cat.png", call.TargetImage)
	assert.Contains(t, call.Prompt, "A black cat on a mat.")

	require.NotNil(t, res.Questions)
	require.Len(t, res.Questions.Intrinsic, 1)
	assert.Equal(t, "What color is the cat?", res.Questions.Intrinsic[0].Text)
	assert.Equal(t, "cat", res.Questions.Intrinsic[0].Entity)
	assert.Equal(t, "1-0", res.Questions.Intrinsic[0].ID, "ids count within the category")
	require.Len(t, res.Questions.Appearance, 1)
	assert.Equal(t, "1-0", res.Questions.Appearance[0].ID)

	assert.Equal(t, domain.ItemID("1"), res.Record.ID)
	assert.Equal(t, "run-1", res.Record.RunID)
	assert.False(t, res.Record.Error)
	assert.Same(t, res.Structured, res.Record.Structured)
	assert.True(t, res.Structured.Lookup(reconcile.StructureInformation, reconcile.IntrinsicAttributes).Has("cat"))
}

func TestExtract_Retries(t *testing.T) {
	t.Run("recovers on a later attempt", func(t *testing.T) {
		client := llmtest.New("Sorry, I cannot help with that.", extractReply)
		e := newExecutor(t, client, Options{MaxRetry: 1})

		res, err := e.Extract(context.Background(), testItem())
		require.NoError(t, err)
		assert.Equal(t, 2, client.Len())
		assert.Equal(t, extractReply, res.Record.Response)
	})

	t.Run("exhausted", func(t *testing.T) {
		client := llmtest.New("no", "still no")
		e := newExecutor(t, client, Options{MaxRetry: 1})

		res, err := e.Extract(context.Background(), testItem())
		require.ErrorIs(t, err, domain.ErrExhaustedRetries)
		assert.Equal(t, 2, client.Len())
		require.NotNil(t, res)
		assert.True(t, res.Record.Error)
		assert.Equal(t, "still no\n", res.Record.Response)
		assert.Nil(t, res.Questions)
	})

	t.Run("model failure is not retried", func(t *testing.T) {
		client := llmtest.NewFunc(func(int, llm.ChatRequest) (string, error) {
			return "", errors.New("boom")
		})
		e := newExecutor(t, client, Options{MaxRetry: 3})

		_, err := e.Extract(context.Background(), testItem())
		require.ErrorIs(t, err, ErrModelCall)
		assert.Equal(t, 1, client.Len())
	})
}

func TestPrebuilt(t *testing.T) {
	e := newExecutor(t, llmtest.New(), Options{})

	t.Run("explicit questions win", func(t *testing.T) {
		item := testItem()
		item.Data = tree.FromMarkdown(extractReply)
		item.RelationshipQuestions = []domain.Question{{Text: "Is the cat on the mat?"}}

		res, err := e.Prebuilt(item)
		require.NoError(t, err)
		assert.Nil(t, res.Record)
		assert.NotNil(t, res.Structured)
		assert.Empty(t, res.Questions.Intrinsic)
		require.Len(t, res.Questions.Relationship, 1)
		assert.Equal(t, "1-0", res.Questions.Relationship[0].ID)
		assert.Empty(t, item.RelationshipQuestions[0].ID, "item questions are not modified")
	})

	t.Run("neither data nor questions", func(t *testing.T) {
		_, err := e.Prebuilt(testItem())
		require.ErrorIs(t, err, domain.ErrInvalidDatasetItem)
	})

	t.Run("data without structure information", func(t *testing.T) {
		item := testItem()
		item.Data = tree.NewMap().Set("Questions", tree.Null())
		res, err := e.Prebuilt(item)
		require.ErrorIs(t, err, domain.ErrInvalidDatasetItem)
		assert.True(t, res.Record.Error)
	})
}

func question(c domain.Category) QuestionInput {
	q := domain.Question{ID: "1-0", Text: "What color is the cat?", Entity: "cat"}
	if c == domain.CategoryRelationship {
		q = domain.Question{ID: "1-0", Text: "Is the cat on the mat?"}
	}
	return QuestionInput{Item: testItem(), Category: c, Question: q}
}

func TestAnswer_Simple(t *testing.T) {
	client := llmtest.New("It is black.")
	e := newExecutor(t, client, Options{SimpleFormat: true})

	res, err := e.Answer(context.Background(), question(domain.CategoryIntrinsic))
	require.NoError(t, err)

	require.Equal(t, 1, client.Len())
	call := client.Calls()[0]
	assert.Equal(t, "What color is the cat?", call.Prompt)
	assert.Empty(t, call.ReferenceImage)

	assert.Equal(t, domain.Key(domain.StageAnswer, domain.CategoryIntrinsic, domain.Primary), res.Key)
	assert.Nil(t, res.Stage1)
	assert.Nil(t, res.Stage2)
	p := res.Primary
	assert.Equal(t, domain.ItemID("1-0"), p.ID)
	assert.Equal(t, "cat", p.Entity)
	assert.Equal(t, "It is black.", p.Response)
	assert.Empty(t, p.RefImage, "only appearance answers see the reference")
	require.NotNil(t, p.Question)
	assert.Equal(t, "What color is the cat?", p.Question.Text)
	assert.Len(t, p.History, 2)
	assert.Equal(t, p.History, res.History)
}

func TestAnswer_AppearanceMultiStage(t *testing.T) {
	client := llmtest.New("The cat looks natural.", "Score: 8")
	e := newExecutor(t, client, Options{SimpleFormat: true, MultiStage: true})

	in := question(domain.CategoryAppearance)
	in.Question.Text = "Is the cat realistic?"
	res, err := e.Answer(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, 2, client.Len())

	scoreCall := client.Calls()[1]
	assert.Equal(t, "ref.png", scoreCall.ReferenceImage)
	assert.Contains(t, scoreCall.Prompt, "The cat looks natural.")
	assert.Empty(t, scoreCall.History)

	for name, rec := range map[string]*domain.Record{"primary": res.Primary, "stage 2": res.Stage2} {
		require.NotNil(t, rec.Score, name)
		assert.Equal(t, "8", rec.Score.String(), name)
	}
	assert.Nil(t, res.Stage1.Score)
	assert.Equal(t, "ref.png", res.Primary.RefImage)

	entry := firstEntry(res.Primary.Structured, reconcile.AnswerRoot, "cat")
	require.NotNil(t, entry)
	assert.Equal(t, "8", entry.Lookup(tree.ValueKey, reconcile.AttrScore).Text())
	assert.Equal(t, "The cat looks natural.", entry.Lookup(tree.ValueKey, reconcile.AttrExplanation).Text())

	keys := res.Records()
	assert.Len(t, keys, 3)
	assert.Contains(t, keys, domain.Key(domain.StageAnswer, domain.CategoryAppearance, domain.SubStage2))
}

func TestAnswer_TemplateFallsBack(t *testing.T) {
	client := llmtest.New("no structure here", "7")
	e := newExecutor(t, client, Options{MultiStage: true})

	res, err := e.Answer(context.Background(), question(domain.CategoryAppearance))
	require.NoError(t, err)

	entry := firstEntry(res.Primary.Structured, reconcile.AnswerRoot, "cat")
	require.NotNil(t, entry, "an unparseable reply falls back to the question")
	assert.Equal(t, "What color is the cat?", entry.Lookup(tree.QuestionKey).Text())
	assert.Equal(t, "7", entry.Lookup(tree.ValueKey, reconcile.AttrScore).Text())
	assert.Equal(t, tree.ToMarkdown(res.Primary.Structured), res.Primary.Response)
	assert.Equal(t, "ref.png", client.Calls()[0].ReferenceImage)
}

func TestEvaluate(t *testing.T) {
	t.Run("single call continues the answer", func(t *testing.T) {
		client := llmtest.New("Black.", "Correct, the fur is black.")
		e := newExecutor(t, client, Options{SimpleFormat: true})
		in := question(domain.CategoryIntrinsic)

		ans, err := e.Answer(context.Background(), in)
		require.NoError(t, err)
		ev, err := e.Evaluate(context.Background(), in, ans)
		require.NoError(t, err)

		call := client.Calls()[1]
		assert.Equal(t, simpleEvalPrompt+"Black.", call.Prompt)
		assert.Equal(t, ans.History, call.History)
		assert.Len(t, ev.Primary.History, 4)
		assert.Nil(t, ev.Primary.Score)
	})

	t.Run("multi stage scores in a fresh call", func(t *testing.T) {
		client := llmtest.New("Black.", "Correct, the fur is black.", "9")
		e := newExecutor(t, client, Options{SimpleFormat: true, MultiStage: true})
		in := question(domain.CategoryRelationship)

		ans, err := e.Answer(context.Background(), in)
		require.NoError(t, err)
		assert.Nil(t, ans.Stage2, "relationship answers are not scored")

		ev, err := e.Evaluate(context.Background(), in, ans)
		require.NoError(t, err)
		require.Equal(t, 3, client.Len())
		assert.Empty(t, client.Calls()[2].History)

		require.NotNil(t, ev.Primary.Score)
		assert.Equal(t, "9", ev.Primary.Score.String())
		entry := firstEntry(ev.Primary.Structured, reconcile.EvaluationRoot, "")
		require.NotNil(t, entry)
		assert.Equal(t, "Black.", entry.Lookup(tree.ValueKey, reconcile.AttrAnswer).Text())
		assert.Equal(t, "9", entry.Lookup(tree.ValueKey, reconcile.AttrScore).Text())
		assert.Equal(t, domain.Key(domain.StageEval, domain.CategoryRelationship, domain.Primary), ev.Key)
	})
}

func evaluations() map[domain.Category][]*domain.Record {
	return map[domain.Category][]*domain.Record{
		domain.CategoryAppearance: {{Entity: "cat", Response: "# Answer\n- looks real"}},
		domain.CategoryIntrinsic: {
			{Entity: "cat", Response: "- black"},
			{Entity: "dog", Response: "- brown"},
		},
		domain.CategoryRelationship: {{Response: "- on the mat"}, {Response: "- near the dog"}},
	}
}

func TestEvaluationTree(t *testing.T) {
	structure := tree.FromMarkdown(extractReply)
	got := EvaluationTree(structure, evaluations())

	appearance := got.Lookup(domain.CategoryAppearance.AnswersKey())
	assert.Equal(t, []string{"cat"}, appearance.Keys())
	assert.Equal(t, "- looks real\n", appearance.Lookup("cat").Text())

	intrinsic := got.Lookup(domain.CategoryIntrinsic.AnswersKey())
	assert.Equal(t, []string{"cat", "dog"}, intrinsic.Keys(), "unknown entities follow the structure's")

	assert.Equal(t, "- on the mat\n- near the dog\n", got.Lookup(domain.CategoryRelationship.AnswersKey()).Text())

	t.Run("entities from records without structure", func(t *testing.T) {
		got := EvaluationTree(nil, evaluations())
		assert.Equal(t, []string{"cat", "dog"}, got.Lookup(domain.CategoryAppearance.AnswersKey()).Keys())
	})
}

func scoreStrings(ss []domain.Score) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.String()
	}
	return out
}

func TestSummarize_Overall(t *testing.T) {
	in := SummaryInput{Item: testItem(), Evaluations: evaluations()}

	t.Run("single call", func(t *testing.T) {
		client := llmtest.New(overallReply)
		e := newExecutor(t, client, Options{})

		recs, err := e.Summarize(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		p := recs[domain.SummarizeKey(domain.Primary)]
		require.NotNil(t, p)
		assert.Equal(t, []string{"9", "7", "N/A", "8"}, scoreStrings(p.Scores))
		assert.Contains(t, client.Calls()[0].Prompt, "- near the dog")
	})

	t.Run("multi stage", func(t *testing.T) {
		client := llmtest.New(overallReply, "6 5 N/A 5.5")
		e := newExecutor(t, client, Options{MultiStage: true})

		recs, err := e.Summarize(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, []string{"6", "5", "N/A", "5.5"}, scoreStrings(recs[domain.SummarizeKey(domain.Primary)].Scores))
		assert.Equal(t, []string{"6", "5", "N/A", "5.5"}, scoreStrings(recs[domain.SummarizeKey(domain.SubStage2)].Scores))
		assert.Empty(t, recs[domain.SummarizeKey(domain.SubStage1)].Scores)
		assert.NotContains(t, client.Calls()[1].Prompt, "score: 9", "earlier scores are hidden from the score call")
	})

	t.Run("exhausted", func(t *testing.T) {
		client := llmtest.New("nope")
		e := newExecutor(t, client, Options{MultiStage: true})

		recs, err := e.Summarize(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, 1, client.Len(), "no score call after a failed summary")
		p := recs[domain.SummarizeKey(domain.Primary)]
		assert.True(t, p.Error)
		assert.Equal(t, []string{"N/A", "N/A", "N/A", "N/A"}, scoreStrings(p.Scores))
	})
}

func TestSummarize_SeparateAspects(t *testing.T) {
	in := SummaryInput{Item: testItem(), Evaluations: evaluations()}
	client := llmtest.New(
		"- Appearance Quality Summary\n    - explanation: crisp\n    - score: 9\n",
		"- Intrinsic Attribute Consistency Summary\n    - explanation: right\n    - score: 7\n",
		"- Relationship Attribute Consistency Summary\n    - explanation: fine\n    - score: 6\n",
		"- Overall Score\n    - explanation: good\n    - score: 8\n",
	)
	e := newExecutor(t, client, Options{SeparateAspects: true})

	recs, err := e.Summarize(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, 4, client.Len())
	require.Len(t, recs, 4)

	intrinsic := recs[domain.Key(domain.StageAspectSummary, domain.CategoryIntrinsic, domain.Primary)]
	require.NotNil(t, intrinsic)
	assert.Equal(t, "7", intrinsic.Score.String())
	assert.NotContains(t, client.Calls()[1].Prompt, "looks real", "aspect prompts only see their category")

	merge := client.Calls()[3].Prompt
	assert.Contains(t, merge, "right")

	p := recs[domain.SummarizeKey(domain.Primary)]
	assert.Equal(t, "8", p.Score.String())
	assert.Equal(t, []string{"9", "7", "6", "8"}, scoreStrings(p.Scores))
}
