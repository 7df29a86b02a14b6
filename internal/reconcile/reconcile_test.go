package reconcile

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-t2ieval/internal/domain"
	"github.com/ahrav/go-t2ieval/internal/tree"
)

func mustJSON(t *testing.T, s string) *tree.Node {
	t.Helper()
	n, err := tree.FromJSON([]byte(s))
	require.NoError(t, err)
	return n
}

func assertTree(t *testing.T, want, got *tree.Node) {
	t.Helper()
	if !want.Equal(got) {
		t.Errorf("tree mismatch (-want +got):\n%s", cmp.Diff(want.String(), got.String()))
	}
}

const wellFormedExtract = `{
	"Structure Information": {
		"Intrinsic Attributes": {"cat": ["color: black"]},
		"Relationship Attributes": ["cat sits on mat"]
	},
	"Questions": {
		"Appearance Quality Questions": {"cat": ["question1: Is there a cat?"]},
		"Intrinsic Attribute Consistency Questions": {"cat": ["question1: Is the cat black?"]},
		"Relationship Attribute Consistency Questions": ["question1: Is the cat on the mat?"]
	},
	"Image Caption": {"cat": "A black cat."}
}`

func TestReconcile_IdempotentOnWellFormedInput(t *testing.T) {
	src := mustJSON(t, wellFormedExtract)

	got, log, err := Reconcile(src, ExtractSchema(), Options{ForceStructureInfo: true})
	require.NoError(t, err)
	assertTree(t, src, got)
	assert.False(t, log.Error)
	assert.Empty(t, log.MissedKeys)
	assert.Empty(t, log.RedundantKeys)
	assert.Empty(t, log.ImperfectMatches)
}

func TestReconcile_DoesNotModifySchema(t *testing.T) {
	schema := ExtractSchema()
	_, _, err := Reconcile(mustJSON(t, wellFormedExtract), schema, Options{ForceStructureInfo: true})
	require.NoError(t, err)
	assertTree(t, ExtractSchema(), schema)
}

func TestReconcile_RewordedKeys(t *testing.T) {
	src := mustJSON(t, `{
		"structure information": {
			"intrinsic attribute": {"Entity 1: cat": ["color: black"]},
			"Relationship Attributes": ["none"]
		},
		"Question": {
			"Appearance Quality Questions": {"cat": ["question1: Is there a cat?"]},
			"Intrinsic Attribute Consistency Question": {"cat": ["question1: Is the cat black?"]},
			"Relationship Attribute Consistency Questions": ["none"]
		},
		"Image Captions": {"cat": "A black cat."}
	}`)

	got, log, err := Reconcile(src, ExtractSchema(), Options{ForceStructureInfo: true})
	require.NoError(t, err)

	assert.Equal(t, []string{StructureInformation, Questions, ImageCaption}, got.Keys())
	assert.Equal(t, []string{"cat"}, got.Lookup(StructureInformation, IntrinsicAttributes).Keys(),
		"qualifier prefix must be stripped from entity keys")
	assert.Equal(t, "A black cat.", got.Lookup(ImageCaption, "cat").Text())
	assert.Empty(t, log.MissedKeys)
	assert.Empty(t, log.RedundantKeys)
	assert.False(t, log.Error, "casing and plural differences stay above the threshold")
}

func TestReconcile_ReorderedHeadingWords(t *testing.T) {
	src := mustJSON(t, `{"Overall Evaluation": {"Score Overall": "8"}}`)

	got, log, err := Reconcile(src, MergeSummarySchema(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "8", got.Lookup(OverallEvaluation, OverallScore).Text())
	assert.Empty(t, log.ImperfectMatches)
	assert.False(t, log.Error)
}

func TestReconcile_ImperfectMatchCarriesEdit(t *testing.T) {
	src := mustJSON(t, `{"Overall Evaluation": {"Total": "8"}}`)

	_, log, err := Reconcile(src, MergeSummarySchema(), Options{})
	require.NoError(t, err)
	require.Len(t, log.ImperfectMatches, 1)
	assert.Equal(t, "Total", log.ImperfectMatches[0].SourceKey)
	assert.Equal(t, OverallScore, log.ImperfectMatches[0].TargetKey)
	assert.NotEmpty(t, log.ImperfectMatches[0].Edit)
	assert.True(t, log.Error)
}

func TestReconcile_TotalKeyCoverage(t *testing.T) {
	src := mustJSON(t, `{
		"Structure Information": {"Intrinsic Attributes": {"cat": ["color: black"]}},
		"Notes": "unrelated"
	}`)

	got, log, err := Reconcile(src, ExtractSchema(), Options{ForceStructureInfo: true})
	require.NoError(t, err)

	assert.Equal(t, []string{StructureInformation, Questions, ImageCaption}, got.Keys())
	assert.Equal(t, "No relationship attributes", got.Lookup(StructureInformation, RelationshipAttributes).Text())
	assert.Equal(t, "No questions", got.Lookup(Questions).Text())
	assert.Equal(t, "No image caption", got.Lookup(ImageCaption).Text())

	assert.Equal(t, []MissedKey{
		{Path: "root -> Structure Information -> Relationship Attributes", Placeholder: "No relationship attributes"},
		{Path: "root -> Questions", Placeholder: "No questions"},
		{Path: "root -> Image Caption", Placeholder: "No image caption"},
	}, log.MissedKeys)
	assert.Equal(t, []string{"root -> Notes"}, log.RedundantKeys)
	assert.True(t, log.Error)
}

func TestReconcile_EntitySeeding(t *testing.T) {
	src := mustJSON(t, `{
		"Structure Information": {
			"Intrinsic Attributes": {"1. cat": ["color: black"], "Entity 2: dog": ["size: small"]},
			"Relationship Attributes": ["dog chases cat"]
		},
		"Questions": {
			"Appearance Quality Questions": {"cat": ["question1: Is there a cat?"], "dog": ["question1: Is there a dog?"]},
			"Intrinsic Attribute Consistency Questions": {"cat": ["question1: Is the cat black?"]},
			"Relationship Attribute Consistency Questions": ["question1: Is the dog chasing the cat?"]
		},
		"Image Caption": {"cat": "A black cat."}
	}`)

	got, log, err := Reconcile(src, ExtractSchema(), Options{ForceStructureInfo: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"cat", "dog"}, got.Lookup(StructureInformation, IntrinsicAttributes).Keys())
	assert.Equal(t, []string{"cat", "dog"}, got.Lookup(Questions, domain.CategoryAppearance.QuestionsKey()).Keys())

	intrinsic := got.Lookup(Questions, domain.CategoryIntrinsic.QuestionsKey())
	assert.Equal(t, "No dog", intrinsic.Lookup("dog").Text(), "seeded entity without questions gets a placeholder")

	assert.Equal(t, []string{"cat"}, got.Lookup(ImageCaption).Keys(), "missing captions are dropped")

	assert.Equal(t, []MissedKey{{
		Path:        "root -> Questions -> Intrinsic Attribute Consistency Questions -> dog",
		Placeholder: "No dog",
	}}, log.MissedKeys)
	assert.True(t, log.Error)
}

func TestReconcile_CaptionSubtreeNeverErrors(t *testing.T) {
	src := mustJSON(t, wellFormedExtract)
	ia, _ := src.Lookup(StructureInformation).Get(IntrinsicAttributes)
	ia.Set("mat", tree.Strings("color: red"))

	got, log, err := Reconcile(src, ExtractSchema(), Options{ForceStructureInfo: true})
	require.NoError(t, err)
	assert.False(t, got.Lookup(ImageCaption).Has("mat"))
	for _, m := range log.MissedKeys {
		assert.NotContains(t, m.Path, ImageCaption)
	}
}

func TestReconcile_StructureInfoFlag(t *testing.T) {
	t.Run("missing structure information is fatal when forced", func(t *testing.T) {
		src := mustJSON(t, `{"Questions": {}, "Image Caption": {}}`)
		_, log, err := Reconcile(src, ExtractSchema(), Options{ForceStructureInfo: true})
		require.ErrorIs(t, err, ErrMissingStructureInfo)
		assert.NotNil(t, log)
	})

	t.Run("intrinsic attributes must be a map when forced", func(t *testing.T) {
		src := mustJSON(t, `{"Structure Information": {"Intrinsic Attributes": ["cat: black"]}}`)
		_, _, err := Reconcile(src, ExtractSchema(), Options{ForceStructureInfo: true})
		require.ErrorIs(t, err, ErrMissingIntrinsicAttributes)
	})

	t.Run("unforced skips seeding", func(t *testing.T) {
		src := mustJSON(t, `{
			"Structure Information": {"Intrinsic Attributes": ["cat: black"]},
			"Questions": {"Appearance Quality Questions": {"cat": ["question: Is there a cat?"]}}
		}`)
		got, _, err := Reconcile(src, ExtractSchema(), Options{})
		require.NoError(t, err)
		assert.True(t, got.Lookup(Questions, domain.CategoryAppearance.QuestionsKey()).IsMap(),
			"without seeding the source subtree is taken as is")
	})
}

func TestReconcile_ShapeMismatch(t *testing.T) {
	src := mustJSON(t, `{"Structure Information": "cats", "Questions": {}}`)
	_, _, err := Reconcile(src, ExtractSchema(), Options{})
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestReconcile_OverallEvaluation(t *testing.T) {
	src := tree.FromMarkdown(`## Overall Evaluation
- Appearance Quality Summary
    - explanation: crisp
    - score: 9
- Attribute Consistency Summary
    - explanation: mostly right
    - score: 7
- Relationship Attribute Consistency Summary
    - explanation: fine
    - score: N/A
- Overall Score
    - score: 8/10 so 8
`)

	got, log, err := Reconcile(src, OverallSchema(), Options{})
	require.NoError(t, err)
	assert.False(t, log.Error)

	overall := got.Lookup(OverallEvaluation)
	assert.Equal(t, []string{
		domain.CategoryAppearance.SummaryKey(),
		domain.CategoryIntrinsic.SummaryKey(),
		domain.CategoryRelationship.SummaryKey(),
		OverallScore,
	}, overall.Keys())
	assert.Equal(t, "mostly right", overall.Lookup(domain.CategoryIntrinsic.SummaryKey(), AttrExplanation).Text(),
		"attribute-prefixed labels fold into the intrinsic summary")
	assert.Equal(t, "N/A", overall.Lookup(domain.CategoryRelationship.SummaryKey(), AttrScore).Text())
	assert.Equal(t, "8", overall.Lookup(OverallScore, AttrScore).Text())
}

const fullResponse = `# Structure Information
## Intrinsic Attributes
### cat
- color: black
## Relationship Attributes
- none
# Questions
## Appearance Quality Questions
### cat
- question: Is there a cat?
## Intrinsic Attribute Consistency Questions
### cat
- question: What color is the cat?
    - entities: cat
## Relationship Attribute Consistency Questions
- none
# Image Caption
## cat
A black cat.
# Answers
## Appearance Quality Questions
### cat
- question: Is there a cat?
    - answer: yes
## Intrinsic Attribute Consistency Questions
### cat
- question: What color is the cat?
    - answer: black
## Relationship Attribute Consistency Questions
- none
# Evaluation
## Appearance Quality Answers
### cat
- question: Is there a cat?
    - explanation: clearly visible
    - score: 9
## Intrinsic Attribute Consistency Answers
### cat
- question: What colour is the cat?
    - explanation: it is black
    - score: 8 out of 10
## Relationship Attribute Consistency Answers
- none
## Overall Evaluation
- Appearance Quality Summary
    - explanation: fine
    - score: 9
- Intrinsic Attribute Consistency Summary
    - explanation: ok
    - score: 8
- Relationship Attribute Consistency Summary
    - explanation: nothing to judge
    - score: N/A
- Overall Score
    - score: 8
`

func TestReconcile_FullResponseAlignsParaphrasedEvaluation(t *testing.T) {
	got, log, err := Reconcile(tree.FromMarkdown(fullResponse), FullSchema(), DefaultOptions())
	require.NoError(t, err)
	assert.False(t, log.Error)

	intrinsic := domain.CategoryIntrinsic
	evals := got.Lookup(Evaluation, intrinsic.AnswersKey(), "cat")
	require.Equal(t, 1, evals.Len())

	want := tree.List(tree.QuestionEntry("What color is the cat?", tree.NewMap().
		Set(AttrExplanation, tree.Leaf("it is black")).
		Set(AttrScore, tree.Leaf("8"))))
	assertTree(t, want, evals)

	answers := got.Lookup(Answers, intrinsic.QuestionsKey(), "cat")
	assertTree(t, tree.List(tree.QuestionEntry("What color is the cat?",
		tree.NewMap().Set(AttrAnswer, tree.Leaf("black")))), answers)

	assert.Zero(t, got.Lookup(Questions, domain.CategoryRelationship.QuestionsKey()).Len(),
		"non-question bullets yield no entries")
}

func TestQuestionsFromTree(t *testing.T) {
	got, _, err := Reconcile(tree.FromMarkdown(fullResponse), FullSchema(), DefaultOptions())
	require.NoError(t, err)

	qs := QuestionsFromTree(got)
	assert.Equal(t, []domain.Question{{Text: "Is there a cat?", Entity: "cat"}}, qs.Appearance)
	assert.Equal(t, []domain.Question{{
		Text:       "What color is the cat?",
		Entity:     "cat",
		Attributes: map[string]string{AttrEntities: "cat"},
	}}, qs.Intrinsic)
	assert.Empty(t, qs.Relationship)
}

func TestReconcile_SingleResponse(t *testing.T) {
	src := tree.FromMarkdown(`# Answer
## cat
- question: Is the cat black?
    - answer: yes
    - explanation: the fur is black
`)
	got, log, err := Reconcile(src, SingleResponseSchema(AnswerRoot, "cat"), Options{MatchQuestions: true})
	require.NoError(t, err)
	assert.False(t, log.Error)

	want := tree.List(tree.QuestionEntry("Is the cat black?", tree.NewMap().
		Set(AttrAnswer, tree.Leaf("yes")).
		Set(AttrExplanation, tree.Leaf("the fur is black"))))
	assertTree(t, want, got.Lookup(AnswerRoot, "cat"))
}
