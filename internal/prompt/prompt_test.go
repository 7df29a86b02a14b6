package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-t2ieval/internal/domain"
)

func TestLibrary_EveryRoundHasATemplate(t *testing.T) {
	lib, err := New()
	require.NoError(t, err)

	subs := []domain.SubStage{domain.Primary, domain.SubStage1, domain.SubStage2}
	type want struct {
		key    Key
		images int
	}
	cases := []want{{key: Key{Kind: domain.StageExtract}, images: 1}}
	for _, s := range subs {
		cases = append(cases,
			want{key: Key{Kind: domain.StageAnswer, Category: domain.CategoryAppearance, Sub: s}, images: 1},
			want{key: Key{Kind: domain.StageAnswer, Category: domain.CategoryAppearance, Sub: s, Reference: true}, images: 2},
			want{key: Key{Kind: domain.StageSummarize, Sub: s}, images: 1},
			want{key: Key{Kind: KindMerge, Sub: s}, images: 1},
		)
		for _, c := range domain.Categories() {
			cases = append(cases, want{key: Key{Kind: domain.StageAspectSummary, Category: c, Sub: s}, images: 1})
		}
	}
	cases = append(cases,
		want{key: Key{Kind: domain.StageAnswer, Category: domain.CategoryIntrinsic}, images: 1},
		want{key: Key{Kind: domain.StageAnswer, Category: domain.CategoryRelationship}, images: 0},
		want{key: Key{Kind: domain.StageEval, Category: domain.CategoryIntrinsic}, images: 0},
		want{key: Key{Kind: domain.StageEval, Category: domain.CategoryIntrinsic, Sub: domain.SubStage1}, images: 0},
		want{key: Key{Kind: domain.StageEval, Category: domain.CategoryIntrinsic, Sub: domain.SubStage2}, images: 1},
		want{key: Key{Kind: domain.StageEval, Category: domain.CategoryRelationship}, images: 0},
		want{key: Key{Kind: domain.StageEval, Category: domain.CategoryRelationship, Sub: domain.SubStage2}, images: 1},
	)

	for _, tc := range cases {
		t.Run(tc.key.String(), func(t *testing.T) {
			out, err := lib.Render(tc.key, Data{Question: "- question: Is it a cat?"})
			require.NoError(t, err)
			assert.Equal(t, tc.images, ImageCount(out))
			assert.NotContains(t, out, "<no value>")
		})
	}
}

func TestLibrary_RenderFillsPlaceholders(t *testing.T) {
	lib, err := New()
	require.NoError(t, err)

	out, err := lib.Render(Key{Kind: domain.StageExtract}, Data{TextPrompt: "a black cat on a red mat"})
	require.NoError(t, err)
	assert.Contains(t, out, "Caption: a black cat on a red mat")
	assert.Contains(t, out, "{{entity}}", "literal slots survive rendering")

	out, err = lib.Render(Key{Kind: domain.StageEval, Category: domain.CategoryIntrinsic, Sub: domain.SubStage2},
		Data{StructureInfo: "# Structure Information\n", AnswerAndExplanation: "- question: q"})
	require.NoError(t, err)
	assert.Contains(t, out, "# Structure Information")
	assert.Contains(t, out, "- question: q")
}

func TestLibrary_ReferenceFallback(t *testing.T) {
	lib, err := New()
	require.NoError(t, err)

	plain, err := lib.Render(Key{Kind: domain.StageAnswer, Category: domain.CategoryIntrinsic}, Data{})
	require.NoError(t, err)
	withRef, err := lib.Render(Key{Kind: domain.StageAnswer, Category: domain.CategoryIntrinsic, Reference: true}, Data{})
	require.NoError(t, err)
	assert.Equal(t, plain, withRef, "categories without a reference variant use the plain template")
}

func TestLibrary_Stage1FromPrimary(t *testing.T) {
	key := Key{Kind: domain.StageEval, Category: domain.CategoryIntrinsic, Sub: domain.SubStage1}
	data := Data{Answer: "black", StructureInfo: "info"}

	plain, err := New()
	require.NoError(t, err)
	split, err := plain.Render(key, data)
	require.NoError(t, err)
	assert.NotContains(t, split, "- score:")

	override, err := New(WithStage1FromPrimary(true))
	require.NoError(t, err)
	got, err := override.Render(key, data)
	require.NoError(t, err)
	want, err := plain.Render(Key{Kind: domain.StageEval, Category: domain.CategoryIntrinsic}, data)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	summaryKey := Key{Kind: domain.StageAspectSummary, Category: domain.CategoryIntrinsic, Sub: domain.SubStage1}
	a, err := plain.Render(summaryKey, data)
	require.NoError(t, err)
	b, err := override.Render(summaryKey, data)
	require.NoError(t, err)
	assert.Equal(t, a, b, "summaries are not affected")
}

func TestLibrary_MissingTemplate(t *testing.T) {
	lib, err := New()
	require.NoError(t, err)

	_, err = lib.Render(Key{Kind: domain.StageEval, Category: domain.CategoryAppearance}, Data{})
	require.ErrorIs(t, err, ErrNoTemplate)
	assert.False(t, lib.Has(Key{Kind: domain.StageEval, Category: domain.CategoryAppearance}))
}
