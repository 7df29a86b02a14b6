package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemID(t *testing.T) {
	t.Run("accepts numbers and strings", func(t *testing.T) {
		var ids []ItemID
		require.NoError(t, json.Unmarshal([]byte(`[12, "a-1"]`), &ids))
		assert.Equal(t, []ItemID{"12", "a-1"}, ids)
	})

	t.Run("sub ids", func(t *testing.T) {
		assert.Equal(t, ItemID("12-0"), ItemID("12").SubID(0))
	})
}

func TestDatasetItem_Validate(t *testing.T) {
	var item DatasetItem
	require.NoError(t, json.Unmarshal([]byte(`{"id": 3, "gt_image": "a.png", "ref_image": null, "image_caption": "a cat"}`), &item))
	assert.NoError(t, item.Validate())
	assert.False(t, item.HasExplicitQuestions())

	item.GTImage = ""
	assert.ErrorIs(t, item.Validate(), ErrInvalidDatasetItem)
}

func TestRecord_JSONShape(t *testing.T) {
	rec := Record{ID: "1-0", Query: "q", Response: "r", Entity: "cat"}
	rec.WithScore(NA())

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1-0","entity":"cat","query":"q","response":"r","history":null,"score":"N/A"}`, string(out))

	var back Record
	require.NoError(t, json.Unmarshal(out, &back))
	require.NotNil(t, back.Score)
	assert.True(t, back.Score.IsNA())
}

func TestQuestionSet(t *testing.T) {
	qs := &QuestionSet{}
	qs.Set(CategoryIntrinsic, []Question{{Text: "What color is the cat?", Entity: "cat"}})
	qs.Set(CategoryAppearance, []Question{{Text: "Is there a cat?", Entity: "cat"}, {Text: "Is there a dog?", Entity: "dog"}})

	assert.Equal(t, 3, qs.Len())
	assert.Equal(t, []string{"cat", "dog"}, qs.Entities())

	var nilSet *QuestionSet
	assert.Zero(t, nilSet.Len())
	assert.Nil(t, nilSet.For(CategoryIntrinsic))
}
