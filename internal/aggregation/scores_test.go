package aggregation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-t2ieval/internal/domain"
)

func writeLog(t *testing.T, dir string, key domain.StageKey, lines ...string) {
	t.Helper()
	content := strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, key.FileName()), []byte(content), 0o644))
}

func readScores(t *testing.T, dir string, key domain.StageKey) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, ScoreFileName(key)))
	require.NoError(t, err)
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var row map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &row))
		out = append(out, row)
	}
	return out
}

func TestQuestionScores(t *testing.T) {
	dir := t.TempDir()
	key := domain.Key(domain.StageEval, domain.CategoryIntrinsic, domain.Primary)
	writeLog(t, dir, key,
		`{"id":"1-0","response":"- explanation: right\n- score: 7","score":8}`,
		`{"id":"1-1","response":"Explanation: fine.\nScore: 6.5"}`,
		`{"id":"1-2","response":"The dog is not present in the image.","score":"N/A"}`,
		`{"id":"1-3","response":"hard to say"}`,
		`{"id":"1-0","response":"retried","score":9}`,
		`{"id":"1-4","resp`,
	)

	a := New(dir, Options{AbsencePhrases: []string{"Not present in the image"}})
	got, err := a.QuestionScores(key)
	require.NoError(t, err)

	want := []string{"9", "6.5", "0", "N/A"}
	require.Len(t, got, len(want))
	for i, w := range want {
		assert.Equal(t, w, got[i].Score.String(), got[i].ID)
	}
	assert.Equal(t, "1-0", got[0].ID, "a retried id keeps its first position")
}

func TestSummaryScores(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, domain.SummarizeKey(domain.Primary),
		`{"id":1,"response":"","scores":[9,7,"N/A",8]}`,
		`{"id":"2","response":"appearance 6 intrinsic 5","error":true}`,
	)

	got, err := New(dir, Options{}).SummaryScores()
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "8", got[0].Overall.String())
	assert.True(t, got[0].Relationship.IsNA())

	assert.Equal(t, "6", got[1].Appearance.String())
	assert.Equal(t, "5", got[1].Intrinsic.String())
	assert.True(t, got[1].Overall.IsNA(), "missing slots are padded with N/A")
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	appearance := domain.Key(domain.StageAnswer, domain.CategoryAppearance, domain.Primary)
	writeLog(t, dir, appearance, `{"id":"1-0","response":"looks real","score":8}`)
	writeLog(t, dir, domain.SummarizeKey(domain.Primary), `{"id":"1","response":"","scores":[8,7,6,7]}`)

	written, err := New(dir, Options{}).Run()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"appearance_answer-result-score.jsonl": 1,
		"summarize-result-score.jsonl":         1,
	}, written, "stages without a log are skipped")

	rows := readScores(t, dir, appearance)
	assert.Equal(t, []map[string]any{{"id": "1-0", "score": 8.0}}, rows)

	summary := readScores(t, dir, domain.SummarizeKey(domain.Primary))
	require.Len(t, summary, 1)
	assert.Equal(t, 7.0, summary[0]["overall_score"])
	assert.Equal(t, 6.0, summary[0]["relationship_score"])

	t.Run("rerun replaces score files", func(t *testing.T) {
		writeLog(t, dir, appearance, `{"id":"1-0","response":"N/A"}`)
		_, err := New(dir, Options{}).Run()
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{{"id": "1-0", "score": "N/A"}}, readScores(t, dir, appearance))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		for _, e := range entries {
			assert.False(t, strings.HasPrefix(e.Name(), "."), "temporary file %s left behind", e.Name())
		}
	})
}
