package progress

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

var evalKey = domain.Key(domain.StageEval, domain.CategoryIntrinsic, domain.Primary)

func writeLog(t *testing.T, dir string, key domain.StageKey, content string) string {
	t.Helper()
	path := filepath.Join(dir, key.FileName())
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestOpen_Replay(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, evalKey, `{"id":"1-0","query":"q","response":"first","history":[]}
{"id":2,"query":"q","response":"other","history":[]}

{"id":"1-0","query":"q","response":"second","history":[]}
`)

	s, err := Open(dir, []domain.StageKey{evalKey, domain.ExtractKey()}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, s.Len(evalKey))
	rec, ok := s.Get(evalKey, "1-0")
	require.True(t, ok)
	assert.Equal(t, "second", rec.Response, "the last record of an id wins")
	assert.True(t, s.Has(evalKey, "2"), "numeric ids index by their text")
	assert.Zero(t, s.Len(domain.ExtractKey()))
}

func TestOpen_PartialTrailingLine(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, evalKey, "{\"id\":\"1\",\"query\":\"\",\"response\":\"ok\",\"history\":[]}\n{\"id\":\"2\",\"qu")

	s, err := Open(dir, []domain.StageKey{evalKey}, nil)
	require.NoError(t, err)
	assert.True(t, s.Has(evalKey, "1"))
	assert.False(t, s.Has(evalKey, "2"))

	require.NoError(t, s.Put(evalKey, &domain.Record{ID: "2", Response: "redo"}))
	require.NoError(t, s.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	var rec domain.Record
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "redo", rec.Response)
}

func TestOpen_CorruptLine(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, evalKey, "not json\n")
	_, err := Open(dir, []domain.StageKey{evalKey}, nil)
	require.Error(t, err)
}

func TestPutFlush(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, []domain.StageKey{evalKey, domain.ExtractKey()}, nil)
	require.NoError(t, err)

	rec := (&domain.Record{ID: "7", Query: "q", Response: "r", History: []domain.Turn{}}).WithScore(domain.NewScore(6))
	require.NoError(t, s.Put(evalKey, rec))
	assert.True(t, s.Has(evalKey, "7"), "put records are visible before the flush")

	_, err = os.Stat(filepath.Join(dir, evalKey.FileName()))
	assert.ErrorIs(t, err, os.ErrNotExist, "nothing is written before the flush")

	require.NoError(t, s.Flush())
	require.NoError(t, s.Flush(), "flushing empty buffers is a no-op")
	_, err = os.Stat(filepath.Join(dir, domain.ExtractKey().FileName()))
	assert.ErrorIs(t, err, os.ErrNotExist, "untouched logs are not created")

	reopened, err := Open(dir, []domain.StageKey{evalKey}, nil)
	require.NoError(t, err)
	got, ok := reopened.Get(evalKey, "7")
	require.True(t, ok)
	assert.Equal(t, rec, got)

	err = s.Put(domain.SummarizeKey(domain.Primary), rec)
	require.ErrorIs(t, err, ErrUnknownStage)
}
