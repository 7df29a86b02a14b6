// Package aggregation turns persisted stage logs into score files.
//
// For every scored stage log `<name>-result.jsonl` in a result directory it
// writes `<name>-result-score.jsonl`, one line per id. Per-question stages
// yield `{id, score}`; the summarize stage yields one line per item with a
// score per category and an overall score.
package aggregation

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ahrav/go-t2ieval/internal/domain"
	"github.com/ahrav/go-t2ieval/internal/scoring"
)

// ScoreFileName is the score file written for a stage log.
func ScoreFileName(key domain.StageKey) string { return key.Name() + "-result-score.jsonl" }

// QuestionStages are the per-question stage logs that carry a score: the
// appearance answers and the intrinsic and relationship evaluations.
func QuestionStages() []domain.StageKey {
	return []domain.StageKey{
		domain.Key(domain.StageAnswer, domain.CategoryAppearance, domain.Primary),
		domain.Key(domain.StageEval, domain.CategoryIntrinsic, domain.Primary),
		domain.Key(domain.StageEval, domain.CategoryRelationship, domain.Primary),
	}
}

// QuestionScore is one line of a per-question score file.
type QuestionScore struct {
	ID    string       `json:"id"`
	Score domain.Score `json:"score"`
}

// SummaryScore is one line of the summarize score file.
type SummaryScore struct {
	ID           string       `json:"id"`
	Appearance   domain.Score `json:"appearance_score"`
	Intrinsic    domain.Score `json:"intrinsic_score"`
	Relationship domain.Score `json:"relationship_score"`
	Overall      domain.Score `json:"overall_score"`
}

// Options configures an Aggregator.
type Options struct {
	// AbsencePhrases turn an N/A per-question score into 0 when the
	// response contains one of them.
	AbsencePhrases []string
	Logger         *slog.Logger
}

// Aggregator writes the score files of one result directory.
type Aggregator struct {
	dir     string
	phrases []string
	logger  *slog.Logger
}

// New creates an aggregator over dir.
func New(dir string, opts Options) *Aggregator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	phrases := make([]string, 0, len(opts.AbsencePhrases))
	for _, p := range opts.AbsencePhrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			phrases = append(phrases, p)
		}
	}
	return &Aggregator{dir: dir, phrases: phrases, logger: logger.With("component", "aggregation")}
}

// Run writes a score file for every scored stage log present in the
// directory and returns the number of lines written per score file.
func (a *Aggregator) Run() (map[string]int, error) {
	written := map[string]int{}
	for _, key := range QuestionStages() {
		scores, err := a.QuestionScores(key)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return written, err
		}
		if err := writeRows(a.dir, ScoreFileName(key), scores); err != nil {
			return written, err
		}
		written[ScoreFileName(key)] = len(scores)
	}

	key := domain.SummarizeKey(domain.Primary)
	scores, err := a.SummaryScores()
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return written, err
	default:
		if err := writeRows(a.dir, ScoreFileName(key), scores); err != nil {
			return written, err
		}
		written[ScoreFileName(key)] = len(scores)
	}
	a.logger.Info("score files written", "dir", a.dir, "files", len(written))
	return written, nil
}

// QuestionScores reads the scores of a per-question stage log. A record's
// score field wins; without one the score is read from its response.
func (a *Aggregator) QuestionScores(key domain.StageKey) ([]QuestionScore, error) {
	records, err := a.read(key)
	if err != nil {
		return nil, err
	}
	out := make([]QuestionScore, 0, len(records))
	for _, r := range records {
		response := r.Get("response").String()
		score, ok := scoreOf(r.Get("score"))
		if !ok {
			score = scoring.ExtractLabeled(response)
		}
		if score.IsNA() && a.absent(response) {
			score = domain.NewScore(0)
		}
		out = append(out, QuestionScore{ID: r.Get("id").String(), Score: score})
	}
	return out, nil
}

// SummaryScores reads the summarize log. Records without a scores list are
// scored from their response.
func (a *Aggregator) SummaryScores() ([]SummaryScore, error) {
	records, err := a.read(domain.SummarizeKey(domain.Primary))
	if err != nil {
		return nil, err
	}
	out := make([]SummaryScore, 0, len(records))
	for _, r := range records {
		var scores []domain.Score
		if list := r.Get("scores"); list.IsArray() {
			for _, v := range list.Array() {
				s, _ := scoreOf(v)
				scores = append(scores, s)
			}
		}
		if len(scores) != scoring.SummaryScoreSlots {
			scores = scoring.ExtractList(r.Get("response").String(), scoring.SummaryScoreSlots)
		}
		out = append(out, SummaryScore{
			ID:           r.Get("id").String(),
			Appearance:   scores[0],
			Intrinsic:    scores[1],
			Relationship: scores[2],
			Overall:      scores[3],
		})
	}
	return out, nil
}

func (a *Aggregator) absent(response string) bool {
	lower := strings.ToLower(response)
	for _, p := range a.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// read returns the last record of every id in the order ids first appear.
// Lines that are not JSON objects with an id are skipped.
func (a *Aggregator) read(key domain.StageKey) ([]gjson.Result, error) {
	path := filepath.Join(a.dir, key.FileName())
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var order []string
	last := map[string]gjson.Result{}
	br := bufio.NewReader(f)
	for n := 1; ; n++ {
		line, err := br.ReadBytes('\n')
		if trimmed := strings.TrimSpace(string(line)); trimmed != "" {
			id := gjson.Get(trimmed, "id")
			if !gjson.Valid(trimmed) || !id.Exists() {
				a.logger.Warn("skipping unreadable record", "file", key.FileName(), "line", n)
			} else {
				if _, seen := last[id.String()]; !seen {
					order = append(order, id.String())
				}
				last[id.String()] = gjson.Parse(trimmed)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	out := make([]gjson.Result, len(order))
	for i, id := range order {
		out[i] = last[id]
	}
	return out, nil
}

// writeRows replaces name in dir with one JSON line per row.
func writeRows[T any](dir, name string, rows []T) error {
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var encErr error
	for _, r := range rows {
		if encErr = enc.Encode(r); encErr != nil {
			break
		}
	}
	if err := errors.Join(encErr, w.Flush(), tmp.Close()); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, name))
}

// scoreOf decodes a score field. ok is false when the field is absent or
// not a score.
func scoreOf(v gjson.Result) (domain.Score, bool) {
	switch v.Type {
	case gjson.Number:
		return domain.NewScore(v.Float()), true
	case gjson.Null:
		if v.Exists() {
			return domain.NA(), true
		}
	case gjson.String:
		var s domain.Score
		if err := s.UnmarshalJSON([]byte(v.Raw)); err == nil {
			return s, true
		}
	}
	return domain.NA(), false
}
