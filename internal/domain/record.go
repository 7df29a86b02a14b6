package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ahrav/go-t2ieval/internal/tree"
)

// ItemID identifies a dataset item or, for per-question stages, one of its
// questions ("<item>-<index>"). Dataset files may carry numeric ids; they are
// held in their decimal text form.
type ItemID string

// SubID derives the per-question record id.
func (id ItemID) SubID(i int) ItemID {
	return ItemID(string(id) + "-" + strconv.Itoa(i))
}

// UnmarshalJSON accepts a JSON string or number.
func (id *ItemID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ItemID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*id = ItemID(n.String())
	return nil
}

// Turn is one message of a chat history.
type Turn struct {
	Role   string   `json:"role"`
	Text   string   `json:"text"`
	Images []string `json:"images,omitempty"`
}

// Chat roles used in Turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Record is one line of a persisted stage log. Optional fields are present
// only for the stages that produce them.
type Record struct {
	ID       ItemID `json:"id"`
	GTImage  string `json:"gt_image,omitempty"`
	RefImage string `json:"ref_image,omitempty"`
	Entity   string `json:"entity,omitempty"`
	Query    string `json:"query"`
	Response string `json:"response"`
	History  []Turn `json:"history"`

	Question   *Question    `json:"question,omitempty"`
	Score      *Score       `json:"score,omitempty"`
	Scores     []Score      `json:"scores,omitempty"`
	Structured *tree.Node   `json:"structured_response,omitempty"`
	Questions  *QuestionSet `json:"questions,omitempty"`
	Error      bool         `json:"error,omitempty"`
	RunID      string       `json:"run_id,omitempty"`
}

// WithScore sets the record's single score.
func (r *Record) WithScore(s Score) *Record {
	r.Score = &s
	return r
}

// DatasetItem is one input row. Items with a pre-built Data tree or
// explicit question lists skip live extraction.
type DatasetItem struct {
	ID           ItemID     `json:"id" validate:"required"`
	GTImage      string     `json:"gt_image" validate:"required"`
	RefImage     string     `json:"ref_image,omitempty"`
	ImageCaption string     `json:"image_caption"`
	Data         *tree.Node `json:"data,omitempty"`

	AppearanceQuestions   []Question `json:"appearance_questions,omitempty"`
	IntrinsicQuestions    []Question `json:"intrinsic_questions,omitempty"`
	RelationshipQuestions []Question `json:"relationship_questions,omitempty"`
}

// Validate checks the item carries an id and a target image.
func (d *DatasetItem) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDatasetItem, err)
	}
	return nil
}

// HasExplicitQuestions reports whether the item lists its questions directly.
func (d *DatasetItem) HasExplicitQuestions() bool {
	return len(d.AppearanceQuestions)+len(d.IntrinsicQuestions)+len(d.RelationshipQuestions) > 0
}

// ExplicitQuestions returns the directly listed questions as a set.
func (d *DatasetItem) ExplicitQuestions() *QuestionSet {
	return &QuestionSet{
		Appearance:   d.AppearanceQuestions,
		Intrinsic:    d.IntrinsicQuestions,
		Relationship: d.RelationshipQuestions,
	}
}
