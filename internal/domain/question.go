package domain

// Question is a single probe generated for an image. Intrinsic and
// appearance questions belong to an entity; relationship questions name
// the entities they span in their attributes.
type Question struct {
	ID     string `json:"id,omitempty"`
	Text   string `json:"question" validate:"required"`
	Entity string `json:"entity,omitempty"`
	// Attributes holds parsed bullet attributes such as "entities".
	Attributes map[string]string `json:"value,omitempty"`
}

// Validate checks that the question carries text.
func (q *Question) Validate() error { return validate.Struct(q) }

// Clone returns a copy that shares no maps with q.
func (q Question) Clone() Question {
	q.Attributes = cloneStringMap(q.Attributes)
	return q
}

// Answer is the model's reply to a question. QuestionRef is the label the
// model attached to its answer; it is tied back to a Question by label
// similarity, not by id.
type Answer struct {
	QuestionRef string            `json:"question_ref"`
	Entity      string            `json:"entity,omitempty"`
	Text        string            `json:"text"`
	Structured  map[string]string `json:"structured,omitempty"`
}

// Evaluation is the judged outcome of an answer.
type Evaluation struct {
	QuestionRef string `json:"question_ref"`
	Entity      string `json:"entity,omitempty"`
	// Text is the rendered evaluation fed to the summary stage.
	Text        string            `json:"text"`
	Explanation string            `json:"explanation,omitempty"`
	Score       Score             `json:"score"`
	Structured  map[string]string `json:"structured,omitempty"`
}

// Triple groups a question with the answer and evaluation aligned to it.
type Triple struct {
	Question   Question   `json:"question"`
	Answer     Answer     `json:"answer"`
	Evaluation Evaluation `json:"evaluation"`
}

// QuestionSet is the full question inventory of one dataset item.
type QuestionSet struct {
	Appearance   []Question `json:"appearance"`
	Intrinsic    []Question `json:"intrinsic"`
	Relationship []Question `json:"relationship"`
}

// For returns the questions of one category.
func (s *QuestionSet) For(c Category) []Question {
	if s == nil {
		return nil
	}
	switch c {
	case CategoryAppearance:
		return s.Appearance
	case CategoryIntrinsic:
		return s.Intrinsic
	case CategoryRelationship:
		return s.Relationship
	default:
		return nil
	}
}

// Set replaces the questions of one category.
func (s *QuestionSet) Set(c Category, qs []Question) {
	switch c {
	case CategoryAppearance:
		s.Appearance = qs
	case CategoryIntrinsic:
		s.Intrinsic = qs
	case CategoryRelationship:
		s.Relationship = qs
	}
}

// Len counts questions across all categories.
func (s *QuestionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Appearance) + len(s.Intrinsic) + len(s.Relationship)
}

// Entities lists the distinct entities referenced by per-entity questions,
// in first-seen order.
func (s *QuestionSet) Entities() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range []Category{CategoryAppearance, CategoryIntrinsic} {
		for _, q := range s.For(c) {
			if q.Entity == "" {
				continue
			}
			if _, ok := seen[q.Entity]; ok {
				continue
			}
			seen[q.Entity] = struct{}{}
			out = append(out, q.Entity)
		}
	}
	return out
}
