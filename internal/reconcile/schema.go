package reconcile

import (
	"github.com/ahrav/go-t2ieval/internal/domain"
	"github.com/ahrav/go-t2ieval/internal/tree"
)

// Canonical schema keys.
const (
	StructureInformation   = "Structure Information"
	IntrinsicAttributes    = "Intrinsic Attributes"
	RelationshipAttributes = "Relationship Attributes"
	Questions              = "Questions"
	ImageCaption           = "Image Caption"
	Answers                = "Answers"
	Evaluation             = "Evaluation"
	OverallEvaluation      = "Overall Evaluation"
	OverallScore           = "Overall Score"

	// Single-question response roots.
	AnswerRoot     = "Answer"
	EvaluationRoot = "Evaluation"
)

// AttributeVocabulary is the canonical set of question attribute names.
// Parsed attribute keys are fuzzy-matched onto it.
var AttributeVocabulary = []string{"entities", "answer", "explanation", "score", "manual_score"}

// Attribute names referenced directly.
const (
	AttrEntities    = "entities"
	AttrAnswer      = "answer"
	AttrExplanation = "explanation"
	AttrScore       = "score"
)

// Blocks that get one container per entity once the entities are known.
var (
	perEntityQuestionsKeys = []string{domain.CategoryAppearance.QuestionsKey(), domain.CategoryIntrinsic.QuestionsKey()}
	perEntityAnswersKeys   = []string{domain.CategoryAppearance.AnswersKey(), domain.CategoryIntrinsic.AnswersKey()}
)

func questionsBlock() *tree.Node {
	m := tree.NewMap()
	for _, c := range domain.Categories() {
		m.Set(c.QuestionsKey(), tree.Null())
	}
	return m
}

func structureBlock() *tree.Node {
	return tree.NewMap().
		Set(IntrinsicAttributes, tree.Null()).
		Set(RelationshipAttributes, tree.Null())
}

// ExtractSchema is the target of the extract stage: structure information,
// the question inventory and per-entity captions.
func ExtractSchema() *tree.Node {
	return tree.NewMap().
		Set(StructureInformation, structureBlock()).
		Set(Questions, questionsBlock()).
		Set(ImageCaption, tree.Null())
}

// OverallSchema is the target of the overall summary.
func OverallSchema() *tree.Node {
	inner := tree.NewMap()
	for _, c := range domain.Categories() {
		inner.Set(c.SummaryKey(), tree.Null())
	}
	inner.Set(OverallScore, tree.Null())
	return tree.NewMap().Set(OverallEvaluation, inner)
}

// AspectSummarySchema is the target of one category's summary when aspects
// are summarised separately.
func AspectSummarySchema(c domain.Category) *tree.Node {
	return tree.NewMap().Set(OverallEvaluation, tree.NewMap().Set(c.SummaryKey(), tree.Null()))
}

// MergeSummarySchema is the target of the merge step that follows the
// per-aspect summaries.
func MergeSummarySchema() *tree.Node {
	return tree.NewMap().Set(OverallEvaluation, tree.NewMap().Set(OverallScore, tree.Null()))
}

// FullSchema covers a complete single-response evaluation, with questions,
// answers, evaluations and the overall evaluation side by side.
func FullSchema() *tree.Node {
	evaluation := tree.NewMap()
	for _, c := range domain.Categories() {
		evaluation.Set(c.AnswersKey(), tree.Null())
	}
	inner := OverallSchema()
	overall, _ := inner.Get(OverallEvaluation)
	evaluation.Set(OverallEvaluation, overall)

	return tree.NewMap().
		Set(StructureInformation, structureBlock()).
		Set(Questions, questionsBlock()).
		Set(ImageCaption, tree.Null()).
		Set(Answers, questionsBlock()).
		Set(Evaluation, evaluation)
}

// SingleResponseSchema is the target for one question's answer or
// evaluation, rooted at AnswerRoot or EvaluationRoot. Entity-less questions
// put the question list directly under the root.
func SingleResponseSchema(root, entity string) *tree.Node {
	if entity == "" {
		return tree.NewMap().Set(root, tree.Null())
	}
	return tree.NewMap().Set(root, tree.NewMap().Set(entity, tree.Null()))
}
