package domain

import (
	"fmt"
	"strings"
)

// Category partitions questions by what aspect of an image they probe.
// Every per-question stage and every summary aspect is keyed by one.
type Category string

const (
	// CategoryAppearance covers entity existence and visual quality.
	CategoryAppearance Category = "appearance"
	// CategoryIntrinsic covers attributes that belong to a single entity.
	CategoryIntrinsic Category = "intrinsic"
	// CategoryRelationship covers attributes spanning multiple entities.
	CategoryRelationship Category = "relationship"
)

// Categories returns all categories in their canonical processing order.
func Categories() []Category {
	return []Category{CategoryAppearance, CategoryIntrinsic, CategoryRelationship}
}

// ParseCategory maps a case-insensitive name onto a Category.
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryAppearance, CategoryIntrinsic, CategoryRelationship:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
}

// Title is the display form used in schema keys, e.g. "Appearance".
func (c Category) Title() string {
	switch c {
	case CategoryAppearance:
		return "Appearance"
	case CategoryIntrinsic:
		return "Intrinsic"
	case CategoryRelationship:
		return "Relationship"
	default:
		return string(c)
	}
}

// QuestionsKey is the schema key holding this category's questions.
func (c Category) QuestionsKey() string {
	switch c {
	case CategoryAppearance:
		return "Appearance Quality Questions"
	case CategoryIntrinsic:
		return "Intrinsic Attribute Consistency Questions"
	default:
		return "Relationship Attribute Consistency Questions"
	}
}

// AnswersKey is the schema key holding this category's answers.
func (c Category) AnswersKey() string {
	switch c {
	case CategoryAppearance:
		return "Appearance Quality Answers"
	case CategoryIntrinsic:
		return "Intrinsic Attribute Consistency Answers"
	default:
		return "Relationship Attribute Consistency Answers"
	}
}

// SummaryKey is the key under "Overall Evaluation" summarising this category.
func (c Category) SummaryKey() string {
	switch c {
	case CategoryAppearance:
		return "Appearance Quality Summary"
	case CategoryIntrinsic:
		return "Intrinsic Attribute Consistency Summary"
	default:
		return "Relationship Attribute Consistency Summary"
	}
}

// PerEntity reports whether questions of this category are grouped by entity.
// Relationship questions span entities and are kept in a flat list.
func (c Category) PerEntity() bool {
	return c != CategoryRelationship
}
