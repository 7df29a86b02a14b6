package domain

import "errors"

// ErrInvalidDatasetItem indicates that a dataset item is missing required fields.
var ErrInvalidDatasetItem = errors.New("invalid dataset item")

// ErrInvalidConfig indicates that the pipeline configuration is invalid.
var ErrInvalidConfig = errors.New("invalid pipeline configuration")

// ErrReconciliationMismatch indicates that a model response was reconciled
// only partially: keys were missing, redundant, or matched imperfectly.
// It is recoverable; stages either retry or accept the best-effort tree.
var ErrReconciliationMismatch = errors.New("reconciliation mismatch")

// ErrExhaustedRetries indicates that a schema-bearing stage never produced a
// structurally valid response within its retry budget.
var ErrExhaustedRetries = errors.New("exhausted reconciliation retries")

// ErrUnknownStage indicates that a stage name could not be mapped to a StageKey.
var ErrUnknownStage = errors.New("unknown stage")

// ErrUnknownCategory indicates an unrecognised question category.
var ErrUnknownCategory = errors.New("unknown category")
