// Package events carries pipeline progress notifications to observers.
// Envelopes wrap a JSON payload with the metadata needed to route and
// deduplicate it; sinks decide where envelopes go.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	// TypeItemCompleted is emitted once per processed dataset item.
	TypeItemCompleted = "pipeline.item_completed"
	// TypeRunCompleted is emitted when a dataset run finishes.
	TypeRunCompleted = "pipeline.run_completed"
)

// Version is the payload schema version of every event type.
const Version = "1.0.0"

// Envelope wraps one event.
type Envelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	// IdempotencyKey is stable across retries of the same work, so sinks
	// can drop duplicates.
	IdempotencyKey string `json:"idempotency_key"`
	// WorkflowID and RunID correlate the event with the run that produced
	// it. WorkflowID is empty outside Temporal.
	WorkflowID string          `json:"workflow_id,omitempty"`
	RunID      string          `json:"run_id"`
	Payload    json.RawMessage `json:"payload"`
}

// New builds an envelope around payload.
func New(eventType, source, runID, idemKey string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		ID:             uuid.NewString(),
		Type:           eventType,
		Source:         source,
		Version:        Version,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: idemKey,
		RunID:          runID,
		Payload:        raw,
	}, nil
}

// EventSink receives envelopes. Append should return quickly; callers treat
// failures as non-fatal.
type EventSink interface {
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink drops every envelope.
type NoOpEventSink struct{}

// Append implements EventSink.
func (NoOpEventSink) Append(context.Context, Envelope) error { return nil }

// NewNoOpEventSink returns a sink that drops every envelope.
func NewNoOpEventSink() EventSink { return NoOpEventSink{} }

// LogSink writes envelopes to a structured logger at debug level.
type LogSink struct{ logger *slog.Logger }

// NewLogSink returns a sink logging through logger, or the default logger
// when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "events")}
}

// Append implements EventSink.
func (s *LogSink) Append(ctx context.Context, e Envelope) error {
	s.logger.DebugContext(ctx, "event",
		"type", e.Type,
		"source", e.Source,
		"idempotency_key", e.IdempotencyKey,
		"run_id", e.RunID,
		"payload", string(e.Payload))
	return nil
}
