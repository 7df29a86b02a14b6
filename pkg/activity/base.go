// Package activity provides common infrastructure for Temporal activity
// implementations: workflow context extraction, best-effort event emission,
// and logging and heartbeats that are safe outside an activity context.
package activity

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/ahrav/go-t2ieval/pkg/events"
)

// WorkflowContext identifies the workflow execution running an activity.
type WorkflowContext struct {
	WorkflowID string
	RunID      string
	ActivityID string
}

// BaseActivities holds the infrastructure shared by activity types.
type BaseActivities struct {
	eventSink events.EventSink
}

// NewBaseActivities creates a BaseActivities emitting to sink. A nil sink
// disables emission.
func NewBaseActivities(sink events.EventSink) BaseActivities {
	return BaseActivities{eventSink: sink}
}

// GetWorkflowContext extracts the workflow execution from ctx. Outside an
// activity context, where activity.GetInfo panics, it returns fixed
// placeholder ids.
func (b *BaseActivities) GetWorkflowContext(ctx context.Context) WorkflowContext {
	var wfCtx WorkflowContext

	func() {
		defer func() {
			if r := recover(); r != nil {
				wfCtx = WorkflowContext{WorkflowID: "local", RunID: "local", ActivityID: "local"}
			}
		}()

		info := activity.GetInfo(ctx)
		wfCtx.WorkflowID = info.WorkflowExecution.ID
		wfCtx.RunID = info.WorkflowExecution.RunID
		wfCtx.ActivityID = info.ActivityID
	}()

	return wfCtx
}

// EmitEventSafe appends envelope to the sink, retrying once after a short
// delay. Failures are logged and never returned.
func (b *BaseActivities) EmitEventSafe(ctx context.Context, envelope events.Envelope, description string) {
	if b.eventSink == nil {
		return
	}

	const maxAttempts = 2
	const retryDelay = 200 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				SafeLogError(ctx, fmt.Sprintf("Event emission cancelled: %s", description),
					"event_type", envelope.Type)
				return
			}
		}

		if err := b.eventSink.Append(ctx, envelope); err != nil {
			lastErr = err
			continue
		}
		SafeLog(ctx, fmt.Sprintf("Event emitted: %s", description),
			"event_type", envelope.Type,
			"idempotency_key", envelope.IdempotencyKey)
		return
	}

	SafeLogError(ctx, fmt.Sprintf("Failed to emit %s after %d attempts", description, maxAttempts),
		"event_type", envelope.Type,
		"error", lastErr)
}

// SafeLog logs through the activity logger, or not at all outside an
// activity context.
func SafeLog(ctx context.Context, msg string, keyvals ...any) {
	defer func() { _ = recover() }()
	activity.GetLogger(ctx).Info(msg, keyvals...)
}

// SafeLogError is SafeLog at error level.
func SafeLogError(ctx context.Context, msg string, keyvals ...any) {
	defer func() { _ = recover() }()
	activity.GetLogger(ctx).Error(msg, keyvals...)
}

// RecordHeartbeat records an activity heartbeat; outside an activity
// context it does nothing.
func RecordHeartbeat(ctx context.Context, details ...any) {
	defer func() { _ = recover() }()
	activity.RecordHeartbeat(ctx, details...)
}

// KeepAlive heartbeats every interval until the returned stop function is
// called. Long model rounds would otherwise outlive the heartbeat timeout.
func KeepAlive(ctx context.Context, interval time.Duration, details ...any) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				RecordHeartbeat(ctx, details...)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}
