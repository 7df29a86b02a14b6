package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-t2ieval/pkg/events"
)

type flakySink struct {
	mu       sync.Mutex
	failures int
	got      []events.Envelope
}

func (s *flakySink) Append(_ context.Context, e events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("sink unavailable")
	}
	s.got = append(s.got, e)
	return nil
}

func TestGetWorkflowContext_OutsideActivity(t *testing.T) {
	var b BaseActivities
	assert.Equal(t, WorkflowContext{WorkflowID: "local", RunID: "local", ActivityID: "local"}, b.GetWorkflowContext(context.Background()))
}

func TestEmitEventSafe(t *testing.T) {
	e, err := events.New(events.TypeItemCompleted, "worker", "run-1", "run-1:1", struct{}{})
	require.NoError(t, err)

	t.Run("retries once", func(t *testing.T) {
		sink := &flakySink{failures: 1}
		b := NewBaseActivities(sink)
		b.EmitEventSafe(context.Background(), e, "item completed")
		assert.Len(t, sink.got, 1)
	})

	t.Run("gives up quietly", func(t *testing.T) {
		sink := &flakySink{failures: 5}
		b := NewBaseActivities(sink)
		b.EmitEventSafe(context.Background(), e, "item completed")
		assert.Empty(t, sink.got)
	})

	t.Run("nil sink", func(t *testing.T) {
		b := NewBaseActivities(nil)
		b.EmitEventSafe(context.Background(), e, "item completed")
	})
}

func TestKeepAlive(t *testing.T) {
	stop := KeepAlive(context.Background(), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	stop()

	ctx, cancel := context.WithCancel(context.Background())
	stop = KeepAlive(ctx, time.Hour)
	cancel()
	stop()
}
