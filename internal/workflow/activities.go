package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/ahrav/go-t2ieval/internal/aggregation"
	"github.com/ahrav/go-t2ieval/internal/domain"
	"github.com/ahrav/go-t2ieval/internal/pipeline"
	"github.com/ahrav/go-t2ieval/pkg/activity"
	"github.com/ahrav/go-t2ieval/pkg/events"
)

// Error types attached to application errors returned by activities.
const (
	ErrTypeInvalidInput = "InvalidInput"
	ErrTypeModelCall    = "ModelCall"
	ErrTypePersistence  = "Persistence"
)

// heartbeatInterval keeps ProcessItem alive under the workflow's heartbeat
// timeout while model rounds are in flight.
const heartbeatInterval = 10 * time.Second

// ProcessItemInput names one item of a dataset file.
type ProcessItemInput struct {
	DatasetPath string        `json:"dataset_path"`
	ID          domain.ItemID `json:"id"`
}

// Activities runs pipeline work for workflows. The pipeline is not safe for
// concurrent use, so item processing is serialised.
type Activities struct {
	activity.BaseActivities
	pipeline   *pipeline.Pipeline
	aggregator *aggregation.Aggregator
	runID      string

	run      sync.Mutex
	mu       sync.Mutex
	datasets map[string]map[domain.ItemID]*domain.DatasetItem
}

// NewActivities creates the activities over a built pipeline and an
// aggregator for the same output directory.
func NewActivities(base activity.BaseActivities, p *pipeline.Pipeline, agg *aggregation.Aggregator, runID string) *Activities {
	return &Activities{
		BaseActivities: base,
		pipeline:       p,
		aggregator:     agg,
		runID:          runID,
		datasets:       map[string]map[domain.ItemID]*domain.DatasetItem{},
	}
}

// dataset loads a dataset file once per worker.
func (a *Activities) dataset(path string) ([]*domain.DatasetItem, map[domain.ItemID]*domain.DatasetItem, error) {
	items, err := pipeline.LoadDataset(path)
	if err != nil {
		return nil, nil, temporal.NewNonRetryableApplicationError("invalid dataset", ErrTypeInvalidInput, err)
	}
	byID := make(map[domain.ItemID]*domain.DatasetItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	return items, byID, nil
}

// ListItems returns the item ids of a dataset in processing order.
func (a *Activities) ListItems(ctx context.Context, path string) ([]domain.ItemID, error) {
	items, byID, err := a.dataset(path)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.datasets[path] = byID
	a.mu.Unlock()

	ids := make([]domain.ItemID, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	activity.SafeLog(ctx, "Dataset listed", "path", path, "items", len(ids))
	return ids, nil
}

func (a *Activities) item(in ProcessItemInput) (*domain.DatasetItem, error) {
	a.mu.Lock()
	byID, ok := a.datasets[in.DatasetPath]
	a.mu.Unlock()
	if !ok {
		var err error
		if _, byID, err = a.dataset(in.DatasetPath); err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.datasets[in.DatasetPath] = byID
		a.mu.Unlock()
	}
	item, ok := byID[in.ID]
	if !ok {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("item %s not in %s", in.ID, in.DatasetPath), ErrTypeInvalidInput, nil)
	}
	return item, nil
}

// ProcessItem runs every stage of one item. A transient model failure is
// returned as a retryable error so Temporal retries the item; completed
// stages are already persisted and are not repeated.
func (a *Activities) ProcessItem(ctx context.Context, in ProcessItemInput) (*pipeline.ItemResult, error) {
	item, err := a.item(in)
	if err != nil {
		return nil, err
	}
	wfCtx := a.GetWorkflowContext(ctx)

	stop := activity.KeepAlive(ctx, heartbeatInterval, string(in.ID))
	a.run.Lock()
	res, err := a.pipeline.ProcessItem(ctx, item)
	a.run.Unlock()
	stop()

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	case err != nil:
		return nil, temporal.NewApplicationError("persist item progress", ErrTypePersistence, err)
	}

	if e, err := events.New(events.TypeItemCompleted, "worker", a.runID, wfCtx.WorkflowID+":"+string(item.ID), res); err == nil {
		e.WorkflowID = wfCtx.WorkflowID
		a.EmitEventSafe(ctx, e, "item completed")
	}

	if res.Outcome == pipeline.OutcomeFailed && res.Retryable {
		return nil, temporal.NewApplicationError(res.Error, ErrTypeModelCall)
	}
	activity.SafeLog(ctx, "Item processed", "id", item.ID, "outcome", res.Outcome, "generated", res.Generated)
	return res, nil
}

// Aggregate writes the score files of the output directory.
func (a *Activities) Aggregate(ctx context.Context) (map[string]int, error) {
	a.run.Lock()
	defer a.run.Unlock()
	written, err := a.aggregator.Run()
	if err != nil {
		return nil, temporal.NewApplicationError("aggregate scores", ErrTypePersistence, err)
	}
	activity.SafeLog(ctx, "Scores aggregated", "files", len(written))
	return written, nil
}
