// Package worker exposes helpers to register workflows and activities with
// a Temporal worker.
package worker

import (
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-t2ieval/internal/workflow"
)

// Options returns the worker options for the t2ieval task queue. Items of
// a run share one progress store, so activities execute one at a time.
func Options() sdkworker.Options {
	return sdkworker.Options{MaxConcurrentActivityExecutionSize: 1}
}

// Registrar is the part of a Temporal worker RegisterAll needs.
type Registrar interface {
	RegisterWorkflow(w interface{})
	RegisterActivity(a interface{})
}

// RegisterAll registers the dataset workflow and its activities. It must be
// called once, before the worker starts.
func RegisterAll(w Registrar, acts *workflow.Activities) {
	w.RegisterWorkflow(workflow.EvaluateDatasetWorkflow)
	w.RegisterActivity(acts)
}
