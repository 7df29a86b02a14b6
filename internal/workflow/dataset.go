package workflow

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-t2ieval/internal/domain"
	"github.com/ahrav/go-t2ieval/internal/pipeline"
)

// TaskQueue is the queue workers poll and submissions target.
const TaskQueue = "t2ieval"

// DefaultItemTimeout bounds one ProcessItem attempt.
const DefaultItemTimeout = 30 * time.Minute

// EvaluateDatasetInput starts a dataset run.
type EvaluateDatasetInput struct {
	// DatasetPath is read by the workers, so it must resolve on their host.
	DatasetPath string        `json:"dataset_path"`
	ItemTimeout time.Duration `json:"item_timeout,omitempty"`
	// MaxAttempts bounds ProcessItem attempts per item; 0 means 3.
	MaxAttempts int32 `json:"max_attempts,omitempty"`
	// Aggregate writes the score files once every item is processed.
	Aggregate bool `json:"aggregate"`
}

// EvaluateDatasetOutput reports a finished run.
type EvaluateDatasetOutput struct {
	Summary pipeline.RunSummary `json:"summary"`
	// Failed lists items whose activity failed after its retries.
	Failed     []domain.ItemID `json:"failed,omitempty"`
	ScoreFiles map[string]int  `json:"score_files,omitempty"`
}

// EvaluateDatasetWorkflow processes every item of a dataset in order. An
// item that keeps failing is recorded and skipped; the run only stops on
// cancellation or an invalid dataset.
func EvaluateDatasetWorkflow(ctx workflow.Context, in EvaluateDatasetInput) (*EvaluateDatasetOutput, error) {
	const currentVersion = 1
	_ = workflow.GetVersion(ctx, "evaluate_dataset.v", workflow.DefaultVersion, currentVersion)

	if in.DatasetPath == "" {
		return nil, temporal.NewNonRetryableApplicationError("dataset path is required", "Validation", nil)
	}
	timeout := in.ItemTimeout
	if timeout <= 0 {
		timeout = DefaultItemTimeout
	}
	attempts := in.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    3 * heartbeatInterval,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        attempts,
			NonRetryableErrorTypes: []string{ErrTypeInvalidInput},
		},
	})
	logger := workflow.GetLogger(ctx)

	var acts *Activities
	var ids []domain.ItemID
	if err := workflow.ExecuteActivity(ctx, acts.ListItems, in.DatasetPath).Get(ctx, &ids); err != nil {
		return nil, err
	}

	out := &EvaluateDatasetOutput{Summary: pipeline.RunSummary{Outcomes: map[pipeline.Outcome]int{}}}
	for _, id := range ids {
		var res pipeline.ItemResult
		err := workflow.ExecuteActivity(ctx, acts.ProcessItem, ProcessItemInput{DatasetPath: in.DatasetPath, ID: id}).Get(ctx, &res)
		var canceled *temporal.CanceledError
		switch {
		case errors.As(err, &canceled):
			return out, err
		case err != nil:
			logger.Error("item failed after retries", "id", id, "error", err)
			out.Failed = append(out.Failed, id)
			res.Outcome = pipeline.OutcomeFailed
		}
		out.Summary.Items++
		out.Summary.Outcomes[res.Outcome]++
	}

	if in.Aggregate {
		if err := workflow.ExecuteActivity(ctx, acts.Aggregate).Get(ctx, &out.ScoreFiles); err != nil {
			return out, err
		}
	}
	logger.Info("dataset evaluated", "items", out.Summary.Items, "failed", len(out.Failed))
	return out, nil
}
