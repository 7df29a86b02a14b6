package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/ahrav/go-t2ieval/internal/domain"
	"github.com/ahrav/go-t2ieval/internal/pipeline"
)

func TestEvaluateDatasetWorkflow(t *testing.T) {
	var suite testsuite.WorkflowTestSuite

	t.Run("processes items in order and skips failures", func(t *testing.T) {
		env := suite.NewTestWorkflowEnvironment()
		acts := &Activities{}
		env.RegisterActivity(acts)

		env.OnActivity(acts.ListItems, mock.Anything, "data.json").Return([]domain.ItemID{"1", "2", "3"}, nil)
		var order []domain.ItemID
		env.OnActivity(acts.ProcessItem, mock.Anything, mock.Anything).Return(
			func(_ context.Context, in ProcessItemInput) (*pipeline.ItemResult, error) {
				order = append(order, in.ID)
				if in.ID == "2" {
					return nil, temporal.NewNonRetryableApplicationError("boom", ErrTypeModelCall, nil)
				}
				return &pipeline.ItemResult{ID: in.ID, Outcome: pipeline.OutcomeDone, Generated: 4}, nil
			})
		env.OnActivity(acts.Aggregate, mock.Anything).Return(map[string]int{"summarize-result-score.jsonl": 2}, nil)

		env.ExecuteWorkflow(EvaluateDatasetWorkflow, EvaluateDatasetInput{DatasetPath: "data.json", Aggregate: true})
		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var out EvaluateDatasetOutput
		require.NoError(t, env.GetWorkflowResult(&out))
		assert.Equal(t, []domain.ItemID{"1", "2", "3"}, order)
		assert.Equal(t, 3, out.Summary.Items)
		assert.Equal(t, 2, out.Summary.Outcomes[pipeline.OutcomeDone])
		assert.Equal(t, 1, out.Summary.Outcomes[pipeline.OutcomeFailed])
		assert.Equal(t, []domain.ItemID{"2"}, out.Failed)
		assert.Equal(t, 2, out.ScoreFiles["summarize-result-score.jsonl"])
		env.AssertExpectations(t)
	})

	t.Run("invalid dataset stops the run", func(t *testing.T) {
		env := suite.NewTestWorkflowEnvironment()
		acts := &Activities{}
		env.RegisterActivity(acts)
		env.OnActivity(acts.ListItems, mock.Anything, "missing.json").Return(([]domain.ItemID)(nil),
			temporal.NewNonRetryableApplicationError("invalid dataset", ErrTypeInvalidInput, nil))

		env.ExecuteWorkflow(EvaluateDatasetWorkflow, EvaluateDatasetInput{DatasetPath: "missing.json"})
		require.True(t, env.IsWorkflowCompleted())
		var appErr *temporal.ApplicationError
		require.ErrorAs(t, env.GetWorkflowError(), &appErr)
		assert.Equal(t, ErrTypeInvalidInput, appErr.Type())
	})

	t.Run("dataset path is required", func(t *testing.T) {
		env := suite.NewTestWorkflowEnvironment()
		env.ExecuteWorkflow(EvaluateDatasetWorkflow, EvaluateDatasetInput{})
		require.True(t, env.IsWorkflowCompleted())

		var appErr *temporal.ApplicationError
		require.ErrorAs(t, env.GetWorkflowError(), &appErr)
		assert.Equal(t, "Validation", appErr.Type())
		assert.True(t, appErr.NonRetryable())
	})
}
