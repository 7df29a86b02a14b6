package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ahrav/go-t2ieval/internal/aggregation"
	"github.com/ahrav/go-t2ieval/internal/llm"
	"github.com/ahrav/go-t2ieval/internal/llm/configuration"
	"github.com/ahrav/go-t2ieval/internal/pipeline"
	"github.com/ahrav/go-t2ieval/internal/workflow"
	"github.com/ahrav/go-t2ieval/pkg/activity"
	"github.com/ahrav/go-t2ieval/pkg/events"
)

// Runtime is everything a run needs, built from one configuration.
type Runtime struct {
	Client     llm.Client
	Pipeline   *pipeline.Pipeline
	Aggregator *aggregation.Aggregator
}

// Settings are the per-process inputs of InitializeRuntime.
type Settings struct {
	OutputDir string
	ImageRoot string
	RunID     string
	// Registerer receives client and pipeline metrics when set.
	Registerer prometheus.Registerer
	Sink       events.EventSink
	Logger     *slog.Logger
}

// InitializeLLMClient creates the model client with its middleware chain.
func InitializeLLMClient(ctx context.Context, cfg *configuration.Config, s Settings) (llm.Client, error) {
	opts := []llm.Option{llm.WithImageRoot(s.ImageRoot)}
	if s.Logger != nil {
		opts = append(opts, llm.WithLogger(s.Logger.With("component", "llm")))
	}
	if s.Registerer != nil {
		opts = append(opts, llm.WithMetrics(llm.NewMetrics(s.Registerer)))
	}
	client, err := llm.NewClient(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return client, nil
}

// InitializeRuntime builds the client, the pipeline over OutputDir and the
// score aggregator for the same directory. A non-nil client is used as is.
func InitializeRuntime(ctx context.Context, cfg *configuration.Config, client llm.Client, s Settings) (*Runtime, error) {
	if client == nil {
		var err error
		if client, err = InitializeLLMClient(ctx, cfg, s); err != nil {
			return nil, err
		}
	}
	p, err := pipeline.Build(cfg, client, pipeline.Settings{
		OutputDir:  s.OutputDir,
		RunID:      s.RunID,
		Registerer: s.Registerer,
		Sink:       s.Sink,
		Logger:     s.Logger,
	})
	if err != nil {
		return nil, err
	}
	agg := aggregation.New(s.OutputDir, aggregation.Options{AbsencePhrases: cfg.Pipeline.AbsencePhrases, Logger: s.Logger})
	return &Runtime{Client: client, Pipeline: p, Aggregator: agg}, nil
}

// Activities wraps the runtime for a Temporal worker.
func (r *Runtime) Activities(sink events.EventSink, runID string) *workflow.Activities {
	return workflow.NewActivities(activity.NewBaseActivities(sink), r.Pipeline, r.Aggregator, runID)
}
