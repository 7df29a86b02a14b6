package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ahrav/go-t2ieval/internal/llm"
	"github.com/ahrav/go-t2ieval/internal/llm/configuration"
	"github.com/ahrav/go-t2ieval/internal/prompt"
	"github.com/ahrav/go-t2ieval/internal/stage"
	"github.com/ahrav/go-t2ieval/pkg/events"
)

// Settings carries the run-specific inputs of Build.
type Settings struct {
	OutputDir string
	RunID     string
	// Registerer receives the pipeline metrics when set.
	Registerer prometheus.Registerer
	Sink       events.EventSink
	Logger     *slog.Logger
}

// Build assembles a pipeline from a validated configuration: the prompt
// library, the stage executor and the progress store under OutputDir.
func Build(cfg *configuration.Config, client llm.Client, s Settings) (*Pipeline, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pc := cfg.Pipeline

	lib, err := prompt.New(prompt.WithStage1FromPrimary(pc.Stage1FromPrimary))
	if err != nil {
		return nil, err
	}
	exec := stage.New(client, lib, stage.Options{
		MultiStage:      pc.MultiStage,
		SimpleFormat:    pc.SimpleAnswerAndEval,
		SeparateAspects: pc.SeparateAspects,
		MaxRetry:        pc.MaxRetry,
		StrictQuestions: pc.StrictQuestions,
		RunID:           s.RunID,
	}, logger)

	store, err := OpenStore(s.OutputDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open progress in %s: %w", s.OutputDir, err)
	}

	opts := []Option{WithLogger(logger)}
	if s.Registerer != nil {
		opts = append(opts, WithMetrics(NewMetrics(s.Registerer)))
	}
	if s.Sink != nil {
		opts = append(opts, WithEventSink(s.Sink))
	}
	return New(exec, store, Options{Granularity: pc.Granularity, Summarize: !pc.SkipSummarize}, opts...), nil
}
