package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-t2ieval/internal/aggregation"
	"github.com/ahrav/go-t2ieval/internal/domain"
	"github.com/ahrav/go-t2ieval/internal/llm/configuration"
	"github.com/ahrav/go-t2ieval/internal/pipeline"
	"github.com/ahrav/go-t2ieval/internal/report"
	"github.com/ahrav/go-t2ieval/internal/worker"
	"github.com/ahrav/go-t2ieval/pkg/events"
)

var runFlags struct {
	inputFile    string
	runID        string
	granularity  string
	maxRetry     int
	multiStage   bool
	simpleFormat bool
	aspects      bool
	noSummary    bool
	reference    string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate a dataset, then write score files",
	Long: `Runs every dataset item through extraction, answering, evaluation and
summarisation, writes the score files, and prints a correlation report when
--reference is given.

Flags set on the command line override the configuration file.`,
	RunE: runDataset,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.inputFile, "input-file", "i", "", "dataset file (JSON array, or JSON lines with a .jsonl extension)")
	f.StringVar(&runFlags.runID, "run-id", "", "id stamped on records and events (default: random)")
	f.StringVar(&runFlags.granularity, "granularity", "", "fine (prebuilt structure) or coarse (live extraction)")
	f.IntVar(&runFlags.maxRetry, "max-retry", 0, "extra attempts of extract and summarize rounds")
	f.BoolVar(&runFlags.multiStage, "multi-stage", false, "split explanation and scoring into separate calls")
	f.BoolVar(&runFlags.simpleFormat, "simple-answer-and-eval", false, "ask bare questions instead of templated prompts")
	f.BoolVar(&runFlags.aspects, "separate-aspects", false, "summarise each category before merging")
	f.BoolVar(&runFlags.noSummary, "skip-summarize", false, "stop after the per-question stages")
	f.StringVar(&runFlags.reference, "reference", "", "human reference score file for the correlation report")
	_ = runCmd.MarkFlagRequired("input-file")
}

// applyRunFlags copies explicitly set flags over the configuration.
func applyRunFlags(cmd *cobra.Command, cfg *configuration.Config) {
	f := cmd.Flags()
	pc := &cfg.Pipeline
	if f.Changed("granularity") {
		pc.Granularity = configuration.Granularity(runFlags.granularity)
	}
	if f.Changed("max-retry") {
		pc.MaxRetry = runFlags.maxRetry
	}
	if f.Changed("multi-stage") {
		pc.MultiStage = runFlags.multiStage
	}
	if f.Changed("simple-answer-and-eval") {
		pc.SimpleAnswerAndEval = runFlags.simpleFormat
	}
	if f.Changed("separate-aspects") {
		pc.SeparateAspects = runFlags.aspects
	}
	if f.Changed("skip-summarize") {
		pc.SkipSummarize = runFlags.noSummary
	}
}

func runDataset(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	items, err := pipeline.LoadDataset(runFlags.inputFile)
	if err != nil {
		return err
	}
	runID := runFlags.runID
	if runID == "" {
		runID = uuid.NewString()
	}

	ctx := cmd.Context()
	reg := prometheus.NewRegistry()
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	serveMetrics(metricsCtx, cfg.Observability.MetricsAddr, reg)

	rt, err := worker.InitializeRuntime(ctx, cfg, nil, worker.Settings{
		OutputDir:  outputDir,
		ImageRoot:  imageRoot,
		RunID:      runID,
		Registerer: reg,
		Sink:       events.NewLogSink(logger),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	logger.Info("starting run", "run_id", runID, "items", len(items), "output_dir", outputDir,
		"granularity", cfg.Pipeline.Granularity, "multi_stage", cfg.Pipeline.MultiStage)
	summary, err := rt.Pipeline.Run(ctx, items)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
		return err
	}

	if _, err := rt.Aggregator.Run(); err != nil {
		return err
	}
	if runFlags.reference == "" {
		return nil
	}
	return writeReport(cmd, runFlags.reference, report.Spearman, report.Kendall, report.Pearson)
}

var scoresCmd = &cobra.Command{
	Use:   "scores",
	Short: "Write score files from the stage logs in --output-dir",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		written, err := aggregation.New(outputDir, aggregation.Options{
			AbsencePhrases: cfg.Pipeline.AbsencePhrases,
			Logger:         logger,
		}).Run()
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), written)
	},
}

var reportMethods []string

var reportCmd = &cobra.Command{
	Use:   "report <reference-file>",
	Short: "Correlate summary scores in --output-dir with human reference scores",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		methods := make([]report.Method, 0, len(reportMethods))
		for _, name := range reportMethods {
			m, err := report.ParseMethod(name)
			if err != nil {
				return err
			}
			methods = append(methods, m)
		}
		return writeReport(cmd, args[0], methods...)
	},
}

func init() {
	reportCmd.Flags().StringSliceVar(&reportMethods, "method", []string{string(report.Spearman), string(report.Kendall), string(report.Pearson)}, "correlation methods")
}

func writeReport(cmd *cobra.Command, reference string, methods ...report.Method) error {
	scores := filepath.Join(outputDir, aggregation.ScoreFileName(domain.SummarizeKey(domain.Primary)))
	tables, err := report.Load(reference, scores, logger)
	if err != nil {
		return err
	}
	return report.Render(cmd.OutOrStdout(), tables, methods...)
}
