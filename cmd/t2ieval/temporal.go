package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-t2ieval/internal/worker"
	"github.com/ahrav/go-t2ieval/internal/workflow"
	"github.com/ahrav/go-t2ieval/pkg/events"
)

var temporalFlags struct {
	hostPort  string
	namespace string
}

func init() {
	for _, cmd := range []*cobra.Command{workerCmd, submitCmd} {
		cmd.Flags().StringVar(&temporalFlags.hostPort, "temporal-address", client.DefaultHostPort, "Temporal frontend host:port")
		cmd.Flags().StringVar(&temporalFlags.namespace, "namespace", client.DefaultNamespace, "Temporal namespace")
	}
	submitCmd.Flags().StringVarP(&submitFlags.inputFile, "input-file", "i", "", "dataset file, as seen by the workers")
	submitCmd.Flags().DurationVar(&submitFlags.itemTimeout, "item-timeout", workflow.DefaultItemTimeout, "timeout of one item attempt")
	submitCmd.Flags().Int32Var(&submitFlags.maxAttempts, "max-attempts", 3, "attempts per item before it is skipped")
	submitCmd.Flags().BoolVar(&submitFlags.wait, "wait", false, "wait for the workflow and print its result")
	_ = submitCmd.MarkFlagRequired("input-file")
}

func dialTemporal() (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  temporalFlags.hostPort,
		Namespace: temporalFlags.namespace,
		Logger:    tlog.NewStructuredLogger(logger.With("component", "temporal")),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", temporalFlags.hostPort, err)
	}
	return c, nil
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Host dataset workflows and their activities",
	Long: `Starts a Temporal worker on the t2ieval task queue. Activities write
stage logs under this worker's --output-dir, so every run of a dataset must
reach the same worker host.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		reg := prometheus.NewRegistry()
		serveMetrics(ctx, cfg.Observability.MetricsAddr, reg)

		runID := uuid.NewString()
		rt, err := worker.InitializeRuntime(ctx, cfg, nil, worker.Settings{
			OutputDir:  outputDir,
			ImageRoot:  imageRoot,
			RunID:      runID,
			Registerer: reg,
			Logger:     logger,
		})
		if err != nil {
			return err
		}

		c, err := dialTemporal()
		if err != nil {
			return err
		}
		defer c.Close()

		w := sdkworker.New(c, workflow.TaskQueue, worker.Options())
		worker.RegisterAll(w, rt.Activities(events.NewLogSink(logger), runID))
		logger.Info("worker started", "task_queue", workflow.TaskQueue, "output_dir", outputDir)

		interrupt := make(chan interface{})
		go func() {
			<-ctx.Done()
			close(interrupt)
		}()
		return w.Run(interrupt)
	},
}

var submitFlags struct {
	inputFile   string
	itemTimeout time.Duration
	maxAttempts int32
	wait        bool
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Start a dataset workflow on the workers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		c, err := dialTemporal()
		if err != nil {
			return err
		}
		defer c.Close()

		path, err := filepath.Abs(submitFlags.inputFile)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
			ID:        "t2ieval-" + uuid.NewString(),
			TaskQueue: workflow.TaskQueue,
		}, workflow.EvaluateDatasetWorkflow, workflow.EvaluateDatasetInput{
			DatasetPath: path,
			ItemTimeout: submitFlags.itemTimeout,
			MaxAttempts: submitFlags.maxAttempts,
			Aggregate:   true,
		})
		if err != nil {
			return fmt.Errorf("start workflow: %w", err)
		}
		logger.Info("workflow started", "workflow_id", run.GetID(), "run_id", run.GetRunID())
		if !submitFlags.wait {
			return printJSON(cmd.OutOrStdout(), map[string]string{"workflow_id": run.GetID(), "run_id": run.GetRunID()})
		}

		var out workflow.EvaluateDatasetOutput
		if err := run.Get(context.WithoutCancel(ctx), &out); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}
