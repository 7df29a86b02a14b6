// Command t2ieval evaluates text-to-image generations with a vision
// language model judge.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-t2ieval/internal/llm/configuration"
)

var (
	configPath string
	envFiles   []string
	logLevel   string
	outputDir  string
	imageRoot  string

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "t2ieval",
	Short: "Evaluate text-to-image generations with a VLM judge",
	Long: `t2ieval extracts a structured description and questions from each
caption, asks a vision language model about the generated image, evaluates
the answers and summarises them into per-aspect scores.

Progress is persisted per stage under --output-dir; rerunning a command
resumes where the last run stopped.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if len(envFiles) > 0 {
			if err := godotenv.Load(envFiles...); err != nil {
				return fmt.Errorf("load env: %w", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env", nil, ".env files to load before reading the configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output-dir", "o", "output", "directory holding stage logs and score files")
	rootCmd.PersistentFlags().StringVar(&imageRoot, "image-root", "", "directory relative image paths resolve against")

	rootCmd.AddCommand(runCmd, scoresCmd, reportCmd, workerCmd, submitCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration and installs the logger.
func loadConfig() (*configuration.Config, error) {
	cfg, err := configuration.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.ResolveAPIKeys()
	if logLevel != "" {
		cfg.Observability.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = newLogger(os.Stderr, cfg.Observability)
	slog.SetDefault(logger)
	return cfg, nil
}

func newLogger(w io.Writer, obs configuration.ObservabilityConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(obs.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(obs.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// serveMetrics exposes reg on addr until ctx ends. An empty addr disables
// the endpoint.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("serving metrics", "addr", addr)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
