package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-t2ieval/internal/llm/configuration"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, configuration.ObservabilityConfig{LogLevel: "warn", LogFormat: "json"})
	l.Info("hidden")
	l.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	l = newLogger(&buf, configuration.ObservabilityConfig{LogLevel: "bogus"})
	l.Info("text line")
	assert.Contains(t, buf.String(), "msg=\"text line\"")
}

func TestApplyRunFlags(t *testing.T) {
	cfg := configuration.DefaultConfig()
	before := cfg.Pipeline

	require.NoError(t, runCmd.Flags().Parse([]string{"--granularity", "fine", "--skip-summarize"}))
	applyRunFlags(runCmd, cfg)

	assert.Equal(t, configuration.GranularityFine, cfg.Pipeline.Granularity)
	assert.True(t, cfg.Pipeline.SkipSummarize)
	assert.Equal(t, before.MultiStage, cfg.Pipeline.MultiStage, "unset flags keep the configured value")
	assert.Equal(t, before.MaxRetry, cfg.Pipeline.MaxRetry)
}
