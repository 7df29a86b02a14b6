package worker

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-t2ieval/internal/llm/configuration"
	"github.com/ahrav/go-t2ieval/internal/llm/llmtest"
)

type registrar struct {
	workflows  []interface{}
	activities []interface{}
}

func (r *registrar) RegisterWorkflow(w interface{}) { r.workflows = append(r.workflows, w) }
func (r *registrar) RegisterActivity(a interface{}) { r.activities = append(r.activities, a) }

func TestRegisterAll(t *testing.T) {
	client := llmtest.New()
	rt, err := InitializeRuntime(context.Background(), configuration.DefaultConfig(), client, Settings{
		OutputDir:  t.TempDir(),
		RunID:      "run-1",
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	assert.Same(t, client, rt.Client)

	var r registrar
	acts := rt.Activities(nil, "run-1")
	RegisterAll(&r, acts)
	assert.Len(t, r.workflows, 1)
	require.Len(t, r.activities, 1)
	assert.Same(t, acts, r.activities[0])
	assert.Equal(t, 1, Options().MaxConcurrentActivityExecutionSize)
}

func TestInitializeLLMClient(t *testing.T) {
	cfg := configuration.DefaultConfig()
	client, err := InitializeLLMClient(context.Background(), cfg, Settings{ImageRoot: t.TempDir(), Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	assert.NotNil(t, client)
}
