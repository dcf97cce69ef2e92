package metrics_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/nodegraph/internal/graph"
	"github.com/gyaneshwarpardhi/nodegraph/internal/metrics"
)

func TestGraphObserver(t *testing.T) {
	g := graph.New(graph.WithObserver(metrics.GraphObserver{}))
	ok := graph.NewNode("metrics-ok", "ok", graph.CategoryProcess,
		graph.WithProcessor(graph.ProcessorFunc(func(*graph.ExecutionContext, any) (any, error) { return nil, nil })))
	bad := graph.NewNode("metrics-bad", "bad", graph.CategoryProcess,
		graph.WithProcessor(graph.ProcessorFunc(func(*graph.ExecutionContext, any) (any, error) { return nil, errors.New("no") })))
	require.NoError(t, g.AddNode(ok))
	require.NoError(t, g.AddNode(bad))

	// Make the pair cyclic so the scheduler reports a fallback.
	require.NoError(t, g.Connect(ok.AddOutput("out", ""), bad.AddInput("in", "")))
	require.NoError(t, g.Connect(bad.AddOutput("out", ""), ok.AddInput("in", "")))

	before := testutil.ToFloat64(metrics.CycleFallbacks)
	_, err := g.Process(context.Background(), nil)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NodeExecutions.WithLabelValues("metrics-ok", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NodeExecutions.WithLabelValues("metrics-bad", "error")))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.CycleFallbacks))
}
