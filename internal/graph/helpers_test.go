package graph_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/nodegraph/internal/graph"
)

// recorder collects node labels in execution order.
type recorder struct {
	seen []string
}

func (r *recorder) count(label string) int {
	c := 0
	for _, s := range r.seen {
		if s == label {
			c++
		}
	}
	return c
}

// relay builds a node with one input and one output that forwards what it
// reads (or the tick input when nothing is connected) and records itself.
func relay(rec *recorder, label string, cat graph.Category, opts ...graph.Option) *graph.Node {
	n := graph.NewNode("relay", label, cat, opts...)
	in := n.AddInput("in", "")
	out := n.AddOutput("out", "")
	n.SetProcessor(graph.ProcessorFunc(func(ec *graph.ExecutionContext, input any) (any, error) {
		rec.seen = append(rec.seen, label)
		if v, ok := in.Read(); ok {
			input = v
		}
		out.Emit(input)
		return input, nil
	}))
	return n
}

func mustAdd(t *testing.T, g *graph.Graph, nodes ...*graph.Node) {
	t.Helper()
	for _, n := range nodes {
		require.NoError(t, g.AddNode(n))
	}
}

func mustConnect(t *testing.T, g *graph.Graph, from, to *graph.Node) {
	t.Helper()
	require.NoError(t, g.Connect(from.Output(0), to.Input(0)))
}

func labels(nodes []*graph.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Label()
	}
	return out
}
