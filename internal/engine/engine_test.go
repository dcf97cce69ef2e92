package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/gyaneshwarpardhi/nodegraph/internal/codec"
	"github.com/gyaneshwarpardhi/nodegraph/internal/config"
	"github.com/gyaneshwarpardhi/nodegraph/internal/engine"
	"github.com/gyaneshwarpardhi/nodegraph/internal/graph"
	"github.com/gyaneshwarpardhi/nodegraph/internal/nodes"
	"github.com/gyaneshwarpardhi/nodegraph/internal/registry"
)

func testConf() config.EngineConf {
	return config.EngineConf{QueueDepth: 16, TickTimeoutMs: 2000, BufferSize: 16}
}

func newEngine(t *testing.T, conf config.EngineConf, opts ...engine.Option) *engine.Engine {
	t.Helper()
	reg := registry.New()
	nodes.Register(reg)
	ctx, cancel := context.WithCancel(context.Background())
	e := engine.New(ctx, reg, conf, opts...)
	t.Cleanup(func() {
		e.Shutdown()
		cancel()
	})
	return e
}

func loadDouble(t *testing.T, e *engine.Engine) {
	t.Helper()
	rec, err := codec.ReadFile("../../configs/graphs/double.yaml")
	require.NoError(t, err)
	report, err := e.Replace(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, report.Clean(), "%+v", report)
}

func TestTick(t *testing.T) {
	e := newEngine(t, testConf())
	loadDouble(t, e)

	res, err := e.Tick(context.Background(), &engine.TickRequest{Input: 5})
	require.NoError(t, err)
	assert.NotEmpty(t, res.TickID)
	assert.False(t, res.Failed())
	assert.Equal(t, []any{10}, res.Results)
	assert.Len(t, res.Nodes, 3)
	assert.Equal(t, uint64(1), e.Ticks())
}

func TestTick_EmptyGraph(t *testing.T) {
	e := newEngine(t, testConf())
	res, err := e.Tick(context.Background(), &engine.TickRequest{ID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, "t-1", res.TickID)
	assert.Equal(t, []any{}, res.Results)
}

func TestTick_NodeFailureIsReported(t *testing.T) {
	e := newEngine(t, testConf())
	loadDouble(t, e)

	res, err := e.Tick(context.Background(), &engine.TickRequest{Input: "not a number"})
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Equal(t, "double", res.FailedNode)
	assert.Empty(t, res.Results)
}

func TestMutateAndSnapshot(t *testing.T) {
	e := newEngine(t, testConf())
	loadDouble(t, e)
	ctx := context.Background()

	err := e.Mutate(ctx, func(g *graph.Graph) error {
		extra, err := e.Registry().Create(nodes.TypeSink, "Second sink")
		if err != nil {
			return err
		}
		if err := extra.SetID("sink-2"); err != nil {
			return err
		}
		if err := g.AddNode(extra); err != nil {
			return err
		}
		return g.ConnectByID("double-out", extra.Input(0).ID())
	})
	require.NoError(t, err)

	res, err := e.Tick(ctx, &engine.TickRequest{Input: 2})
	require.NoError(t, err)
	assert.Equal(t, []any{4, 4}, res.Results)

	snap, err := e.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Record.Nodes, 4)
	assert.Len(t, snap.Record.Connections, 3)
	assert.Equal(t, uint64(1), snap.Ticks)

	boom := errors.New("boom")
	assert.ErrorIs(t, e.Mutate(ctx, func(*graph.Graph) error { return boom }), boom)
}

func TestReplace_KeepsGraphOnBadRecord(t *testing.T) {
	e := newEngine(t, testConf())
	loadDouble(t, e)

	_, err := e.Replace(context.Background(), codec.Record{Version: "7.0"})
	assert.ErrorIs(t, err, codec.ErrUnsupportedVersion)

	res, err := e.Tick(context.Background(), &engine.TickRequest{Input: 1})
	require.NoError(t, err)
	assert.Equal(t, []any{2}, res.Results)
}

func TestTick_QueueFull(t *testing.T) {
	conf := testConf()
	conf.QueueDepth = 1
	e := newEngine(t, conf)

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = e.Mutate(context.Background(), func(*graph.Graph) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	assert.True(t, e.TickAsync(&engine.TickRequest{}))
	assert.Equal(t, 1.0, e.QueueUtilization())
	assert.False(t, e.TickAsync(&engine.TickRequest{}))
	_, err := e.Tick(context.Background(), &engine.TickRequest{})
	assert.ErrorIs(t, err, engine.ErrQueueFull)
}

func TestTick_Timeout(t *testing.T) {
	conf := testConf()
	conf.TickTimeoutMs = 50
	e := newEngine(t, conf)

	release := make(chan struct{})
	defer close(release)
	err := e.Mutate(context.Background(), func(g *graph.Graph) error {
		n := graph.NewNode("slow", "slow", graph.CategoryProcess,
			graph.WithProcessor(graph.ProcessorFunc(func(*graph.ExecutionContext, any) (any, error) {
				<-release
				return nil, nil
			})))
		return g.AddNode(n)
	})
	require.NoError(t, err)

	_, err = e.Tick(context.Background(), &engine.TickRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// slowCreate delays node creation so an import outlasts the caller.
type slowCreate struct {
	done chan<- struct{}
}

func (slowCreate) Process(*graph.ExecutionContext, any) (any, error) { return nil, nil }

func (s slowCreate) OnCreate(*graph.Node) {
	time.Sleep(150 * time.Millisecond)
	s.done <- struct{}{}
}

func TestReplace_TimedOutCallerKeepsGraph(t *testing.T) {
	conf := testConf()
	conf.TickTimeoutMs = 50
	e := newEngine(t, conf)
	loadDouble(t, e)

	created := make(chan struct{}, 1)
	e.Registry().Register("slow", func(label string) *graph.Node {
		return graph.NewNode("slow", label, graph.CategoryProcess, graph.WithProcessor(slowCreate{done: created}))
	})

	report, err := e.Replace(context.Background(), codec.Record{
		Version: codec.Version,
		Nodes:   []codec.NodeRecord{{Type: "slow", ID: "s", Label: "slow"}},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, report.Nodes)
	<-created

	snap, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Record.Nodes, 3)
	assert.Nil(t, findNode(snap, "s"))
}

func TestMutate_ClaimedJobOutlivesTimeout(t *testing.T) {
	conf := testConf()
	conf.TickTimeoutMs = 50
	e := newEngine(t, conf)

	err := e.Mutate(context.Background(), func(g *graph.Graph) error {
		time.Sleep(120 * time.Millisecond)
		n, err := e.Registry().Create(nodes.TypeSink, "late")
		if err != nil {
			return err
		}
		return g.AddNode(n)
	})
	require.NoError(t, err)

	snap, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Record.Nodes, 1)
}

func findNode(snap *engine.Snapshot, id string) *codec.NodeRecord {
	for i := range snap.Record.Nodes {
		if snap.Record.Nodes[i].ID == id {
			return &snap.Record.Nodes[i]
		}
	}
	return nil
}

func TestTick_FailedNodeIsInnermost(t *testing.T) {
	e := newEngine(t, testConf())
	err := e.Mutate(context.Background(), func(g *graph.Graph) error {
		reg := e.Registry()
		loop, _ := reg.Create(nodes.TypeRepeat, "loop")
		scale, _ := reg.Create(nodes.TypeScale, "scale")
		sink, _ := reg.Create(nodes.TypeSink, "sink")
		if err := scale.SetID("scale-1"); err != nil {
			return err
		}
		scale.SetValue("factor", "not a number")
		for _, n := range []*graph.Node{loop, scale, sink} {
			if err := g.AddNode(n); err != nil {
				return err
			}
		}
		if err := g.Connect(loop.Output(0), scale.Input(0)); err != nil {
			return err
		}
		return g.Connect(scale.Output(0), sink.Input(0))
	})
	require.NoError(t, err)

	res, err := e.Tick(context.Background(), &engine.TickRequest{})
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Equal(t, "scale-1", res.FailedNode)
	assert.Contains(t, res.Error, "repeat iteration 0")
}

func TestTick_Tracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	e := newEngine(t, testConf(), engine.WithTracerProvider(tp))
	loadDouble(t, e)

	_, err := e.Tick(context.Background(), &engine.TickRequest{ID: "traced", Input: 1})
	require.NoError(t, err)
	_, err = e.Tick(context.Background(), &engine.TickRequest{ID: "broken", Input: "x"})
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "nodegraph.tick", spans[0].Name())
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "traced", attrs["tick.id"])
	assert.Equal(t, "3", attrs["graph.nodes"])
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestRun_PeriodicTicks(t *testing.T) {
	conf := testConf()
	conf.TickIntervalMs = 5
	e := newEngine(t, conf)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.Ticks() >= 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestRun_NoInterval(t *testing.T) {
	e := newEngine(t, testConf())
	assert.NoError(t, e.Run(context.Background()))
}

func TestShutdown_RejectsNewWork(t *testing.T) {
	e := newEngine(t, testConf())
	e.Shutdown()
	assert.False(t, e.TickAsync(&engine.TickRequest{}))
	_, err := e.Tick(context.Background(), &engine.TickRequest{})
	assert.ErrorIs(t, err, engine.ErrQueueFull)
}
