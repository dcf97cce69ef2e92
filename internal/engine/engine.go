package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gyaneshwarpardhi/nodegraph/internal/codec"
	"github.com/gyaneshwarpardhi/nodegraph/internal/config"
	"github.com/gyaneshwarpardhi/nodegraph/internal/graph"
	"github.com/gyaneshwarpardhi/nodegraph/internal/metrics"
	"github.com/gyaneshwarpardhi/nodegraph/internal/registry"
)

// ErrQueueFull is returned when the engine queue cannot take another job.
var ErrQueueFull = errors.New("engine queue full")

// Snapshot is a consistent view of the graph taken between two ticks.
type Snapshot struct {
	Record codec.Record   `json:"record"`
	Nodes  []graph.Status `json:"nodes"`
	Ticks  uint64         `json:"ticks"`
}

// Engine owns one graph and serializes every access to it on a single
// worker goroutine. Ticks and structural changes share the same queue, so a
// change is always applied between two ticks.
type Engine struct {
	g      *graph.Graph // touched only by the worker
	reg    *registry.Registry
	pool   *workerPool[*job]
	conf   config.EngineConf
	logger *slog.Logger
	tracer trace.Tracer
	ticks  atomic.Uint64
}

type job struct {
	ctx   context.Context
	kind  string
	run   func(ctx context.Context)
	state atomic.Int32
}

const (
	jobPending int32 = iota
	jobClaimed
	jobAbandoned
)

// claim lets the worker commit the job. It fails once the caller gave up.
func (j *job) claim() bool { return j.state.CompareAndSwap(jobPending, jobClaimed) }

// abandon withdraws the job. It fails once the worker claimed it.
func (j *job) abandon() bool { return j.state.CompareAndSwap(jobPending, jobAbandoned) }

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and its graph.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithTracerProvider overrides the global OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer("nodegraph/engine") }
}

// New creates an Engine with an empty graph and starts its worker.
// The worker stops when ctx is cancelled or Shutdown is called.
func New(ctx context.Context, reg *registry.Registry, conf config.EngineConf, opts ...Option) *Engine {
	e := &Engine{
		reg:    reg,
		conf:   conf,
		logger: slog.Default(),
		tracer: otel.Tracer("nodegraph/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.g = e.newGraph()

	depth := conf.QueueDepth
	if depth < 1 {
		depth = 1
	}
	e.pool = newWorkerPool[*job](ctx, 1, depth, func(ctx context.Context, j *job) {
		// Skip jobs whose caller already gave up.
		if j.ctx.Err() != nil {
			return
		}
		j.run(ctx)
		metrics.QueueUtilization.Set(e.QueueUtilization())
	})
	return e
}

func (e *Engine) newGraph() *graph.Graph {
	return graph.New(
		graph.WithLogger(e.logger),
		graph.WithObserver(metrics.GraphObserver{}),
		graph.WithBufferSize(e.conf.BufferSize),
	)
}

// submit queues fn and waits for its result, for the tick timeout at most.
// fn calls claim before it changes the graph: when the caller has already
// given up, claim returns false and fn must leave the graph untouched. Once
// claimed, the caller waits for the outcome even past its deadline. Jobs
// that never claim (ticks, snapshots) are simply dropped by a caller that
// gave up.
func submit[T any](ctx context.Context, e *Engine, kind string, fn func(ctx context.Context, claim func() bool) T) (T, error) {
	var zero T
	timeout := e.conf.TickTimeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultC := make(chan T, 1)
	j := &job{ctx: ctx, kind: kind}
	j.run = func(context.Context) {
		resultC <- fn(ctx, j.claim)
	}
	if !e.pool.Submit(j) {
		metrics.JobsDropped.WithLabelValues(kind).Inc()
		return zero, fmt.Errorf("%s: %w (capacity %d)", kind, ErrQueueFull, e.pool.QueueCap())
	}
	if kind == "tick" {
		metrics.TicksEnqueued.Inc()
	}

	select {
	case res := <-resultC:
		return res, nil
	case <-ctx.Done():
		if !j.abandon() {
			return <-resultC, nil
		}
		return zero, fmt.Errorf("%s: %w", kind, ctx.Err())
	}
}

// Tick runs one tick synchronously. Node failures are reported in the
// result; the error covers queueing, timeouts and cancellation.
func (e *Engine) Tick(ctx context.Context, req *TickRequest) (*TickResult, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	return submit(ctx, e, "tick", func(ctx context.Context, _ func() bool) *TickResult {
		return e.processTick(ctx, req)
	})
}

// TickAsync enqueues a tick for background processing. Returns false if the queue is full.
func (e *Engine) TickAsync(req *TickRequest) bool {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	j := &job{ctx: context.Background(), kind: "tick", run: func(ctx context.Context) {
		e.processTick(ctx, req)
	}}
	if !e.pool.Submit(j) {
		metrics.JobsDropped.WithLabelValues("tick").Inc()
		return false
	}
	metrics.TicksEnqueued.Inc()
	return true
}

func (e *Engine) processTick(ctx context.Context, req *TickRequest) *TickResult {
	ctx, span := e.tracer.Start(ctx, "nodegraph.tick",
		trace.WithAttributes(
			attribute.String("tick.id", req.ID),
			attribute.Int("graph.nodes", e.g.NodeCount()),
		))
	defer span.End()

	var opts []graph.ProcessOption
	if e.conf.NoSort {
		opts = append(opts, graph.WithoutSort())
	}

	start := time.Now()
	results, err := e.g.Process(ctx, req.Input, opts...)
	elapsed := time.Since(start)
	e.ticks.Add(1)

	res := &TickResult{
		TickID:     req.ID,
		Results:    results,
		DurationMs: float64(elapsed.Microseconds()) / 1000,
		Nodes:      e.g.Statuses(),
	}
	if res.Results == nil {
		res.Results = []any{}
	}
	span.SetAttributes(attribute.Int("tick.results", len(results)))

	status := "success"
	if err != nil {
		status = "error"
		res.Error = err.Error()
		if nodeErr := graph.FailedNode(err); nodeErr != nil {
			res.FailedNode = nodeErr.NodeID
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("tick failed", "tick", req.ID, "err", err)
	}
	metrics.TicksProcessed.WithLabelValues(status).Inc()
	metrics.TickDuration.Observe(res.DurationMs)
	return res
}

// Mutate applies fn to the graph between two ticks. fn is not called when
// the caller gives up before the worker reaches the job.
func (e *Engine) Mutate(ctx context.Context, fn func(g *graph.Graph) error) error {
	ferr, err := submit(ctx, e, "mutate", func(_ context.Context, claim func() bool) error {
		if !claim() {
			return nil
		}
		err := fn(e.g)
		metrics.GraphNodes.Set(float64(e.g.NodeCount()))
		return err
	})
	if err != nil {
		return err
	}
	return ferr
}

// Snapshot exports the graph and the node states of the last tick.
func (e *Engine) Snapshot(ctx context.Context) (*Snapshot, error) {
	return submit(ctx, e, "snapshot", func(context.Context, func() bool) *Snapshot {
		return &Snapshot{
			Record: codec.Export(e.g),
			Nodes:  e.g.Statuses(),
			Ticks:  e.ticks.Load(),
		}
	})
}

type replaceOutcome struct {
	report codec.ImportReport
	err    error
}

// Replace builds a new graph from rec and swaps it in. The current graph is
// kept when the record cannot be imported at all, or when the caller gives
// up before the swap; skipped nodes and connections are only reported.
func (e *Engine) Replace(ctx context.Context, rec codec.Record) (codec.ImportReport, error) {
	out, err := submit(ctx, e, "replace", func(_ context.Context, claim func() bool) replaceOutcome {
		g := e.newGraph()
		report, err := codec.Import(g, rec, e.reg)
		if err != nil {
			return replaceOutcome{report: report, err: err}
		}
		if !claim() {
			return replaceOutcome{report: report}
		}
		e.g = g
		metrics.GraphNodes.Set(float64(g.NodeCount()))
		metrics.ImportSkips.WithLabelValues("node").Add(float64(len(report.SkippedNodes)))
		metrics.ImportSkips.WithLabelValues("connection").Add(float64(len(report.DroppedConnections)))
		e.logger.Info("graph replaced",
			"nodes", report.Nodes,
			"connections", report.Connections,
			"skipped_nodes", len(report.SkippedNodes),
			"dropped_connections", len(report.DroppedConnections))
		return replaceOutcome{report: report}
	})
	if err != nil {
		return codec.ImportReport{}, err
	}
	return out.report, out.err
}

// Run submits a tick every tick_interval_ms until ctx is cancelled. The tick
// input is the tick time. Run returns immediately when no interval is set.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.conf.TickInterval()
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if !e.TickAsync(&TickRequest{Input: now, ReceivedAt: now}) {
				e.logger.Warn("periodic tick dropped, queue full")
			}
		}
	}
}

// Registry returns the node factories the engine imports with.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Ticks returns how many ticks have run.
func (e *Engine) Ticks() uint64 { return e.ticks.Load() }

// QueueUtilization returns queue used / capacity (0-1).
func (e *Engine) QueueUtilization() float64 {
	if e.pool.QueueCap() == 0 {
		return 0
	}
	return float64(e.pool.QueueLen()) / float64(e.pool.QueueCap())
}

// Shutdown finishes the queued jobs and stops the worker.
func (e *Engine) Shutdown() {
	e.pool.Drain()
}
