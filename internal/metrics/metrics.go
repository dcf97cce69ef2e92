package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gyaneshwarpardhi/nodegraph/internal/graph"
)

var (
	TicksEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodegraph_ticks_enqueued_total",
		Help: "Total number of ticks placed on the engine queue.",
	})

	TicksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodegraph_ticks_processed_total",
		Help: "Total number of ticks run by the engine, labelled by status.",
	}, []string{"status"})

	JobsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodegraph_jobs_dropped_total",
		Help: "Total number of engine jobs rejected due to a full queue, labelled by kind.",
	}, []string{"kind"})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nodegraph_tick_duration_ms",
		Help:    "Tick latency in milliseconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 1000},
	})

	NodeExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodegraph_node_executions_total",
		Help: "Total number of node processor runs, labelled by node type and status.",
	}, []string{"node_type", "status"})

	NodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nodegraph_node_duration_ms",
		Help:    "Node processor latency in milliseconds, labelled by node type.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 50, 100},
	}, []string{"node_type"})

	CycleFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodegraph_cycle_fallbacks_total",
		Help: "Total number of ticks that fell back to insertion order because of a cycle.",
	})

	ImportSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodegraph_import_skips_total",
		Help: "Nodes and connections left out while importing graph records, labelled by kind.",
	}, []string{"kind"})

	GraphNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nodegraph_graph_nodes",
		Help: "Number of nodes in the engine's graph.",
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nodegraph_queue_utilization_ratio",
		Help: "Current engine queue utilization (0-1).",
	})
)

// GraphObserver feeds node and scheduling events of a graph into the
// package metrics.
type GraphObserver struct{}

func (GraphObserver) NodeExecuted(n *graph.Node, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	NodeExecutions.WithLabelValues(n.TypeID(), status).Inc()
	NodeDuration.WithLabelValues(n.TypeID()).Observe(float64(elapsed.Microseconds()) / 1000)
}

func (GraphObserver) CycleFallback(ordered, total int) {
	CycleFallbacks.Inc()
}
