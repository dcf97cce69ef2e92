package engine

import (
	"time"

	"github.com/gyaneshwarpardhi/nodegraph/internal/graph"
)

// TickRequest is one external input fed to the graph.
type TickRequest struct {
	ID         string            `json:"id"`
	Input      any               `json:"input"`
	ReceivedAt time.Time         `json:"-"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// TickResult is the outcome of a single tick.
type TickResult struct {
	TickID     string         `json:"tick_id"`
	Results    []any          `json:"results"`
	DurationMs float64        `json:"duration_ms"`
	Nodes      []graph.Status `json:"nodes,omitempty"`
	FailedNode string         `json:"failed_node,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Failed reports whether a node error aborted the tick.
func (r *TickResult) Failed() bool { return r.Error != "" }
