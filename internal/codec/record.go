// Package codec converts graphs to and from their persisted record form.
package codec

import "github.com/gyaneshwarpardhi/nodegraph/internal/graph"

// Version is written into every exported record.
const Version = "1.0"

// Record is the persisted form of a graph.
type Record struct {
	Version     string             `json:"version" yaml:"version"`
	Nodes       []NodeRecord       `json:"nodes" yaml:"nodes"`
	Connections []ConnectionRecord `json:"connections" yaml:"connections"`
}

type NodeRecord struct {
	Type         string            `json:"type" yaml:"type"`
	ID           string            `json:"id" yaml:"id"`
	Label        string            `json:"label" yaml:"label"`
	Category     string            `json:"category,omitempty" yaml:"category,omitempty"`
	Priority     int               `json:"priority,omitempty" yaml:"priority,omitempty"`
	SelfExecute  *bool             `json:"self_execute,omitempty" yaml:"self_execute,omitempty"`
	InternalData map[string]any    `json:"internal_data,omitempty" yaml:"internal_data,omitempty"`
	Position     graph.Point       `json:"position" yaml:"position"`
	Inputs       []AttributeRecord `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs      []AttributeRecord `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

type AttributeRecord struct {
	Label     string          `json:"label" yaml:"label"`
	ID        string          `json:"id" yaml:"id"`
	Direction graph.Direction `json:"direction" yaml:"direction"`
}

// ConnectionRecord links an output attribute to an input attribute by id.
type ConnectionRecord struct {
	OutputAttrID string `json:"output_attr_id" yaml:"output_attr_id"`
	InputAttrID  string `json:"input_attr_id" yaml:"input_attr_id"`
}

// SkippedNode is a record node that could not be created.
type SkippedNode struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// DroppedConnection is a record connection that could not be replayed.
type DroppedConnection struct {
	ConnectionRecord
	Reason string `json:"reason"`
}

// ImportReport lists what Import created and what it had to leave out.
type ImportReport struct {
	Nodes              int                 `json:"nodes"`
	Connections        int                 `json:"connections"`
	SkippedNodes       []SkippedNode       `json:"skipped_nodes,omitempty"`
	DroppedConnections []DroppedConnection `json:"dropped_connections,omitempty"`
}

// Clean reports whether nothing was skipped.
func (r ImportReport) Clean() bool {
	return len(r.SkippedNodes) == 0 && len(r.DroppedConnections) == 0
}
