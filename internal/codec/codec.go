package codec

import (
	"errors"
	"fmt"

	"github.com/gyaneshwarpardhi/nodegraph/internal/graph"
	"github.com/gyaneshwarpardhi/nodegraph/internal/registry"
)

// ErrUnsupportedVersion is returned for records written by an incompatible version.
var ErrUnsupportedVersion = errors.New("unsupported record version")

// Export captures every node and connection of g.
func Export(g *graph.Graph) Record {
	rec := Record{Version: Version, Nodes: []NodeRecord{}, Connections: []ConnectionRecord{}}
	for _, n := range g.Nodes() {
		rec.Nodes = append(rec.Nodes, ExportNode(n))
	}
	for _, c := range g.Connections() {
		rec.Connections = append(rec.Connections, ConnectionRecord{
			OutputAttrID: c.Output.ID(),
			InputAttrID:  c.Input.ID(),
		})
	}
	return rec
}

// ExportNode captures one node. The internal data is copied.
func ExportNode(n *graph.Node) NodeRecord {
	selfExecute := n.SelfExecute()
	nr := NodeRecord{
		Type:        n.TypeID(),
		ID:          n.ID(),
		Label:       n.Label(),
		Category:    n.Category().String(),
		Priority:    n.Priority(),
		Position:    n.Position(),
		SelfExecute: &selfExecute,
	}
	if data := n.InternalData(); len(data) > 0 {
		nr.InternalData = make(map[string]any, len(data))
		for k, v := range data {
			nr.InternalData[k] = v
		}
	}
	for _, in := range n.Inputs() {
		nr.Inputs = append(nr.Inputs, AttributeRecord{Label: in.Label(), ID: in.ID(), Direction: graph.DirectionInput})
	}
	for _, out := range n.Outputs() {
		nr.Outputs = append(nr.Outputs, AttributeRecord{Label: out.Label(), ID: out.ID(), Direction: graph.DirectionOutput})
	}
	return nr
}

// Import recreates the nodes of rec through reg and adds them to g, then
// replays the connections. Nodes whose type is not registered and
// connections whose endpoints cannot be resolved are skipped and listed in
// the report; they never fail the import.
func Import(g *graph.Graph, rec Record, reg *registry.Registry) (ImportReport, error) {
	var report ImportReport
	if rec.Version != "" && rec.Version != Version {
		return report, fmt.Errorf("import: %w: %q", ErrUnsupportedVersion, rec.Version)
	}

	outputs := make(map[string]*graph.Output)
	inputs := make(map[string]*graph.Input)

	for _, nr := range rec.Nodes {
		n, err := reg.Create(nr.Type, nr.Label)
		if err != nil {
			report.SkippedNodes = append(report.SkippedNodes, SkippedNode{ID: nr.ID, Type: nr.Type, Reason: err.Error()})
			continue
		}
		if nr.ID != "" {
			if err := n.SetID(nr.ID); err != nil {
				report.SkippedNodes = append(report.SkippedNodes, SkippedNode{ID: nr.ID, Type: nr.Type, Reason: err.Error()})
				continue
			}
		}
		if nr.Category != "" {
			c, err := graph.ParseCategory(nr.Category)
			if err != nil {
				report.SkippedNodes = append(report.SkippedNodes, SkippedNode{ID: nr.ID, Type: nr.Type, Reason: err.Error()})
				continue
			}
			n.SetCategory(c)
		}
		n.SetPriority(nr.Priority)
		// Absent means the type's default.
		if nr.SelfExecute != nil {
			n.SetSelfExecute(*nr.SelfExecute)
		}
		n.SetPosition(nr.Position)
		for k, v := range nr.InternalData {
			n.SetValue(k, v)
		}

		for i, ar := range nr.Inputs {
			in := matchInput(n, ar, i)
			if in == nil {
				continue
			}
			in.SetLabel(ar.Label)
			if ar.ID != "" {
				in.SetID(ar.ID)
				inputs[ar.ID] = in
			}
		}
		for i, ar := range nr.Outputs {
			out := matchOutput(n, ar, i)
			if out == nil {
				continue
			}
			out.SetLabel(ar.Label)
			if ar.ID != "" {
				out.SetID(ar.ID)
				outputs[ar.ID] = out
			}
		}

		if err := g.AddNode(n); err != nil {
			report.SkippedNodes = append(report.SkippedNodes, SkippedNode{ID: nr.ID, Type: nr.Type, Reason: err.Error()})
			continue
		}
		report.Nodes++
	}

	for _, cr := range rec.Connections {
		if cr.OutputAttrID == "" || cr.InputAttrID == "" {
			report.DroppedConnections = append(report.DroppedConnections, DroppedConnection{ConnectionRecord: cr, Reason: "missing attribute id"})
			continue
		}
		out, ok := outputs[cr.OutputAttrID]
		if !ok {
			out = g.FindOutput(cr.OutputAttrID)
		}
		in, ok := inputs[cr.InputAttrID]
		if !ok {
			in = g.FindInput(cr.InputAttrID)
		}
		if out == nil || in == nil {
			report.DroppedConnections = append(report.DroppedConnections, DroppedConnection{ConnectionRecord: cr, Reason: "unknown attribute"})
			continue
		}
		if err := g.Connect(out, in); err != nil {
			report.DroppedConnections = append(report.DroppedConnections, DroppedConnection{ConnectionRecord: cr, Reason: err.Error()})
			continue
		}
		report.Connections++
	}
	return report, nil
}

// matchInput finds the attribute a record entry refers to: by stable id
// first, then by position.
func matchInput(n *graph.Node, ar AttributeRecord, i int) *graph.Input {
	for _, in := range n.Inputs() {
		if in.ID() == ar.ID {
			return in
		}
	}
	return n.Input(i)
}

func matchOutput(n *graph.Node, ar AttributeRecord, i int) *graph.Output {
	for _, out := range n.Outputs() {
		if out.ID() == ar.ID {
			return out
		}
	}
	return n.Output(i)
}
