package graph

import (
	"fmt"
	"log/slog"
	"time"
)

// Observer receives execution events. Implementations must be cheap; they run
// inline on the tick.
type Observer interface {
	NodeExecuted(n *Node, elapsed time.Duration, err error)
	CycleFallback(ordered, total int)
}

// Graph owns a set of nodes and drives their execution once per tick.
// A Graph is not safe for concurrent use; structural changes made while a
// tick is running are queued and applied when the tick returns.
type Graph struct {
	nodes      map[Handle]*Node
	order      []*Node // insertion order
	byID       map[string]*Node
	nextHandle Handle
	nextSeq    int
	bufferSize int

	logger   *slog.Logger
	observer Observer

	tick    *tick
	pending []func() error
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithLogger sets the logger used for scheduling and execution events.
func WithLogger(l *slog.Logger) GraphOption { return func(g *Graph) { g.logger = l } }

// WithObserver installs an execution observer (metrics, tracing).
func WithObserver(o Observer) GraphOption { return func(g *Graph) { g.observer = o } }

// WithBufferSize sets the capacity given to inputs that have none of their own.
func WithBufferSize(n int) GraphOption { return func(g *Graph) { g.bufferSize = n } }

// New allocates an empty Graph.
func New(opts ...GraphOption) *Graph {
	g := &Graph{
		nodes:      make(map[Handle]*Node),
		byID:       make(map[string]*Node),
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Logger returns the graph's logger.
func (g *Graph) Logger() *slog.Logger { return g.logger }

// Processing reports whether a tick is running.
func (g *Graph) Processing() bool { return g.tick != nil }

// deferOp queues op when a tick is running. It reports whether op was queued.
func (g *Graph) deferOp(op func() error) bool {
	if g.tick == nil {
		return false
	}
	g.pending = append(g.pending, op)
	return true
}

func (g *Graph) flushPending() {
	ops := g.pending
	g.pending = nil
	for _, op := range ops {
		if err := op(); err != nil {
			g.logger.Warn("deferred graph change failed", "err", err)
		}
	}
}

// AddNode registers n and assigns handles to it and its attributes.
func (g *Graph) AddNode(n *Node) error {
	if n == nil {
		return fmt.Errorf("add node: nil node")
	}
	if g.deferOp(func() error { return g.addNode(n) }) {
		return nil
	}
	return g.addNode(n)
}

func (g *Graph) addNode(n *Node) error {
	if n.graph != nil {
		return fmt.Errorf("add node %s: %w", n.id, ErrAlreadyAttached)
	}
	if _, exists := g.byID[n.id]; exists {
		return fmt.Errorf("add node %s: %w", n.id, ErrDuplicateNodeID)
	}
	n.graph = g
	n.handle = g.newHandle()
	n.seq = g.nextSeq
	g.nextSeq++
	for _, in := range n.inputs {
		g.attachInput(in)
	}
	for _, out := range n.outputs {
		g.attachOutput(out)
	}
	g.nodes[n.handle] = n
	g.byID[n.id] = n
	g.order = append(g.order, n)
	if c, ok := n.proc.(Creator); ok {
		c.OnCreate(n)
	}
	g.logger.Debug("node added", "id", n.id, "type", n.typeID, "label", n.label)
	return nil
}

func (g *Graph) newHandle() Handle {
	g.nextHandle++
	return g.nextHandle
}

func (g *Graph) attachInput(in *Input) {
	in.handle = g.newHandle()
	if in.capacity <= 0 {
		in.capacity = g.bufferSize
	}
}

func (g *Graph) attachOutput(out *Output) {
	out.handle = g.newHandle()
}

// RemoveNode clears every connection of the node, then removes it.
func (g *Graph) RemoveNode(h Handle) error {
	n, ok := g.nodes[h]
	if !ok {
		return fmt.Errorf("remove node %d: %w", h, ErrNodeNotFound)
	}
	if g.deferOp(func() error { return g.removeNode(n) }) {
		return nil
	}
	return g.removeNode(n)
}

// RemoveNodeByID removes the node with the given stable id.
func (g *Graph) RemoveNodeByID(id string) error {
	n, ok := g.byID[id]
	if !ok {
		return fmt.Errorf("remove node %s: %w", id, ErrNodeNotFound)
	}
	return g.RemoveNode(n.handle)
}

func (g *Graph) removeNode(n *Node) error {
	if g.nodes[n.handle] != n {
		return fmt.Errorf("remove node %s: %w", n.id, ErrNodeNotFound)
	}
	n.ClearConnections()
	if r, ok := n.proc.(Remover); ok {
		r.OnRemove(n)
	}
	delete(g.nodes, n.handle)
	delete(g.byID, n.id)
	for i, m := range g.order {
		if m == n {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	n.graph = nil
	g.logger.Debug("node removed", "id", n.id, "type", n.typeID)
	return nil
}

// Clear removes every node.
func (g *Graph) Clear() {
	for _, n := range g.Nodes() {
		_ = g.RemoveNode(n.handle)
	}
}

func (g *Graph) owns(n *Node) bool {
	return n != nil && g.nodes[n.handle] == n
}

// Connect links out to in after checking both belong to this graph.
// See the package-level Connect for the protocol.
func (g *Graph) Connect(out *Output, in *Input) error {
	if out == nil || in == nil || !g.owns(out.owner) || !g.owns(in.owner) {
		return fmt.Errorf("connect: %w", ErrNotAttached)
	}
	if g.deferOp(func() error { Connect(out, in); return nil }) {
		return nil
	}
	Connect(out, in)
	return nil
}

// Disconnect removes the link between out and in.
func (g *Graph) Disconnect(out *Output, in *Input) error {
	if out == nil || in == nil || !g.owns(out.owner) || !g.owns(in.owner) {
		return fmt.Errorf("disconnect: %w", ErrNotAttached)
	}
	if g.deferOp(func() error { Disconnect(out, in); return nil }) {
		return nil
	}
	Disconnect(out, in)
	return nil
}

// ConnectByID links two attributes identified by their stable ids.
func (g *Graph) ConnectByID(outputID, inputID string) error {
	out, in := g.FindOutput(outputID), g.FindInput(inputID)
	if out == nil {
		return fmt.Errorf("connect: output %q: %w", outputID, ErrNotAttached)
	}
	if in == nil {
		return fmt.Errorf("connect: input %q: %w", inputID, ErrNotAttached)
	}
	return g.Connect(out, in)
}

// DisconnectByID removes a link identified by attribute stable ids.
func (g *Graph) DisconnectByID(outputID, inputID string) error {
	out, in := g.FindOutput(outputID), g.FindInput(inputID)
	if out == nil || in == nil {
		return fmt.Errorf("disconnect %s -> %s: %w", outputID, inputID, ErrNotAttached)
	}
	return g.Disconnect(out, in)
}

// Node returns a node by handle (nil if not found).
func (g *Graph) Node(h Handle) *Node {
	return g.nodes[h]
}

// NodeByID returns a node by stable id (nil if not found).
func (g *Graph) NodeByID(id string) *Node {
	return g.byID[id]
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.order))
	copy(out, g.order)
	return out
}

// NodeCount returns the total number of registered nodes.
func (g *Graph) NodeCount() int {
	return len(g.order)
}

// FindOutput returns the output attribute with the given stable id.
func (g *Graph) FindOutput(id string) *Output {
	for _, n := range g.order {
		for _, out := range n.outputs {
			if out.id == id {
				return out
			}
		}
	}
	return nil
}

// FindInput returns the input attribute with the given stable id.
func (g *Graph) FindInput(id string) *Input {
	for _, n := range g.order {
		for _, in := range n.inputs {
			if in.id == id {
				return in
			}
		}
	}
	return nil
}

// Connections lists every link, ordered by source node, output and child.
func (g *Graph) Connections() []Connection {
	var conns []Connection
	for _, n := range g.order {
		for _, out := range n.outputs {
			for _, in := range out.children {
				conns = append(conns, Connection{Output: out, Input: in})
			}
		}
	}
	return conns
}

// Statuses snapshots every node in insertion order.
func (g *Graph) Statuses() []Status {
	out := make([]Status, 0, len(g.order))
	for _, n := range g.order {
		out = append(out, n.Status())
	}
	return out
}
