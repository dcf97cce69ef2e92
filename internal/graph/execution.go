package graph

import (
	"context"
	"fmt"
	"log/slog"
)

// tick holds the state of one Process call.
type tick struct {
	ctx     context.Context
	input   any
	order   []*Node
	index   map[*Node]int
	results []any
	expired bool
}

// ProcessOption tunes a single Process call.
type ProcessOption func(*processConfig)

type processConfig struct {
	noSort bool
}

// WithoutSort runs the nodes in insertion order instead of dependency order.
func WithoutSort() ProcessOption {
	return func(c *processConfig) { c.noSort = true }
}

// Process runs one tick: it resets every node, computes the execution order
// and executes each node that has not run yet (self-executing nodes always
// run). Results of Output and IPO nodes are collected in execution order.
//
// A node failure stops the tick. The failing node keeps the error, and the
// results collected so far are returned together with a *NodeError.
func (g *Graph) Process(ctx context.Context, input any, opts ...ProcessOption) ([]any, error) {
	if g.tick != nil {
		return nil, ErrBusy
	}
	var cfg processConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	for _, n := range g.order {
		n.reset()
	}

	var order []*Node
	if cfg.noSort {
		order = g.Nodes()
	} else {
		order, _ = g.ExecutionOrder()
	}

	t := &tick{
		ctx:   ctx,
		input: input,
		order: order,
		index: make(map[*Node]int, len(order)),
	}
	for i, n := range order {
		t.index[n] = i
	}

	g.tick = t
	defer func() {
		t.expired = true
		g.tick = nil
		g.flushPending()
	}()

	for _, n := range order {
		if n.executed && !n.selfExecute {
			continue
		}
		if _, _, err := g.run(t, n); err != nil {
			return t.results, err
		}
	}
	return t.results, nil
}

// run executes n within tick t, feeding it the tick input if its category
// asks for it. ran reports whether the processor actually ran.
func (g *Graph) run(t *tick, n *Node) (out any, ran bool, err error) {
	ec := &ExecutionContext{graph: g, tick: t, node: n}
	var input any
	if n.category.receivesInput() {
		input = t.input
	}
	out, ran, err = n.execute(ec, input)
	if !ran {
		return out, false, nil
	}
	if g.observer != nil {
		g.observer.NodeExecuted(n, n.elapsed, n.err)
	}
	if err != nil {
		g.logger.Error("node failed", "id", n.id, "type", n.typeID, "label", n.label, "err", n.err)
		return nil, true, err
	}
	if n.category.emitsResult() {
		t.results = append(t.results, out)
	}
	return out, true, nil
}

// downstream lists the distinct nodes fed by n, in output/child order.
func (g *Graph) downstream(n *Node) []*Node {
	var next []*Node
	seen := make(map[*Node]bool)
	for _, out := range n.outputs {
		for _, in := range out.children {
			target := in.owner
			if !g.owns(target) || seen[target] {
				continue
			}
			seen[target] = true
			next = append(next, target)
		}
	}
	return next
}

// upstream lists the distinct nodes feeding n, in input order.
func (g *Graph) upstream(n *Node) []*Node {
	var prev []*Node
	seen := make(map[*Node]bool)
	for _, in := range n.inputs {
		if in.parent == nil {
			continue
		}
		source := in.parent.owner
		if !g.owns(source) || seen[source] {
			continue
		}
		seen[source] = true
		prev = append(prev, source)
	}
	return prev
}

// completeUpstream runs every ancestor of n that still has to run this tick,
// deepest first. path guards against cycles among self-executing nodes.
func (g *Graph) completeUpstream(t *tick, n *Node, path map[*Node]bool) error {
	if path[n] {
		return nil
	}
	path[n] = true
	defer delete(path, n)

	for _, p := range g.upstream(n) {
		if p.running || (p.executed && !p.selfExecute) {
			continue
		}
		if err := g.completeUpstream(t, p, path); err != nil {
			return err
		}
		if _, _, err := g.run(t, p); err != nil {
			return err
		}
	}
	return nil
}

// -----------------------------------------------------------------------
// ExecutionContext
// -----------------------------------------------------------------------

// ExecutionContext is handed to a node's Processor. It is bound to the node
// and to the current tick and stops working once the tick returns.
type ExecutionContext struct {
	graph *Graph
	tick  *tick
	node  *Node
}

// Context returns the context passed to Process.
func (ec *ExecutionContext) Context() context.Context { return ec.tick.ctx }

// Node returns the node being executed.
func (ec *ExecutionContext) Node() *Node { return ec.node }

// Graph returns the graph driving the tick.
func (ec *ExecutionContext) Graph() *Graph { return ec.graph }

// TickInput returns the external input of the tick, whatever the node's category.
func (ec *ExecutionContext) TickInput() any { return ec.tick.input }

// Logger returns the graph logger annotated with the node.
func (ec *ExecutionContext) Logger() *slog.Logger {
	return ec.graph.logger.With("node", ec.node.id, "type", ec.node.typeID)
}

// Valid reports whether the tick this context belongs to is still running.
func (ec *ExecutionContext) Valid() bool { return !ec.tick.expired }

// ExecutionCount returns how many times n ran during the current tick.
func (ec *ExecutionContext) ExecutionCount(n *Node) int {
	if n == nil {
		return 0
	}
	return n.runs
}

// RunRemaining executes every node that comes after the current one in the
// tick order and has not run yet, ignoring connectivity. It returns the
// results of the nodes that ran.
func (ec *ExecutionContext) RunRemaining() ([]any, error) {
	if !ec.Valid() {
		return nil, ErrTickExpired
	}
	start := 0
	if i, ok := ec.tick.index[ec.node]; ok {
		start = i + 1
	}
	var results []any
	for _, n := range ec.tick.order[start:] {
		out, ran, err := ec.graph.run(ec.tick, n)
		if err != nil {
			return results, err
		}
		if ran {
			results = append(results, out)
		}
	}
	return results, nil
}

// RunDependents executes the nodes directly connected downstream of the
// current node. Before each dependent runs, its own upstream dependencies are
// completed recursively. It returns the results of the dependents that ran.
func (ec *ExecutionContext) RunDependents() ([]any, error) {
	if !ec.Valid() {
		return nil, ErrTickExpired
	}
	var results []any
	for _, next := range ec.graph.downstream(ec.node) {
		if err := ec.graph.completeUpstream(ec.tick, next, map[*Node]bool{}); err != nil {
			return results, err
		}
		out, ran, err := ec.graph.run(ec.tick, next)
		if err != nil {
			return results, err
		}
		if ran {
			results = append(results, out)
		}
	}
	return results, nil
}

// RunDependentsTimes calls RunDependents times times and returns one result
// list per iteration. Only self-executing dependents run more than once.
func (ec *ExecutionContext) RunDependentsTimes(times int) ([][]any, error) {
	all := make([][]any, 0, max(times, 0))
	for i := 0; i < times; i++ {
		res, err := ec.RunDependents()
		if err != nil {
			return all, fmt.Errorf("iteration %d: %w", i, err)
		}
		all = append(all, res)
	}
	return all, nil
}

// RunDependencies completes the current node's upstream dependencies.
func (ec *ExecutionContext) RunDependencies() error {
	if !ec.Valid() {
		return ErrTickExpired
	}
	return ec.graph.completeUpstream(ec.tick, ec.node, map[*Node]bool{})
}
