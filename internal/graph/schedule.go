package graph

import "container/heap"

// dependencies builds the node-level graph from attribute connections.
// Every output→input link is its own edge, so in-degrees count links, not
// distinct upstream nodes.
func (g *Graph) dependencies() (map[*Node][]*Node, map[*Node]int) {
	edges := make(map[*Node][]*Node, len(g.order))
	inDegree := make(map[*Node]int, len(g.order))
	for _, n := range g.order {
		for _, out := range n.outputs {
			for _, in := range out.children {
				target := in.owner
				if !g.owns(target) {
					continue
				}
				edges[n] = append(edges[n], target)
				inDegree[target]++
			}
		}
	}
	return edges, inDegree
}

// readyQueue is a max-heap on priority with insertion order as tie-break.
type readyQueue []*Node

func (q readyQueue) Len() int { return len(q) }
func (q readyQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}
func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *readyQueue) Push(x any)   { *q = append(*q, x.(*Node)) }
func (q *readyQueue) Pop() any {
	old := *q
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	return n
}

// ExecutionOrder computes the priority-aware topological order of the nodes.
// When the connections contain a cycle it returns the insertion order and
// ok=false instead.
func (g *Graph) ExecutionOrder() (order []*Node, ok bool) {
	edges, inDegree := g.dependencies()

	q := make(readyQueue, 0, len(g.order))
	for _, n := range g.order {
		if inDegree[n] == 0 {
			q = append(q, n)
		}
	}
	heap.Init(&q)

	order = make([]*Node, 0, len(g.order))
	for q.Len() > 0 {
		current := heap.Pop(&q).(*Node)
		order = append(order, current)
		for _, dep := range edges[current] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				heap.Push(&q, dep)
			}
		}
	}

	if len(order) != len(g.order) {
		if g.observer != nil {
			g.observer.CycleFallback(len(order), len(g.order))
		}
		g.logger.Warn("cycle in node graph, falling back to insertion order",
			"scheduled", len(order), "nodes", len(g.order))
		return g.Nodes(), false
	}
	return order, true
}
