// Package nodes provides the built-in node types.
package nodes

import (
	"fmt"
	"log/slog"

	"github.com/gyaneshwarpardhi/nodegraph/internal/graph"
	"github.com/gyaneshwarpardhi/nodegraph/internal/registry"
)

// Type ids of the built-in nodes.
const (
	TypeSource     = "source"
	TypeConstant   = "constant"
	TypeScale      = "scale"
	TypeAdd        = "add"
	TypeExpr       = "expr"
	TypeGate       = "gate"
	TypeRepeat     = "repeat"
	TypeAccumulate = "accumulate"
	TypeSink       = "sink"
	TypeLog        = "log"
)

// Register adds every built-in type to reg.
func Register(reg *registry.Registry) {
	reg.Register(TypeSource, NewSource)
	reg.Register(TypeConstant, NewConstant)
	reg.Register(TypeScale, NewScale)
	reg.Register(TypeAdd, NewAdd)
	reg.Register(TypeExpr, NewExpr)
	reg.Register(TypeGate, NewGate)
	reg.Register(TypeRepeat, NewRepeat)
	reg.Register(TypeAccumulate, NewAccumulate)
	reg.Register(TypeSink, NewSink)
	reg.Register(TypeLog, NewLog)
}

// NewSource emits the tick input on "out".
func NewSource(label string) *graph.Node {
	n := graph.NewNode(TypeSource, label, graph.CategoryInput)
	out := n.AddOutput("out", "")
	n.SetProcessor(graph.ProcessorFunc(func(_ *graph.ExecutionContext, input any) (any, error) {
		out.Emit(input)
		return input, nil
	}))
	return n
}

// NewConstant emits internal_data.value on "out".
func NewConstant(label string) *graph.Node {
	n := graph.NewNode(TypeConstant, label, graph.CategoryProcess)
	out := n.AddOutput("out", "")
	n.SetProcessor(graph.ProcessorFunc(func(_ *graph.ExecutionContext, _ any) (any, error) {
		v, _ := n.Value("value")
		out.Emit(v)
		return v, nil
	}))
	return n
}

// NewScale multiplies "in" by internal_data.factor (2 when unset).
func NewScale(label string) *graph.Node {
	n := graph.NewNode(TypeScale, label, graph.CategoryProcess)
	in := n.AddInput("in", "")
	out := n.AddOutput("out", "")
	n.SetProcessor(graph.ProcessorFunc(func(_ *graph.ExecutionContext, _ any) (any, error) {
		v, ok := in.Read()
		if !ok {
			return nil, nil
		}
		factor, ok := n.Value("factor")
		if !ok {
			factor = 2
		}
		res, err := mul(v, factor)
		if err != nil {
			return nil, fmt.Errorf("scale: %w", err)
		}
		out.Emit(res)
		return res, nil
	}))
	return n
}

// NewAdd emits a + b. A side that never received a value counts as 0.
func NewAdd(label string) *graph.Node {
	n := graph.NewNode(TypeAdd, label, graph.CategoryProcess)
	a := n.AddInput("a", "")
	b := n.AddInput("b", "")
	out := n.AddOutput("out", "")
	n.SetProcessor(graph.ProcessorFunc(func(_ *graph.ExecutionContext, _ any) (any, error) {
		x, ok := a.Read()
		if !ok {
			x = 0
		}
		y, ok := b.Read()
		if !ok {
			y = 0
		}
		res, err := add(x, y)
		if err != nil {
			return nil, fmt.Errorf("add: %w", err)
		}
		out.Emit(res)
		return res, nil
	}))
	return n
}

// exprProcessor evaluates internal_data.expression over the value read
// from "in" and emits the result.
type exprProcessor struct {
	node *graph.Node
	in   *graph.Input
	out  *graph.Output
	prog program
	key  string
	gate bool
}

func (p *exprProcessor) Process(ec *graph.ExecutionContext, _ any) (any, error) {
	v, _ := p.in.Read()
	src, _ := p.node.Value(p.key)
	s, _ := src.(string)
	res, err := p.prog.eval(s, celVars(v, ec.TickInput(), p.node.InternalData()))
	if err != nil {
		return nil, err
	}
	if !p.gate {
		p.out.Emit(res)
		return res, nil
	}
	pass, ok := res.(bool)
	if !ok {
		return nil, fmt.Errorf("predicate %q returned %T, want bool", s, res)
	}
	if !pass {
		return nil, nil
	}
	p.out.Emit(v)
	return v, nil
}

// OnCreate compiles the expression so a broken one is reported as soon as
// the node joins a graph.
func (p *exprProcessor) OnCreate(n *graph.Node) {
	src, _ := n.Value(p.key)
	s, _ := src.(string)
	if _, err := p.prog.compile(s); err != nil {
		n.Graph().Logger().Warn("invalid node expression", "id", n.ID(), "type", n.TypeID(), "err", err)
	}
}

func newExprNode(typeID, label, key string, gate bool) *graph.Node {
	n := graph.NewNode(typeID, label, graph.CategoryProcess)
	p := &exprProcessor{node: n, key: key, gate: gate}
	p.in = n.AddInput("in", "")
	p.out = n.AddOutput("out", "")
	n.SetProcessor(p)
	return n
}

// NewExpr builds an expression node (internal_data.expression).
func NewExpr(label string) *graph.Node { return newExprNode(TypeExpr, label, "expression", false) }

// NewGate forwards "in" only when internal_data.predicate holds.
func NewGate(label string) *graph.Node { return newExprNode(TypeGate, label, "predicate", true) }

// NewRepeat drives a loop: for internal_data.times iterations it emits the
// iteration index on "index" and runs its dependents. Only self-executing
// dependents run on every iteration.
func NewRepeat(label string) *graph.Node {
	n := graph.NewNode(TypeRepeat, label, graph.CategoryProcess)
	out := n.AddOutput("index", "")
	n.SetProcessor(graph.ProcessorFunc(func(ec *graph.ExecutionContext, _ any) (any, error) {
		times, _ := n.Value("times")
		count := intValue(times, 1)
		for i := 0; i < count; i++ {
			out.Emit(i)
			if _, err := ec.RunDependents(); err != nil {
				return nil, fmt.Errorf("repeat iteration %d: %w", i, err)
			}
		}
		return count, nil
	}))
	return n
}

// accumulator keeps a running total in internal_data.total so it survives
// export and import.
type accumulator struct {
	node *graph.Node
	in   *graph.Input
	out  *graph.Output
}

func (a *accumulator) Process(_ *graph.ExecutionContext, _ any) (any, error) {
	total, ok := a.node.Value("total")
	if !ok {
		total = 0
	}
	for _, v := range a.in.Drain() {
		sum, err := add(total, v)
		if err != nil {
			return nil, fmt.Errorf("accumulate: %w", err)
		}
		total = sum
	}
	a.node.SetValue("total", total)
	a.out.Emit(total)
	return total, nil
}

// OnRemove drops the running total.
func (a *accumulator) OnRemove(n *graph.Node) { delete(n.InternalData(), "total") }

// NewAccumulate is self-executing: every call drains the backlog on "in".
func NewAccumulate(label string) *graph.Node {
	n := graph.NewNode(TypeAccumulate, label, graph.CategoryProcess, graph.WithSelfExecute(true))
	a := &accumulator{node: n}
	a.in = n.AddInput("in", "")
	a.out = n.AddOutput("out", "")
	n.SetProcessor(a)
	return n
}

// NewSink reports the newest value on "in" as a tick result, discarding
// older buffered values.
func NewSink(label string) *graph.Node {
	n := graph.NewNode(TypeSink, label, graph.CategoryOutput)
	in := n.AddInput("in", "")
	n.SetProcessor(graph.ProcessorFunc(func(_ *graph.ExecutionContext, _ any) (any, error) {
		if backlog := in.Drain(); len(backlog) > 0 {
			return backlog[len(backlog)-1], nil
		}
		v, _ := in.Read()
		return v, nil
	}))
	return n
}

// NewLog logs the value read from "in" at internal_data.level (info by
// default) and reports it as a tick result.
func NewLog(label string) *graph.Node {
	n := graph.NewNode(TypeLog, label, graph.CategoryOutput)
	in := n.AddInput("in", "")
	n.SetProcessor(graph.ProcessorFunc(func(ec *graph.ExecutionContext, _ any) (any, error) {
		v, ok := in.Read()
		level := slog.LevelInfo
		if s, isStr := n.InternalData()["level"].(string); isStr {
			if err := level.UnmarshalText([]byte(s)); err != nil {
				return nil, fmt.Errorf("log level: %w", err)
			}
		}
		ec.Logger().Log(ec.Context(), level, "node value", "label", n.Label(), "value", v, "received", ok)
		return v, nil
	}))
	return n
}
